package services

import (
	"context"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"landrop/logger"
	"landrop/models"
)

func (r *Router) reply(c *Client, env *models.Envelope, replyType string, data interface{}) {
	r.manager.SendToClient(c, models.NewReply(env.SID, replyType, models.CodeOK, data))
}

// pushFriendList 把最新的好友列表推送给用户的所有连接
func (r *Router) pushFriendList(ctx context.Context, userID int64) {
	if !r.manager.IsOnline(userID) {
		return
	}
	items, err := r.friends.ListFriends(ctx, userID)
	if err != nil {
		logger.L().Error("查询好友列表失败", zap.Int64("userId", userID), zap.Error(err))
		return
	}
	r.manager.SendTo(userID, models.NewReply("", "replyLatestFriendList", models.CodeOK, items))
}

func bind(env *models.Envelope, v interface{}) error {
	if err := env.Bind(v); err != nil {
		return ValidationError(err.Error())
	}
	return nil
}

// pullData 连接建立后拉取身份信息和待处理的好友申请
func (r *Router) pullData(ctx context.Context, c *Client, env *models.Envelope) error {
	notifyList, err := r.friends.PendingRequests(ctx, c.UserID)
	if err != nil {
		return err
	}
	r.reply(c, env, "replyPullData", models.PullData{
		ClientID:   c.Label(),
		ID:         c.UserID,
		Name:       c.UserName,
		NotifyList: notifyList,
	})
	return nil
}

func (r *Router) queryFriendList(ctx context.Context, c *Client, env *models.Envelope) error {
	items, err := r.friends.ListFriends(ctx, c.UserID)
	if err != nil {
		return err
	}
	r.reply(c, env, "replyFriendList", items)
	return nil
}

func (r *Router) queryChatRecords(ctx context.Context, c *Client, env *models.Envelope) error {
	var req models.ChatRecordsQuery
	if err := bind(env, &req); err != nil {
		return err
	}
	items, err := r.chats.ListForPair(ctx, c.UserID, int64(req.FriendID))
	if err != nil {
		return err
	}
	r.reply(c, env, "replyChatRecords", items)
	return nil
}

// chatSendData 保存消息并投递给接收方，接收方离线时不报错
func (r *Router) chatSendData(ctx context.Context, c *Client, env *models.Envelope) error {
	var req models.ChatSendRequest
	if err := bind(env, &req); err != nil {
		return err
	}
	if req.FromID != 0 && int64(req.FromID) != c.UserID {
		return ValidationError("发送方与当前用户不一致")
	}
	toID := int64(req.ToID)

	item, err := r.chats.Append(ctx, c.UserID, toID, ChatMessage{
		Type:    req.Type,
		Message: req.Message,
		Files:   req.Files,
	})
	if err != nil {
		return err
	}

	r.pushFriendList(ctx, c.UserID)
	r.manager.SendTo(toID, models.NewReply("", "replyChatReceiveData", models.CodeOK, []models.ChatItem{*item}))
	r.pushFriendList(ctx, toID)
	r.notifier.Notify(toID)
	return nil
}

// addFriends 发起好友申请，只通知接收方
func (r *Router) addFriends(ctx context.Context, c *Client, env *models.Envelope) error {
	var req models.AddFriendRequest
	if err := bind(env, &req); err != nil {
		return err
	}
	if req.FromID != 0 && int64(req.FromID) != c.UserID {
		return ValidationError("发送方与当前用户不一致")
	}
	toID := int64(req.ToID)

	item, err := r.friends.RequestFriend(ctx, c.UserID, toID)
	if err != nil {
		return err
	}
	r.manager.SendTo(toID, models.NewReply("", "replyAddFriends", models.CodeOK, []models.NotifyItem{*item}))
	r.notifier.Notify(toID)
	return nil
}

// dealWithFriendsRequest 同意或拒绝好友申请，结果通知双方
func (r *Router) dealWithFriendsRequest(ctx context.Context, c *Client, env *models.Envelope) error {
	var req models.DealFriendRequest
	if err := bind(env, &req); err != nil {
		return err
	}
	row, err := r.friends.ResolveFriend(ctx, c.UserID, int64(req.FID), req.Status)
	if err != nil {
		return err
	}

	reply := models.NewReply(env.SID, "replyDealWithFriends", models.CodeOK, row.FID)
	r.manager.SendTo(c.UserID, reply)
	r.manager.SendTo(row.UserID, reply)
	if row.Status == models.FriendAccept {
		r.pushFriendList(ctx, c.UserID)
		r.pushFriendList(ctx, row.UserID)
	}
	r.notifier.Notify(c.UserID)
	return nil
}

// changeChatRecordsStatus 标记已读后刷新好友列表和红点
func (r *Router) changeChatRecordsStatus(ctx context.Context, c *Client, env *models.Envelope) error {
	var req models.ChangeReadStatusRequest
	if err := bind(env, &req); err != nil {
		return err
	}
	if err := r.chats.MarkRead(ctx, c.UserID, req.Type, int64(req.ID)); err != nil {
		return err
	}
	r.pushFriendList(ctx, c.UserID)
	r.notifier.Notify(c.UserID)
	return nil
}

func (r *Router) getNotifyRedDotData(ctx context.Context, c *Client, env *models.Envelope) error {
	data, err := r.notifier.RedDot(ctx, c.UserID)
	if err != nil {
		return err
	}
	r.reply(c, env, "replyNotifyRedDotData", data)
	return nil
}

// queryClients 可以添加为好友的用户
func (r *Router) queryClients(ctx context.Context, c *Client, env *models.Envelope) error {
	users, err := r.friends.NonFriendUsers(ctx, c.UserID)
	if err != nil {
		return errors.Wrap(err, "查询客户端列表失败")
	}
	items := make([]models.ClientItem, 0, len(users))
	for i := range users {
		u := &users[i]
		items = append(items, models.ClientItem{
			ID:       u.ID,
			Name:     u.Name,
			NickName: u.NickName,
			Avatar:   u.Avatar,
			Role:     u.Role,
			IP:       u.IP,
			ClientID: u.ClientID(),
			IsActive: r.manager.IsOnline(u.ID),
		})
	}
	r.reply(c, env, "replyClientList", items)
	return nil
}
