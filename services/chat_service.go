package services

import (
	"bytes"
	"context"
	"time"

	"github.com/pkg/errors"
	"gorm.io/gorm"

	"landrop/models"
)

// 标记已读的范围
const (
	ReadScopeSingle = "single"
	ReadScopeAll    = "all"
)

// ChatService 聊天记录存储，同一会话的写入串行执行
type ChatService struct {
	db           *gorm.DB
	locks        *keyedMutex
	historyLimit int
}

// NewChatService 创建聊天服务，historyLimit为0时返回全部记录
func NewChatService(db *gorm.DB, historyLimit int) *ChatService {
	return &ChatService{
		db:           db,
		locks:        newKeyedMutex(),
		historyLimit: historyLimit,
	}
}

const chatSelect = `c.c_id, c.from_id, c.to_id, c.is_read, c.type, c.message, c.files, c.time,
	u_from.name AS from_name, u_from.nick_name AS from_nick_name,
	u_to.name AS to_name, u_to.nick_name AS to_nick_name`

// ChatMessage 待保存的消息
type ChatMessage struct {
	Type    string
	Message string
	Files   []byte // JSON
}

// Append 保存一条消息，只有好友之间可以发送
func (s *ChatService) Append(ctx context.Context, fromID, toID int64, msg ChatMessage) (*models.ChatItem, error) {
	if toID <= 0 {
		return nil, ValidationError("缺少接收方")
	}
	if fromID == toID {
		return nil, ValidationError("不能给自己发送消息")
	}
	files := normalizeFiles(msg.Files)
	if msg.Message == "" && files == "[]" {
		return nil, ValidationError("消息内容不能为空")
	}

	unlock := s.locks.Lock(pairKey(fromID, toID))
	defer unlock()

	var cID int64
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		ok, err := areFriends(tx, fromID, toID)
		if err != nil {
			return err
		}
		if !ok {
			return ErrNotFriends
		}

		record := models.ChatRecord{
			FromID:  fromID,
			ToID:    toID,
			IsRead:  models.ReadNo,
			Type:    msg.Type,
			Message: msg.Message,
			Files:   files,
			Time:    time.Now().UnixMilli(),
		}
		if err := tx.Create(&record).Error; err != nil {
			return errors.Wrap(err, "保存聊天记录失败")
		}

		// 更新双方好友记录中的最后一条消息
		if err := tx.Model(&models.Friendship{}).
			Where("((user_id = ? AND friend_id = ?) OR (user_id = ? AND friend_id = ?)) AND status = ?",
				fromID, toID, toID, fromID, models.FriendAccept).
			Update("last_chat_id", record.CID).Error; err != nil {
			return errors.Wrap(err, "更新最近聊天记录失败")
		}
		cID = record.CID
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s.chatItem(ctx, cID)
}

// ListForPair 两人之间的聊天记录，按cId升序
func (s *ChatService) ListForPair(ctx context.Context, userID, friendID int64) ([]models.ChatItem, error) {
	if friendID <= 0 {
		return nil, ValidationError("缺少friendId")
	}
	items := make([]models.ChatItem, 0)
	query := s.chatQuery(ctx).
		Where("(c.from_id = ? AND c.to_id = ?) OR (c.from_id = ? AND c.to_id = ?)", userID, friendID, friendID, userID).
		Order("c.c_id DESC")
	if s.historyLimit > 0 {
		query = query.Limit(s.historyLimit)
	}
	if err := query.Scan(&items).Error; err != nil {
		return nil, errors.Wrap(err, "查询聊天记录失败")
	}
	if items == nil {
		return make([]models.ChatItem, 0), nil
	}
	// 取最新的N条后翻转为升序
	for i, j := 0, len(items)-1; i < j; i, j = i+1, j-1 {
		items[i], items[j] = items[j], items[i]
	}
	return items, nil
}

// MarkRead 标记已读：single 只标记cId为targetID的消息，all 标记targetID发给自己的全部消息
func (s *ChatService) MarkRead(ctx context.Context, callerID int64, scope string, targetID int64) error {
	if targetID <= 0 {
		return ValidationError("缺少id")
	}
	db := s.db.WithContext(ctx).Model(&models.ChatRecord{})
	switch scope {
	case ReadScopeSingle:
		db = db.Where("c_id = ? AND to_id = ?", targetID, callerID)
	case ReadScopeAll:
		unlock := s.locks.Lock(pairKey(callerID, targetID))
		defer unlock()
		db = db.Where("from_id = ? AND to_id = ? AND is_read = ?", targetID, callerID, models.ReadNo)
	default:
		return ValidationError("type只能是single或all")
	}
	if err := db.Update("is_read", models.ReadYes).Error; err != nil {
		return errors.Wrap(err, "修改聊天记录状态失败")
	}
	return nil
}

// UnreadCount friendID发给userID的未读消息数
func (s *ChatService) UnreadCount(ctx context.Context, userID, friendID int64) (int64, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&models.ChatRecord{}).
		Where("from_id = ? AND to_id = ? AND is_read = ?", friendID, userID, models.ReadNo).
		Count(&count).Error
	if err != nil {
		return 0, errors.Wrap(err, "查询未读消息失败")
	}
	return count, nil
}

func (s *ChatService) chatItem(ctx context.Context, cID int64) (*models.ChatItem, error) {
	var item models.ChatItem
	if err := s.chatQuery(ctx).Where("c.c_id = ?", cID).Limit(1).Scan(&item).Error; err != nil {
		return nil, errors.Wrap(err, "查询聊天记录失败")
	}
	if item.CID == 0 {
		return nil, errors.WithMessage(ErrNotFound, "未查询到聊天记录")
	}
	return &item, nil
}

func (s *ChatService) chatQuery(ctx context.Context) *gorm.DB {
	return s.db.WithContext(ctx).Table("chat_records AS c").
		Select(chatSelect).
		Joins("LEFT JOIN users u_from ON u_from.id = c.from_id").
		Joins("LEFT JOIN users u_to ON u_to.id = c.to_id")
}

// normalizeFiles 附件统一保存为JSON数组
func normalizeFiles(files []byte) string {
	files = bytes.TrimSpace(files)
	if len(files) == 0 || bytes.Equal(files, []byte("null")) {
		return "[]"
	}
	return string(files)
}
