package services

import (
	"context"
	"sort"
	"time"

	"github.com/pkg/errors"
	"gorm.io/gorm"

	"landrop/models"
)

// FriendService 好友关系存储
type FriendService struct {
	db    *gorm.DB
	locks *keyedMutex
}

// NewFriendService 创建好友服务
func NewFriendService(db *gorm.DB) *FriendService {
	return &FriendService{
		db:    db,
		locks: newKeyedMutex(),
	}
}

const notifySelect = `f.f_id, f.user_id, f.friend_id, f.status, f.create_time,
	uf.id AS from_id, uf.name AS from_name, uf.nick_name AS from_nick_name, uf.role AS from_role, uf.ip AS from_ip,
	ut.id AS to_id, ut.name AS to_name, ut.nick_name AS to_nick_name, ut.role AS to_role, ut.ip AS to_ip`

const friendSelect = `f.f_id, f.user_id, f.friend_id, f.status, f.last_chat_id, f.create_time,
	u.name AS friend_name, u.nick_name AS friend_nick_name, u.avatar AS friend_avatar, u.role AS friend_role, u.ip AS friend_ip,
	c.type AS msg_type, c.message AS last_msg, c.time AS msg_time,
	(SELECT COUNT(*) FROM chat_records cr WHERE cr.from_id = f.friend_id AND cr.to_id = f.user_id AND cr.is_read = 'n') AS unread_count`

// RequestFriend 发起好友申请，申请记录归接收方处理
func (s *FriendService) RequestFriend(ctx context.Context, fromID, toID int64) (*models.NotifyItem, error) {
	if toID <= 0 {
		return nil, ValidationError("缺少好友ID")
	}
	if fromID == toID {
		return nil, ValidationError("不能添加自己为好友")
	}

	unlock := s.locks.LockAll(userKey(fromID), userKey(toID))
	defer unlock()

	var fID int64
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var target models.User
		if err := tx.Where("id = ? AND active = ?", toID, true).First(&target).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return errors.WithMessage(ErrNotFound, "用户不存在")
			}
			return errors.Wrap(err, "查询用户失败")
		}

		var rows []models.Friendship
		if err := tx.Where("((user_id = ? AND friend_id = ?) OR (user_id = ? AND friend_id = ?)) AND status IN ?",
			fromID, toID, toID, fromID, []models.FriendStatus{models.FriendAccept, models.FriendPending}).
			Find(&rows).Error; err != nil {
			return errors.Wrap(err, "查询好友关系失败")
		}
		for _, row := range rows {
			if row.Status == models.FriendAccept {
				return ErrAlreadyFriends
			}
		}
		if len(rows) > 0 {
			return ErrDuplicatePending
		}

		row := models.Friendship{
			UserID:     fromID,
			FriendID:   toID,
			Status:     models.FriendPending,
			CreateTime: time.Now().UnixMilli(),
		}
		if err := tx.Create(&row).Error; err != nil {
			return errors.Wrap(err, "创建好友申请失败")
		}
		fID = row.FID
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s.notifyItem(ctx, fID)
}

// ResolveFriend 处理好友申请，只有接收方可以处理仍在等待中的申请
func (s *FriendService) ResolveFriend(ctx context.Context, callerID, fID int64, status string) (*models.Friendship, error) {
	if fID <= 0 {
		return nil, ValidationError("缺少fId")
	}
	next := models.FriendStatus(status)
	if next != models.FriendAccept && next != models.FriendReject {
		return nil, ValidationError("status只能是accept或reject")
	}

	var row models.Friendship
	if err := s.db.WithContext(ctx).First(&row, "f_id = ?", fID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errors.WithMessage(ErrNotFound, "未查询到好友关系")
		}
		return nil, errors.Wrap(err, "查询好友关系失败")
	}

	unlock := s.locks.LockAll(userKey(row.UserID), userKey(row.FriendID))
	defer unlock()

	// 开启事务
	tx := s.db.WithContext(ctx).Begin()
	if tx.Error != nil {
		return nil, errors.Wrap(tx.Error, "开启事务失败")
	}

	if err := tx.Where("f_id = ? AND friend_id = ? AND status = ?", fID, callerID, models.FriendPending).
		First(&row).Error; err != nil {
		tx.Rollback()
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errors.WithMessage(ErrNotFound, "未查询到好友关系")
		}
		return nil, errors.Wrap(err, "查询好友关系失败")
	}

	if err := tx.Model(&models.Friendship{}).Where("f_id = ?", fID).Update("status", next).Error; err != nil {
		tx.Rollback()
		return nil, errors.Wrap(err, "更新好友关系失败")
	}
	row.Status = next

	// 同意后进行双向绑定
	if next == models.FriendAccept {
		mirror := models.Friendship{
			UserID:     row.FriendID,
			FriendID:   row.UserID,
			Status:     models.FriendAccept,
			LastChatID: row.LastChatID,
			CreateTime: time.Now().UnixMilli(),
		}
		if err := tx.Create(&mirror).Error; err != nil {
			tx.Rollback()
			return nil, errors.Wrap(err, "创建好友关系失败")
		}
	}

	if err := tx.Commit().Error; err != nil {
		return nil, errors.Wrap(err, "提交事务失败")
	}
	return &row, nil
}

// ListFriends 已同意的好友，按最近消息时间倒序，没有消息的排在最后，相同时按好友ID升序
func (s *FriendService) ListFriends(ctx context.Context, userID int64) ([]models.FriendItem, error) {
	items := make([]models.FriendItem, 0)
	err := s.db.WithContext(ctx).Table("friendships AS f").
		Select(friendSelect).
		Joins("JOIN users u ON u.id = f.friend_id").
		Joins("LEFT JOIN chat_records c ON c.c_id = f.last_chat_id").
		Where("f.status = ? AND f.user_id = ?", models.FriendAccept, userID).
		Scan(&items).Error
	if err != nil {
		return nil, errors.Wrap(err, "查询好友列表失败")
	}
	if items == nil {
		items = make([]models.FriendItem, 0)
	}
	SortFriends(items)
	return items, nil
}

// SortFriends 好友列表排序规则
func SortFriends(items []models.FriendItem) {
	sort.SliceStable(items, func(i, j int) bool {
		a, b := items[i].MsgTime, items[j].MsgTime
		switch {
		case a != nil && b != nil && *a != *b:
			return *a > *b
		case a != nil && b == nil:
			return true
		case a == nil && b != nil:
			return false
		}
		return items[i].FriendID < items[j].FriendID
	})
}

// PendingRequests 等待用户处理的好友申请
func (s *FriendService) PendingRequests(ctx context.Context, userID int64) ([]models.NotifyItem, error) {
	items := make([]models.NotifyItem, 0)
	err := s.notifyQuery(ctx).
		Where("f.status = ? AND f.friend_id = ?", models.FriendPending, userID).
		Order("f.f_id ASC").
		Scan(&items).Error
	if err != nil {
		return nil, errors.Wrap(err, "查询好友申请失败")
	}
	if items == nil {
		items = make([]models.NotifyItem, 0)
	}
	return items, nil
}

// AreFriends 判断userID是否已把friendID加为好友
func (s *FriendService) AreFriends(ctx context.Context, userID, friendID int64) (bool, error) {
	return areFriends(s.db.WithContext(ctx), userID, friendID)
}

func areFriends(db *gorm.DB, userID, friendID int64) (bool, error) {
	var count int64
	err := db.Model(&models.Friendship{}).
		Where("user_id = ? AND friend_id = ? AND status = ?", userID, friendID, models.FriendAccept).
		Count(&count).Error
	if err != nil {
		return false, errors.Wrap(err, "查询好友关系失败")
	}
	return count > 0, nil
}

// NonFriendUsers 可以添加为好友的用户：排除自己、管理员、已是好友或申请中的用户
func (s *FriendService) NonFriendUsers(ctx context.Context, userID int64) ([]models.User, error) {
	users := make([]models.User, 0)
	err := s.db.WithContext(ctx).
		Where("id <> ? AND active = ? AND role NOT IN ?", userID, true, []string{models.RoleAdmin, models.RoleAdminPlus}).
		Where("NOT EXISTS (SELECT 1 FROM friendships f WHERE f.user_id = ? AND f.friend_id = users.id AND f.status <> ?)",
			userID, models.FriendReject).
		Order("id ASC").
		Find(&users).Error
	if err != nil {
		return nil, errors.Wrap(err, "查询用户列表失败")
	}
	return users, nil
}

func (s *FriendService) notifyItem(ctx context.Context, fID int64) (*models.NotifyItem, error) {
	var item models.NotifyItem
	err := s.notifyQuery(ctx).Where("f.f_id = ?", fID).Limit(1).Scan(&item).Error
	if err != nil {
		return nil, errors.Wrap(err, "查询好友申请失败")
	}
	if item.FID == 0 {
		return nil, errors.WithMessage(ErrNotFound, "未查询到好友申请")
	}
	return &item, nil
}

func (s *FriendService) notifyQuery(ctx context.Context) *gorm.DB {
	return s.db.WithContext(ctx).Table("friendships AS f").
		Select(notifySelect).
		Joins("LEFT JOIN users uf ON uf.id = f.user_id").
		Joins("JOIN users ut ON ut.id = f.friend_id")
}
