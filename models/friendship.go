package models

// FriendStatus 好友关系状态
type FriendStatus string

const (
	FriendPending FriendStatus = "pending"
	FriendAccept  FriendStatus = "accept"
	FriendReject  FriendStatus = "reject"
)

// Friendship 好友关系，每个方向一行
type Friendship struct {
	FID        int64        `json:"fId" gorm:"column:f_id;primaryKey"`
	UserID     int64        `json:"userId" gorm:"index:idx_friendship_pair;not null"`
	FriendID   int64        `json:"friendId" gorm:"index:idx_friendship_pair;not null"`
	Status     FriendStatus `json:"status" gorm:"size:16;index;not null"`
	LastChatID *int64       `json:"lastChatId"`
	CreateTime int64        `json:"createTime"` // 毫秒时间戳
}

// TableName 表名
func (Friendship) TableName() string {
	return "friendships"
}

// NotifyItem 待处理的好友申请，发送给接收方
type NotifyItem struct {
	FID          int64        `json:"fId" gorm:"column:f_id"`
	UserID       int64        `json:"userId"`
	FriendID     int64        `json:"friendId"`
	Status       FriendStatus `json:"status"`
	CreateTime   int64        `json:"createTime"`
	FromID       int64        `json:"fromId"`
	FromName     string       `json:"fromName"`
	FromNickName string       `json:"fromNickName"`
	FromRole     string       `json:"fromRole"`
	FromIP       string       `json:"fromIp" gorm:"column:from_ip"`
	ToID         int64        `json:"toId"`
	ToName       string       `json:"toName"`
	ToNickName   string       `json:"toNickName"`
	ToRole       string       `json:"toRole"`
	ToIP         string       `json:"toIp" gorm:"column:to_ip"`
}

// FriendItem 好友列表项，附带最近一条消息和未读数
type FriendItem struct {
	FID            int64        `json:"fId" gorm:"column:f_id"`
	UserID         int64        `json:"userId"`
	FriendID       int64        `json:"friendId"`
	Status         FriendStatus `json:"status"`
	LastChatID     *int64       `json:"lastChatId"`
	CreateTime     int64        `json:"createTime"`
	FriendName     string       `json:"friendName"`
	FriendNickName string       `json:"friendNickName"`
	FriendAvatar   string       `json:"friendAvatar"`
	FriendRole     string       `json:"friendRole"`
	FriendIP       string       `json:"friendIp" gorm:"column:friend_ip"`
	MsgType        *string      `json:"msgType"`
	LastMsg        *string      `json:"lastMsg"`
	MsgTime        *int64       `json:"msgTime"`
	UnreadCount    int64        `json:"unreadCount"`
}
