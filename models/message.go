package models

// 聊天记录阅读状态
const (
	ReadYes = "y"
	ReadNo  = "n"
)

// ChatRecord 聊天记录，只追加
type ChatRecord struct {
	CID     int64  `json:"cId" gorm:"column:c_id;primaryKey"`
	FromID  int64  `json:"fromId" gorm:"index:idx_chat_pair;not null"`
	ToID    int64  `json:"toId" gorm:"index:idx_chat_pair;not null"`
	IsRead  string `json:"isRead" gorm:"size:1;not null"`
	Type    string `json:"type" gorm:"size:32"`
	Message string `json:"message" gorm:"type:text"`
	Files   string `json:"files" gorm:"type:text"` // JSON数组
	Time    int64  `json:"time" gorm:"index;not null"`
}

// TableName 表名
func (ChatRecord) TableName() string {
	return "chat_records"
}

// ChatItem 带双方名称的聊天记录
type ChatItem struct {
	CID          int64  `json:"cId" gorm:"column:c_id"`
	FromID       int64  `json:"fromId"`
	FromName     string `json:"fromName"`
	FromNickName string `json:"fromNickName"`
	ToID         int64  `json:"toId"`
	ToName       string `json:"toName"`
	ToNickName   string `json:"toNickName"`
	Message      string `json:"message"`
	Files        string `json:"files"`
	Time         int64  `json:"time"`
	Type         string `json:"type"`
	IsRead       string `json:"isRead"`
}

// RedDotItem 红点明细
type RedDotItem struct {
	Type     string `json:"type"` // friendRequest 或 chat
	ID       int64  `json:"id"`   // 好友申请为fId，聊天为好友ID
	FromID   int64  `json:"fromId"`
	FromName string `json:"fromName"`
	Count    int64  `json:"count"`
}

// RedDotData 红点汇总
type RedDotData struct {
	TotalCount int64        `json:"totalCount"`
	RedDotList []RedDotItem `json:"redDotList"`
}

// 红点类型
const (
	RedDotFriendRequest = "friendRequest"
	RedDotChat          = "chat"
)
