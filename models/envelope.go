package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// 客户端类型
const (
	ClientTypeWeb = "LD_WEB"
	ClientTypeApp = "LD_APP"
)

// 回复码
const (
	CodeOK = 1
)

// UserInfo 消息中携带的用户信息
type UserInfo struct {
	UserID   ID     `json:"userId"`
	UserName string `json:"userName"`
}

// Envelope 客户端发来的消息
type Envelope struct {
	SID        string          `json:"sId"`
	Type       string          `json:"type"`
	Content    json.RawMessage `json:"content,omitempty"`
	SendData   json.RawMessage `json:"sendData,omitempty"`
	User       *UserInfo       `json:"user,omitempty"`
	TimeStamp  int64           `json:"timeStamp"`
	ClientType string          `json:"clientType"`
}

// UserID 返回消息声明的用户ID，未携带时为0
func (e *Envelope) UserID() int64 {
	if e.User == nil {
		return 0
	}
	return int64(e.User.UserID)
}

// Bind 解析sendData到目标结构
func (e *Envelope) Bind(v interface{}) error {
	if len(e.SendData) == 0 || bytes.Equal(e.SendData, []byte("null")) {
		return fmt.Errorf("缺少sendData")
	}
	return json.Unmarshal(e.SendData, v)
}

// OutEnvelope 服务端推送的消息
type OutEnvelope struct {
	SID        string      `json:"sId,omitempty"`
	Type       string      `json:"type"`
	Content    interface{} `json:"content"`
	ClientType string      `json:"clientType,omitempty"`
	TimeStamp  int64       `json:"timeStamp,omitempty"`
}

// ReplyContent 业务回复内容
type ReplyContent struct {
	Code int         `json:"code"`
	Data interface{} `json:"data"`
}

// ErrorContent commonError 的内容
type ErrorContent struct {
	Code  int    `json:"code"`
	Error string `json:"error"`
}

// NewReply 构造业务回复
func NewReply(sid, replyType string, code int, data interface{}) *OutEnvelope {
	return &OutEnvelope{
		SID:        sid,
		Type:       replyType,
		ClientType: ClientTypeApp,
		Content:    ReplyContent{Code: code, Data: data},
		TimeStamp:  time.Now().UnixMilli(),
	}
}

// NewCommonError 构造错误回复
func NewCommonError(sid string, code int, msg string) *OutEnvelope {
	return &OutEnvelope{
		SID:        sid,
		Type:       "commonError",
		ClientType: ClientTypeApp,
		Content:    ErrorContent{Code: code, Error: msg},
		TimeStamp:  time.Now().UnixMilli(),
	}
}

// ID 兼容数字和数字字符串的ID
type ID int64

// UnmarshalJSON 解析数字或字符串
func (id *ID) UnmarshalJSON(data []byte) error {
	if bytes.Equal(data, []byte("null")) {
		*id = 0
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		if s == "" {
			*id = 0
			return nil
		}
		v, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return fmt.Errorf("无效的ID: %q", s)
		}
		*id = ID(v)
		return nil
	}
	var v int64
	if err := json.Unmarshal(data, &v); err != nil {
		return fmt.Errorf("无效的ID: %s", data)
	}
	*id = ID(v)
	return nil
}

// ChatSendRequest chatSendData 的 sendData
type ChatSendRequest struct {
	To      string          `json:"to"`
	ToID    ID              `json:"toId"`
	From    string          `json:"from"`
	FromID  ID              `json:"fromId"`
	Message string          `json:"message"`
	Type    string          `json:"type"`
	Files   json.RawMessage `json:"files"`
}

// AddFriendRequest addFriends 的 sendData
type AddFriendRequest struct {
	To     string `json:"to"`
	ToID   ID     `json:"toId"`
	From   string `json:"from"`
	FromID ID     `json:"fromId"`
}

// DealFriendRequest dealWithFriendsRequest 的 sendData
type DealFriendRequest struct {
	FID      ID     `json:"fId"`
	Status   string `json:"status"` // accept 或 reject
	FromID   ID     `json:"fromId"`
	FromName string `json:"fromName"`
}

// ChatRecordsQuery queryChatRecords 的 sendData
type ChatRecordsQuery struct {
	FriendID ID `json:"friendId"`
}

// ChangeReadStatusRequest changeChatRecordsStatus 的 sendData
type ChangeReadStatusRequest struct {
	Type string `json:"type"` // single 或 all
	ID   ID     `json:"id"`
}

// PullData replyPullData 的数据
type PullData struct {
	ClientID    string       `json:"clientID"`
	ID          int64        `json:"id"`
	Name        string       `json:"name"`
	NotifyList  []NotifyItem `json:"notifyList"`
	MessageList []ChatItem   `json:"messageList"`
}
