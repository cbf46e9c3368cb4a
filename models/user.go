package models

import (
	"fmt"
	"time"
)

// 用户角色
const (
	RoleGuest     = "guest"
	RoleUser      = "user"
	RoleAdmin     = "admin"
	RoleAdminPlus = "admin+" // 带调试能力的超级管理员
)

// User 用户模型
type User struct {
	ID        int64     `json:"id" gorm:"primaryKey"`
	Name      string    `json:"name" gorm:"size:64;uniqueIndex;not null"`
	NickName  string    `json:"nickName" gorm:"size:64;not null"`
	Avatar    string    `json:"avatar"`
	Pwd       string    `json:"-" gorm:"not null"` // 密码哈希不返回给前端
	Role      string    `json:"role" gorm:"size:16;not null"`
	IP        string    `json:"ip" gorm:"size:64"`
	Active    bool      `json:"active" gorm:"not null;default:true"` // 解绑后置为false，不物理删除
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// TableName 表名
func (User) TableName() string {
	return "users"
}

// ClientID 客户端标识，格式为 name#id
func (u *User) ClientID() string {
	return ClientID(u.Name, u.ID)
}

// ClientID 拼接客户端标识
func ClientID(name string, id int64) string {
	return fmt.Sprintf("%s#%d", name, id)
}

// IsAdminRole 判断角色是否为管理员
func IsAdminRole(role string) bool {
	return role == RoleAdmin || role == RoleAdminPlus
}

// ValidRole 判断角色是否合法
func ValidRole(role string) bool {
	switch role {
	case RoleGuest, RoleUser, RoleAdmin, RoleAdminPlus:
		return true
	}
	return false
}

// UserResponse 用户响应模型（不包含敏感信息）
type UserResponse struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	NickName  string    `json:"nickName"`
	Avatar    string    `json:"avatar"`
	Role      string    `json:"role"`
	IP        string    `json:"ip"`
	Active    bool      `json:"active"`
	IsOnline  bool      `json:"isOnline"`
	CreatedAt time.Time `json:"createdAt"`
}

// ToResponse 转换为响应模型
func (u *User) ToResponse(online bool) UserResponse {
	return UserResponse{
		ID:        u.ID,
		Name:      u.Name,
		NickName:  u.NickName,
		Avatar:    u.Avatar,
		Role:      u.Role,
		IP:        u.IP,
		Active:    u.Active,
		IsOnline:  online,
		CreatedAt: u.CreatedAt,
	}
}

// ClientItem 可添加好友的客户端列表项
type ClientItem struct {
	ID       int64  `json:"id"`
	Name     string `json:"name"`
	NickName string `json:"nickName"`
	Avatar   string `json:"avatar"`
	Role     string `json:"role"`
	IP       string `json:"ip"`
	ClientID string `json:"clientID"`
	IsActive bool   `json:"isActive"`
}
