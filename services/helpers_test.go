package services

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"testing"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"landrop/models"
)

// newTestDB 每个测试一个独立的内存数据库
func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", name)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("db pool: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })

	if err := db.AutoMigrate(&models.User{}, &models.Friendship{}, &models.ChatRecord{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func seedUser(t *testing.T, db *gorm.DB, id int64, name string) models.User {
	t.Helper()
	u := models.User{
		ID:       id,
		Name:     name,
		NickName: strings.ToUpper(name),
		Pwd:      "x",
		Role:     models.RoleUser,
		IP:       "192.168.1." + fmt.Sprint(id),
		Active:   true,
	}
	if err := db.Create(&u).Error; err != nil {
		t.Fatalf("seed user %s: %v", name, err)
	}
	return u
}

// makeFriends 直接走申请和同意流程
func makeFriends(t *testing.T, friends *FriendService, a, b int64) {
	t.Helper()
	item, err := friends.RequestFriend(context.Background(), a, b)
	if err != nil {
		t.Fatalf("request %d->%d: %v", a, b, err)
	}
	if _, err := friends.ResolveFriend(context.Background(), b, item.FID, "accept"); err != nil {
		t.Fatalf("accept %d: %v", item.FID, err)
	}
}

// newTestClient 没有网络连接的客户端，消息留在Send通道中
func newTestClient(t *testing.T, m *WebSocketManager, id int64, name, role string) *Client {
	t.Helper()
	c := NewClient(nil, &TokenClaims{UserID: id, UserName: name, Role: role}, models.ClientTypeWeb, 64)
	c.MarkAuthenticated()
	if _, err := m.Register(c); err != nil {
		t.Fatalf("register %s: %v", name, err)
	}
	return c
}

type received struct {
	SID     string          `json:"sId"`
	Type    string          `json:"type"`
	Content json.RawMessage `json:"content"`
}

type replyBody struct {
	Code  int             `json:"code"`
	Data  json.RawMessage `json:"data"`
	Error string          `json:"error"`
}

func (r received) body(t *testing.T) replyBody {
	t.Helper()
	var b replyBody
	if err := json.Unmarshal(r.Content, &b); err != nil {
		t.Fatalf("decode content of %s: %v", r.Type, err)
	}
	return b
}

func (r received) data(t *testing.T, v interface{}) {
	t.Helper()
	if err := json.Unmarshal(r.body(t).Data, v); err != nil {
		t.Fatalf("decode data of %s: %v", r.Type, err)
	}
}

func next(t *testing.T, c *Client) received {
	t.Helper()
	select {
	case payload := <-c.Send:
		var r received
		if err := json.Unmarshal(payload, &r); err != nil {
			t.Fatalf("decode envelope: %v", err)
		}
		return r
	case <-time.After(time.Second):
		t.Fatalf("%s: no message received", c.Label())
	}
	return received{}
}

func expectType(t *testing.T, c *Client, want string) received {
	t.Helper()
	r := next(t, c)
	if r.Type != want {
		t.Fatalf("%s: got %s, want %s (content %s)", c.Label(), r.Type, want, r.Content)
	}
	return r
}

func expectNothing(t *testing.T, c *Client) {
	t.Helper()
	select {
	case payload := <-c.Send:
		t.Fatalf("%s: unexpected message %s", c.Label(), payload)
	default:
	}
}
