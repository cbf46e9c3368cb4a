package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"landrop/middleware"
	"landrop/models"
	"landrop/services"
)

type testServer struct {
	srv     *httptest.Server
	users   *services.UserService
	tokens  *services.TokenService
	manager *services.WebSocketManager
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Silent)})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	sqlDB, _ := db.DB()
	sqlDB.SetMaxOpenConns(1)
	if err := db.AutoMigrate(&models.User{}, &models.Friendship{}, &models.ChatRecord{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	users := services.NewUserService(db, nil)
	ctx := context.Background()
	if err := users.EnsureAdmin(ctx, 999, "admin@123"); err != nil {
		t.Fatalf("EnsureAdmin: %v", err)
	}
	for _, name := range []string{"alice", "bob"} {
		if _, err := users.CreateUser(ctx, services.CreateUserInput{Name: name, Pwd: name + "-pwd"}); err != nil {
			t.Fatalf("CreateUser: %v", err)
		}
	}

	tokens := services.NewTokenService("secret", "xor", "landrop_client", time.Hour)
	manager := services.NewWebSocketManager("node", 0, nil)
	friends := services.NewFriendService(db)
	chats := services.NewChatService(db, 0)
	notifier := services.NewNotifyService(friends, manager, 1, 16)
	router := services.NewRouter(manager, friends, chats, notifier)

	r := gin.New()
	r.Use(middleware.TokenAuth(tokens))
	RegisterRoutes(r, Services{
		Users:      users,
		Tokens:     tokens,
		Friends:    friends,
		Chats:      chats,
		Notifier:   notifier,
		Router:     router,
		WSManager:  manager,
		BufferSize: 16,
	})

	srv := httptest.NewServer(r)
	t.Cleanup(func() {
		manager.Stop()
		srv.Close()
		sqlDB.Close()
	})
	return &testServer{srv: srv, users: users, tokens: tokens, manager: manager}
}

type restResponse struct {
	Code int             `json:"code"`
	Data json.RawMessage `json:"data"`
	Msg  string          `json:"msg"`
}

func (s *testServer) post(t *testing.T, path, token string, body interface{}) restResponse {
	t.Helper()
	raw, _ := json.Marshal(body)
	req, _ := http.NewRequest(http.MethodPost, s.srv.URL+path, bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set(middleware.TokenHeader, token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("POST %s: %v", path, err)
	}
	defer resp.Body.Close()
	var out restResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode %s: %v", path, err)
	}
	return out
}

func (s *testServer) login(t *testing.T, name, pwd string) (string, int64) {
	t.Helper()
	resp := s.post(t, "/api/v1/appLogin", "", map[string]string{"name": name, "pwd": pwd})
	if resp.Code != http.StatusOK {
		t.Fatalf("login %s: %+v", name, resp)
	}
	var data struct {
		Token string              `json:"token"`
		User  models.UserResponse `json:"user"`
	}
	json.Unmarshal(resp.Data, &data)
	return data.Token, data.User.ID
}

func (s *testServer) dial(t *testing.T, token string, id int64, name string) (*websocket.Conn, error) {
	t.Helper()
	q := url.Values{}
	q.Set("ldToken", token)
	q.Set("id", fmt.Sprint(id))
	q.Set("name", name)
	wsURL := "ws" + strings.TrimPrefix(s.srv.URL, "http") + "/ws?" + q.Encode()
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err == nil {
		t.Cleanup(func() { conn.Close() })
	}
	return conn, err
}

func readEnvelope(t *testing.T, conn *websocket.Conn) map[string]json.RawMessage {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, payload, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var env map[string]json.RawMessage
	if err := json.Unmarshal(payload, &env); err != nil {
		t.Fatalf("decode %s: %v", payload, err)
	}
	return env
}

func envType(env map[string]json.RawMessage) string {
	var s string
	json.Unmarshal(env["type"], &s)
	return s
}

func TestAppLogin(t *testing.T) {
	s := newTestServer(t)

	token, id := s.login(t, "alice", "alice-pwd")
	if token == "" || id == 0 {
		t.Fatalf("token=%q id=%d", token, id)
	}
	claims, err := s.tokens.Validate(token)
	if err != nil || claims.UserID != id {
		t.Errorf("claims = %+v, err = %v", claims, err)
	}

	resp := s.post(t, "/api/v1/appLogin", "", map[string]string{"name": "alice", "pwd": "wrong"})
	if resp.Code != http.StatusUnauthorized {
		t.Errorf("wrong password code = %d, want 401", resp.Code)
	}
}

func TestHandshakeAndPullData(t *testing.T) {
	s := newTestServer(t)
	token, id := s.login(t, "alice", "alice-pwd")

	conn, err := s.dial(t, token, id, "alice")
	if err != nil {
		t.Fatalf("dial: %v", err)
	}

	welcome := readEnvelope(t, conn)
	if envType(welcome) != "welcome" {
		t.Fatalf("first message = %v", welcome)
	}

	msg := map[string]interface{}{
		"sId":        "1",
		"type":       "pullData",
		"user":       map[string]interface{}{"userId": id, "userName": "alice"},
		"timeStamp":  time.Now().UnixMilli(),
		"clientType": "LD_WEB",
	}
	if err := conn.WriteJSON(msg); err != nil {
		t.Fatalf("write: %v", err)
	}
	reply := readEnvelope(t, conn)
	if envType(reply) != "replyPullData" {
		t.Fatalf("reply = %v", reply)
	}
	var content struct {
		Code int             `json:"code"`
		Data models.PullData `json:"data"`
	}
	json.Unmarshal(reply["content"], &content)
	if content.Code != models.CodeOK || content.Data.ClientID != fmt.Sprintf("alice#%d", id) {
		t.Errorf("content = %+v", content)
	}

	// 格式错误的消息不会断开连接
	conn.WriteMessage(websocket.TextMessage, []byte("{not json"))
	if got := envType(readEnvelope(t, conn)); got != "commonError" {
		t.Errorf("bad frame reply = %s", got)
	}
	if !s.manager.IsOnline(id) {
		t.Error("connection should stay registered")
	}
}

func TestHandshakeRejected(t *testing.T) {
	s := newTestServer(t)
	token, id := s.login(t, "alice", "alice-pwd")

	tests := []struct {
		name  string
		token string
		id    int64
	}{
		{"invalid token", "bogus", id},
		{"id mismatch", token, id + 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			conn, err := s.dial(t, tt.token, tt.id, "alice")
			if err != nil {
				t.Fatalf("dial: %v", err)
			}
			conn.SetReadDeadline(time.Now().Add(2 * time.Second))
			_, payload, err := conn.ReadMessage()
			if err == nil {
				t.Fatalf("expected close, got message %s", payload)
			}
			if !websocket.IsCloseError(err, websocket.ClosePolicyViolation) {
				t.Errorf("err = %v, want policy violation close", err)
			}
		})
	}
	if s.manager.GetConnectionCount() != 0 {
		t.Error("rejected handshakes must not register")
	}
}

func TestUnBindUserClosesConnections(t *testing.T) {
	s := newTestServer(t)
	adminToken, _ := s.login(t, "admin", "admin@123")
	token, id := s.login(t, "bob", "bob-pwd")

	conn, err := s.dial(t, token, id, "bob")
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	readEnvelope(t, conn)

	// 普通用户不能调用
	if resp := s.post(t, "/api/v1/unBindUser", token, map[string]int64{"id": id}); resp.Code != http.StatusForbidden {
		t.Errorf("user unbind code = %d, want 403", resp.Code)
	}

	resp := s.post(t, "/api/v1/unBindUser", adminToken, map[string]int64{"id": id})
	if resp.Code != http.StatusOK {
		t.Fatalf("unbind: %+v", resp)
	}
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := conn.ReadMessage(); err == nil {
		t.Error("connection should be closed after unbind")
	}
	if s.manager.IsOnline(id) {
		t.Error("unbound user still online")
	}

	if resp := s.post(t, "/api/v1/appLogin", "", map[string]string{"name": "bob", "pwd": "bob-pwd"}); resp.Code != http.StatusUnauthorized {
		t.Errorf("login after unbind code = %d, want 401", resp.Code)
	}
	if _, err := s.dial(t, token, id, "bob"); err != nil {
		t.Fatalf("dial: %v", err)
	}
}

func TestCreateUserAndToken(t *testing.T) {
	s := newTestServer(t)
	adminToken, _ := s.login(t, "admin", "admin@123")

	resp := s.post(t, "/api/v1/createUser", adminToken, map[string]string{"name": "carol", "pwd": "p", "nickName": "Carol"})
	if resp.Code != http.StatusOK {
		t.Fatalf("createUser: %+v", resp)
	}
	var user models.UserResponse
	json.Unmarshal(resp.Data, &user)
	if user.Name != "carol" || user.NickName != "Carol" || user.Role != models.RoleUser {
		t.Errorf("user = %+v", user)
	}

	if resp := s.post(t, "/api/v1/createUser", adminToken, map[string]string{"name": "carol", "pwd": "p"}); resp.Code != http.StatusBadRequest {
		t.Errorf("duplicate code = %d, want 400", resp.Code)
	}

	resp = s.post(t, "/api/v1/createToken", adminToken, map[string]interface{}{"id": fmt.Sprint(user.ID)})
	if resp.Code != http.StatusOK {
		t.Fatalf("createToken: %+v", resp)
	}
	var data struct {
		Token string `json:"token"`
	}
	json.Unmarshal(resp.Data, &data)
	claims, err := s.tokens.Validate(data.Token)
	if err != nil || claims.UserID != user.ID {
		t.Errorf("claims = %+v, err = %v", claims, err)
	}
}
