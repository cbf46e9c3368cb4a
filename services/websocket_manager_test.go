package services

import (
	"context"
	"sync"
	"testing"

	"github.com/pkg/errors"

	"landrop/models"
)

type fakeRelay struct {
	mu    sync.Mutex
	users []int64
}

func (r *fakeRelay) PublishDelivery(_ context.Context, userID int64, _ []byte) error {
	r.mu.Lock()
	r.users = append(r.users, userID)
	r.mu.Unlock()
	return nil
}

func TestRegisterMultipleDevices(t *testing.T) {
	m := NewWebSocketManager("node", 0, nil)
	web := newTestClient(t, m, 1, "alice", "user")
	app := newTestClient(t, m, 1, "alice", "user")

	if web.ID == app.ID {
		t.Fatal("connections of one user share an id")
	}
	if got := len(m.ClientsOf(1)); got != 2 {
		t.Fatalf("ClientsOf = %d, want 2", got)
	}
	if web.State() != StateActive {
		t.Errorf("state = %d, want active", web.State())
	}

	n := m.SendTo(1, models.NewReply("", "ping", models.CodeOK, nil))
	if n != 2 {
		t.Errorf("delivered = %d, want 2", n)
	}
	expectType(t, web, "ping")
	expectType(t, app, "ping")

	// 离线用户静默忽略
	if n := m.SendTo(2, models.NewReply("", "ping", models.CodeOK, nil)); n != 0 {
		t.Errorf("delivered to offline user = %d", n)
	}
}

func TestUnregisterIdempotent(t *testing.T) {
	m := NewWebSocketManager("node", 0, nil)
	c := newTestClient(t, m, 1, "alice", "user")
	other := newTestClient(t, m, 1, "alice", "user")

	if !m.Unregister(c.ID) {
		t.Fatal("first unregister should report true")
	}
	if m.Unregister(c.ID) {
		t.Error("second unregister should report false")
	}
	if c.State() != StateClosed {
		t.Errorf("state = %d, want closed", c.State())
	}
	if !m.IsOnline(1) {
		t.Error("user still has another connection")
	}
	if got := m.GetConnectionCount(); got != 1 {
		t.Errorf("connections = %d, want 1", got)
	}

	m.Unregister(other.ID)
	if m.IsOnline(1) {
		t.Error("user should be offline")
	}
	if got := m.GetConnectionCount(); got != 0 {
		t.Errorf("connections = %d, want 0", got)
	}
}

func TestRegisterRequiresAuthentication(t *testing.T) {
	m := NewWebSocketManager("node", 0, nil)
	c := NewClient(nil, &TokenClaims{UserID: 1, UserName: "alice"}, "", 4)
	if _, err := m.Register(c); !errors.Is(err, ErrAuthInvalid) {
		t.Fatalf("err = %v, want ErrAuthInvalid", err)
	}
	if m.IsOnline(1) {
		t.Error("unauthenticated connection must not be registered")
	}
}

func TestRegisterMaxConnections(t *testing.T) {
	m := NewWebSocketManager("node", 1, nil)
	newTestClient(t, m, 1, "alice", "user")

	c := NewClient(nil, &TokenClaims{UserID: 2, UserName: "bob"}, "", 4)
	c.MarkAuthenticated()
	if _, err := m.Register(c); !errors.Is(err, ErrTooManyConnections) {
		t.Fatalf("err = %v, want ErrTooManyConnections", err)
	}
}

func TestSlowClientDropped(t *testing.T) {
	m := NewWebSocketManager("node", 0, nil)
	slow := NewClient(nil, &TokenClaims{UserID: 1, UserName: "alice"}, "", 1)
	slow.MarkAuthenticated()
	if _, err := m.Register(slow); err != nil {
		t.Fatalf("Register: %v", err)
	}
	fast := newTestClient(t, m, 1, "alice", "user")

	m.SendTo(1, models.NewReply("", "a", models.CodeOK, nil))
	n := m.SendTo(1, models.NewReply("", "b", models.CodeOK, nil))
	if n != 1 {
		t.Errorf("second delivery = %d, want 1", n)
	}
	if slow.State() != StateClosed {
		t.Error("slow client should be unregistered")
	}
	expectType(t, fast, "a")
	expectType(t, fast, "b")
}

func TestRelayAndDeliverRemote(t *testing.T) {
	m := NewWebSocketManager("node-a", 0, nil)
	relay := &fakeRelay{}
	m.SetRelay(relay)
	c := newTestClient(t, m, 3, "carol", "user")

	m.SendTo(9, models.NewReply("", "x", models.CodeOK, nil))
	if len(relay.users) != 1 || relay.users[0] != 9 {
		t.Errorf("relayed users = %v, want [9]", relay.users)
	}

	if n := m.DeliverRemote("node-a", 3, []byte(`{"type":"own"}`)); n != 0 {
		t.Errorf("own delivery should be skipped, got %d", n)
	}
	if n := m.DeliverRemote("node-b", 3, []byte(`{"type":"remote"}`)); n != 1 {
		t.Errorf("remote delivery = %d, want 1", n)
	}
	expectType(t, c, "remote")
}

func TestBroadcastToRoles(t *testing.T) {
	m := NewWebSocketManager("node", 0, nil)
	admin := newTestClient(t, m, 999, "admin", models.RoleAdminPlus)
	user := newTestClient(t, m, 1, "alice", models.RoleUser)

	if !m.HasRole(models.RoleAdmin, models.RoleAdminPlus) {
		t.Fatal("admin connection not found")
	}
	n := m.BroadcastToRoles(&models.OutEnvelope{Type: "deviceRealTimeInfo"}, models.RoleAdmin, models.RoleAdminPlus)
	if n != 1 {
		t.Errorf("delivered = %d, want 1", n)
	}
	expectType(t, admin, "deviceRealTimeInfo")
	expectNothing(t, user)
}

func TestCloseUserAndStop(t *testing.T) {
	m := NewWebSocketManager("node", 0, nil)
	a1 := newTestClient(t, m, 1, "alice", "user")
	a2 := newTestClient(t, m, 1, "alice", "user")
	b := newTestClient(t, m, 2, "bob", "user")

	if n := m.CloseUser(1); n != 2 {
		t.Errorf("closed = %d, want 2", n)
	}
	select {
	case <-a1.Done():
	default:
		t.Error("a1 not closed")
	}
	select {
	case <-a2.Done():
	default:
		t.Error("a2 not closed")
	}

	m.Stop()
	m.Stop()
	if b.State() != StateClosed {
		t.Error("Stop should close every connection")
	}
}
