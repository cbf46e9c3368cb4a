package services

import (
	"context"
	"testing"

	"github.com/pkg/errors"

	"landrop/models"
)

func friendIDs(items []models.FriendItem) []int64 {
	ids := make([]int64, 0, len(items))
	for _, item := range items {
		ids = append(ids, item.FriendID)
	}
	return ids
}

func TestRequestFriend(t *testing.T) {
	db := newTestDB(t)
	seedUser(t, db, 1, "alice")
	seedUser(t, db, 2, "bob")
	friends := NewFriendService(db)
	ctx := context.Background()

	item, err := friends.RequestFriend(ctx, 1, 2)
	if err != nil {
		t.Fatalf("RequestFriend: %v", err)
	}
	if item.FromID != 1 || item.ToID != 2 || item.FromName != "alice" || item.ToName != "bob" {
		t.Errorf("unexpected notify item: %+v", item)
	}
	if item.Status != models.FriendPending {
		t.Errorf("status = %s, want pending", item.Status)
	}

	pending, err := friends.PendingRequests(ctx, 2)
	if err != nil {
		t.Fatalf("PendingRequests: %v", err)
	}
	if len(pending) != 1 || pending[0].FID != item.FID {
		t.Fatalf("bob pending = %+v", pending)
	}
	if got, _ := friends.PendingRequests(ctx, 1); len(got) != 0 {
		t.Errorf("requester should not see own request, got %d", len(got))
	}
}

func TestRequestFriendErrors(t *testing.T) {
	db := newTestDB(t)
	seedUser(t, db, 1, "alice")
	seedUser(t, db, 2, "bob")
	seedUser(t, db, 3, "carol")
	friends := NewFriendService(db)
	ctx := context.Background()

	if _, err := friends.RequestFriend(ctx, 1, 2); err != nil {
		t.Fatalf("RequestFriend: %v", err)
	}
	makeFriends(t, friends, 1, 3)

	tests := []struct {
		name     string
		from, to int64
		want     error
	}{
		{"duplicate same direction", 1, 2, ErrDuplicatePending},
		{"duplicate reverse direction", 2, 1, ErrDuplicatePending},
		{"already friends", 3, 1, ErrAlreadyFriends},
		{"self", 1, 1, ErrValidation},
		{"missing target", 1, 0, ErrValidation},
		{"unknown user", 1, 42, ErrNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := friends.RequestFriend(ctx, tt.from, tt.to)
			if !errors.Is(err, tt.want) {
				t.Errorf("err = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestResolveFriendAccept(t *testing.T) {
	db := newTestDB(t)
	seedUser(t, db, 1, "alice")
	seedUser(t, db, 2, "bob")
	friends := NewFriendService(db)
	ctx := context.Background()

	item, err := friends.RequestFriend(ctx, 1, 2)
	if err != nil {
		t.Fatalf("RequestFriend: %v", err)
	}

	// 只有接收方可以处理
	if _, err := friends.ResolveFriend(ctx, 1, item.FID, "accept"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("requester resolve err = %v, want ErrNotFound", err)
	}

	row, err := friends.ResolveFriend(ctx, 2, item.FID, "accept")
	if err != nil {
		t.Fatalf("ResolveFriend: %v", err)
	}
	if row.Status != models.FriendAccept || row.UserID != 1 {
		t.Errorf("resolved row = %+v", row)
	}

	for _, pair := range [][2]int64{{1, 2}, {2, 1}} {
		list, err := friends.ListFriends(ctx, pair[0])
		if err != nil {
			t.Fatalf("ListFriends(%d): %v", pair[0], err)
		}
		if ids := friendIDs(list); len(ids) != 1 || ids[0] != pair[1] {
			t.Errorf("ListFriends(%d) = %v, want [%d]", pair[0], ids, pair[1])
		}
	}

	if pending, _ := friends.PendingRequests(ctx, 2); len(pending) != 0 {
		t.Errorf("pending after accept = %d, want 0", len(pending))
	}

	// 已处理的申请不能再次处理
	if _, err := friends.ResolveFriend(ctx, 2, item.FID, "reject"); !errors.Is(err, ErrNotFound) {
		t.Errorf("second resolve err = %v, want ErrNotFound", err)
	}
}

func TestResolveFriendReject(t *testing.T) {
	db := newTestDB(t)
	seedUser(t, db, 1, "alice")
	seedUser(t, db, 2, "bob")
	friends := NewFriendService(db)
	ctx := context.Background()

	item, err := friends.RequestFriend(ctx, 1, 2)
	if err != nil {
		t.Fatalf("RequestFriend: %v", err)
	}
	if _, err := friends.ResolveFriend(ctx, 2, item.FID, "reject"); err != nil {
		t.Fatalf("ResolveFriend: %v", err)
	}

	for _, id := range []int64{1, 2} {
		list, _ := friends.ListFriends(ctx, id)
		if len(list) != 0 {
			t.Errorf("ListFriends(%d) = %v, want empty", id, friendIDs(list))
		}
		pending, _ := friends.PendingRequests(ctx, id)
		if len(pending) != 0 {
			t.Errorf("PendingRequests(%d) = %d, want 0", id, len(pending))
		}
	}

	// 拒绝后可以重新申请
	if _, err := friends.RequestFriend(ctx, 1, 2); err != nil {
		t.Errorf("request after reject: %v", err)
	}
}

func TestResolveFriendInvalidStatus(t *testing.T) {
	db := newTestDB(t)
	friends := NewFriendService(db)
	if _, err := friends.ResolveFriend(context.Background(), 2, 1, "maybe"); !errors.Is(err, ErrValidation) {
		t.Errorf("err = %v, want ErrValidation", err)
	}
}

func TestListFriendsOrder(t *testing.T) {
	db := newTestDB(t)
	seedUser(t, db, 1, "alice")
	seedUser(t, db, 2, "bob")
	seedUser(t, db, 3, "carol")
	seedUser(t, db, 4, "dave")
	seedUser(t, db, 5, "erin")
	friends := NewFriendService(db)
	chats := NewChatService(db, 0)
	ctx := context.Background()

	for _, id := range []int64{5, 2, 4, 3} {
		makeFriends(t, friends, 1, id)
	}
	if _, err := chats.Append(ctx, 3, 1, ChatMessage{Type: "text", Message: "first"}); err != nil {
		t.Fatalf("Append: %v", err)
	}
	// 时间戳为毫秒，手动拉开
	db.Model(&models.ChatRecord{}).Where("message = ?", "first").Update("time", 1000)
	if _, err := chats.Append(ctx, 1, 4, ChatMessage{Type: "text", Message: "second"}); err != nil {
		t.Fatalf("Append: %v", err)
	}
	db.Model(&models.ChatRecord{}).Where("message = ?", "second").Update("time", 2000)

	list, err := friends.ListFriends(ctx, 1)
	if err != nil {
		t.Fatalf("ListFriends: %v", err)
	}
	want := []int64{4, 3, 2, 5}
	got := friendIDs(list)
	if len(got) != len(want) {
		t.Fatalf("ListFriends = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("ListFriends = %v, want %v", got, want)
		}
	}
	if list[0].LastMsg == nil || *list[0].LastMsg != "second" {
		t.Errorf("lastMsg of first item = %v", list[0].LastMsg)
	}
	if list[2].MsgTime != nil {
		t.Errorf("friend without messages should have nil msgTime")
	}
	if list[1].UnreadCount != 1 {
		t.Errorf("unread from carol = %d, want 1", list[1].UnreadCount)
	}
}

func TestSortFriends(t *testing.T) {
	t1, t2 := int64(100), int64(200)
	items := []models.FriendItem{
		{FriendID: 9},
		{FriendID: 3, MsgTime: &t1},
		{FriendID: 1},
		{FriendID: 7, MsgTime: &t2},
		{FriendID: 2, MsgTime: &t1},
	}
	SortFriends(items)
	want := []int64{7, 2, 3, 1, 9}
	for i, id := range friendIDs(items) {
		if id != want[i] {
			t.Fatalf("order = %v, want %v", friendIDs(items), want)
		}
	}
}

func TestNonFriendUsers(t *testing.T) {
	db := newTestDB(t)
	seedUser(t, db, 1, "alice")
	seedUser(t, db, 2, "bob")
	seedUser(t, db, 3, "carol")
	seedUser(t, db, 4, "dave")
	db.Create(&models.User{ID: 999, Name: "admin", NickName: "admin", Pwd: "x", Role: models.RoleAdminPlus, Active: true})
	friends := NewFriendService(db)
	ctx := context.Background()

	makeFriends(t, friends, 1, 2)
	if _, err := friends.RequestFriend(ctx, 1, 3); err != nil {
		t.Fatalf("RequestFriend: %v", err)
	}

	users, err := friends.NonFriendUsers(ctx, 1)
	if err != nil {
		t.Fatalf("NonFriendUsers: %v", err)
	}
	if len(users) != 1 || users[0].ID != 4 {
		t.Errorf("NonFriendUsers = %+v, want only dave", users)
	}
}
