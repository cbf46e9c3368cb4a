package models

import (
	"encoding/json"
	"testing"
)

func TestIDUnmarshal(t *testing.T) {
	tests := []struct {
		in      string
		want    ID
		wantErr bool
	}{
		{`12`, 12, false},
		{`"34"`, 34, false},
		{`""`, 0, false},
		{`null`, 0, false},
		{`"abc"`, 0, true},
		{`1.5`, 0, true},
	}
	for _, tt := range tests {
		var id ID
		err := json.Unmarshal([]byte(tt.in), &id)
		if (err != nil) != tt.wantErr {
			t.Errorf("%s: err = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if !tt.wantErr && id != tt.want {
			t.Errorf("%s: got %d, want %d", tt.in, id, tt.want)
		}
	}
}

func TestEnvelopeDecode(t *testing.T) {
	raw := `{"sId":"s1","type":"chatSendData","user":{"userId":"1","userName":"alice"},
		"sendData":{"to":"bob#2","toId":2,"from":"alice#1","fromId":"1","message":"hi","type":"text"},
		"timeStamp":1700000000000,"clientType":"LD_WEB"}`

	var env Envelope
	if err := json.Unmarshal([]byte(raw), &env); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if env.UserID() != 1 || env.Type != "chatSendData" {
		t.Errorf("env = %+v", env)
	}

	var req ChatSendRequest
	if err := env.Bind(&req); err != nil {
		t.Fatalf("Bind: %v", err)
	}
	if req.ToID != 2 || req.FromID != 1 || req.Message != "hi" {
		t.Errorf("req = %+v", req)
	}

	empty := Envelope{Type: "pullData"}
	if empty.UserID() != 0 {
		t.Error("missing user should give 0")
	}
	if err := empty.Bind(&req); err == nil {
		t.Error("Bind without sendData should fail")
	}
}

func TestReplyEnvelopes(t *testing.T) {
	b, err := json.Marshal(NewReply("s1", "replyFriendList", CodeOK, []int{1}))
	if err != nil {
		t.Fatal(err)
	}
	var out map[string]interface{}
	json.Unmarshal(b, &out)
	if out["type"] != "replyFriendList" || out["clientType"] != ClientTypeApp || out["sId"] != "s1" {
		t.Errorf("reply = %s", b)
	}
	content := out["content"].(map[string]interface{})
	if content["code"].(float64) != CodeOK {
		t.Errorf("code = %v", content["code"])
	}

	b, _ = json.Marshal(NewCommonError("", 401, "expired"))
	out = nil
	json.Unmarshal(b, &out)
	content = out["content"].(map[string]interface{})
	if out["type"] != "commonError" || content["code"].(float64) != 401 || content["error"] != "expired" {
		t.Errorf("commonError = %s", b)
	}
	if _, ok := out["sId"]; ok {
		t.Error("empty sId should be omitted")
	}
}

func TestClientID(t *testing.T) {
	u := User{ID: 7, Name: "bob"}
	if u.ClientID() != "bob#7" {
		t.Errorf("ClientID = %s", u.ClientID())
	}
	if !IsAdminRole(RoleAdminPlus) || IsAdminRole(RoleUser) {
		t.Error("IsAdminRole mismatch")
	}
	if ValidRole("root") {
		t.Error("unknown role accepted")
	}
}
