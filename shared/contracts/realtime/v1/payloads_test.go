package v1

import (
	"encoding/json"
	"testing"
	"time"
)

func TestIdentifyPayload_Forms(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name   string
		in     string
		wantID string
		avatar string
	}{
		{name: "bare string", in: `"user_1"`, wantID: "user_1"},
		{name: "user_id", in: `{"user_id":"user_2","first_name":"Ada"}`, wantID: "user_2"},
		{name: "legacy id", in: `{"id":"user_3","profile_image":"https://x/a.png"}`, wantID: "user_3", avatar: "https://x/a.png"},
		{name: "legacy camel", in: `{"userId":" user_4 "}`, wantID: "user_4"},
		{name: "clerk id", in: `{"clerk_id":"user_5","avatar_url":"https://x/b.png"}`, wantID: "user_5", avatar: "https://x/b.png"},
		{name: "user_id wins", in: `{"user_id":"a","id":"b"}`, wantID: "a"},
		{name: "empty object", in: `{}`, wantID: ""},
		{name: "null", in: `null`, wantID: ""},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			var p IdentifyPayload
			if err := json.Unmarshal([]byte(tc.in), &p); err != nil {
				t.Fatalf("unmarshal %s: %v", tc.in, err)
			}
			if p.UserID != tc.wantID {
				t.Fatalf("UserID=%q want=%q", p.UserID, tc.wantID)
			}
			if p.AvatarURL != tc.avatar {
				t.Fatalf("AvatarURL=%q want=%q", p.AvatarURL, tc.avatar)
			}
		})
	}
}

func TestIdentifyPayload_NumericIDRejected(t *testing.T) {
	t.Parallel()

	var p IdentifyPayload
	if err := json.Unmarshal([]byte(`{"id":42}`), &p); err == nil {
		t.Fatalf("expected error for numeric id, got %+v", p)
	}
}

func TestMessageRoomID(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{in: `{"room_id":"R1","content":"hi"}`, want: "R1"},
		{in: `{"conversation_id":"R2","content":"hi"}`, want: "R2"},
		{in: `{"roomId":"R3","content":"hi"}`, want: "R3"},
		{in: `{"conversationId":"R4","content":"hi"}`, want: "R4"},
		{in: `"R5"`, want: "R5"},
		{in: `{"content":"hi"}`, wantErr: true},
		{in: `[1,2]`, wantErr: true},
	}

	for _, tc := range cases {
		got, err := MessageRoomID(json.RawMessage(tc.in))
		if tc.wantErr {
			if err == nil {
				t.Fatalf("MessageRoomID(%s) expected error", tc.in)
			}
			continue
		}
		if err != nil {
			t.Fatalf("MessageRoomID(%s): %v", tc.in, err)
		}
		if got != tc.want {
			t.Fatalf("MessageRoomID(%s)=%q want=%q", tc.in, got, tc.want)
		}
	}
}

func TestTypingSetPayload_Forms(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name   string
		in     string
		room   string
		typing bool
	}{
		{name: "snake case", in: `{"room_id":"R1","is_typing":true}`, room: "R1", typing: true},
		{name: "camel typing flag", in: `{"room_id":"R1","isTyping":true}`, room: "R1", typing: true},
		{name: "web client", in: `{"conversationId":"R2","userId":"spoofed","isTyping":true}`, room: "R2", typing: true},
		{name: "camel room", in: `{"roomId":"R3","isTyping":false}`, room: "R3"},
		{name: "legacy conversation", in: `{"conversation_id":"R4","is_typing":true}`, room: "R4", typing: true},
		{name: "snake flag wins", in: `{"room_id":"R5","is_typing":false,"isTyping":true}`, room: "R5"},
		{name: "no room", in: `{"is_typing":true}`, typing: true},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			var p TypingSetPayload
			if err := json.Unmarshal([]byte(tc.in), &p); err != nil {
				t.Fatalf("unmarshal %s: %v", tc.in, err)
			}
			if p.RoomID != tc.room || p.IsTyping != tc.typing {
				t.Fatalf("got %+v want room=%q typing=%v", p, tc.room, tc.typing)
			}
		})
	}
}

func TestEnvelope_Validate(t *testing.T) {
	t.Parallel()

	now := time.Now().UTC()
	ok := Envelope{V: Version, Type: TypeIdentify, TS: now, Payload: json.RawMessage(`"u"`)}
	if err := ok.Validate(); err != nil {
		t.Fatalf("valid envelope rejected: %v", err)
	}

	bad := []Envelope{
		{Type: TypeIdentify},
		{V: "v0", Type: TypeIdentify},
		{V: Version},
		{V: Version, Type: "nope"},
	}
	for _, env := range bad {
		if err := env.Validate(); err == nil {
			t.Fatalf("expected error for %+v", env)
		}
	}

	if !IsInbound(TypeMessageSend) || IsInbound(TypeMessageReceived) {
		t.Fatalf("inbound classification broken")
	}
	if !IsOutbound(TypeUserOffline) || IsOutbound(TypeTypingSet) {
		t.Fatalf("outbound classification broken")
	}
}
