package v1

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"time"
)

// ---- Inbound payloads ----

// IdentifyPayload is the identity claim a client sends right after connecting.
//
// On the wire it may be either a bare JSON string (the user id) or an object.
// Legacy web clients put the id in "id", "userId" or "clerk_id" and the avatar in
// "profile_image"; all of them are accepted.
type IdentifyPayload struct {
	UserID    string `json:"user_id"`
	FirstName string `json:"first_name,omitempty"`
	LastName  string `json:"last_name,omitempty"`
	AvatarURL string `json:"avatar_url,omitempty"`
}

// UnmarshalJSON accepts the string and object forms of an identity claim.
func (p *IdentifyPayload) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) > 0 && b[0] == '"' {
		var id string
		if err := json.Unmarshal(b, &id); err != nil {
			return err
		}
		*p = IdentifyPayload{UserID: strings.TrimSpace(id)}
		return nil
	}

	var raw struct {
		UserID       string `json:"user_id"`
		ID           string `json:"id"`
		LegacyUserID string `json:"userId"`
		ClerkID      string `json:"clerk_id"`
		FirstName    string `json:"first_name"`
		LastName     string `json:"last_name"`
		AvatarURL    string `json:"avatar_url"`
		ProfileImage string `json:"profile_image"`
	}
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}

	*p = IdentifyPayload{
		UserID:    firstNonEmpty(raw.UserID, raw.ID, raw.LegacyUserID, raw.ClerkID),
		FirstName: strings.TrimSpace(raw.FirstName),
		LastName:  strings.TrimSpace(raw.LastName),
		AvatarURL: firstNonEmpty(raw.AvatarURL, raw.ProfileImage),
	}
	return nil
}

// RoomPayload names a room for room_join / room_leave.
// A bare JSON string is accepted as the room id.
type RoomPayload struct {
	RoomID string `json:"room_id"`
}

// UnmarshalJSON accepts the string and object forms of a room reference.
func (p *RoomPayload) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) > 0 && b[0] == '"' {
		var id string
		if err := json.Unmarshal(b, &id); err != nil {
			return err
		}
		p.RoomID = strings.TrimSpace(id)
		return nil
	}

	var raw roomKeys
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	p.RoomID = raw.roomID()
	return nil
}

// roomKeys lists every key a client may use for a room id.
// Web clients send camelCase; older ones send the conversation id.
type roomKeys struct {
	RoomID               string `json:"room_id"`
	LegacyRoomID         string `json:"roomId"`
	ConversationID       string `json:"conversation_id"`
	LegacyConversationID string `json:"conversationId"`
}

func (k roomKeys) roomID() string {
	return firstNonEmpty(k.RoomID, k.LegacyRoomID, k.ConversationID, k.LegacyConversationID)
}

// ErrMissingRoomID is returned by MessageRoomID when the payload names no room.
var ErrMissingRoomID = errors.New("missing field: room_id")

// MessageRoomID extracts the target room from a message_send payload.
// The payload itself is relayed verbatim; only the room id is interpreted.
func MessageRoomID(payload json.RawMessage) (string, error) {
	if len(payload) == 0 {
		return "", ErrMissingRoomID
	}
	var p RoomPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return "", err
	}
	if p.RoomID == "" {
		return "", ErrMissingRoomID
	}
	return p.RoomID, nil
}

// TypingSetPayload announces that the sender started or stopped typing.
// Any user id in the payload is ignored; the relay uses the identified user.
type TypingSetPayload struct {
	RoomID   string `json:"room_id"`
	IsTyping bool   `json:"is_typing"`
}

// UnmarshalJSON accepts the room keys of RoomPayload and a camelCase "isTyping".
func (p *TypingSetPayload) UnmarshalJSON(b []byte) error {
	var raw struct {
		roomKeys
		IsTyping       *bool `json:"is_typing"`
		LegacyIsTyping *bool `json:"isTyping"`
	}
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}

	*p = TypingSetPayload{RoomID: raw.roomID()}
	switch {
	case raw.IsTyping != nil:
		p.IsTyping = *raw.IsTyping
	case raw.LegacyIsTyping != nil:
		p.IsTyping = *raw.LegacyIsTyping
	}
	return nil
}

// FriendRequestSendPayload notifies a receiver about a friend request the sender already stored.
type FriendRequestSendPayload struct {
	RequestID  string          `json:"request_id"`
	ReceiverID string          `json:"receiver_id"`
	Sender     json.RawMessage `json:"sender,omitempty"`
}

// FriendRequestAcceptPayload notifies the original sender that a request was accepted.
type FriendRequestAcceptPayload struct {
	RequestID string `json:"request_id"`
	FriendID  string `json:"friend_id"`
}

// ---- Outbound payloads ----

// OnlineUser is one row of the online users snapshot.
type OnlineUser struct {
	UserID    string    `json:"user_id"`
	FirstName string    `json:"first_name,omitempty"`
	LastName  string    `json:"last_name,omitempty"`
	AvatarURL string    `json:"avatar_url,omitempty"`
	LastSeen  time.Time `json:"last_seen"`
}

// OnlineUsersSnapshotPayload lists every online user, one row per user.
type OnlineUsersSnapshotPayload struct {
	Users []OnlineUser `json:"users"`
}

// UserOnlinePayload is broadcast when a user's first session connects.
type UserOnlinePayload struct {
	UserID    string `json:"user_id"`
	FirstName string `json:"first_name,omitempty"`
	LastName  string `json:"last_name,omitempty"`
	AvatarURL string `json:"avatar_url,omitempty"`
}

// UserOfflinePayload is broadcast when a user's last session disconnects.
type UserOfflinePayload struct {
	UserID   string    `json:"user_id"`
	LastSeen time.Time `json:"last_seen"`
}

// TypingChangedPayload is delivered to the other members of a room.
type TypingChangedPayload struct {
	RoomID   string `json:"room_id"`
	UserID   string `json:"user_id"`
	IsTyping bool   `json:"is_typing"`
}

// FriendRequestReceivedPayload is delivered to every session of the request receiver.
type FriendRequestReceivedPayload struct {
	RequestID string          `json:"request_id"`
	SenderID  string          `json:"sender_id"`
	Sender    json.RawMessage `json:"sender,omitempty"`
}

// FriendshipCreatedPayload is delivered to both sides of an accepted request.
type FriendshipCreatedPayload struct {
	RequestID string `json:"request_id"`
	FriendID  string `json:"friend_id"`
}

// ErrorPayload is a generic error response payload.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
