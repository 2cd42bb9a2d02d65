// Package v1 defines the newChat relay protocol v1 contract.
//
// This package is intentionally stable and dependency-light.
// It is shared between the relay and its clients to keep the wire protocol authoritative.
package v1

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Version is the protocol version identifier embedded into every envelope.
const Version = "v1"

// Subprotocol is the WebSocket subprotocol negotiated by clients.
const Subprotocol = "relay.v1"

// Inbound types (client -> relay).
const (
	// TypeIdentify attaches a user identity to the session.
	TypeIdentify = "identify"

	TypeRoomJoin  = "room_join"
	TypeRoomLeave = "room_leave"

	// TypeMessageSend relays an already persisted message to a room.
	TypeMessageSend = "message_send"

	// TypeTypingSet announces a typing state change in a room.
	TypeTypingSet = "typing_set"

	TypeOnlineUsersRequest = "online_users_request"

	TypeFriendRequestSend   = "friend_request_send"
	TypeFriendRequestAccept = "friend_request_accept"
)

// Outbound types (relay -> client).
const (
	TypeOnlineUsersSnapshot = "online_users_snapshot"
	TypeUserOnline          = "user_online"
	TypeUserOffline         = "user_offline"

	TypeMessageReceived = "message_received"
	TypeTypingChanged   = "typing_changed"

	TypeFriendRequestReceived = "friend_request_received"
	TypeFriendshipCreated     = "friendship_created"

	// TypeError is a generic error envelope.
	TypeError = "error"
)

// Envelope is the canonical wire wrapper.
type Envelope struct {
	V       string          `json:"v"`
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	TS      time.Time       `json:"ts,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Validate performs strict structural validation for an Envelope.
func (e Envelope) Validate() error {
	if strings.TrimSpace(e.V) == "" {
		return errors.New("missing field: v")
	}
	if e.V != Version {
		return fmt.Errorf("unsupported protocol version: %q", e.V)
	}
	if strings.TrimSpace(e.Type) == "" {
		return errors.New("missing field: type")
	}
	if !IsInbound(e.Type) && !IsOutbound(e.Type) {
		return fmt.Errorf("unknown type: %q", e.Type)
	}
	return nil
}

// IsInbound reports whether typ may be sent by a client.
func IsInbound(typ string) bool {
	switch typ {
	case TypeIdentify,
		TypeRoomJoin,
		TypeRoomLeave,
		TypeMessageSend,
		TypeTypingSet,
		TypeOnlineUsersRequest,
		TypeFriendRequestSend,
		TypeFriendRequestAccept:
		return true
	}
	return false
}

// IsOutbound reports whether typ is emitted by the relay.
func IsOutbound(typ string) bool {
	switch typ {
	case TypeOnlineUsersSnapshot,
		TypeUserOnline,
		TypeUserOffline,
		TypeMessageReceived,
		TypeTypingChanged,
		TypeFriendRequestReceived,
		TypeFriendshipCreated,
		TypeError:
		return true
	}
	return false
}
