// Package main provides a CI-friendly WebSocket smoke test for the relay.
//
// It validates:
//   - handshake + subprotocol selection
//   - identify -> online_users_snapshot
//   - user_online fan-out to already connected users
//   - room relay of message_send (payload forwarded verbatim)
//   - typing_changed to the other room members
//   - user_offline when a user's last session disconnects
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/coder/websocket"

	v1 "github.com/nirjar1012/newChat/shared/contracts/realtime/v1"
)

const maxReadBytes = 1 << 20 // 1MiB

type smokeClient struct {
	name   string
	userID string
	conn   *websocket.Conn

	inbox chan v1.Envelope
	errCh chan error
}

func main() {
	var (
		wsURL   = flag.String("url", "ws://127.0.0.1:3001/ws", "WebSocket URL")
		origin  = flag.String("origin", "http://localhost:3000", "Origin header to send (browser-like WS handshake)")
		roomID  = flag.String("room", "smoke-room-1", "Room to join")
		text    = flag.String("text", "hello relay", "Message text to send")
		timeout = flag.Duration("timeout", 7*time.Second, "Per-step timeout")
		verbose = flag.Bool("v", false, "Verbose output")
	)
	flag.Parse()

	if err := validateWSURL(*wsURL); err != nil {
		fatalf("invalid -url: %v", err)
	}
	if err := validateOrigin(*origin); err != nil {
		fatalf("invalid -origin: %v", err)
	}

	root := context.Background()
	run := time.Now().UnixNano()

	a := mustConnect(root, "A", fmt.Sprintf("smoke_a_%d", run), *wsURL, *origin, *timeout)
	defer closeWS(a.conn)

	b := mustConnect(root, "B", fmt.Sprintf("smoke_b_%d", run), *wsURL, *origin, *timeout)
	bClosed := false
	defer func() {
		if !bClosed {
			closeWS(b.conn)
		}
	}()

	mustSeeUser(root, a, v1.TypeUserOnline, b.userID, *timeout)

	mustJoin(root, a, *roomID, *timeout)
	mustJoin(root, b, *roomID, *timeout)

	if *verbose {
		fmt.Printf("connected: A=%s B=%s room=%s origin=%q\n", a.userID, b.userID, *roomID, *origin)
	}

	msgID := fmt.Sprintf("msg-%d", run)
	mustWrite(root, a, v1.TypeMessageSend, map[string]any{
		"id":        msgID,
		"room_id":   *roomID,
		"sender_id": a.userID,
		"text":      *text,
	}, *timeout)
	mustAssertMessage(root, b, msgID, *text, *timeout)
	mustAssertMessage(root, a, msgID, *text, *timeout)

	mustWrite(root, b, v1.TypeTypingSet, v1.TypingSetPayload{RoomID: *roomID, IsTyping: true}, *timeout)
	env := a.mustReadUntilType(root, v1.TypeTypingChanged, *timeout)
	var tp v1.TypingChangedPayload
	if err := json.Unmarshal(env.Payload, &tp); err != nil {
		fatalf("unmarshal typing_changed payload (%s): %v", a.name, err)
	}
	if tp.UserID != b.userID || tp.RoomID != *roomID || !tp.IsTyping {
		fatalf("typing_changed mismatch (%s): %+v", a.name, tp)
	}

	closeWS(b.conn)
	bClosed = true
	mustSeeUser(root, a, v1.TypeUserOffline, b.userID, *timeout)

	fmt.Printf("OK: A=%s B=%s room=%s msg_id=%s\n", a.userID, b.userID, *roomID, msgID)
}

func validateWSURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("unsupported scheme: %s", u.Scheme)
	}
	if strings.TrimSpace(u.Host) == "" {
		return errors.New("missing host")
	}
	if strings.TrimSpace(u.Path) == "" {
		return errors.New("missing path")
	}
	return nil
}

func validateOrigin(raw string) error {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("origin must be http/https, got: %s", u.Scheme)
	}
	if strings.TrimSpace(u.Host) == "" {
		return errors.New("origin missing host")
	}
	return nil
}

func mustConnect(parent context.Context, name, userID, wsURL, origin string, stepTimeout time.Duration) *smokeClient {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	h := http.Header{}
	if strings.TrimSpace(origin) != "" {
		h.Set("Origin", origin)
	}

	conn, resp, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		Subprotocols: []string{v1.Subprotocol},
		HTTPHeader:   h,
	})
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		fatalf("connect %s: %v", name, err)
	}
	if got := conn.Subprotocol(); got != v1.Subprotocol {
		fatalf("subprotocol mismatch (%s): got=%q want=%q", name, got, v1.Subprotocol)
	}

	conn.SetReadLimit(maxReadBytes)

	c := &smokeClient{
		name:   name,
		userID: userID,
		conn:   conn,
		inbox:  make(chan v1.Envelope, 512),
		errCh:  make(chan error, 1),
	}
	c.startReadLoop()

	mustWrite(parent, c, v1.TypeIdentify, v1.IdentifyPayload{UserID: userID, FirstName: "Smoke " + name}, stepTimeout)

	snap := c.mustReadUntilType(parent, v1.TypeOnlineUsersSnapshot, stepTimeout)
	var p v1.OnlineUsersSnapshotPayload
	if err := json.Unmarshal(snap.Payload, &p); err != nil {
		fatalf("unmarshal snapshot payload (%s): %v", name, err)
	}
	found := false
	for _, u := range p.Users {
		if u.UserID == userID {
			found = true
			break
		}
	}
	if !found {
		fatalf("snapshot does not list the identified user (%s)", name)
	}

	return c
}

func (c *smokeClient) startReadLoop() {
	go func() {
		defer close(c.inbox)

		for {
			mt, data, err := c.conn.Read(context.Background())
			if err != nil {
				select {
				case c.errCh <- err:
				default:
				}
				return
			}

			if mt != websocket.MessageText && mt != websocket.MessageBinary {
				select {
				case c.errCh <- fmt.Errorf("unsupported message type: %v", mt):
				default:
				}
				return
			}

			var env v1.Envelope
			if err := json.Unmarshal(data, &env); err != nil {
				select {
				case c.errCh <- fmt.Errorf("bad json: %w", err):
				default:
				}
				return
			}
			if err := env.Validate(); err != nil {
				select {
				case c.errCh <- fmt.Errorf("bad envelope: %w", err):
				default:
				}
				return
			}

			select {
			case c.inbox <- env:
			default:
				select {
				case c.errCh <- errors.New("inbox overflow: consumer too slow"):
				default:
				}
				return
			}
		}
	}()
}

// mustJoin joins roomID and waits until the relay has processed it.
// room_join has no reply, so a snapshot request is used as a barrier.
func mustJoin(parent context.Context, c *smokeClient, roomID string, stepTimeout time.Duration) {
	mustWrite(parent, c, v1.TypeRoomJoin, v1.RoomPayload{RoomID: roomID}, stepTimeout)
	mustWrite(parent, c, v1.TypeOnlineUsersRequest, struct{}{}, stepTimeout)
	c.mustReadUntilType(parent, v1.TypeOnlineUsersSnapshot, stepTimeout)
}

func mustSeeUser(parent context.Context, c *smokeClient, typ, userID string, stepTimeout time.Duration) {
	deadline := time.Now().Add(stepTimeout)
	for time.Now().Before(deadline) {
		env := c.mustReadUntilType(parent, typ, time.Until(deadline))

		var p struct {
			UserID string `json:"user_id"`
		}
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			fatalf("unmarshal %s payload (%s): %v", typ, c.name, err)
		}
		if p.UserID == userID {
			return
		}
	}
	fatalf("timeout waiting for %s of %q (%s)", typ, userID, c.name)
}

func mustAssertMessage(parent context.Context, c *smokeClient, msgID, text string, stepTimeout time.Duration) {
	env := c.mustReadUntilType(parent, v1.TypeMessageReceived, stepTimeout)

	var p map[string]any
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		fatalf("unmarshal message_received payload (%s): %v", c.name, err)
	}
	if p["id"] != msgID {
		fatalf("message id mismatch (%s): got=%v want=%q", c.name, p["id"], msgID)
	}
	if p["text"] != text {
		fatalf("message text mismatch (%s): got=%v want=%q", c.name, p["text"], text)
	}
}

// mustReadUntilType skips unrelated broadcasts but fails on error envelopes.
func (c *smokeClient) mustReadUntilType(parent context.Context, wantType string, stepTimeout time.Duration) v1.Envelope {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			fatalf("timeout waiting for %q (%s): %v", wantType, c.name, ctx.Err())
		case err := <-c.errCh:
			if err == nil {
				fatalf("connection closed while waiting for %q (%s)", wantType, c.name)
			}
			fatalf("connection error while waiting for %q (%s): %v", wantType, c.name, err)
		case env, ok := <-c.inbox:
			if !ok {
				fatalf("connection closed while waiting for %q (%s)", wantType, c.name)
			}
			if env.Type == wantType {
				return env
			}
			if env.Type == v1.TypeError {
				var ep v1.ErrorPayload
				_ = json.Unmarshal(env.Payload, &ep)
				fatalf("server error (%s): code=%q msg=%q", c.name, ep.Code, ep.Message)
			}
		}
	}
}

func mustWrite(parent context.Context, c *smokeClient, typ string, payload any, stepTimeout time.Duration) {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	env := v1.Envelope{
		V:       v1.Version,
		Type:    typ,
		ID:      fmt.Sprintf("%s-%s-%d", c.name, typ, time.Now().UnixNano()),
		TS:      time.Now().UTC(),
		Payload: mustJSON(payload),
	}
	b, err := json.Marshal(env)
	if err != nil {
		fatalf("marshal envelope: %v", err)
	}
	if err := c.conn.Write(ctx, websocket.MessageText, b); err != nil {
		fatalf("write failed (%s): %v", c.name, err)
	}
}

func mustJSON(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return b
}

func closeWS(conn *websocket.Conn) {
	_ = conn.Close(websocket.StatusNormalClosure, "bye")
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "FAIL: "+format+"\n", args...)
	os.Exit(1)
}
