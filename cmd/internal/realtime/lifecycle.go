package realtime

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/cenkalti/backoff/v4"
	"github.com/cockroachdb/errors"
	"github.com/go-playground/validator/v10"
	"github.com/samber/lo"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	v1 "github.com/nirjar1012/newChat/shared/contracts/realtime/v1"
)

const (
	defaultLookupTimeout = 3 * time.Second
	lookupRetryDelay     = 150 * time.Millisecond
)

// SessionState is the lifecycle state of one transport session.
type SessionState uint8

const (
	StateConnecting SessionState = iota
	StateActive
	StateClosed
)

func (s SessionState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateActive:
		return "active"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Session is the controller's view of one transport session.
type Session struct {
	client *Client

	mu     sync.Mutex
	state  SessionState
	userID string
}

// ID returns the session id.
func (s *Session) ID() string { return s.client.SessionID }

// Client returns the outbound handle of the session.
func (s *Session) Client() *Client { return s.client }

// State returns the current lifecycle state.
func (s *Session) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// UserID returns the identified user, or "" before identify.
func (s *Session) UserID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.userID
}

// identityClaim bounds what an identify payload may put into the registry.
type identityClaim struct {
	UserID    string `validate:"required,max=128,nocontrol"`
	FirstName string `validate:"max=128,nocontrol"`
	LastName  string `validate:"max=128,nocontrol"`
	AvatarURL string `validate:"max=2048,nocontrol"`
}

func newClaimValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	// Registration only fails for an empty tag or a nil func.
	_ = v.RegisterValidation("nocontrol", func(fl validator.FieldLevel) bool {
		return !strings.ContainsFunc(fl.Field().String(), unicode.IsControl)
	})
	return v
}

// Controller drives every session through Connecting -> Active -> Closed.
//
// Events of one session are handled sequentially by its transport goroutine; events of
// different sessions run concurrently. Presence transitions and their announcements
// are serialized by transitionMu so that a reconnect racing a teardown can never
// deliver "offline" after the matching "online".
type Controller struct {
	log         *slog.Logger
	registry    *Registry
	rooms       *Rooms
	broadcaster *Broadcaster
	presence    *PresenceSync
	members     MembershipLookup
	metrics     *Metrics
	validate    *validator.Validate

	lookupTimeout time.Duration
	now           func() time.Time

	transitionMu sync.Mutex
}

// ControllerOption configures a Controller.
type ControllerOption func(*Controller)

// WithLookupTimeout bounds the membership lookup done after identify (default 3s).
func WithLookupTimeout(d time.Duration) ControllerOption {
	return func(c *Controller) {
		if d > 0 {
			c.lookupTimeout = d
		}
	}
}

// WithMetrics records controller and broadcaster activity on m.
func WithMetrics(m *Metrics) ControllerOption {
	return func(c *Controller) { c.metrics = m }
}

// WithClock overrides the time source (tests).
func WithClock(now func() time.Time) ControllerOption {
	return func(c *Controller) {
		if now != nil {
			c.now = now
		}
	}
}

// NewController wires the relay components together.
// members may be nil, in which case sessions auto-join no rooms.
func NewController(log *slog.Logger, registry *Registry, rooms *Rooms, presence *PresenceSync, members MembershipLookup, opts ...ControllerOption) *Controller {
	if log == nil {
		log = slog.Default()
	}
	if registry == nil {
		registry = NewRegistry()
	}
	if rooms == nil {
		rooms = NewRooms()
	}

	c := &Controller{
		log:           log,
		registry:      registry,
		rooms:         rooms,
		presence:      presence,
		members:       members,
		validate:      newClaimValidator(),
		lookupTimeout: defaultLookupTimeout,
		now:           func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	c.broadcaster = NewBroadcaster(log, registry, rooms, c.metrics)
	return c
}

// Registry returns the session registry the controller mutates.
func (c *Controller) Registry() *Registry { return c.registry }

// Rooms returns the membership table the controller mutates.
func (c *Controller) Rooms() *Rooms { return c.rooms }

// Broadcaster returns the dispatcher used for fan-out.
func (c *Controller) Broadcaster() *Broadcaster { return c.broadcaster }

// Open starts tracking a freshly connected session in the Connecting state.
func (c *Controller) Open(client *Client) *Session {
	c.log.Debug("session.open", "session_id", client.SessionID)
	return &Session{client: client, state: StateConnecting}
}

// Handle routes one inbound envelope.
//
// Failures are reported to the session as an error envelope and returned for logging;
// none of them is fatal to the session.
func (c *Controller) Handle(ctx context.Context, s *Session, env v1.Envelope) error {
	err := c.route(ctx, s, env)
	c.metrics.event(env.Type, err)
	if err != nil {
		c.log.Info("session.event.reject", "session_id", s.ID(), "type", env.Type, "code", ErrorCode(err), "err", err)
		c.replyError(s, err)
	}
	return err
}

func (c *Controller) route(ctx context.Context, s *Session, env v1.Envelope) error {
	if env.Type == v1.TypeIdentify {
		return c.identify(ctx, s, env)
	}

	switch s.State() {
	case StateConnecting:
		return errors.Wrapf(ErrNotIdentified, "%s", env.Type)
	case StateClosed:
		return ErrSessionClosed
	}

	switch env.Type {
	case v1.TypeRoomJoin:
		return c.joinRoom(s, env)
	case v1.TypeRoomLeave:
		return c.leaveRoom(s, env)
	case v1.TypeMessageSend:
		return c.sendMessage(s, env)
	case v1.TypeTypingSet:
		return c.setTyping(s, env)
	case v1.TypeOnlineUsersRequest:
		c.sendSnapshot(s)
		return nil
	case v1.TypeFriendRequestSend:
		return c.sendFriendRequest(s, env)
	case v1.TypeFriendRequestAccept:
		return c.acceptFriendRequest(s, env)
	default:
		return errors.Wrapf(ErrUnsupported, "%s", env.Type)
	}
}

// ---- identify ----

func (c *Controller) identify(ctx context.Context, s *Session, env v1.Envelope) error {
	var p v1.IdentifyPayload
	if err := decodePayload(env, &p); err != nil {
		return errors.Wrapf(ErrBadIdentity, "%v", err)
	}

	claim := identityClaim{UserID: p.UserID, FirstName: p.FirstName, LastName: p.LastName, AvatarURL: p.AvatarURL}
	if err := c.validate.Struct(claim); err != nil {
		return errors.Wrapf(ErrBadIdentity, "%v", err)
	}
	meta := DisplayMeta{FirstName: claim.FirstName, LastName: claim.LastName, AvatarURL: claim.AvatarURL}

	s.mu.Lock()
	switch {
	case s.state == StateClosed:
		s.mu.Unlock()
		return ErrSessionClosed
	case s.state == StateActive && s.userID != claim.UserID:
		s.mu.Unlock()
		return errors.Wrapf(ErrIdentityConflict, "session is %s", s.userID)
	}
	first := s.state == StateConnecting

	now := c.now()
	c.transitionMu.Lock()
	newlyOnline := c.registry.RegisterSession(claim.UserID, s.client, meta, now)
	if newlyOnline {
		c.announceOnline(claim.UserID, now)
	}
	c.transitionMu.Unlock()

	s.state = StateActive
	s.userID = claim.UserID
	s.mu.Unlock()

	c.log.Info("session.identify", "session_id", s.ID(), "user_id", claim.UserID, "newly_online", newlyOnline, "first", first)

	c.sendSnapshot(s)

	if first {
		c.autoJoin(ctx, s, claim.UserID)
	}
	return nil
}

func (c *Controller) announceOnline(userID string, now time.Time) {
	c.presence.MarkOnline(userID, now)
	c.metrics.transition(StatusOnline)

	u, _ := c.registry.User(userID)
	c.dispatch(ToAll(), v1.TypeUserOnline, v1.UserOnlinePayload{
		UserID:    userID,
		FirstName: u.Meta.FirstName,
		LastName:  u.Meta.LastName,
		AvatarURL: u.Meta.AvatarURL,
	})
}

func (c *Controller) autoJoin(ctx context.Context, s *Session, userID string) {
	rooms := c.lookupMemberships(ctx, userID)

	joined := 0
	for _, roomID := range rooms {
		ok, err := c.join(s, roomID)
		if err != nil {
			// Session closed while the lookup was in flight.
			return
		}
		if ok {
			joined++
		}
	}
	c.log.Debug("session.autojoin", "session_id", s.ID(), "user_id", userID, "rooms", len(rooms), "joined", joined)
}

// lookupMemberships asks the store for userID's conversations.
// One retry is attempted within the lookup timeout; any failure yields no rooms.
func (c *Controller) lookupMemberships(ctx context.Context, userID string) []string {
	if c.members == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, c.lookupTimeout)
	defer cancel()

	ctx, span := tracer.Start(ctx, "membership.lookup", trace.WithAttributes(attribute.String("user_id", userID)))
	defer span.End()

	var rooms []string
	op := func() error {
		var err error
		rooms, err = c.members.ConversationsForUser(ctx, userID)
		return err
	}
	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewConstantBackOff(lookupRetryDelay), 1), ctx)

	start := time.Now()
	err := backoff.Retry(op, policy)
	took := time.Since(start)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "membership lookup failed")
		c.log.Warn("membership.lookup.fail", "user_id", userID, "took_ms", took.Milliseconds(), "err", err)
		c.metrics.storeOp(opMembershipLookup, "error", took)
		return nil
	}

	c.metrics.storeOp(opMembershipLookup, "ok", took)
	rooms = lo.Uniq(lo.Compact(rooms))
	span.SetAttributes(attribute.Int("rooms", len(rooms)))
	return rooms
}

// ---- active events ----

// join subscribes s to roomID unless the session has been closed meanwhile.
func (c *Controller) join(s *Session, roomID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateActive {
		return false, ErrSessionClosed
	}
	return c.rooms.Join(roomID, s.ID()), nil
}

func (c *Controller) joinRoom(s *Session, env v1.Envelope) error {
	var p v1.RoomPayload
	if err := decodePayload(env, &p); err != nil {
		return err
	}
	if p.RoomID == "" {
		return ErrMissingRoom
	}

	_, err := c.join(s, p.RoomID)
	return err
}

func (c *Controller) leaveRoom(s *Session, env v1.Envelope) error {
	var p v1.RoomPayload
	if err := decodePayload(env, &p); err != nil {
		return err
	}
	if p.RoomID == "" {
		return ErrMissingRoom
	}

	c.rooms.Leave(p.RoomID, s.ID())
	return nil
}

// sendMessage relays an already persisted message to every member of its room,
// the sender's own sessions included. The payload is forwarded verbatim.
func (c *Controller) sendMessage(s *Session, env v1.Envelope) error {
	roomID, err := v1.MessageRoomID(env.Payload)
	switch {
	case errors.Is(err, v1.ErrMissingRoomID):
		return ErrMissingRoom
	case err != nil:
		return errors.Wrapf(ErrBadPayload, "message_send: %v", err)
	}

	out, err := newRawEnvelope(v1.TypeMessageReceived, env.Payload, c.now())
	if err != nil {
		return err
	}
	res := c.broadcaster.Dispatch(ToRoom(roomID), out)
	c.log.Debug("message.relay", "session_id", s.ID(), "room_id", roomID, "delivered", res.Delivered)
	return nil
}

func (c *Controller) setTyping(s *Session, env v1.Envelope) error {
	var p v1.TypingSetPayload
	if err := decodePayload(env, &p); err != nil {
		return err
	}
	if p.RoomID == "" {
		return ErrMissingRoom
	}

	c.dispatch(ToRoom(p.RoomID).Except(s.ID()), v1.TypeTypingChanged, v1.TypingChangedPayload{
		RoomID:   p.RoomID,
		UserID:   s.UserID(),
		IsTyping: p.IsTyping,
	})
	return nil
}

func (c *Controller) sendFriendRequest(s *Session, env v1.Envelope) error {
	var p v1.FriendRequestSendPayload
	if err := decodePayload(env, &p); err != nil {
		return err
	}
	if p.ReceiverID == "" {
		return ErrMissingTarget
	}

	c.dispatch(ToUser(p.ReceiverID), v1.TypeFriendRequestReceived, v1.FriendRequestReceivedPayload{
		RequestID: p.RequestID,
		SenderID:  s.UserID(),
		Sender:    p.Sender,
	})
	return nil
}

// acceptFriendRequest tells the original sender, and the acceptor's other sessions,
// that the friendship now exists.
func (c *Controller) acceptFriendRequest(s *Session, env v1.Envelope) error {
	var p v1.FriendRequestAcceptPayload
	if err := decodePayload(env, &p); err != nil {
		return err
	}
	if p.FriendID == "" {
		return ErrMissingTarget
	}

	userID := s.UserID()
	c.dispatch(ToUser(p.FriendID), v1.TypeFriendshipCreated, v1.FriendshipCreatedPayload{
		RequestID: p.RequestID,
		FriendID:  userID,
	})
	c.dispatch(ToUser(userID).Except(s.ID()), v1.TypeFriendshipCreated, v1.FriendshipCreatedPayload{
		RequestID: p.RequestID,
		FriendID:  p.FriendID,
	})
	return nil
}

// ---- disconnect ----

// Close tears the session down. It is idempotent and safe after an abrupt transport loss.
func (c *Controller) Close(s *Session) {
	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return
	}
	prev := s.state
	s.state = StateClosed
	s.mu.Unlock()

	s.client.Close()

	left := c.rooms.RemoveSessionFromAll(s.ID())

	now := c.now()
	c.transitionMu.Lock()
	userID, nowOffline := c.registry.RemoveSession(s.ID())
	if nowOffline {
		c.presence.MarkOffline(userID, now)
		c.metrics.transition(StatusOffline)
		c.dispatch(ToAll(), v1.TypeUserOffline, v1.UserOfflinePayload{UserID: userID, LastSeen: now})
	}
	c.transitionMu.Unlock()

	c.log.Info("session.close", "session_id", s.ID(), "user_id", userID, "from", prev.String(), "rooms_left", len(left), "now_offline", nowOffline)
}

// ---- outbound helpers ----

func (c *Controller) sendSnapshot(s *Session) {
	users := c.registry.ListOnlineUsers()
	rows := lo.Map(users, func(u OnlineUser, _ int) v1.OnlineUser {
		return v1.OnlineUser{
			UserID:    u.UserID,
			FirstName: u.Meta.FirstName,
			LastName:  u.Meta.LastName,
			AvatarURL: u.Meta.AvatarURL,
			LastSeen:  u.LastSeen,
		}
	})
	c.reply(s, v1.TypeOnlineUsersSnapshot, v1.OnlineUsersSnapshotPayload{Users: rows})
}

func (c *Controller) reply(s *Session, typ string, payload any) {
	env, err := newEnvelope(typ, payload, c.now())
	if err != nil {
		c.log.Error("session.reply.encode.fail", "session_id", s.ID(), "type", typ, "err", err)
		return
	}
	if !s.client.Deliver(env) {
		c.log.Warn("session.reply.drop", "session_id", s.ID(), "type", typ)
	}
}

func (c *Controller) replyError(s *Session, err error) {
	env, encErr := newErrorEnvelope(err, c.now())
	if encErr != nil {
		c.log.Error("session.reply.encode.fail", "session_id", s.ID(), "type", v1.TypeError, "err", encErr)
		return
	}
	_ = s.client.Deliver(env)
}

func (c *Controller) dispatch(t Target, typ string, payload any) {
	env, err := newEnvelope(typ, payload, c.now())
	if err != nil {
		c.log.Error("broadcast.encode.fail", "type", typ, "err", err)
		return
	}
	c.broadcaster.Dispatch(t, env)
}
