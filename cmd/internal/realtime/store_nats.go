package realtime

import (
	"context"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/cockroachdb/errors"
	"github.com/nats-io/nats.go"
)

const (
	natsRoomsBucket    = "ROOMS"
	natsPresenceBucket = "PRESENCE"

	natsConnectMaxElapsed = 60 * time.Second
)

// natsTokenRE matches ids usable as one token of a KV key.
var natsTokenRE = regexp.MustCompile(`^[-_=a-zA-Z0-9]+$`)

// NATSStore is a Store backed by JetStream key-value buckets.
//
// Buckets:
//   - ROOMS:    "{room}.{user}" -> membership marker (shared with room services)
//   - PRESENCE: "{user}"        -> JSON PresenceRecord
//
// User and room ids must be single KV tokens (no dots or wildcards).
type NATSStore struct {
	log      *slog.Logger
	nc       *nats.Conn
	rooms    nats.KeyValue
	presence nats.KeyValue
	owned    bool
}

// DialNATSStore connects to url, retrying with exponential backoff until ctx is done or
// a minute has elapsed, and binds the KV buckets. The connection is owned by the store.
func DialNATSStore(ctx context.Context, log *slog.Logger, url string) (*NATSStore, error) {
	if log == nil {
		log = slog.Default()
	}

	var nc *nats.Conn
	connect := func() error {
		var err error
		nc, err = nats.Connect(url,
			nats.Name("newchat-relay"),
			nats.MaxReconnects(-1),
			nats.ReconnectWait(2*time.Second),
			nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
				log.Warn("nats.disconnected", "err", err)
			}),
			nats.ReconnectHandler(func(c *nats.Conn) {
				log.Info("nats.reconnected", "url", c.ConnectedUrl())
			}),
		)
		return err
	}

	policy := backoff.NewExponentialBackOff()
	policy.MaxElapsedTime = natsConnectMaxElapsed

	err := backoff.RetryNotify(connect, backoff.WithContext(policy, ctx), func(err error, wait time.Duration) {
		log.Info("nats.connect.retry", "url", url, "wait", wait.String(), "err", err)
	})
	if err != nil {
		return nil, errors.Wrapf(err, "realtime: connect nats %s", url)
	}

	st, err := NewNATSStore(log, nc)
	if err != nil {
		nc.Close()
		return nil, err
	}
	st.owned = true
	return st, nil
}

// NewNATSStore binds the KV buckets on a caller-owned connection, creating them if needed.
func NewNATSStore(log *slog.Logger, nc *nats.Conn) (*NATSStore, error) {
	if log == nil {
		log = slog.Default()
	}
	if nc == nil {
		return nil, errors.New("realtime: nil nats conn")
	}

	js, err := nc.JetStream()
	if err != nil {
		return nil, errors.Wrap(err, "realtime: jetstream")
	}

	rooms, err := js.CreateKeyValue(&nats.KeyValueConfig{
		Bucket:  natsRoomsBucket,
		History: 1,
		Storage: nats.FileStorage,
	})
	if err != nil {
		return nil, errors.Wrapf(err, "realtime: kv bucket %s", natsRoomsBucket)
	}

	presence, err := js.CreateKeyValue(&nats.KeyValueConfig{
		Bucket:  natsPresenceBucket,
		History: 1,
		Storage: nats.FileStorage,
	})
	if err != nil {
		return nil, errors.Wrapf(err, "realtime: kv bucket %s", natsPresenceBucket)
	}

	return &NATSStore{log: log, nc: nc, rooms: rooms, presence: presence}, nil
}

// Close drains the connection when the store opened it.
func (s *NATSStore) Close() error {
	if s == nil || s.nc == nil || !s.owned {
		return nil
	}
	return s.nc.Drain()
}

// Ping round-trips to the server.
func (s *NATSStore) Ping(ctx context.Context) error {
	if s == nil || s.nc == nil {
		return errors.New("realtime: nil store")
	}
	return s.nc.FlushWithContext(ctx)
}

// AddMember records userID as a member of roomID.
func (s *NATSStore) AddMember(userID, roomID string) error {
	if !natsTokenRE.MatchString(userID) || !natsTokenRE.MatchString(roomID) {
		return errors.Newf("realtime: invalid kv token in %q/%q", roomID, userID)
	}
	_, err := s.rooms.Put(roomID+"."+userID, []byte("1"))
	return err
}

// ConversationsForUser scans ROOMS for keys ending in ".{userID}".
func (s *NATSStore) ConversationsForUser(ctx context.Context, userID string) ([]string, error) {
	if !natsTokenRE.MatchString(userID) {
		return nil, nil
	}

	w, err := s.rooms.Watch("*."+userID, nats.IgnoreDeletes(), nats.Context(ctx))
	if err != nil {
		return nil, errors.Wrap(err, "realtime: watch rooms")
	}
	defer func() { _ = w.Stop() }()

	var rooms []string
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case entry, ok := <-w.Updates():
			if !ok {
				return rooms, nil
			}
			if entry == nil {
				// End of initial values.
				return rooms, nil
			}
			key := entry.Key()
			if i := strings.LastIndex(key, "."); i > 0 {
				rooms = append(rooms, key[:i])
			}
		}
	}
}

// SetUserPresence stores the latest presence state for userID.
func (s *NATSStore) SetUserPresence(ctx context.Context, userID string, status PresenceStatus, lastSeenAt time.Time) error {
	if !natsTokenRE.MatchString(userID) {
		return errors.Newf("realtime: invalid kv token %q", userID)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	val, err := codec.Marshal(PresenceRecord{Status: status, LastSeen: lastSeenAt.UTC()})
	if err != nil {
		return errors.Wrap(err, "realtime: encode presence")
	}
	if _, err := s.presence.Put(userID, val); err != nil {
		return errors.Wrap(err, "realtime: put presence")
	}
	return nil
}

// Presence returns the stored presence state of userID.
func (s *NATSStore) Presence(userID string) (PresenceRecord, bool, error) {
	entry, err := s.presence.Get(userID)
	if errors.Is(err, nats.ErrKeyNotFound) {
		return PresenceRecord{}, false, nil
	}
	if err != nil {
		return PresenceRecord{}, false, errors.Wrap(err, "realtime: get presence")
	}

	var rec PresenceRecord
	if err := codec.Unmarshal(entry.Value(), &rec); err != nil {
		return PresenceRecord{}, false, errors.Wrap(err, "realtime: decode presence")
	}
	return rec, true, nil
}
