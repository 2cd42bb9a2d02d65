package realtime

import (
	"bytes"
	"context"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/dgraph-io/badger/v4"
)

const (
	badgerMemberPrefix   = "member/"
	badgerPresencePrefix = "presence/"
)

// BadgerStore is an embedded Store for single-node deployments.
//
// Key layout:
//   - member/<user>/<room> -> empty value, one key per membership
//   - presence/<user>      -> JSON PresenceRecord
type BadgerStore struct {
	db    *badger.DB
	owned bool
}

// OpenBadgerStore opens (or creates) a Badger database at path.
// An empty path opens an in-memory database.
func OpenBadgerStore(path string) (*BadgerStore, error) {
	opts := badger.DefaultOptions(path).WithLoggingLevel(badger.ERROR)
	if strings.TrimSpace(path) == "" {
		opts = opts.WithInMemory(true)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, errors.Wrapf(err, "realtime: open badger %q", path)
	}
	return &BadgerStore{db: db, owned: true}, nil
}

// NewBadgerStore wraps a caller-owned database. Close leaves db open.
func NewBadgerStore(db *badger.DB) (*BadgerStore, error) {
	if db == nil {
		return nil, errors.New("realtime: nil badger db")
	}
	return &BadgerStore{db: db}, nil
}

// Close closes the database when the store opened it.
func (s *BadgerStore) Close() error {
	if s == nil || s.db == nil || !s.owned {
		return nil
	}
	return s.db.Close()
}

// Ping reports whether the database is still open.
func (s *BadgerStore) Ping(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.db == nil || s.db.IsClosed() {
		return errors.New("realtime: badger closed")
	}
	return nil
}

// AddMember records userID as a member of roomID.
func (s *BadgerStore) AddMember(userID, roomID string) error {
	if userID == "" || roomID == "" {
		return errors.New("realtime: empty member key")
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(memberKey(userID, roomID), nil)
	})
}

// RemoveMember deletes the membership of userID in roomID.
func (s *BadgerStore) RemoveMember(userID, roomID string) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(memberKey(userID, roomID))
	})
}

// ConversationsForUser returns every room recorded for userID.
func (s *BadgerStore) ConversationsForUser(ctx context.Context, userID string) ([]string, error) {
	if userID == "" {
		return nil, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	prefix := []byte(badgerMemberPrefix + userID + "/")
	var rooms []string

	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = prefix

		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			room := bytes.TrimPrefix(it.Item().Key(), prefix)
			rooms = append(rooms, string(room))
		}
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "realtime: badger memberships")
	}
	return rooms, nil
}

// SetUserPresence stores the latest presence state for userID.
func (s *BadgerStore) SetUserPresence(ctx context.Context, userID string, status PresenceStatus, lastSeenAt time.Time) error {
	if userID == "" {
		return errors.New("realtime: missing user id")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	val, err := codec.Marshal(PresenceRecord{Status: status, LastSeen: lastSeenAt.UTC()})
	if err != nil {
		return errors.Wrap(err, "realtime: encode presence")
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(badgerPresencePrefix+userID), val)
	})
}

// Presence returns the stored presence state of userID.
func (s *BadgerStore) Presence(userID string) (PresenceRecord, bool, error) {
	var rec PresenceRecord

	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(badgerPresencePrefix + userID))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return codec.Unmarshal(val, &rec)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return PresenceRecord{}, false, nil
	}
	if err != nil {
		return PresenceRecord{}, false, errors.Wrap(err, "realtime: badger presence")
	}
	return rec, true, nil
}

func memberKey(userID, roomID string) []byte {
	return []byte(badgerMemberPrefix + userID + "/" + roomID)
}
