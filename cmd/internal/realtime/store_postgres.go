// Package realtime contains the newChat relay: session registry, room membership,
// fan-out, presence synchronization and the WebSocket gateway.
package realtime

import (
	"context"
	"regexp"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore is a Store backed by the application's PostgreSQL database.
//
// Ownership model:
// - PostgresStore does NOT own the pgx pool. The caller must close the pool.
// - Close() is therefore a no-op.
//
// Schema (owned by the application, only read/updated here):
// - users(id, clerk_id, last_seen): presence is keyed by clerk_id, the identity clients claim
// - conversation_members(conversation_id, user_id): user_id references users.id
type PostgresStore struct {
	pool   *pgxpool.Pool
	schema string
}

// PostgresOption configures PostgresStore behavior.
type PostgresOption func(*PostgresStore) error

// WithSchema sets the DB schema used by this store (default: "public").
// The schema name is validated and safely quoted in queries.
func WithSchema(schema string) PostgresOption {
	return func(s *PostgresStore) error {
		schema = strings.TrimSpace(schema)
		if schema == "" {
			return errors.New("realtime: empty schema")
		}
		if !isValidPGIdent(schema) {
			return errors.New("realtime: invalid schema identifier")
		}
		s.schema = schema
		return nil
	}
}

// NewPostgresStore constructs a Postgres-backed Store.
func NewPostgresStore(pool *pgxpool.Pool, opts ...PostgresOption) (*PostgresStore, error) {
	st := &PostgresStore{
		pool:   pool,
		schema: "public",
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(st); err != nil {
			return nil, err
		}
	}
	if st.pool == nil {
		return nil, errors.New("realtime: nil pool")
	}
	return st, nil
}

// Close is a no-op because the pool is owned by the caller.
func (s *PostgresStore) Close() error { return nil }

// Ping reports whether the database is reachable.
func (s *PostgresStore) Ping(ctx context.Context) error {
	if s == nil || s.pool == nil {
		return errors.New("realtime: nil store")
	}
	return s.pool.Ping(ctx)
}

// ConversationsForUser returns the conversations the user identified by clerkID belongs to.
func (s *PostgresStore) ConversationsForUser(ctx context.Context, clerkID string) ([]string, error) {
	if s == nil || s.pool == nil {
		return nil, errors.New("realtime: nil store")
	}
	clerkID = strings.TrimSpace(clerkID)
	if clerkID == "" {
		return nil, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	members := pgIdent(s.schema, "conversation_members")
	users := pgIdent(s.schema, "users")

	rows, err := s.pool.Query(ctx,
		`SELECT DISTINCT cm.conversation_id::text
		   FROM `+members+` cm
		   JOIN `+users+` u ON u.id = cm.user_id
		  WHERE u.clerk_id = $1`,
		clerkID,
	)
	if err != nil {
		return nil, errors.Wrap(err, "realtime: query memberships")
	}

	out, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, errors.Wrap(err, "realtime: scan memberships")
	}
	return out, nil
}

// SetUserPresence records the user's last-seen time.
//
// The users table carries no status column; both transitions refresh last_seen, and
// the offline write is the one that sticks. Unknown users are ignored.
func (s *PostgresStore) SetUserPresence(ctx context.Context, clerkID string, status PresenceStatus, lastSeenAt time.Time) error {
	if s == nil || s.pool == nil {
		return errors.New("realtime: nil store")
	}
	clerkID = strings.TrimSpace(clerkID)
	if clerkID == "" {
		return errors.New("realtime: missing user id")
	}
	if status != StatusOnline && status != StatusOffline {
		return errors.Newf("realtime: invalid presence status %q", status)
	}
	if lastSeenAt.IsZero() {
		lastSeenAt = time.Now().UTC()
	}

	users := pgIdent(s.schema, "users")

	if _, err := s.pool.Exec(ctx,
		`UPDATE `+users+` SET last_seen = $2 WHERE clerk_id = $1`,
		clerkID, lastSeenAt,
	); err != nil {
		return errors.Wrapf(err, "realtime: update presence (%s)", status)
	}
	return nil
}

var pgIdentRE = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

func isValidPGIdent(s string) bool {
	return pgIdentRE.MatchString(s)
}

func pgIdent(schema, table string) string {
	// pgx.Identifier safely quotes identifiers, preventing SQL injection.
	return pgx.Identifier{schema, table}.Sanitize()
}
