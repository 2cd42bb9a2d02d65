package realtime

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Integration tests are enabled when RELAY_DATABASE_URL is set.
// This keeps local "go test ./..." fast & deterministic without requiring Postgres.

func TestPostgresStore_ConversationsForUser_JoinsByClerkID(t *testing.T) {
	t.Parallel()

	pool := mustOpenTestPool(t)
	defer pool.Close()

	schema := mustCreateTestSchema(t, pool)
	t.Cleanup(func() { mustDropSchema(t, pool, schema) })

	mustApplySchema(t, pool, schema)
	store := mustNewStore(t, pool, schema)

	mustInsertUser(t, pool, schema, "u-1", "user_alice")
	mustInsertUser(t, pool, schema, "u-2", "user_bob")
	mustInsertMember(t, pool, schema, "conv-a", "u-1")
	mustInsertMember(t, pool, schema, "conv-b", "u-1")
	mustInsertMember(t, pool, schema, "conv-b", "u-2")
	mustInsertMember(t, pool, schema, "conv-c", "u-2")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	got, err := store.ConversationsForUser(ctx, "user_alice")
	if err != nil {
		t.Fatalf("conversations: %v", err)
	}
	sort.Strings(got)
	if strings.Join(got, ",") != "conv-a,conv-b" {
		t.Fatalf("conversations=%v want=[conv-a conv-b]", got)
	}

	none, err := store.ConversationsForUser(ctx, "user_unknown")
	if err != nil {
		t.Fatalf("conversations unknown: %v", err)
	}
	if len(none) != 0 {
		t.Fatalf("expected no conversations for unknown user, got %v", none)
	}
}

func TestPostgresStore_SetUserPresence_UpdatesLastSeen(t *testing.T) {
	t.Parallel()

	pool := mustOpenTestPool(t)
	defer pool.Close()

	schema := mustCreateTestSchema(t, pool)
	t.Cleanup(func() { mustDropSchema(t, pool, schema) })

	mustApplySchema(t, pool, schema)
	store := mustNewStore(t, pool, schema)
	mustInsertUser(t, pool, schema, "u-1", "user_alice")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	seen := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	if err := store.SetUserPresence(ctx, "user_alice", StatusOffline, seen); err != nil {
		t.Fatalf("set presence: %v", err)
	}

	var got time.Time
	if err := pool.QueryRow(ctx,
		`SELECT last_seen FROM `+pgIdent(schema, "users")+` WHERE clerk_id = $1`, "user_alice",
	).Scan(&got); err != nil {
		t.Fatalf("read last_seen: %v", err)
	}
	if !got.Equal(seen) {
		t.Fatalf("last_seen=%v want=%v", got, seen)
	}

	// Unknown users are ignored rather than failing the write.
	if err := store.SetUserPresence(ctx, "user_ghost", StatusOffline, seen); err != nil {
		t.Fatalf("set presence unknown user: %v", err)
	}

	if err := store.SetUserPresence(ctx, "user_alice", PresenceStatus("away"), seen); err == nil {
		t.Fatalf("expected error for invalid status")
	}
}

func TestPostgresStore_Ping(t *testing.T) {
	t.Parallel()

	pool := mustOpenTestPool(t)
	defer pool.Close()

	store := mustNewStore(t, pool, "public")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := store.Ping(ctx); err != nil {
		t.Fatalf("ping: %v", err)
	}
}

func TestNewPostgresStore_RejectsBadSchema(t *testing.T) {
	t.Parallel()

	if _, err := NewPostgresStore(nil); err == nil {
		t.Fatalf("expected error for nil pool")
	}

	cases := []string{"", "  ", "bad-schema", `x"; DROP TABLE users; --`, "1abc"}
	for _, schema := range cases {
		if _, err := NewPostgresStore(&pgxpool.Pool{}, WithSchema(schema)); err == nil {
			t.Fatalf("expected error for schema %q", schema)
		}
	}
}

// ---- helpers ----

func mustNewStore(t *testing.T, pool *pgxpool.Pool, schema string) *PostgresStore {
	t.Helper()

	st, err := NewPostgresStore(pool, WithSchema(schema))
	if err != nil {
		t.Fatalf("new postgres store: %v", err)
	}
	return st
}

func mustOpenTestPool(t *testing.T) *pgxpool.Pool {
	t.Helper()

	raw := strings.TrimSpace(os.Getenv("RELAY_DATABASE_URL"))
	if raw == "" {
		t.Skip("integration test skipped: RELAY_DATABASE_URL is not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	cfg, err := pgxpool.ParseConfig(raw)
	if err != nil {
		t.Fatalf("parse RELAY_DATABASE_URL: %v", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		t.Fatalf("connect postgres: %v", err)
	}

	pingCtx, pingCancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer pingCancel()

	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		t.Fatalf("ping postgres: %v", err)
	}
	return pool
}

func mustCreateTestSchema(t *testing.T, pool *pgxpool.Pool) string {
	t.Helper()

	id, err := NewSessionID(time.Now())
	if err != nil {
		t.Fatalf("schema id: %v", err)
	}
	schema := "relay_it_" + strings.ToLower(id)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if _, err := pool.Exec(ctx, `CREATE SCHEMA `+pgx.Identifier{schema}.Sanitize()); err != nil {
		t.Fatalf("create schema: %v", err)
	}
	return schema
}

func mustDropSchema(t *testing.T, pool *pgxpool.Pool, schema string) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_, _ = pool.Exec(ctx, `DROP SCHEMA IF EXISTS `+pgx.Identifier{schema}.Sanitize()+` CASCADE`)
}

func mustApplySchema(t *testing.T, pool *pgxpool.Pool, schema string) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 12*time.Second)
	defer cancel()

	users := pgIdent(schema, "users")
	members := pgIdent(schema, "conversation_members")

	// Minimal subset of the application schema read by PostgresStore.
	schemaSQL := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
  id        TEXT PRIMARY KEY,
  clerk_id  TEXT NOT NULL UNIQUE,
  last_seen TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS %s (
  conversation_id TEXT NOT NULL,
  user_id         TEXT NOT NULL REFERENCES %s(id) ON DELETE CASCADE,
  PRIMARY KEY (conversation_id, user_id)
);
`, users, members, users)

	if _, err := pool.Exec(ctx, schemaSQL); err != nil {
		t.Fatalf("apply schema: %v", err)
	}
}

func mustInsertUser(t *testing.T, pool *pgxpool.Pool, schema, id, clerkID string) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, err := pool.Exec(ctx,
		`INSERT INTO `+pgIdent(schema, "users")+` (id, clerk_id) VALUES ($1, $2)`, id, clerkID,
	); err != nil {
		t.Fatalf("insert user: %v", err)
	}
}

func mustInsertMember(t *testing.T, pool *pgxpool.Pool, schema, conversationID, userID string) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, err := pool.Exec(ctx,
		`INSERT INTO `+pgIdent(schema, "conversation_members")+` (conversation_id, user_id) VALUES ($1, $2)`,
		conversationID, userID,
	); err != nil {
		t.Fatalf("insert member: %v", err)
	}
}
