package identity

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"tracker/migrations"
)

// Integration tests are enabled when TRACKER_DATABASE_URL is set.

func TestPostgresStore_FindByUsername(t *testing.T) {
	ctx := context.Background()
	dbURL := os.Getenv("TRACKER_DATABASE_URL")
	if dbURL == "" {
		t.Skip("TRACKER_DATABASE_URL is not set; skipping Postgres integration test")
	}

	pool, err := pgxpool.New(ctx, dbURL)
	if err != nil {
		t.Fatalf("pgxpool.New: %v", err)
	}
	t.Cleanup(pool.Close)
	if err := migrations.Apply(ctx, pool); err != nil {
		t.Fatalf("migrations.Apply: %v", err)
	}

	store, err := NewPostgresStore(pool)
	if err != nil {
		t.Fatalf("NewPostgresStore: %v", err)
	}

	name := "it_user_" + time.Now().Format("150405.000000")
	var id int64
	if err := pool.QueryRow(ctx, `INSERT INTO users (username, password_hash) VALUES ($1, 'h') RETURNING id`, name).Scan(&id); err != nil {
		t.Fatalf("insert user: %v", err)
	}
	t.Cleanup(func() { _, _ = pool.Exec(ctx, `DELETE FROM users WHERE id = $1`, id) })

	u, err := store.FindByUsername(ctx, "IT_USER_"+name[len("it_user_"):])
	if err != nil {
		t.Fatalf("FindByUsername: %v", err)
	}
	if u.ID != id || !u.Active {
		t.Fatalf("unexpected user: %+v", u)
	}

	if err := store.UpdatePasswordHash(ctx, id, "$argon2id$new"); err != nil {
		t.Fatalf("UpdatePasswordHash: %v", err)
	}
	if _, err := store.FindByUsername(ctx, "missing-"+name); !IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}
	if _, err := NewPostgresStore(pool, WithSchema("bad schema")); err == nil {
		t.Fatalf("expected invalid schema error")
	}
}
