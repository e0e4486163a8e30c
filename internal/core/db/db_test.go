package db

import (
	"context"
	"path/filepath"
	"testing"
)

func openTestDB(t *testing.T) *Queries {
	t.Helper()
	ctx := context.Background()
	conn, err := Open(ctx, "sqlite://"+filepath.Join(t.TempDir(), "counters.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := MigrateUp(ctx, conn); err != nil {
		t.Fatalf("MigrateUp: %v", err)
	}
	q, err := LoadQueries(conn)
	if err != nil {
		t.Fatalf("LoadQueries: %v", err)
	}
	return q
}

func TestDataSourceFor(t *testing.T) {
	tests := []struct {
		url        string
		wantDriver string
		wantDSN    string
		wantErr    bool
	}{
		{url: "sqlite://counters.db", wantDriver: "sqlite3", wantDSN: "counters.db"},
		{url: "sqlite:///var/lib/ideafilter/c.db", wantDriver: "sqlite3", wantDSN: "/var/lib/ideafilter/c.db"},
		{url: "postgres://u:p@localhost:5432/ideafilter?sslmode=disable", wantDriver: "postgres", wantDSN: "postgres://u:p@localhost:5432/ideafilter?sslmode=disable"},
		{url: "mysql://localhost/db", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.url, func(t *testing.T) {
			driver, dsn, err := dataSourceFor(tt.url)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("dataSourceFor: %v", err)
			}
			if driver != tt.wantDriver || dsn != tt.wantDSN {
				t.Errorf("got (%s, %s), want (%s, %s)", driver, dsn, tt.wantDriver, tt.wantDSN)
			}
		})
	}
}

func TestMigrateUp_Idempotent(t *testing.T) {
	q := openTestDB(t)
	ctx := context.Background()

	if err := MigrateUp(ctx, q.DB()); err != nil {
		t.Fatalf("second MigrateUp: %v", err)
	}

	statuses, err := MigrateStatus(ctx, q.DB())
	if err != nil {
		t.Fatalf("MigrateStatus: %v", err)
	}
	if len(statuses) == 0 {
		t.Fatal("no migrations reported")
	}
	for _, s := range statuses {
		if !s.Applied {
			t.Errorf("migration %s not applied", s.ID)
		}
	}
}

func TestQueries_CounterRoundTrip(t *testing.T) {
	q := openTestDB(t)
	ctx := context.Background()

	for range 3 {
		if _, err := q.Exec(ctx, "incr-counter", "p|m|R1|true|a|mark", 1, "2026-01-01T00:00:00Z"); err != nil {
			t.Fatalf("incr-counter: %v", err)
		}
	}

	var value int64
	if err := q.Get(ctx, "get-counter", &value, "p|m|R1|true|a|mark"); err != nil {
		t.Fatalf("get-counter: %v", err)
	}
	if value != 3 {
		t.Errorf("counter = %d, want 3", value)
	}

	if _, err := q.Exec(ctx, "delete-counters-by-prefix", "p|m|%"); err != nil {
		t.Fatalf("delete-counters-by-prefix: %v", err)
	}
	var keys []string
	if err := q.DB().SelectContext(ctx, &keys, "SELECT counter_key FROM counters"); err != nil {
		t.Fatalf("select: %v", err)
	}
	if len(keys) != 0 {
		t.Errorf("keys after delete = %v", keys)
	}
}

func TestQueries_UnknownName(t *testing.T) {
	q := openTestDB(t)
	if _, err := q.Exec(context.Background(), "no-such-query"); err == nil {
		t.Fatal("expected error for unknown query")
	}
}
