package counters

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/solatis/ideafilter/internal/core/db"
)

// SQLStore keeps counters in the counters table of a SQLite or PostgreSQL
// database.
type SQLStore struct {
	queries *db.Queries
	now     func() time.Time
}

type counterRow struct {
	Key   string `db:"counter_key"`
	Value int64  `db:"value"`
}

// NewSQLStore runs counter statements through queries. The schema must
// already be migrated.
func NewSQLStore(queries *db.Queries) *SQLStore {
	return &SQLStore{queries: queries, now: time.Now}
}

// OpenSQLStore opens dbURL, applies pending migrations and loads the counter
// statements.
func OpenSQLStore(ctx context.Context, dbURL string) (*SQLStore, error) {
	conn, err := db.Open(ctx, dbURL)
	if err != nil {
		return nil, err
	}
	if err := db.MigrateUp(ctx, conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to migrate counter schema: %w", err)
	}
	queries, err := db.LoadQueries(conn)
	if err != nil {
		conn.Close()
		return nil, err
	}
	return NewSQLStore(queries), nil
}

func (s *SQLStore) Incr(ctx context.Context, key string, n int64) error {
	_, err := s.queries.Exec(ctx, "incr-counter", key, n, s.now().UTC().Format(time.RFC3339))
	return err
}

func (s *SQLStore) DeletePrefix(ctx context.Context, prefix string) error {
	_, err := s.queries.Exec(ctx, "delete-counters-by-prefix", likePrefix(prefix))
	return err
}

func (s *SQLStore) List(ctx context.Context, prefix string) (map[string]int64, error) {
	var rows []counterRow
	if err := s.queries.Select(ctx, "list-counters-by-prefix", &rows, likePrefix(prefix)); err != nil {
		return nil, err
	}
	out := make(map[string]int64, len(rows))
	for _, row := range rows {
		out[row.Key] = row.Value
	}
	return out, nil
}

// Get returns the value of a single counter, zero when it does not exist.
func (s *SQLStore) Get(ctx context.Context, key string) (int64, error) {
	var value int64
	err := s.queries.Get(ctx, "get-counter", &value, key)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	return value, err
}

func (s *SQLStore) Close() error {
	return s.queries.DB().Close()
}

// likePrefix turns prefix into a LIKE pattern using backslash escapes.
func likePrefix(prefix string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(prefix) + "%"
}
