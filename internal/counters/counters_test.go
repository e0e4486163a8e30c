package counters

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/solatis/ideafilter/internal/types"
)

type failingStore struct{ err error }

func (f failingStore) Incr(context.Context, string, int64) error { return f.err }
func (f failingStore) DeletePrefix(context.Context, string) error { return f.err }
func (f failingStore) List(context.Context, string) (map[string]int64, error) { return nil, f.err }
func (f failingStore) Close() error { return nil }

func TestKey(t *testing.T) {
	got := Key("ideafilter", "reporter", "R1", types.VerdictTrue, "drop", "drop")
	assert.Equal(t, "ideafilter|reporter|R1|true|drop|drop", got)

	got = Key("p", "m", "R2", types.VerdictNull, "mail", "email")
	assert.Equal(t, "p|m|R2|null|mail|email", got)
}

func TestCounters_IncrAndSnapshot(t *testing.T) {
	ctx := context.Background()
	c := New(NewMemoryStore(), "", zerolog.Nop())
	assert.Equal(t, DefaultPrefix, c.Prefix())

	c.Incr(ctx, "reporter", "R1", types.VerdictTrue, "m1", "mark")
	c.Incr(ctx, "reporter", "R1", types.VerdictTrue, "m1", "mark")
	c.Incr(ctx, "reporter", "R1", types.VerdictFalse, "f1", "file")
	c.Incr(ctx, "other", "R1", types.VerdictTrue, "m1", "mark")

	snap, err := c.Snapshot(ctx, "reporter")
	require.NoError(t, err)
	assert.Equal(t, map[string]int64{
		"ideafilter|reporter|R1|true|m1|mark":  2,
		"ideafilter|reporter|R1|false|f1|file": 1,
	}, snap)

	all, err := c.Snapshot(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestCounters_ResetOnlyTouchesModule(t *testing.T) {
	ctx := context.Background()
	c := New(NewMemoryStore(), "p", zerolog.Nop())

	c.Incr(ctx, "reporter", "R1", types.VerdictTrue, "a", "mark")
	c.Incr(ctx, "reporter2", "R1", types.VerdictTrue, "a", "mark")

	c.Reset(ctx, "reporter")

	all, err := c.Snapshot(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, map[string]int64{"p|reporter2|R1|true|a|mark": 1}, all)
}

func TestCounters_StoreErrorsAreLogged(t *testing.T) {
	var buf bytes.Buffer
	logger := zerolog.New(&buf)
	c := New(failingStore{err: errors.New("backend down")}, "p", logger)

	assert.NotPanics(t, func() {
		c.Incr(context.Background(), "reporter", "R1", types.VerdictTrue, "a", "mark")
		c.Reset(context.Background(), "reporter")
	})

	out := buf.String()
	assert.Contains(t, out, `"level":"error"`)
	assert.Contains(t, out, "failed to increment counter")
	assert.Contains(t, out, "failed to reset counters")
	assert.Contains(t, out, "backend down")

	_, err := c.Snapshot(context.Background(), "reporter")
	assert.Error(t, err)
}

func TestOpenStore(t *testing.T) {
	store, err := OpenStore(context.Background(), Options{})
	require.NoError(t, err)
	assert.IsType(t, &MemoryStore{}, store)

	_, err = OpenStore(context.Background(), Options{Backend: "etcd"})
	assert.Error(t, err)
}
