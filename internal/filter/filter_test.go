package filter

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/syslog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/solatis/ideafilter/internal/actions"
	"github.com/solatis/ideafilter/internal/counters"
	"github.com/solatis/ideafilter/internal/rules"
	"github.com/solatis/ideafilter/internal/types"
)

const sampleIdea = `{
	"Format": "IDEA0",
	"ID": "e214d2d9-359b-443d-993d-3cc5637107a0",
	"Category": ["Attempt.Login"],
	"ConnCount": 2,
	"Source": [{"IP4": ["188.14.166.39"]}],
	"Node": [{"Name": "cz.example.collector"}]
}`

func mustRecord(t *testing.T, src string) types.Record {
	t.Helper()
	r, err := rules.DecodeRecord([]byte(src))
	require.NoError(t, err)
	return r
}

type testHarness struct {
	filter   *Filter
	counters *counters.Counters
	stdout   *bytes.Buffer
}

func newHarness(t *testing.T, doc string) *testHarness {
	t.Helper()
	parsed, err := ParseDocument([]byte(doc))
	require.NoError(t, err)

	h := &testHarness{
		counters: counters.New(counters.NewMemoryStore(), "ideafilter", zerolog.Nop()),
		stdout:   &bytes.Buffer{},
	}
	h.filter, err = NewFromDocument(context.Background(), parsed, Options{
		Env:      actions.Env{Stdout: h.stdout},
		Counters: h.counters,
		Logger:   zerolog.Nop(),
	})
	require.NoError(t, err)
	t.Cleanup(func() { h.filter.Close() })
	return h
}

func (h *testHarness) snapshot(t *testing.T) map[string]int64 {
	t.Helper()
	snap, err := h.counters.Snapshot(context.Background(), "")
	require.NoError(t, err)
	return snap
}

func (h *testHarness) lines() []string {
	out := strings.TrimSpace(h.stdout.String())
	if out == "" {
		return nil
	}
	return strings.Split(out, "\n")
}

func TestProcess_DropStopsRuleIteration(t *testing.T) {
	h := newHarness(t, `
custom_actions:
  - id: tag
    mark: {path: Test, value: 1}
  - id: out
    file: {path: "-"}
rules:
  - id: R1
    condition: Category in ["Phishing", "Attempt.Login"]
    actions: [drop]
  - id: R2
    condition: ""
    actions: [tag, out]
`)

	stats := h.filter.Process(context.Background(), mustRecord(t, sampleIdea))
	assert.True(t, stats.Dropped)
	assert.Equal(t, 1, stats.Evaluated)
	assert.Equal(t, 1, stats.Matched)
	assert.Empty(t, h.lines())
	assert.Equal(t, map[string]int64{
		"ideafilter|reporter|R1|true|drop|drop": 1,
	}, h.snapshot(t))
}

func TestProcess_DeepCopyIsolatesRules(t *testing.T) {
	h := newHarness(t, `
custom_actions:
  - id: tag
    mark: {path: Test, value: 1}
  - id: out
    file: {path: "-"}
rules:
  - id: R1
    condition: ConnCount == 2
    actions: [tag, out]
  - id: R2
    condition: exists Test
    actions: [out]
    elseactions: [out]
`)

	rec := mustRecord(t, sampleIdea)
	stats := h.filter.Process(context.Background(), rec)
	assert.Equal(t, 2, stats.Evaluated)
	assert.Equal(t, 1, stats.Matched)
	assert.Equal(t, 3, stats.Actions)
	assert.NotContains(t, rec, "Test")

	lines := h.lines()
	require.Len(t, lines, 2)
	var first, second map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &first))
	require.NoError(t, json.Unmarshal([]byte(lines[1]), &second))
	assert.Equal(t, float64(1), first["Test"])
	assert.NotContains(t, second, "Test")

	assert.Equal(t, map[string]int64{
		"ideafilter|reporter|R1|true|tag|mark":  1,
		"ideafilter|reporter|R1|true|out|file":  1,
		"ideafilter|reporter|R2|false|out|file": 1,
	}, h.snapshot(t))
}

func TestProcess_NullVerdictFiresNeitherBranch(t *testing.T) {
	h := newHarness(t, `
custom_actions:
  - id: out
    file: {path: "-"}
rules:
  - id: R1
    condition: ConnCount > NonExistent
    actions: [out]
    elseactions: [out]
`)

	stats := h.filter.Process(context.Background(), mustRecord(t, sampleIdea))
	assert.Equal(t, 1, stats.Evaluated)
	assert.Zero(t, stats.Matched)
	assert.Zero(t, stats.Actions)
	assert.Empty(t, h.lines())
	assert.Empty(t, h.snapshot(t))
}

func TestProcess_ShapeMismatchIsNull(t *testing.T) {
	h := newHarness(t, `
custom_actions:
  - id: out
    file: {path: "-"}
rules:
  - id: R1
    condition: "[1, 2, 3] + [1, 2] > 0"
    actions: [out]
    elseactions: [out]
`)
	stats := h.filter.Process(context.Background(), mustRecord(t, sampleIdea))
	assert.Zero(t, stats.Actions)
}

func TestProcess_TautologiesAndFalse(t *testing.T) {
	h := newHarness(t, `
custom_actions:
  - id: out
    file: {path: "-"}
rules:
  - id: always
    actions: [out]
  - id: upper
    condition: "NULL"
    actions: [out]
  - id: never
    condition: "false"
    actions: [drop]
    elseactions: [out]
`)
	stats := h.filter.Process(context.Background(), mustRecord(t, `{}`))
	assert.Equal(t, 2, stats.Matched)
	assert.False(t, stats.Dropped)
	assert.Len(t, h.lines(), 3)
}

func TestProcess_ActionFailureContinues(t *testing.T) {
	h := newHarness(t, `
custom_actions:
  - id: broken
    mark: {path: Format.Version, value: 2}
  - id: out
    file: {path: "-"}
rules:
  - id: R1
    actions: [broken, out]
`)
	stats := h.filter.Process(context.Background(), mustRecord(t, sampleIdea))
	assert.Equal(t, 1, stats.Failures)
	assert.Equal(t, 2, stats.Actions)
	assert.Len(t, h.lines(), 1)
}

func TestProcess_AddressGroups(t *testing.T) {
	dir := t.TempDir()
	groupFile := filepath.Join(dir, "internal.txt")
	require.NoError(t, os.WriteFile(groupFile, []byte("# internal ranges\n10.0.0.0/8\n188.14.0.0/16 partner\n"), 0o644))

	docPath := filepath.Join(dir, "filter.yaml")
	require.NoError(t, os.WriteFile(docPath, []byte(`
addressgroups:
  - id: internal
    file: internal.txt
  - id: blocked
    list: ["192.0.2.0/24", "2001:db8::/32"]
custom_actions:
  - id: out
    file: {path: "-"}
rules:
  - id: partner
    condition: Source.IP4 in internal
    actions: [out]
  - id: blocked
    condition: Source.IP4 in blocked
    actions: [out]
`), 0o644))

	var stdout bytes.Buffer
	f, err := New(context.Background(), docPath, Options{Env: actions.Env{Stdout: &stdout}, Logger: zerolog.Nop()})
	require.NoError(t, err)
	defer f.Close()

	stats := f.Process(context.Background(), mustRecord(t, sampleIdea))
	assert.Equal(t, 1, stats.Matched)

	stats = f.Process(context.Background(), mustRecord(t, `{"Source": [{"IP4": ["192.0.2.7"]}]}`))
	assert.Equal(t, 1, stats.Matched)
}

func TestNew_ConstructionErrors(t *testing.T) {
	tests := []struct {
		name    string
		doc     string
		wantErr error
	}{
		{
			name:    "unknown action",
			doc:     "rules:\n  - id: R1\n    actions: [nope]\n",
			wantErr: types.ErrUnknownAction,
		},
		{
			name:    "unknown else action",
			doc:     "rules:\n  - id: R1\n    elseactions: [drop, nope]\n",
			wantErr: types.ErrUnknownAction,
		},
		{
			name:    "syntax error",
			doc:     "rules:\n  - id: R1\n    condition: 'a and and b'\n",
			wantErr: types.ErrSyntax,
		},
		{
			name:    "bad address",
			doc:     "rules:\n  - id: R1\n    condition: 'Source.IP4 == \"x\"'\n",
			wantErr: types.ErrBadAddressSyntax,
		},
		{
			name:    "bad group prefix",
			doc:     "addressgroups:\n  - id: g\n    list: [not-an-ip]\nrules:\n  - id: R1\n",
			wantErr: types.ErrBadAddressSyntax,
		},
		{
			name:    "invalid action parameters",
			doc:     "custom_actions:\n  - id: s\n    syslog: {facility: LOG_NOPE}\nrules:\n  - id: R1\n",
			wantErr: types.ErrInvalidAction,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doc, err := ParseDocument([]byte(tt.doc))
			require.NoError(t, err)
			_, err = NewFromDocument(context.Background(), doc, Options{Logger: zerolog.Nop()})
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestNamespaceModule(t *testing.T) {
	h := newHarness(t, `
namespace: cesnet
rules:
  - id: R1
    actions: [drop]
`)
	assert.Equal(t, "cesnet.reporter", h.filter.Module())
	h.filter.Process(context.Background(), mustRecord(t, `{}`))
	assert.Equal(t, map[string]int64{"ideafilter|cesnet.reporter|R1|true|drop|drop": 1}, h.snapshot(t))
}

type recordingHealth struct{ states []bool }

func (r *recordingHealth) SetServing(s bool) { r.states = append(r.states, s) }

type syslogSink struct {
	opened int
	closed int
}

func (s *syslogSink) dial(syslog.Priority, string) (io.WriteCloser, error) {
	s.opened++
	return s, nil
}

func (s *syslogSink) Write(p []byte) (int, error) { return len(p), nil }

func (s *syslogSink) Close() error {
	s.closed++
	return nil
}

const reloadDocV1 = `
custom_actions:
  - id: log
    syslog: {facility: LOG_LOCAL0, priority: LOG_INFO}
rules:
  - id: R1
    condition: ConnCount > 1
    actions: [log]
`

const reloadDocV2 = `
rules:
  - id: R2
    condition: ConnCount > 100
    actions: [drop]
  - id: R3
    actions: [drop]
`

func TestReload(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "filter.yaml")
	require.NoError(t, os.WriteFile(path, []byte(reloadDocV1), 0o644))

	sink := &syslogSink{}
	health := &recordingHealth{}
	c := counters.New(counters.NewMemoryStore(), "p", zerolog.Nop())
	f, err := New(context.Background(), path, Options{
		Env:      actions.Env{DialSyslog: sink.dial},
		Counters: c,
		Health:   health,
		Logger:   zerolog.Nop(),
	})
	require.NoError(t, err)
	defer f.Close()

	f.Process(context.Background(), mustRecord(t, sampleIdea))
	snap, err := c.Snapshot(context.Background(), "reporter")
	require.NoError(t, err)
	assert.Equal(t, map[string]int64{"p|reporter|R1|true|log|syslog": 1}, snap)
	assert.Equal(t, 1, sink.opened)

	// A broken document keeps the live rule set.
	require.NoError(t, os.WriteFile(path, []byte("rules: []\n"), 0o644))
	err = f.Reload(context.Background())
	assert.ErrorIs(t, err, types.ErrNoRules)
	require.Len(t, f.Rules(), 1)
	assert.Equal(t, "R1", f.Rules()[0].ID)
	assert.Zero(t, sink.closed)

	require.NoError(t, os.WriteFile(path, []byte(reloadDocV2), 0o644))
	require.NoError(t, f.Reload(context.Background()))
	require.Len(t, f.Rules(), 2)
	assert.Equal(t, 1, sink.closed, "replaced rule set closes its actions")

	snap, err = c.Snapshot(context.Background(), "reporter")
	require.NoError(t, err)
	assert.Empty(t, snap, "reload resets module counters")

	assert.Equal(t, []bool{true, false, true}, health.states)
}

// blockingSink is a syslog writer whose first write waits for release.
type blockingSink struct {
	entered chan struct{}
	release chan struct{}

	mu     sync.Mutex
	writes int
	opened int
	closed int
}

func newBlockingSink() *blockingSink {
	return &blockingSink{entered: make(chan struct{}), release: make(chan struct{})}
}

func (s *blockingSink) dial(syslog.Priority, string) (io.WriteCloser, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.opened++
	return s, nil
}

func (s *blockingSink) Write(p []byte) (int, error) {
	s.mu.Lock()
	s.writes++
	first := s.writes == 1
	s.mu.Unlock()
	if first {
		close(s.entered)
		<-s.release
	}
	return len(p), nil
}

func (s *blockingSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed++
	return nil
}

func (s *blockingSink) counts() (opened, closed int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.opened, s.closed
}

func TestReload_WaitsForInFlightProcess(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "filter.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
custom_actions:
  - id: first
    syslog: {}
  - id: second
    syslog: {}
rules:
  - id: R1
    actions: [first, second]
`), 0o644))

	sink := newBlockingSink()
	c := counters.New(counters.NewMemoryStore(), "p", zerolog.Nop())
	f, err := New(context.Background(), path, Options{
		Env:      actions.Env{DialSyslog: sink.dial},
		Counters: c,
		Logger:   zerolog.Nop(),
	})
	require.NoError(t, err)
	defer f.Close()

	record := mustRecord(t, sampleIdea)
	done := make(chan Stats, 1)
	go func() { done <- f.Process(context.Background(), record) }()
	<-sink.entered

	require.NoError(t, os.WriteFile(path, []byte(reloadDocV2), 0o644))
	require.NoError(t, f.Reload(context.Background()))
	require.Len(t, f.Rules(), 2)

	_, closed := sink.counts()
	assert.Zero(t, closed, "replaced rule set stays open while a record is in flight")

	close(sink.release)
	stats := <-done
	assert.Equal(t, 2, stats.Actions)
	assert.Zero(t, stats.Failures)

	opened, closed := sink.counts()
	assert.Equal(t, 2, opened)
	assert.Equal(t, 2, closed, "last in-flight Process closes the replaced actions")

	snap, err := c.Snapshot(context.Background(), "reporter")
	require.NoError(t, err)
	assert.Empty(t, snap, "counts of the replaced rule set do not survive the reset")
}

func TestWatcher_CheckReloadsOnChange(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "filter.yaml")
	require.NoError(t, os.WriteFile(path, []byte(reloadDocV2), 0o644))

	f, err := New(context.Background(), path, Options{Logger: zerolog.Nop()})
	require.NoError(t, err)
	defer f.Close()

	w, err := NewWatcher(f, time.Second, WatchPoll, zerolog.Nop())
	require.NoError(t, err)

	reloaded, err := w.Check(context.Background())
	require.NoError(t, err)
	assert.False(t, reloaded)

	require.NoError(t, os.WriteFile(path, []byte("rules:\n  - id: only\n"), 0o644))
	future := time.Now().Add(time.Hour)
	require.NoError(t, os.Chtimes(path, future, future))

	reloaded, err = w.Check(context.Background())
	require.NoError(t, err)
	assert.True(t, reloaded)
	require.Len(t, f.Rules(), 1)
	assert.Equal(t, "only", f.Rules()[0].ID)
}

func TestWatcher_RunPolls(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "filter.yaml")
	require.NoError(t, os.WriteFile(path, []byte(reloadDocV2), 0o644))

	f, err := New(context.Background(), path, Options{Logger: zerolog.Nop()})
	require.NoError(t, err)
	defer f.Close()

	w, err := NewWatcher(f, 10*time.Millisecond, WatchPoll, zerolog.Nop())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	require.NoError(t, os.WriteFile(path, []byte("rules:\n  - id: polled\n"), 0o644))
	future := time.Now().Add(time.Hour)
	require.NoError(t, os.Chtimes(path, future, future))

	assert.Eventually(t, func() bool {
		r := f.Rules()
		return len(r) == 1 && r[0].ID == "polled"
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}

func TestWatcher_RunNotify(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "filter.yaml")
	require.NoError(t, os.WriteFile(path, []byte(reloadDocV2), 0o644))

	f, err := New(context.Background(), path, Options{Logger: zerolog.Nop()})
	require.NoError(t, err)
	defer f.Close()

	w, err := NewWatcher(f, 0, WatchNotify, zerolog.Nop())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	// Keep rewriting until the watch is registered and an event arrives.
	i := 0
	assert.Eventually(t, func() bool {
		i++
		if err := os.WriteFile(path, []byte("rules:\n  - id: notified\n"), 0o644); err != nil {
			return false
		}
		future := time.Now().Add(time.Duration(i) * time.Hour)
		if err := os.Chtimes(path, future, future); err != nil {
			return false
		}
		r := f.Rules()
		return len(r) == 1 && r[0].ID == "notified"
	}, 5*time.Second, 50*time.Millisecond)

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}

func TestNewWatcher_Validation(t *testing.T) {
	doc, err := ParseDocument([]byte("rules:\n  - id: R1\n"))
	require.NoError(t, err)
	f, err := NewFromDocument(context.Background(), doc, Options{Logger: zerolog.Nop()})
	require.NoError(t, err)
	defer f.Close()

	_, err = NewWatcher(f, time.Second, WatchPoll, zerolog.Nop())
	assert.Error(t, err, "no document path")
	assert.Error(t, f.Reload(context.Background()))
}

func TestClose(t *testing.T) {
	h := newHarness(t, "rules:\n  - id: R1\n    actions: [drop]\n")
	require.NoError(t, h.filter.Close())

	stats := h.filter.Process(context.Background(), mustRecord(t, `{}`))
	assert.Zero(t, stats.Evaluated)
	require.NoError(t, h.filter.Close())
}
