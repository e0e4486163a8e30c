// Package filter dispatches IDEA records through a compiled rule document.
//
// A Filter holds the live RuleSet behind an atomic pointer. Process walks the
// rules in declaration order, runs the matched or unmatched action list on a
// private copy of the record and counts every action invocation. Reload
// builds a complete shadow RuleSet from the document on disk and swaps it in
// only when every step succeeded; the previous set is closed once the last
// in-flight Process call releases it.
package filter

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/solatis/ideafilter/internal/actions"
	"github.com/solatis/ideafilter/internal/counters"
	"github.com/solatis/ideafilter/internal/rules"
	"github.com/solatis/ideafilter/internal/types"
)

// DefaultModule is the module name used when Options.Name is empty.
const DefaultModule = "reporter"

// ErrClosed is returned by operations on a closed Filter.
var ErrClosed = errors.New("filter closed")

// HealthReporter receives the serving state after every load.
type HealthReporter interface {
	SetServing(serving bool)
}

// Options configure a Filter.
type Options struct {
	// Name is the module name; the document namespace is prepended.
	Name string

	// Env supplies action collaborators. Mailers are built per document.
	Env actions.Env

	// NewMailer builds mailers for smtp_connections. Defaults to SMTP.
	NewMailer MailerFactory

	// Counters records action invocations. Defaults to in-memory counters.
	Counters *counters.Counters

	Health HealthReporter
	Logger zerolog.Logger
}

// Stats summarises one Process call.
type Stats struct {
	Evaluated int
	Matched   int
	Actions   int
	Failures  int
	Dropped   bool
}

// Filter is a rule engine instance. Process is meant to be called from a
// single goroutine; Reload may run concurrently with it.
type Filter struct {
	id       types.InstanceID
	path     string
	opts     Options
	counters *counters.Counters
	logger   zerolog.Logger

	current  atomic.Pointer[RuleSet]
	reloadMu sync.Mutex
	closed   atomic.Bool
}

// New loads and compiles the rule document at path.
func New(ctx context.Context, path string, opts Options) (*Filter, error) {
	doc, err := LoadDocument(path)
	if err != nil {
		return nil, err
	}
	f := newFilter(path, opts)
	if err := f.install(ctx, doc); err != nil {
		return nil, err
	}
	return f, nil
}

// NewFromDocument compiles an already decoded document. The resulting
// Filter cannot Reload.
func NewFromDocument(ctx context.Context, doc *Document, opts Options) (*Filter, error) {
	f := newFilter("", opts)
	if err := f.install(ctx, doc); err != nil {
		return nil, err
	}
	return f, nil
}

func newFilter(path string, opts Options) *Filter {
	if opts.Name == "" {
		opts.Name = DefaultModule
	}
	id := types.NewInstanceID()
	logger := opts.Logger.With().Str("component", "filter").Str("instance", string(id)).Logger()
	c := opts.Counters
	if c == nil {
		c = counters.New(counters.NewMemoryStore(), "", logger)
	}
	return &Filter{id: id, path: path, opts: opts, counters: c, logger: logger}
}

// ID identifies the instance in logs.
func (f *Filter) ID() types.InstanceID { return f.id }

// Path returns the document path, empty for NewFromDocument filters.
func (f *Filter) Path() string { return f.path }

// Counters returns the counters the filter writes to.
func (f *Filter) Counters() *counters.Counters { return f.counters }

// Module returns the counter module name of the live rule set.
func (f *Filter) Module() string {
	if rs := f.current.Load(); rs != nil {
		return rs.Module
	}
	return f.opts.Name
}

// Rules returns the live compiled rules. The slice must not be modified.
func (f *Filter) Rules() []*Rule {
	if rs := f.current.Load(); rs != nil {
		return rs.Rules
	}
	return nil
}

// Reload rebuilds the rule set from the document path. On any error the live
// rule set stays in place.
func (f *Filter) Reload(ctx context.Context) error {
	if f.path == "" {
		return errors.New("filter has no document path")
	}
	doc, err := LoadDocument(f.path)
	if err != nil {
		f.reloadFailed(err)
		return err
	}
	if err := f.install(ctx, doc); err != nil {
		f.reloadFailed(err)
		return err
	}
	return nil
}

func (f *Filter) reloadFailed(err error) {
	f.logger.Error().Err(err).Str("path", f.path).Msg("reload failed, keeping live rule set")
	if f.opts.Health != nil {
		f.opts.Health.SetServing(false)
	}
}

// install builds doc into a shadow rule set, retires the live set, resets
// the counters of the affected modules and swaps the shadow in. The retired
// set is closed once its last in-flight Process returns.
func (f *Filter) install(ctx context.Context, doc *Document) error {
	f.reloadMu.Lock()
	defer f.reloadMu.Unlock()
	if f.closed.Load() {
		return ErrClosed
	}

	module := doc.Module(f.opts.Name)
	logger := f.logger.With().Str("module", module).Logger()
	shadow, err := buildRuleSet(doc, module, f.opts.Env, f.opts.NewMailer, logger)
	if err != nil {
		return fmt.Errorf("failed to build rule set: %w", err)
	}

	// Records still running on the old set keep their actions but no longer
	// count, so nothing written after the reset belongs to the old set.
	old := f.current.Load()
	if old != nil {
		old.retire()
		if old.Module != module {
			f.counters.Reset(ctx, old.Module)
		}
	}
	f.counters.Reset(ctx, module)
	f.current.Store(shadow)
	if old != nil {
		old.release()
	}

	logger.Info().Int("rules", len(shadow.Rules)).Int("actions", len(shadow.Actions)-1).Msg("rule set loaded")
	if f.opts.Health != nil {
		f.opts.Health.SetServing(true)
	}
	return nil
}

// acquire returns the live rule set with a reference held.
func (f *Filter) acquire() *RuleSet {
	for {
		rs := f.current.Load()
		if rs == nil {
			return nil
		}
		if rs.acquire() {
			return rs
		}
	}
}

// Process dispatches record through every rule. Evaluation errors yield a
// null verdict; action errors are logged and the next action runs.
func (f *Filter) Process(ctx context.Context, record types.Record) Stats {
	var stats Stats
	rs := f.acquire()
	if rs == nil {
		return stats
	}
	defer rs.release()

	for _, rule := range rs.Rules {
		verdict, err := rule.Predicate.Evaluate(record)
		if err != nil {
			f.logger.Debug().Err(err).Str("rule", rule.ID).Msg("rule evaluation failed")
		}
		stats.Evaluated++
		f.logger.Debug().Str("rule", rule.ID).Stringer("verdict", verdict).Msg("rule evaluated")

		var list []actions.Action
		switch verdict {
		case types.VerdictTrue:
			stats.Matched++
			list = rule.Actions
		case types.VerdictFalse:
			list = rule.ElseActions
		}
		if len(list) == 0 {
			continue
		}

		if f.dispatch(ctx, rs, rule, verdict, list, rules.DeepCopy(record), &stats) {
			stats.Dropped = true
			break
		}
	}
	return stats
}

// dispatch runs list against the record copy and reports whether a drop
// action ended rule iteration.
func (f *Filter) dispatch(ctx context.Context, rs *RuleSet, rule *Rule, verdict types.Verdict, list []actions.Action, record types.Record, stats *Stats) bool {
	for _, a := range list {
		rs.count(ctx, f.counters, rule.ID, verdict, a)
		stats.Actions++
		if actions.IsDrop(a) {
			return true
		}
		if err := a.Run(ctx, record); err != nil {
			stats.Failures++
			f.logger.Error().Err(err).
				Str("rule", rule.ID).
				Str("action", a.ID()).
				Str("kind", a.Kind()).
				Msg("action failed")
		}
	}
	return false
}

// Close releases the live rule set. In-flight Process calls finish first.
func (f *Filter) Close() error {
	f.reloadMu.Lock()
	defer f.reloadMu.Unlock()
	if f.closed.Swap(true) {
		return nil
	}
	if old := f.current.Swap(nil); old != nil {
		old.release()
	}
	return nil
}
