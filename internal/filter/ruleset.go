package filter

import (
	"context"
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/solatis/ideafilter/internal/actions"
	"github.com/solatis/ideafilter/internal/counters"
	"github.com/solatis/ideafilter/internal/rules"
	"github.com/solatis/ideafilter/internal/types"
)

// Rule is a compiled rule with its resolved action lists.
type Rule struct {
	ID          string
	Predicate   *rules.Predicate
	Actions     []actions.Action
	ElseActions []actions.Action
}

// RuleSet is an immutable compiled rule document. It is shared by in-flight
// Process calls and released once the last of them finishes after a swap.
type RuleSet struct {
	Module  string
	Rules   []*Rule
	Actions map[string]actions.Action

	refs   atomic.Int64
	logger zerolog.Logger

	// countMu guards retired. Counter writes hold it for reading so that
	// once retire returns no further write of this set reaches the store.
	countMu sync.RWMutex
	retired bool
}

// MailerFactory turns an smtp_connections entry into a Mailer.
type MailerFactory func(actions.SMTPConnection) (actions.Mailer, error)

func defaultMailer(c actions.SMTPConnection) (actions.Mailer, error) {
	m, err := actions.NewSMTPMailer(c)
	if err != nil {
		return nil, err
	}
	return m, nil
}

// buildRuleSet compiles doc. On error every action built so far is closed.
func buildRuleSet(doc *Document, module string, env actions.Env, newMailer MailerFactory, logger zerolog.Logger) (_ *RuleSet, err error) {
	rs := &RuleSet{
		Module:  module,
		Actions: make(map[string]actions.Action, len(doc.CustomActions)+1),
		logger:  logger,
	}
	rs.refs.Store(1)
	defer func() {
		if err != nil {
			rs.closeActions()
		}
	}()

	groups, err := doc.BuildAddressGroups()
	if err != nil {
		return nil, err
	}

	if newMailer == nil {
		newMailer = defaultMailer
	}
	env.Mailers = make(map[string]actions.Mailer, len(doc.SMTPConnections))
	for _, c := range doc.SMTPConnections {
		m, err := newMailer(c)
		if err != nil {
			return nil, fmt.Errorf("smtp connection %q: %w", c.ID, err)
		}
		env.Mailers[c.ID] = m
	}

	for _, def := range doc.CustomActions {
		a, err := actions.New(def.ID, def.Kind, def.Params, env)
		if err != nil {
			return nil, err
		}
		rs.Actions[def.ID] = a
	}
	rs.Actions[actions.DropID] = actions.Drop()

	engine := rules.NewEngine(groups)
	for _, def := range doc.Rules {
		pred, err := engine.Compile(def.Condition)
		if err != nil {
			return nil, fmt.Errorf("rule %q: %w", def.ID, err)
		}
		rule := &Rule{ID: def.ID, Predicate: pred}
		if rule.Actions, err = rs.resolve(def.ID, def.Actions); err != nil {
			return nil, err
		}
		if rule.ElseActions, err = rs.resolve(def.ID, def.ElseActions); err != nil {
			return nil, err
		}
		rs.Rules = append(rs.Rules, rule)
	}
	return rs, nil
}

func (rs *RuleSet) resolve(ruleID string, ids []string) ([]actions.Action, error) {
	out := make([]actions.Action, 0, len(ids))
	for _, id := range ids {
		a, ok := rs.Actions[id]
		if !ok {
			return nil, fmt.Errorf("rule %q references %q: %w", ruleID, id, types.ErrUnknownAction)
		}
		out = append(out, a)
	}
	return out, nil
}

// count records one invocation of a unless the set was retired.
func (rs *RuleSet) count(ctx context.Context, c *counters.Counters, ruleID string, verdict types.Verdict, a actions.Action) {
	rs.countMu.RLock()
	defer rs.countMu.RUnlock()
	if rs.retired {
		return
	}
	c.Incr(ctx, rs.Module, ruleID, verdict, a.ID(), a.Kind())
}

// retire stops counting for the set, waiting for writes in progress.
func (rs *RuleSet) retire() {
	rs.countMu.Lock()
	rs.retired = true
	rs.countMu.Unlock()
}

// acquire takes a reference unless the set was already released.
func (rs *RuleSet) acquire() bool {
	for {
		n := rs.refs.Load()
		if n <= 0 {
			return false
		}
		if rs.refs.CompareAndSwap(n, n+1) {
			return true
		}
	}
}

// release drops a reference; the last one closes the actions.
func (rs *RuleSet) release() {
	if rs.refs.Add(-1) == 0 {
		rs.closeActions()
	}
}

func (rs *RuleSet) closeActions() {
	for id, a := range rs.Actions {
		c, ok := a.(io.Closer)
		if !ok {
			continue
		}
		if err := c.Close(); err != nil {
			rs.logger.Error().Err(err).Str("action", id).Msg("failed to close action")
		}
	}
}
