// Package counters tracks how often each rule outcome dispatched each action.
//
// Keys have the shape prefix|module|rule_id|verdict|action_id|action_kind and
// values only grow. The backing Store is pluggable (memory, Redis, SQL);
// write failures are logged and never reach the caller, so a broken counter
// backend cannot stop record dispatch.
package counters

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
	"github.com/solatis/ideafilter/internal/types"
)

// Separator joins the components of a counter key.
const Separator = "|"

// DefaultPrefix is the first key component when none is configured.
const DefaultPrefix = "ideafilter"

// Store persists counter values.
type Store interface {
	// Incr adds n to key, creating it at zero first.
	Incr(ctx context.Context, key string, n int64) error
	// DeletePrefix removes every key starting with prefix.
	DeletePrefix(ctx context.Context, prefix string) error
	// List returns every key starting with prefix with its value.
	List(ctx context.Context, prefix string) (map[string]int64, error)
	Close() error
}

// Counters increments dispatch counters for one key prefix.
type Counters struct {
	store  Store
	prefix string
	logger zerolog.Logger
}

// New returns counters writing to store under prefix.
// An empty prefix selects DefaultPrefix.
func New(store Store, prefix string, logger zerolog.Logger) *Counters {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &Counters{
		store:  store,
		prefix: prefix,
		logger: logger.With().Str("component", "counters").Logger(),
	}
}

// Key builds the counter key for one action invocation.
func Key(prefix, module, ruleID string, verdict types.Verdict, actionID, kind string) string {
	return strings.Join([]string{prefix, module, ruleID, verdict.String(), actionID, kind}, Separator)
}

// ModulePrefix is the key prefix shared by every counter of module.
func ModulePrefix(prefix, module string) string {
	return prefix + Separator + module + Separator
}

// Prefix returns the first key component.
func (c *Counters) Prefix() string { return c.prefix }

// Incr counts one invocation of action actionID (of the given kind) by rule
// ruleID under verdict. Store failures are logged at error level.
func (c *Counters) Incr(ctx context.Context, module, ruleID string, verdict types.Verdict, actionID, kind string) {
	key := Key(c.prefix, module, ruleID, verdict, actionID, kind)
	if err := c.store.Incr(ctx, key, 1); err != nil {
		c.logger.Error().Err(err).Str("key", key).Msg("failed to increment counter")
	}
}

// Reset removes every counter of module. Failures are logged at error level.
func (c *Counters) Reset(ctx context.Context, module string) {
	prefix := ModulePrefix(c.prefix, module)
	if err := c.store.DeletePrefix(ctx, prefix); err != nil {
		c.logger.Error().Err(err).Str("prefix", prefix).Msg("failed to reset counters")
	}
}

// Snapshot lists the counters of module. An empty module lists every
// counter under the prefix.
func (c *Counters) Snapshot(ctx context.Context, module string) (map[string]int64, error) {
	prefix := c.prefix + Separator
	if module != "" {
		prefix = ModulePrefix(c.prefix, module)
	}
	values, err := c.store.List(ctx, prefix)
	if err != nil {
		return nil, fmt.Errorf("failed to list counters: %w", err)
	}
	return values, nil
}

// Close releases the store.
func (c *Counters) Close() error {
	return c.store.Close()
}
