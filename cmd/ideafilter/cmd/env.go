package cmd

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/solatis/ideafilter/internal/actions"
	"github.com/solatis/ideafilter/internal/core/config"
	"github.com/solatis/ideafilter/internal/counters"
	"github.com/solatis/ideafilter/internal/filter"
	"github.com/solatis/ideafilter/internal/types"
)

// openCounters connects the configured counter backend.
func openCounters(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*counters.Counters, error) {
	store, err := counters.OpenStore(ctx, counters.Options{
		Backend:       cfg.Counters.Backend,
		RedisAddr:     cfg.Counters.RedisAddr,
		RedisPassword: cfg.RedisPassword,
		DBURL:         cfg.Counters.DBURL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open %s counters: %w", cfg.Counters.Backend, err)
	}
	return counters.New(store, cfg.Counters.Prefix, logger), nil
}

// actionEnv builds the TRAP publisher and Warden client enabled in cfg. The
// returned closers must be closed once the filter is closed.
func actionEnv(ctx context.Context, cfg *config.Config) (actions.Env, []io.Closer, error) {
	var env actions.Env
	var closers []io.Closer

	if cfg.Trap.RedisAddr != "" {
		client, err := counters.DialRedis(ctx, cfg.Trap.RedisAddr, cfg.RedisPassword)
		if err != nil {
			return env, nil, fmt.Errorf("failed to connect TRAP redis: %w", err)
		}
		pub := actions.NewRedisPublisher(client, cfg.Trap.Channel)
		env.Trap = pub
		closers = append(closers, pub)
	}

	if cfg.Warden.URL != "" {
		w, err := actions.NewWardenClient(cfg.Warden.URL, cfg.Warden.Client, &http.Client{Timeout: cfg.Warden.Timeout})
		if err != nil {
			closeAll(closers)
			return env, nil, err
		}
		env.Warden = w
	}

	return env, closers, nil
}

// checkEnv lets documents with trap and warden actions compile without
// reaching any server.
func checkEnv() actions.Env {
	return actions.Env{Trap: discard{}, Warden: discard{}}
}

type discard struct{}

func (discard) Publish(context.Context, types.Record) error { return nil }
func (discard) Submit(context.Context, types.Record) error  { return nil }

// mailerFactory fills SMTP passwords from the environment.
func mailerFactory(passwords map[string]string) filter.MailerFactory {
	return func(c actions.SMTPConnection) (actions.Mailer, error) {
		if c.Pass == "" {
			if pass, ok := config.SMTPPassword(passwords, c.ID); ok {
				c.Pass = pass
			}
		}
		m, err := actions.NewSMTPMailer(c)
		if err != nil {
			return nil, err
		}
		return m, nil
	}
}

func closeAll(closers []io.Closer) {
	for _, c := range closers {
		c.Close()
	}
}
