package actions

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/syslog"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/solatis/ideafilter/internal/types"
)

// SyslogDialer opens a writer that logs at priority (facility|severity) with
// the given tag.
type SyslogDialer func(priority syslog.Priority, tag string) (io.WriteCloser, error)

// DialLocalSyslog connects to the host syslog daemon.
func DialLocalSyslog(priority syslog.Priority, tag string) (io.WriteCloser, error) {
	return syslog.New(priority, tag)
}

var syslogFacilities = map[string]syslog.Priority{
	"LOG_KERN":     syslog.LOG_KERN,
	"LOG_USER":     syslog.LOG_USER,
	"LOG_MAIL":     syslog.LOG_MAIL,
	"LOG_DAEMON":   syslog.LOG_DAEMON,
	"LOG_AUTH":     syslog.LOG_AUTH,
	"LOG_SYSLOG":   syslog.LOG_SYSLOG,
	"LOG_LPR":      syslog.LOG_LPR,
	"LOG_NEWS":     syslog.LOG_NEWS,
	"LOG_UUCP":     syslog.LOG_UUCP,
	"LOG_CRON":     syslog.LOG_CRON,
	"LOG_AUTHPRIV": syslog.LOG_AUTHPRIV,
	"LOG_FTP":      syslog.LOG_FTP,
	"LOG_LOCAL0":   syslog.LOG_LOCAL0,
	"LOG_LOCAL1":   syslog.LOG_LOCAL1,
	"LOG_LOCAL2":   syslog.LOG_LOCAL2,
	"LOG_LOCAL3":   syslog.LOG_LOCAL3,
	"LOG_LOCAL4":   syslog.LOG_LOCAL4,
	"LOG_LOCAL5":   syslog.LOG_LOCAL5,
	"LOG_LOCAL6":   syslog.LOG_LOCAL6,
	"LOG_LOCAL7":   syslog.LOG_LOCAL7,
}

var syslogSeverities = map[string]syslog.Priority{
	"LOG_EMERG":   syslog.LOG_EMERG,
	"LOG_ALERT":   syslog.LOG_ALERT,
	"LOG_CRIT":    syslog.LOG_CRIT,
	"LOG_ERR":     syslog.LOG_ERR,
	"LOG_WARNING": syslog.LOG_WARNING,
	"LOG_NOTICE":  syslog.LOG_NOTICE,
	"LOG_INFO":    syslog.LOG_INFO,
	"LOG_DEBUG":   syslog.LOG_DEBUG,
}

// Option names of the host openlog(3). The Go client always logs the PID
// and connects on open, so they are validated but have no further effect.
var syslogOptions = map[string]bool{
	"LOG_PID":    true,
	"LOG_CONS":   true,
	"LOG_NDELAY": true,
	"LOG_ODELAY": true,
	"LOG_NOWAIT": true,
	"LOG_PERROR": true,
}

type syslogParams struct {
	Identifier string `yaml:"identifier"`
	LogOption  string `yaml:"logoption"`
	Facility   string `yaml:"facility"`
	Priority   string `yaml:"priority"`
}

// syslogAction emits the JSON form of each record to syslog. The writer is
// opened on first use.
type syslogAction struct {
	base
	tag      string
	priority syslog.Priority
	dial     SyslogDialer

	mu     sync.Mutex
	writer io.WriteCloser
}

func newSyslog(b base, params *yaml.Node, env Env) (*syslogAction, error) {
	p := syslogParams{Facility: "LOG_USER", Priority: "LOG_INFO"}
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	facility, ok := syslogFacilities[p.Facility]
	if !ok {
		return nil, invalid("unknown syslog facility %q", p.Facility)
	}
	severity, ok := syslogSeverities[p.Priority]
	if !ok {
		return nil, invalid("unknown syslog priority %q", p.Priority)
	}
	if err := validateSyslogOptions(p.LogOption); err != nil {
		return nil, err
	}

	dial := env.DialSyslog
	if dial == nil {
		dial = DialLocalSyslog
	}
	tag := p.Identifier
	if tag == "" {
		tag = "ideafilter"
	}
	return &syslogAction{base: b, tag: tag, priority: facility | severity, dial: dial}, nil
}

// validateSyslogOptions accepts option names joined with "|" or ",".
func validateSyslogOptions(spec string) error {
	for _, name := range strings.FieldsFunc(spec, func(r rune) bool { return r == '|' || r == ',' || r == ' ' }) {
		if !syslogOptions[name] {
			return invalid("unknown syslog option %q", name)
		}
	}
	return nil
}

func (s *syslogAction) Run(_ context.Context, record types.Record) error {
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to encode record: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.writer == nil {
		w, err := s.dial(s.priority, s.tag)
		if err != nil {
			return transport(err, "open syslog")
		}
		s.writer = w
	}
	if _, err := s.writer.Write(data); err != nil {
		return transport(err, "write syslog")
	}
	return nil
}

func (s *syslogAction) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.writer == nil {
		return nil
	}
	err := s.writer.Close()
	s.writer = nil
	return err
}
