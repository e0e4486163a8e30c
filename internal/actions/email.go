package actions

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime"
	"strconv"
	"strings"
	"text/template"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/solatis/ideafilter/internal/rules"
	"github.com/solatis/ideafilter/internal/types"
)

type emailParams struct {
	To             StringList `yaml:"to"`
	From           string     `yaml:"from"`
	Subject        string     `yaml:"subject"`
	Template       string     `yaml:"template"`
	SMTPConnection string     `yaml:"smtp_connection"`
}

var templateFuncs = template.FuncMap{
	"json": func(v any) (string, error) {
		data, err := json.MarshalIndent(v, "", "  ")
		return string(data), err
	},
	"join": strings.Join,
}

// emailAction renders subject and body templates against the record and
// sends them through an SMTP connection.
type emailAction struct {
	base
	from    string
	to      []string
	subject *template.Template
	body    *template.Template
	mailer  Mailer
	now     func() time.Time
}

func newEmail(b base, params *yaml.Node, env Env) (*emailAction, error) {
	var p emailParams
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	if len(p.To) == 0 {
		return nil, invalid("email requires at least one recipient")
	}
	if p.From == "" {
		return nil, invalid("email requires a sender")
	}

	mailer, err := lookupMailer(env.Mailers, p.SMTPConnection)
	if err != nil {
		return nil, err
	}
	subject, err := template.New("subject").Funcs(templateFuncs).Option("missingkey=zero").Parse(p.Subject)
	if err != nil {
		return nil, invalid("subject template: %v", err)
	}
	body, err := template.New("body").Funcs(templateFuncs).Option("missingkey=zero").Parse(p.Template)
	if err != nil {
		return nil, invalid("body template: %v", err)
	}

	return &emailAction{
		base:    b,
		from:    p.From,
		to:      p.To,
		subject: subject,
		body:    body,
		mailer:  mailer,
		now:     time.Now,
	}, nil
}

func lookupMailer(mailers map[string]Mailer, id string) (Mailer, error) {
	if id == "" {
		if len(mailers) == 1 {
			for _, m := range mailers {
				return m, nil
			}
		}
		return nil, invalid("email requires smtp_connection when %d connections are defined", len(mailers))
	}
	m, ok := mailers[id]
	if !ok {
		return nil, invalid("unknown smtp connection %q", id)
	}
	return m, nil
}

func (e *emailAction) Run(ctx context.Context, record types.Record) error {
	msg, err := e.render(record)
	if err != nil {
		return err
	}
	if err := e.mailer.Send(ctx, e.from, e.to, msg); err != nil {
		return transport(err, "send mail to %s", strings.Join(e.to, ", "))
	}
	return nil
}

func (e *emailAction) render(record types.Record) ([]byte, error) {
	vars := EmailVariables(record)

	var subject, body bytes.Buffer
	if err := e.subject.Execute(&subject, vars); err != nil {
		return nil, fmt.Errorf("render subject: %w", err)
	}
	if err := e.body.Execute(&body, vars); err != nil {
		return nil, fmt.Errorf("render body: %w", err)
	}

	var msg bytes.Buffer
	header := func(k, v string) { fmt.Fprintf(&msg, "%s: %s\r\n", k, v) }
	header("From", e.from)
	header("To", strings.Join(e.to, ", "))
	header("Subject", mime.QEncoding.Encode("utf-8", strings.TrimSpace(subject.String())))
	header("Date", e.now().Format(time.RFC1123Z))
	header("MIME-Version", "1.0")
	header("Content-Type", "text/plain; charset=utf-8")
	header("Content-Transfer-Encoding", "8bit")
	msg.WriteString("\r\n")
	msg.WriteString(strings.ReplaceAll(body.String(), "\n", "\r\n"))
	return msg.Bytes(), nil
}

var (
	categoryPath = rules.MustParsePath("Category")
	nodeNamePath = rules.MustParsePath("Node.Name")
	sourceIP4    = rules.MustParsePath("Source.IP4")
	sourceIP6    = rules.MustParsePath("Source.IP6")
	targetIP4    = rules.MustParsePath("Target.IP4")
	targetIP6    = rules.MustParsePath("Target.IP6")
)

// EmailVariables computes the template variables for record: category,
// node, src_ip, tgt_ip, byte_rate, flow_rate and the record itself as idea.
func EmailVariables(record types.Record) map[string]any {
	return map[string]any{
		"category":  joinValues(rules.Values(record, categoryPath)),
		"node":      joinValues(rules.Values(record, nodeNamePath)),
		"src_ip":    joinValues(append(rules.Values(record, sourceIP4), rules.Values(record, sourceIP6)...)),
		"tgt_ip":    joinValues(append(rules.Values(record, targetIP4), rules.Values(record, targetIP6)...)),
		"byte_rate": rate(record, "ByteCount"),
		"flow_rate": rate(record, "FlowCount"),
		"idea":      record,
	}
}

func joinValues(values []any) string {
	parts := make([]string, 0, len(values))
	for _, v := range values {
		if v == nil {
			continue
		}
		parts = append(parts, fmt.Sprint(v))
	}
	return strings.Join(parts, ", ")
}

// rate divides the count field by the length of the record's window in
// seconds. WinStartTime..WinEndTime is preferred over EventTime..CeaseTime.
// Returns "" when either the count or a positive window is missing.
func rate(record types.Record, countField string) string {
	count, ok := numeric(record[countField])
	if !ok {
		return ""
	}
	window := span(record, "WinStartTime", "WinEndTime")
	if window <= 0 {
		window = span(record, "EventTime", "CeaseTime")
	}
	if window <= 0 {
		return ""
	}
	return strconv.FormatFloat(count/window.Seconds(), 'f', 2, 64)
}

func span(record types.Record, startField, endField string) time.Duration {
	start, ok := recordTime(record[startField])
	if !ok {
		return 0
	}
	end, ok := recordTime(record[endField])
	if !ok {
		return 0
	}
	return end.Sub(start)
}

func numeric(v any) (float64, bool) {
	switch n := v.(type) {
	case int64:
		return float64(n), true
	case int:
		return float64(n), true
	case float64:
		return n, true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}

// recordTime accepts time.Time values and RFC 3339 strings.
func recordTime(v any) (time.Time, bool) {
	switch t := v.(type) {
	case time.Time:
		return t, true
	case string:
		parsed, err := time.Parse(time.RFC3339Nano, t)
		if err != nil {
			return time.Time{}, false
		}
		return parsed, true
	default:
		return time.Time{}, false
	}
}
