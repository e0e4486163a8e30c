// Package actions implements the sinks a rule dispatches records to.
//
// Every action is built from its YAML parameter node by New and invoked with
// a private copy of the record. Actions that hold handles (files, syslog
// writers, database clients) implement io.Closer and are closed when their
// rule set is replaced. Collaborators that reach the network (SMTP, TRAP,
// Warden, MongoDB, syslog) are injected through Env so tests can replace them.
package actions

import (
	"context"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/solatis/ideafilter/internal/types"
)

// Action kinds recognised in rule documents.
const (
	KindMark   = "mark"
	KindFile   = "file"
	KindSyslog = "syslog"
	KindEmail  = "email"
	KindMongo  = "mongo"
	KindTrap   = "trap"
	KindWarden = "warden"
	KindDrop   = "drop"
)

// Kinds lists every kind a custom action may declare. KindDrop is reserved.
var Kinds = []string{KindMark, KindMongo, KindEmail, KindFile, KindSyslog, KindWarden, KindTrap}

// DropID is the reserved action id that ends rule iteration for a record.
const DropID = "drop"

// Action handles one record.
type Action interface {
	ID() string
	Kind() string
	Run(ctx context.Context, record types.Record) error
}

// Env carries the collaborators actions are built with.
type Env struct {
	// Stdout receives file actions with path "-". Defaults to os.Stdout.
	Stdout io.Writer

	// Mailers maps smtp_connections ids to senders.
	Mailers map[string]Mailer

	// Trap publishes records for trap actions.
	Trap Publisher

	// Warden submits records for warden actions.
	Warden Submitter

	// DialSyslog opens syslog writers. Defaults to the host syslog daemon.
	DialSyslog SyslogDialer

	// ConnectMongo opens collections. Defaults to the MongoDB driver.
	ConnectMongo MongoConnector
}

func (e Env) stdout() io.Writer {
	if e.Stdout == nil {
		return os.Stdout
	}
	return e.Stdout
}

// New builds the action id of the given kind from its parameter node.
// A nil node is treated as an empty mapping.
func New(id, kind string, params *yaml.Node, env Env) (Action, error) {
	b := base{id: id, kind: kind}
	var (
		a   Action
		err error
	)
	switch kind {
	case KindMark:
		a, err = newMark(b, params)
	case KindFile:
		a, err = newFile(b, params, env)
	case KindSyslog:
		a, err = newSyslog(b, params, env)
	case KindEmail:
		a, err = newEmail(b, params, env)
	case KindMongo:
		a, err = newMongo(b, params, env)
	case KindTrap:
		a, err = newTrap(b, env)
	case KindWarden:
		a, err = newWarden(b, env)
	default:
		return nil, fmt.Errorf("action %q: kind %q: %w", id, kind, types.ErrInvalidAction)
	}
	if err != nil {
		return nil, fmt.Errorf("action %q (%s): %w", id, kind, err)
	}
	return a, nil
}

// Drop returns the reserved drop action.
func Drop() Action {
	return dropAction{base{id: DropID, kind: KindDrop}}
}

// IsDrop reports whether a ends rule iteration.
func IsDrop(a Action) bool {
	return a.Kind() == KindDrop
}

type base struct {
	id   string
	kind string
}

func (b base) ID() string   { return b.id }
func (b base) Kind() string { return b.kind }

type dropAction struct{ base }

func (dropAction) Run(context.Context, types.Record) error { return nil }

// decodeParams decodes node into out, accepting a missing or null node.
func decodeParams(node *yaml.Node, out any) error {
	if node == nil || node.Kind == 0 || node.Tag == "!!null" {
		return nil
	}
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("parameters must be a mapping (line %d): %w", node.Line, types.ErrInvalidAction)
	}
	if err := node.Decode(out); err != nil {
		return fmt.Errorf("%w: %v", types.ErrInvalidAction, err)
	}
	return nil
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), types.ErrInvalidAction)
}

func transport(err error, format string, args ...any) error {
	return fmt.Errorf("%s: %w: %w", fmt.Sprintf(format, args...), types.ErrTransport, err)
}

// StringList accepts a single string or a sequence of strings.
type StringList []string

// UnmarshalYAML implements yaml.Unmarshaler.
func (l *StringList) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		var s string
		if err := node.Decode(&s); err != nil {
			return err
		}
		*l = StringList{s}
		return nil
	case yaml.SequenceNode:
		var ss []string
		if err := node.Decode(&ss); err != nil {
			return err
		}
		*l = ss
		return nil
	default:
		return fmt.Errorf("line %d: expected string or list of strings", node.Line)
	}
}
