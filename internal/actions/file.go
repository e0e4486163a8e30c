package actions

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/solatis/ideafilter/internal/types"
)

// StdoutPath selects standard output as the file action target.
const StdoutPath = "-"

type fileParams struct {
	Path string `yaml:"path"`
	Dir  bool   `yaml:"dir"`
}

// fileAction writes records as JSON. With path "-" records go to stdout one
// per line, with dir set each record becomes <ID>.idea inside path, otherwise
// records are appended one per line to the file at path.
type fileAction struct {
	base
	path   string
	dir    bool
	stdout io.Writer

	mu     sync.Mutex
	handle *os.File
}

func newFile(b base, params *yaml.Node, env Env) (*fileAction, error) {
	var p fileParams
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	if p.Path == "" {
		return nil, invalid("file requires a path")
	}
	if p.Path == StdoutPath && p.Dir {
		return nil, invalid("file path %q cannot be a directory", StdoutPath)
	}
	return &fileAction{base: b, path: p.Path, dir: p.Dir, stdout: env.stdout()}, nil
}

func (f *fileAction) Run(_ context.Context, record types.Record) error {
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to encode record: %w", err)
	}

	switch {
	case f.path == StdoutPath:
		if _, err := f.stdout.Write(append(data, '\n')); err != nil {
			return transport(err, "write to stdout")
		}
		return nil
	case f.dir:
		return f.writeRecordFile(record, data)
	default:
		return f.appendLine(data)
	}
}

func (f *fileAction) writeRecordFile(record types.Record, data []byte) error {
	if err := os.MkdirAll(f.path, 0o755); err != nil {
		return transport(err, "create directory %s", f.path)
	}
	name := filepath.Join(f.path, recordFileName(record))
	if err := os.WriteFile(name, data, 0o644); err != nil {
		return transport(err, "write %s", name)
	}
	return nil
}

func (f *fileAction) appendLine(data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.handle == nil {
		handle, err := os.OpenFile(f.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			return transport(err, "open %s", f.path)
		}
		f.handle = handle
	}
	if _, err := f.handle.Write(append(data, '\n')); err != nil {
		return transport(err, "append to %s", f.path)
	}
	return nil
}

func (f *fileAction) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.handle == nil {
		return nil
	}
	err := f.handle.Close()
	f.handle = nil
	return err
}

// recordFileName names the file for record after its ID, falling back to a
// generated name when the ID is missing or unusable as a file name.
func recordFileName(record types.Record) string {
	id, _ := record["ID"].(string)
	id = filepath.Base(strings.TrimSpace(id))
	if id == "" || id == "." || id == ".." || id == string(filepath.Separator) {
		id = types.NewRecordName()
	}
	return id + ".idea"
}
