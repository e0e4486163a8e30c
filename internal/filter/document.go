package filter

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/solatis/ideafilter/internal/actions"
	"github.com/solatis/ideafilter/internal/ipindex"
	"github.com/solatis/ideafilter/internal/types"
)

// Document is a decoded rule document.
type Document struct {
	Namespace       string                   `yaml:"namespace"`
	AddressGroups   []AddressGroupDef        `yaml:"addressgroups"`
	SMTPConnections []actions.SMTPConnection `yaml:"smtp_connections"`
	CustomActions   []ActionDef              `yaml:"custom_actions"`
	Rules           []RuleDef                `yaml:"rules"`

	// dir resolves relative address group files.
	dir string
}

// AddressGroupDef names a prefix index loaded from a file or an inline list.
type AddressGroupDef struct {
	ID   string   `yaml:"id"`
	File string   `yaml:"file"`
	List []string `yaml:"list"`
}

// ActionDef is one custom action: an id plus exactly one kind with its
// parameter mapping.
type ActionDef struct {
	ID     string
	Kind   string
	Params *yaml.Node
	Line   int
}

// RuleDef is one rule of the document.
type RuleDef struct {
	ID          string   `yaml:"id"`
	Condition   string   `yaml:"condition"`
	Actions     []string `yaml:"actions"`
	ElseActions []string `yaml:"elseactions"`
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (a *ActionDef) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("line %d: action definition must be a mapping: %w", node.Line, types.ErrInvalidAction)
	}
	a.Line = node.Line
	for i := 0; i+1 < len(node.Content); i += 2 {
		key, value := node.Content[i], node.Content[i+1]
		switch {
		case key.Value == "id":
			if err := value.Decode(&a.ID); err != nil {
				return fmt.Errorf("line %d: action id: %w", key.Line, err)
			}
		case slices.Contains(actions.Kinds, key.Value):
			if a.Kind != "" {
				return fmt.Errorf("line %d: action %q declares both %s and %s: %w",
					key.Line, a.ID, a.Kind, key.Value, types.ErrInvalidAction)
			}
			a.Kind = key.Value
			a.Params = value
		default:
			return fmt.Errorf("line %d: unknown action key %q: %w", key.Line, key.Value, types.ErrInvalidAction)
		}
	}
	if a.ID == "" {
		return fmt.Errorf("line %d: action without id: %w", node.Line, types.ErrInvalidAction)
	}
	if a.Kind == "" {
		return fmt.Errorf("line %d: action %q declares no kind (expected one of %s): %w",
			node.Line, a.ID, strings.Join(actions.Kinds, ", "), types.ErrInvalidAction)
	}
	return nil
}

// LoadDocument reads and validates the rule document at path.
func LoadDocument(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read filter document: %w", err)
	}
	doc, err := ParseDocument(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	doc.dir = filepath.Dir(path)
	return doc, nil
}

// ParseDocument decodes and validates a rule document.
func ParseDocument(data []byte) (*Document, error) {
	var doc Document
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil {
		if err == io.EOF {
			return nil, types.ErrNoRules
		}
		return nil, fmt.Errorf("%w: %v", types.ErrInvalidDocument, err)
	}
	if err := doc.validate(); err != nil {
		return nil, err
	}
	return &doc, nil
}

func (d *Document) validate() error {
	if len(d.Rules) == 0 {
		return types.ErrNoRules
	}

	seen := make(map[string]bool)
	for _, a := range d.CustomActions {
		if a.ID == actions.DropID {
			return fmt.Errorf("line %d: action id %q is reserved: %w", a.Line, a.ID, types.ErrInvalidDocument)
		}
		if seen[a.ID] {
			return fmt.Errorf("line %d: duplicate action id %q: %w", a.Line, a.ID, types.ErrInvalidDocument)
		}
		seen[a.ID] = true
	}

	ruleIDs := make(map[string]bool, len(d.Rules))
	for i, r := range d.Rules {
		if r.ID == "" {
			return fmt.Errorf("rule %d has no id: %w", i+1, types.ErrInvalidDocument)
		}
		if strings.Contains(r.ID, "|") {
			return fmt.Errorf("rule id %q contains '|': %w", r.ID, types.ErrInvalidDocument)
		}
		if ruleIDs[r.ID] {
			return fmt.Errorf("duplicate rule id %q: %w", r.ID, types.ErrInvalidDocument)
		}
		ruleIDs[r.ID] = true
		if len(r.Condition) > types.MaxQueryLength {
			return fmt.Errorf("rule %q: condition exceeds %d bytes: %w", r.ID, types.MaxQueryLength, types.ErrInvalidDocument)
		}
	}

	groupIDs := make(map[string]bool, len(d.AddressGroups))
	for _, g := range d.AddressGroups {
		if g.ID == "" {
			return fmt.Errorf("address group without id: %w", types.ErrInvalidDocument)
		}
		if groupIDs[g.ID] {
			return fmt.Errorf("duplicate address group %q: %w", g.ID, types.ErrInvalidDocument)
		}
		groupIDs[g.ID] = true
		if (g.File == "") == (g.List == nil) {
			return fmt.Errorf("address group %q needs exactly one of file or list: %w", g.ID, types.ErrInvalidDocument)
		}
	}

	smtpIDs := make(map[string]bool, len(d.SMTPConnections))
	for i, c := range d.SMTPConnections {
		if c.ID == "" {
			return fmt.Errorf("smtp connection %d has no id: %w", i+1, types.ErrInvalidDocument)
		}
		if smtpIDs[c.ID] {
			return fmt.Errorf("duplicate smtp connection %q: %w", c.ID, types.ErrInvalidDocument)
		}
		smtpIDs[c.ID] = true
	}
	return nil
}

// Module returns the counter module name: name prefixed with the namespace.
func (d *Document) Module(name string) string {
	if d.Namespace == "" {
		return name
	}
	return d.Namespace + "." + name
}

// BuildAddressGroups loads every address group into a prefix index.
func (d *Document) BuildAddressGroups() (map[string]*ipindex.Index, error) {
	groups := make(map[string]*ipindex.Index, len(d.AddressGroups))
	for _, g := range d.AddressGroups {
		var (
			entries []ipindex.Entry
			err     error
		)
		if g.File != "" {
			entries, err = readGroupFile(d.resolve(g.File), g.ID)
			if err != nil {
				return nil, fmt.Errorf("address group %q: %w", g.ID, err)
			}
		} else {
			for _, prefix := range g.List {
				entries = append(entries, ipindex.Entry{Prefix: prefix, Label: g.ID})
			}
		}
		idx, err := ipindex.Build(entries)
		if err != nil {
			return nil, fmt.Errorf("address group %q: %w", g.ID, err)
		}
		groups[g.ID] = idx
	}
	return groups, nil
}

func (d *Document) resolve(path string) string {
	if filepath.IsAbs(path) || d.dir == "" {
		return path
	}
	return filepath.Join(d.dir, path)
}

// readGroupFile parses one prefix per line with an optional label column.
// Blank lines and text after '#' are ignored.
func readGroupFile(path, defaultLabel string) ([]ipindex.Entry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return parseGroupLines(f, defaultLabel)
}

func parseGroupLines(r io.Reader, defaultLabel string) ([]ipindex.Entry, error) {
	var entries []ipindex.Entry
	scanner := bufio.NewScanner(r)
	line := 0
	for scanner.Scan() {
		line++
		text := scanner.Text()
		if i := strings.IndexByte(text, '#'); i >= 0 {
			text = text[:i]
		}
		fields := strings.Fields(text)
		switch len(fields) {
		case 0:
			continue
		case 1:
			entries = append(entries, ipindex.Entry{Prefix: fields[0], Label: defaultLabel})
		case 2:
			entries = append(entries, ipindex.Entry{Prefix: fields[0], Label: fields[1]})
		default:
			return nil, fmt.Errorf("line %d: expected prefix and optional label: %w", line, types.ErrInvalidDocument)
		}
	}
	return entries, scanner.Err()
}
