package rules

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/solatis/ideafilter/internal/types"
)

func mustRecord(t *testing.T, data string) types.Record {
	t.Helper()
	r, err := DecodeRecord([]byte(data))
	if err != nil {
		t.Fatalf("DecodeRecord(%s): %v", data, err)
	}
	return r
}

const sampleIdea = `{
	"ID": "e214d2d9-359b-443d-993d-3cc5637107a0",
	"Category": ["Attempt.Login", "Test"],
	"ConnCount": 2,
	"Source": [
		{"IP4": ["188.14.166.39", "10.0.0.1"], "Port": [22]},
		{"IP4": ["192.168.1.1"], "Type": ["Botnet"]}
	],
	"Node": [{"Name": "cz.example.kippo"}]
}`

func TestParsePath(t *testing.T) {
	tests := []struct {
		input   string
		want    string
		wantErr error
	}{
		{input: "ID", want: "ID"},
		{input: "Source[1].IP4[*]", want: "Source[1].IP4[*]"},
		{input: "Source[#].Port", want: "Source[#].Port"},
		{input: "_private.x_1", want: "_private.x_1"},
		{input: "", wantErr: types.ErrPathSyntax},
		{input: "Source[0]", wantErr: types.ErrPathSyntax},
		{input: "Source[-1]", wantErr: types.ErrPathSyntax},
		{input: "1abc", wantErr: types.ErrPathSyntax},
		{input: "a..b", wantErr: types.ErrPathSyntax},
		{input: "a[x]", wantErr: types.ErrPathSyntax},
		{input: strings.Repeat("a.", types.MaxPathDepth) + "a", wantErr: types.ErrPathTooDeep},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			p, err := ParsePath(tt.input)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("ParsePath(%q) error = %v, want %v", tt.input, err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParsePath(%q): %v", tt.input, err)
			}
			if p.String() != tt.want {
				t.Errorf("String() = %q, want %q", p.String(), tt.want)
			}
		})
	}
}

func TestParsePath_IndexForms(t *testing.T) {
	p := MustParsePath("A[3].B[#].C[*].D")
	want := types.Path{
		{Name: "A", Kind: types.IndexPosition, Index: 2},
		{Name: "B", Kind: types.IndexLast},
		{Name: "C", Kind: types.IndexAll},
		{Name: "D", Kind: types.IndexNone},
	}
	if !reflect.DeepEqual(p, want) {
		t.Fatalf("ParsePath = %#v, want %#v", p, want)
	}
	if p.Stripped() != "A.B.C.D" {
		t.Errorf("Stripped() = %q", p.Stripped())
	}
}

func TestValues(t *testing.T) {
	record := mustRecord(t, sampleIdea)

	tests := []struct {
		path string
		want []any
	}{
		{path: "ID", want: []any{"e214d2d9-359b-443d-993d-3cc5637107a0"}},
		{path: "Category", want: []any{"Attempt.Login", "Test"}},
		{path: "Category[1]", want: []any{"Attempt.Login"}},
		{path: "Category[#]", want: []any{"Test"}},
		{path: "Category[3]", want: []any{}},
		{path: "ConnCount", want: []any{int64(2)}},
		{path: "Source.IP4", want: []any{"188.14.166.39", "10.0.0.1", "192.168.1.1"}},
		{path: "Source[2].IP4", want: []any{"192.168.1.1"}},
		{path: "Source[*].IP4[1]", want: []any{"188.14.166.39", "192.168.1.1"}},
		{path: "Source[#].Type", want: []any{"Botnet"}},
		{path: "Source.Type", want: []any{"Botnet"}},
		{path: "Missing", want: []any{}},
		{path: "ID.Sub", want: []any{}},
		{path: "ConnCount[1]", want: []any{}},
		{path: "Node.Name", want: []any{"cz.example.kippo"}},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			got := Values(record, MustParsePath(tt.path))
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Values(%s) = %#v, want %#v", tt.path, got, tt.want)
			}
		})
	}
}

func TestFirstAndExists(t *testing.T) {
	record := mustRecord(t, `{"A": null, "B": [null, 1], "C": 0, "D": []}`)

	tests := []struct {
		path   string
		first  any
		exists bool
	}{
		{path: "A", first: nil, exists: false},
		{path: "B", first: nil, exists: false},
		{path: "B[2]", first: int64(1), exists: true},
		{path: "C", first: int64(0), exists: true},
		{path: "D", first: nil, exists: false},
		{path: "E", first: nil, exists: false},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			p := MustParsePath(tt.path)
			if got := First(record, p); got != tt.first {
				t.Errorf("First(%s) = %#v, want %#v", tt.path, got, tt.first)
			}
			if got := Exists(record, p); got != tt.exists {
				t.Errorf("Exists(%s) = %v, want %v", tt.path, got, tt.exists)
			}
		})
	}
}

func TestSet(t *testing.T) {
	tests := []struct {
		name    string
		data    string
		path    string
		value   any
		opts    SetOptions
		result  SetResult
		want    string
		wantErr error
	}{
		{
			name:   "new top level key",
			data:   `{}`,
			path:   "Note",
			value:  "x",
			opts:   DefaultSetOptions,
			result: SetDone,
			want:   `{"Note":"x"}`,
		},
		{
			name:   "creates intermediate mappings",
			data:   `{}`,
			path:   "_Mentat.Tags",
			value:  "seen",
			opts:   DefaultSetOptions,
			result: SetDone,
			want:   `{"_Mentat":{"Tags":"seen"}}`,
		},
		{
			name:   "overwrite off keeps value",
			data:   `{"Note":"old"}`,
			path:   "Note",
			value:  "new",
			opts:   SetOptions{},
			result: SetExists,
			want:   `{"Note":"old"}`,
		},
		{
			name:   "overwrite replaces value",
			data:   `{"Note":"old"}`,
			path:   "Note",
			value:  "new",
			opts:   DefaultSetOptions,
			result: SetDone,
			want:   `{"Note":"new"}`,
		},
		{
			name:   "wildcard appends",
			data:   `{"Tags":["a"]}`,
			path:   "Tags[*]",
			value:  "b",
			opts:   DefaultSetOptions,
			result: SetDone,
			want:   `{"Tags":["a","b"]}`,
		},
		{
			name:   "unique rejects duplicate",
			data:   `{"Tags":["a"]}`,
			path:   "Tags[*]",
			value:  "a",
			opts:   SetOptions{Overwrite: true, Unique: true},
			result: SetDuplicate,
			want:   `{"Tags":["a"]}`,
		},
		{
			name:   "position one past the end appends",
			data:   `{"Tags":["a"]}`,
			path:   "Tags[2]",
			value:  "b",
			opts:   DefaultSetOptions,
			result: SetDone,
			want:   `{"Tags":["a","b"]}`,
		},
		{
			name:   "position overwrites",
			data:   `{"Tags":["a","b"]}`,
			path:   "Tags[1]",
			value:  "z",
			opts:   DefaultSetOptions,
			result: SetDone,
			want:   `{"Tags":["z","b"]}`,
		},
		{
			name:   "last on empty list appends",
			data:   `{}`,
			path:   "Tags[#]",
			value:  "a",
			opts:   DefaultSetOptions,
			result: SetDone,
			want:   `{"Tags":["a"]}`,
		},
		{
			name:   "indexed intermediate creates list of mappings",
			data:   `{}`,
			path:   "Source[1].IP4",
			value:  "10.0.0.1",
			opts:   DefaultSetOptions,
			result: SetDone,
			want:   `{"Source":[{"IP4":"10.0.0.1"}]}`,
		},
		{
			name:   "walks into existing list element",
			data:   `{"Source":[{"IP4":["1.1.1.1"]}]}`,
			path:   "Source[#].Note",
			value:  "n",
			opts:   DefaultSetOptions,
			result: SetDone,
			want:   `{"Source":[{"IP4":["1.1.1.1"],"Note":"n"}]}`,
		},
		{
			name:    "child under scalar",
			data:    `{"ID":"x"}`,
			path:    "ID.Sub",
			value:   1,
			opts:    DefaultSetOptions,
			wantErr: types.ErrStructureMismatch,
		},
		{
			name:    "index into mapping",
			data:    `{"Node":{"Name":"a"}}`,
			path:    "Node[1]",
			value:   1,
			opts:    DefaultSetOptions,
			wantErr: types.ErrStructureMismatch,
		},
		{
			name:    "mapping step over list",
			data:    `{"Source":[{"IP4":"1.1.1.1"}]}`,
			path:    "Source.IP4",
			value:   1,
			opts:    DefaultSetOptions,
			wantErr: types.ErrStructureMismatch,
		},
		{
			name:    "position beyond end",
			data:    `{"Tags":["a"]}`,
			path:    "Tags[3]",
			value:   "c",
			opts:    DefaultSetOptions,
			wantErr: types.ErrStructureMismatch,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			record := mustRecord(t, tt.data)
			res, err := Set(record, MustParsePath(tt.path), tt.value, tt.opts)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("Set() error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("Set() unexpected error: %v", err)
			}
			if res != tt.result {
				t.Errorf("Set() result = %v, want %v", res, tt.result)
			}
			want := mustRecord(t, tt.want)
			if !equalValues(record, want) {
				t.Errorf("record = %#v, want %#v", record, want)
			}
		})
	}
}

// Property: Exists holds exactly when Values is non-empty with a non-null head.
func TestExists_MatchesValues_Property(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	records := []string{
		sampleIdea,
		`{"A": null, "B": [null, 1], "C": {"D": [{"E": 0}, {"E": null}]}}`,
		`{"Source": [], "Target": [{"IP4": []}]}`,
	}
	paths := []string{
		"ID", "A", "B", "B[1]", "B[2]", "B[#]", "C.D.E", "C.D[2].E", "C.D[*].E",
		"Source.IP4", "Source[2].IP4[#]", "Target.IP4", "Category[*]", "Missing.X",
	}

	properties.Property("exists iff non-empty with non-null head", prop.ForAll(
		func(ri, pi int) bool {
			record, err := DecodeRecord([]byte(records[ri]))
			if err != nil {
				return false
			}
			p := MustParsePath(paths[pi])
			vals := Values(record, p)
			want := len(vals) > 0 && vals[0] != nil
			return Exists(record, p) == want
		},
		gen.IntRange(0, len(records)-1), gen.IntRange(0, len(paths)-1),
	))

	properties.TestingRun(t)
}

// Property: a value written with Set is read back as the head of Values.
func TestSetThenFirst_Property(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("set then first round-trips", prop.ForAll(
		func(names []string, value int64) bool {
			path := MustParsePath(strings.Join(names, "."))
			record := types.Record{}
			if _, err := Set(record, path, value, DefaultSetOptions); err != nil {
				return false
			}
			return First(record, path) == value
		},
		gen.SliceOfN(3, gen.Identifier()),
		gen.Int64(),
	))

	properties.Property("rendered paths parse back", prop.ForAll(
		func(name string, k int) bool {
			s := fmt.Sprintf("%s[%d].%s[#].%s[*]", name, k, name, name)
			p, err := ParsePath(s)
			return err == nil && p.String() == s
		},
		gen.Identifier(),
		gen.IntRange(1, 50),
	))

	properties.TestingRun(t)
}
