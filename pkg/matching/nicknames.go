package matching

import (
	_ "embed"
	"fmt"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

//go:embed nicknames.yaml
var defaultNicknamesYAML []byte

type nicknameFile struct {
	Groups [][]string `yaml:"groups"`
}

// NicknameTable resolves given-name variants ("bob" ↔ "robert"). A name may
// belong to several groups ("al" is short for albert, alan and alexander).
type NicknameTable struct {
	groups [][]string
	byName map[string][]int
}

var (
	defaultTable     *NicknameTable
	defaultTableErr  error
	defaultTableOnce sync.Once
)

// DefaultNicknames returns the built-in table
func DefaultNicknames() (*NicknameTable, error) {
	defaultTableOnce.Do(func() {
		defaultTable, defaultTableErr = ParseNicknames(defaultNicknamesYAML)
	})
	return defaultTable, defaultTableErr
}

// ParseNicknames reads a YAML document of the form `groups: [[robert, bob], ...]`
func ParseNicknames(data []byte) (*NicknameTable, error) {
	var file nicknameFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse nickname table: %w", err)
	}
	return NewNicknameTable(file.Groups), nil
}

// NewNicknameTable builds a table from groups; the first entry of each group is canonical
func NewNicknameTable(groups [][]string) *NicknameTable {
	t := &NicknameTable{byName: map[string][]int{}}
	for _, group := range groups {
		t.addGroup(group)
	}
	return t
}

func (t *NicknameTable) addGroup(group []string) {
	cleaned := make([]string, 0, len(group))
	seen := map[string]bool{}
	for _, name := range group {
		name = strings.ToLower(strings.TrimSpace(name))
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true
		cleaned = append(cleaned, name)
	}
	if len(cleaned) < 2 {
		return
	}

	idx := len(t.groups)
	t.groups = append(t.groups, cleaned)
	for _, name := range cleaned {
		t.byName[name] = append(t.byName[name], idx)
	}
}

// With returns a copy of the table extended by canonical → variants entries
func (t *NicknameTable) With(extra map[string][]string) *NicknameTable {
	out := &NicknameTable{byName: map[string][]int{}}
	for _, g := range t.groups {
		out.addGroup(g)
	}

	canonicals := make([]string, 0, len(extra))
	for canonical := range extra {
		canonicals = append(canonicals, canonical)
	}
	sort.Strings(canonicals)
	for _, canonical := range canonicals {
		out.addGroup(append([]string{canonical}, extra[canonical]...))
	}
	return out
}

// Equivalent reports whether two normalized names share a nickname group
func (t *NicknameTable) Equivalent(a, b string) bool {
	if a == "" || b == "" {
		return false
	}
	if a == b {
		return true
	}
	for _, ga := range t.byName[a] {
		for _, gb := range t.byName[b] {
			if ga == gb {
				return true
			}
		}
	}
	return false
}

// Canonicals returns the canonical forms for a name, or the name itself when it
// is not in the table
func (t *NicknameTable) Canonicals(name string) []string {
	idxs := t.byName[name]
	if len(idxs) == 0 {
		return []string{name}
	}
	out := make([]string, 0, len(idxs))
	for _, idx := range idxs {
		out = append(out, t.groups[idx][0])
	}
	return out
}

// Len is the number of groups
func (t *NicknameTable) Len() int {
	return len(t.groups)
}
