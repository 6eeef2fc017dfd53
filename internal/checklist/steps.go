// ABOUTME: Static deployment step table loaded from TOML and validated at load time
// ABOUTME: Ids are contiguous from 0 and prerequisites must form a DAG

package checklist

import (
	_ "embed"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/BurntSushi/toml"
)

//go:embed steps.toml
var defaultSteps string

// Step is one deployment step.
type Step struct {
	ID       int    `toml:"id" json:"id"`
	Title    string `toml:"title" json:"title"`
	Category string `toml:"category" json:"category"`
	Requires []int  `toml:"requires" json:"requires,omitempty"`
}

// sequenceBlock appends Count steps of one category.
type sequenceBlock struct {
	Category string   `toml:"category"`
	Count    int      `toml:"count"`
	Chain    bool     `toml:"chain"`
	Titles   []string `toml:"titles"`
}

type tableFile struct {
	Sequences []sequenceBlock `toml:"sequence"`
	Steps     []Step          `toml:"step"`
}

// Table is an immutable, validated step table.
type Table struct {
	steps      []Step
	categories []string // first-appearance order
}

// DefaultTable returns the embedded 300-step table.
func DefaultTable() *Table {
	t, err := LoadTable(strings.NewReader(defaultSteps))
	if err != nil {
		panic(fmt.Sprintf("embedded step table is invalid: %v", err))
	}
	return t
}

// LoadTableFile reads a step table from disk.
func LoadTableFile(path string) (*Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening step table: %w", err)
	}
	defer f.Close()

	t, err := LoadTable(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return t, nil
}

// LoadTable decodes and validates a TOML step table.
func LoadTable(r io.Reader) (*Table, error) {
	var file tableFile
	md, err := toml.NewDecoder(r).Decode(&file)
	if err != nil {
		return nil, fmt.Errorf("parsing step table: %w", err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("unknown keys in step table: %v", undecoded)
	}

	var steps []Step
	for i, seq := range file.Sequences {
		if seq.Count <= 0 {
			return nil, fmt.Errorf("sequence %d (%s): count must be positive", i, seq.Category)
		}
		if len(seq.Titles) > seq.Count {
			return nil, fmt.Errorf("sequence %d (%s): %d titles for %d steps", i, seq.Category, len(seq.Titles), seq.Count)
		}
		for n := 0; n < seq.Count; n++ {
			id := len(steps)
			title := fmt.Sprintf("%s step %d", seq.Category, n+1)
			if n < len(seq.Titles) {
				title = seq.Titles[n]
			}
			step := Step{ID: id, Title: title, Category: seq.Category}
			if seq.Chain && id > 0 {
				step.Requires = []int{id - 1}
			}
			steps = append(steps, step)
		}
	}
	steps = append(steps, file.Steps...)

	return NewTable(steps)
}

// NewTable validates steps and builds a Table. Steps must be listed in id order.
func NewTable(steps []Step) (*Table, error) {
	if len(steps) == 0 {
		return nil, errors.New("step table is empty")
	}

	t := &Table{steps: make([]Step, len(steps))}
	seen := make(map[string]bool)
	for i, s := range steps {
		if s.ID != i {
			return nil, fmt.Errorf("step at position %d has id %d; ids must be contiguous from 0", i, s.ID)
		}
		if s.Title == "" {
			return nil, fmt.Errorf("step %d: title is required", s.ID)
		}
		if s.Category == "" {
			return nil, fmt.Errorf("step %d: category is required", s.ID)
		}
		for _, r := range s.Requires {
			if r == s.ID {
				return nil, fmt.Errorf("step %d requires itself", s.ID)
			}
			if r < 0 || r >= len(steps) {
				return nil, fmt.Errorf("step %d requires unknown step %d", s.ID, r)
			}
		}
		s.Requires = append([]int(nil), s.Requires...)
		t.steps[i] = s
		if !seen[s.Category] {
			seen[s.Category] = true
			t.categories = append(t.categories, s.Category)
		}
	}

	if cycle := t.findCycle(); cycle != nil {
		return nil, fmt.Errorf("step prerequisites form a cycle through %v", cycle)
	}
	return t, nil
}

// Len returns the number of steps.
func (t *Table) Len() int {
	return len(t.steps)
}

// Step returns the step with the given id.
func (t *Table) Step(id int) (Step, bool) {
	if id < 0 || id >= len(t.steps) {
		return Step{}, false
	}
	s := t.steps[id]
	s.Requires = append([]int(nil), s.Requires...)
	return s, true
}

// Steps returns a copy of every step in id order.
func (t *Table) Steps() []Step {
	out := make([]Step, len(t.steps))
	for i := range t.steps {
		out[i], _ = t.Step(i)
	}
	return out
}

// Categories returns category names in first-appearance order.
func (t *Table) Categories() []string {
	return append([]string(nil), t.categories...)
}

// findCycle runs Kahn's algorithm over requires edges and returns the ids left
// with unmet in-degree, or nil when the graph is acyclic.
func (t *Table) findCycle() []int {
	indeg := make([]int, len(t.steps))
	dependents := make([][]int, len(t.steps))
	for _, s := range t.steps {
		for _, r := range s.Requires {
			indeg[s.ID]++
			dependents[r] = append(dependents[r], s.ID)
		}
	}

	ready := make([]int, 0, len(t.steps))
	for id, d := range indeg {
		if d == 0 {
			ready = append(ready, id)
		}
	}

	visited := 0
	for len(ready) > 0 {
		id := ready[0]
		ready = ready[1:]
		visited++
		for _, dep := range dependents[id] {
			indeg[dep]--
			if indeg[dep] == 0 {
				ready = append(ready, dep)
			}
		}
	}
	if visited == len(t.steps) {
		return nil
	}

	var stuck []int
	for id, d := range indeg {
		if d > 0 {
			stuck = append(stuck, id)
		}
	}
	return stuck
}
