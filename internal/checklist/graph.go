// ABOUTME: Pure lock, progress and grouping queries over a checklist and a step table
// ABOUTME: No state and no I/O; safe for concurrent use

package checklist

// Graph evaluates step lock status against checklist snapshots.
type Graph struct {
	table *Table
}

// NewGraph wraps a validated table.
func NewGraph(table *Table) *Graph {
	return &Graph{table: table}
}

// Table returns the underlying step table
func (g *Graph) Table() *Table {
	return g.table
}

// IsLocked reports whether stepID cannot be completed yet. A step without
// prerequisites is never locked. Unknown ids, self references and
// prerequisites outside the checklist are never satisfiable.
func (g *Graph) IsLocked(checklist []bool, stepID int) bool {
	step, ok := g.table.Step(stepID)
	if !ok {
		return true
	}
	for _, r := range step.Requires {
		if r == stepID || r < 0 || r >= len(checklist) || !checklist[r] {
			return true
		}
	}
	return false
}

// Blockers returns the prerequisites of stepID that are not complete, in
// table order. An unknown step reports itself as its own blocker.
func (g *Graph) Blockers(checklist []bool, stepID int) []int {
	step, ok := g.table.Step(stepID)
	if !ok {
		return []int{stepID}
	}
	var blocked []int
	for _, r := range step.Requires {
		if r == stepID || r < 0 || r >= len(checklist) || !checklist[r] {
			blocked = append(blocked, r)
		}
	}
	return blocked
}

// Progress counts completed entries against the checklist length.
func Progress(checklist []bool) (completed, total int) {
	for _, done := range checklist {
		if done {
			completed++
		}
	}
	return completed, len(checklist)
}

// CategoryGroup is the ordered set of steps in one category.
type CategoryGroup struct {
	Category string `json:"category"`
	Steps    []Step `json:"steps"`
}

// GroupByCategory groups the step table by category. Categories keep their
// first-appearance order and steps keep table order.
func (g *Graph) GroupByCategory() []CategoryGroup {
	index := make(map[string]int)
	var groups []CategoryGroup
	for _, s := range g.table.Steps() {
		i, ok := index[s.Category]
		if !ok {
			i = len(groups)
			index[s.Category] = i
			groups = append(groups, CategoryGroup{Category: s.Category})
		}
		groups[i].Steps = append(groups[i].Steps, s)
	}
	return groups
}

// StepView is one step as presented to a viewer.
type StepView struct {
	ID        int    `json:"id"`
	Title     string `json:"title"`
	Category  string `json:"category"`
	Done      bool   `json:"done"`
	Locked    bool   `json:"locked"`
	BlockedBy []int  `json:"blockedBy,omitempty"`
}

// CategoryView is a category with its own progress.
type CategoryView struct {
	Category  string     `json:"category"`
	Completed int        `json:"completed"`
	Total     int        `json:"total"`
	Steps     []StepView `json:"steps"`
}

// View is the derived lock/progress view of a checklist.
type View struct {
	Completed  int            `json:"completed"`
	Total      int            `json:"total"`
	Percent    float64        `json:"percent"`
	Categories []CategoryView `json:"categories"`
}

// Evaluate derives the full view for a checklist snapshot.
func (g *Graph) Evaluate(checklist []bool) View {
	completed, total := Progress(checklist)
	v := View{Completed: completed, Total: total}
	if total > 0 {
		v.Percent = float64(completed) * 100 / float64(total)
	}

	for _, group := range g.GroupByCategory() {
		cv := CategoryView{Category: group.Category, Total: len(group.Steps)}
		for _, s := range group.Steps {
			done := s.ID < len(checklist) && checklist[s.ID]
			if done {
				cv.Completed++
			}
			sv := StepView{
				ID:       s.ID,
				Title:    s.Title,
				Category: s.Category,
				Done:     done,
			}
			if g.IsLocked(checklist, s.ID) {
				sv.Locked = true
				sv.BlockedBy = g.Blockers(checklist, s.ID)
			}
			cv.Steps = append(cv.Steps, sv)
		}
		v.Categories = append(v.Categories, cv)
	}
	return v
}
