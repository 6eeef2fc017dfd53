// ABOUTME: Versioned read-time migrations for persisted project state documents
// ABOUTME: Migrations run in memory only; the upgraded shape is written by the next commit

package projectstate

import (
	"encoding/json"
	"fmt"
)

// migration upgrades a decoded document from version `from` to from+1.
type migration struct {
	from  int
	name  string
	apply func(s *ProjectState)
}

// migrations are applied in order. Documents written before versioning
// existed carry no schemaVersion and are treated as version 1.
var migrations = []migration{
	{
		from: 1,
		name: "add_nodes_and_orchestration_log",
		apply: func(s *ProjectState) {
			if s.Nodes == nil {
				s.Nodes = DefaultNodes()
			}
			if s.OrchestrationLog == nil {
				s.OrchestrationLog = []LogEntry{}
			}
		},
	},
	{
		from: 2,
		name: "add_forge_jobs_codex_and_evolution",
		apply: func(s *ProjectState) {
			if s.ActiveForgeJobs == nil {
				s.ActiveForgeJobs = []ForgeJob{}
			}
			if s.CustomCodex == nil {
				s.CustomCodex = []CodexItem{}
			}
			if s.EvolutionQueue == nil {
				s.EvolutionQueue = []EvolutionItem{}
			}
		},
	},
}

// Decode parses a stored document and brings it to CurrentSchemaVersion.
// The checklist is padded with false up to stepCount and never truncated.
func Decode(body []byte, stepCount int) (*ProjectState, error) {
	var s ProjectState
	if err := json.Unmarshal(body, &s); err != nil {
		return nil, fmt.Errorf("decoding project state: %w", err)
	}
	if s.SchemaVersion > CurrentSchemaVersion {
		return nil, fmt.Errorf("document schema version %d is newer than supported %d", s.SchemaVersion, CurrentSchemaVersion)
	}
	Migrate(&s)
	padChecklist(&s, stepCount)
	return &s, nil
}

// Migrate applies every migration newer than the document's version.
func Migrate(s *ProjectState) {
	version := s.SchemaVersion
	if version < 1 {
		version = 1
	}
	for _, m := range migrations {
		if m.from < version {
			continue
		}
		m.apply(s)
		version = m.from + 1
	}
	s.SchemaVersion = version
	normalizeCollections(s)
}

// normalizeCollections replaces nil slices with empty ones so the JSON form
// never carries null for a collection.
func normalizeCollections(s *ProjectState) {
	if s.Checklist == nil {
		s.Checklist = []bool{}
	}
	if s.Storage.Pools == nil {
		s.Storage.Pools = []StoragePool{}
	}
	if s.VMs == nil {
		s.VMs = []VM{}
	}
	if s.Nodes == nil {
		s.Nodes = []Node{}
	}
	if s.OrchestrationLog == nil {
		s.OrchestrationLog = []LogEntry{}
	}
	if s.ActiveForgeJobs == nil {
		s.ActiveForgeJobs = []ForgeJob{}
	}
	if s.CustomCodex == nil {
		s.CustomCodex = []CodexItem{}
	}
	if s.EvolutionQueue == nil {
		s.EvolutionQueue = []EvolutionItem{}
	}
}

func padChecklist(s *ProjectState, stepCount int) {
	if len(s.Checklist) >= stepCount {
		return
	}
	padded := make([]bool, stepCount)
	copy(padded, s.Checklist)
	s.Checklist = padded
}
