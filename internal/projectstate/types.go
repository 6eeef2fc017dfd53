// ABOUTME: ProjectState aggregate and the typed records carried alongside the checklist
// ABOUTME: JSON field names match the dashboard wire format (camelCase)

package projectstate

import "time"

// CurrentSchemaVersion is stamped on every write.
const CurrentSchemaVersion = 3

// DocumentKey is the single key the state is persisted under
const DocumentKey = "project_state"

// ProjectState is the single persisted aggregate.
// Revision, SchemaVersion and LastUpdated are owned by the Actor; values
// supplied by callers are ignored (Revision is only used as a precondition).
type ProjectState struct {
	SchemaVersion    int             `json:"schemaVersion"`
	Revision         uint64          `json:"revision"`
	Checklist        []bool          `json:"checklist"`
	Storage          Storage         `json:"storage"`
	VMs              []VM            `json:"vms"`
	HostStats        HostStats       `json:"hostStats"`
	APIConfig        APIConfig       `json:"apiConfig"`
	Nodes            []Node          `json:"nodes"`
	OrchestrationLog []LogEntry      `json:"orchestrationLog"`
	ActiveForgeJobs  []ForgeJob      `json:"activeForgeJobs"`
	CustomCodex      []CodexItem     `json:"customCodex"`
	EvolutionQueue   []EvolutionItem `json:"evolutionQueue"`
	LastUpdated      time.Time       `json:"lastUpdated"`
}

// Storage summarizes cluster storage
type Storage struct {
	TotalGB float64       `json:"totalGb"`
	UsedGB  float64       `json:"usedGb"`
	Pools   []StoragePool `json:"pools"`
}

// StoragePool is one storage backend (zfs, ceph, lvm, ...)
type StoragePool struct {
	Name   string  `json:"name"`
	Kind   string  `json:"kind"`
	SizeGB float64 `json:"sizeGb"`
	UsedGB float64 `json:"usedGb"`
}

// VM is a virtual machine known to the dashboard
type VM struct {
	ID       int    `json:"id"`
	Name     string `json:"name"`
	Node     string `json:"node"`
	Status   string `json:"status"` // running, stopped, paused
	CPUs     int    `json:"cpus"`
	MemoryMB int    `json:"memoryMb"`
}

// HostStats is the last host telemetry sample
type HostStats struct {
	CPUPercent    float64 `json:"cpuPercent"`
	MemoryPercent float64 `json:"memoryPercent"`
	UptimeSeconds int64   `json:"uptimeSeconds"`
	TemperatureC  float64 `json:"temperatureC"`
}

// APIConfig holds hypervisor API connection settings
type APIConfig struct {
	Endpoint  string `json:"endpoint"`
	TokenID   string `json:"tokenId"`
	VerifyTLS bool   `json:"verifyTls"`
}

// Node is a cluster member
type Node struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Role    string `json:"role"`
	Address string `json:"address"`
	Status  string `json:"status"`
}

// LogEntry is one orchestration log line
type LogEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Level     string    `json:"level"`
	Message   string    `json:"message"`
}

// ForgeJob is an in-flight provisioning job
type ForgeJob struct {
	ID        string    `json:"id"`
	Target    string    `json:"target"`
	Status    string    `json:"status"`
	Progress  int       `json:"progress"` // 0-100
	StartedAt time.Time `json:"startedAt"`
}

// CodexItem is a knowledge-base entry. The static catalog ships a fixed set;
// callers may append custom items which are persisted in ProjectState.
type CodexItem struct {
	ID              string `json:"id"`
	Category        string `json:"category"`
	Title           string `json:"title"`
	Description     string `json:"description"`
	DescriptionHTML string `json:"descriptionHtml,omitempty"`
	Complexity      string `json:"complexity"`
	IsUnlocked      *bool  `json:"isUnlocked,omitempty"`
}

// EvolutionItem is a queued improvement proposal
type EvolutionItem struct {
	ID       string `json:"id"`
	Title    string `json:"title"`
	Status   string `json:"status"`
	Priority string `json:"priority"`
}

// Clone returns a deep copy so callers never share slices with the actor.
func (s *ProjectState) Clone() *ProjectState {
	if s == nil {
		return nil
	}
	c := *s
	c.Checklist = append([]bool(nil), s.Checklist...)
	c.Storage.Pools = append([]StoragePool(nil), s.Storage.Pools...)
	c.VMs = append([]VM(nil), s.VMs...)
	c.Nodes = append([]Node(nil), s.Nodes...)
	c.OrchestrationLog = append([]LogEntry(nil), s.OrchestrationLog...)
	c.ActiveForgeJobs = append([]ForgeJob(nil), s.ActiveForgeJobs...)
	c.CustomCodex = make([]CodexItem, len(s.CustomCodex))
	for i, item := range s.CustomCodex {
		if item.IsUnlocked != nil {
			v := *item.IsUnlocked
			item.IsUnlocked = &v
		}
		c.CustomCodex[i] = item
	}
	c.EvolutionQueue = append([]EvolutionItem(nil), s.EvolutionQueue...)
	normalizeCollections(&c)
	return &c
}

// Completed counts true checklist entries.
func (s *ProjectState) Completed() int {
	n := 0
	for _, done := range s.Checklist {
		if done {
			n++
		}
	}
	return n
}
