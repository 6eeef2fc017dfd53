// ABOUTME: Default project state used when the store is empty
// ABOUTME: Also the source of default collections back-filled by migrations

package projectstate

import "time"

// Default builds the record created on first read of an empty store.
func Default(stepCount int, now time.Time) *ProjectState {
	return &ProjectState{
		SchemaVersion: CurrentSchemaVersion,
		Checklist:     make([]bool, stepCount),
		Storage: Storage{
			TotalGB: 4096,
			UsedGB:  0,
			Pools: []StoragePool{
				{Name: "local-zfs", Kind: "zfs", SizeGB: 2048},
				{Name: "ceph-pool", Kind: "ceph", SizeGB: 2048},
			},
		},
		VMs:       DefaultVMs(),
		HostStats: HostStats{},
		APIConfig: APIConfig{
			Endpoint:  "https://localhost:8006/api2/json",
			VerifyTLS: true,
		},
		Nodes:            DefaultNodes(),
		OrchestrationLog: []LogEntry{},
		ActiveForgeJobs:  []ForgeJob{},
		CustomCodex:      []CodexItem{},
		EvolutionQueue:   []EvolutionItem{},
		LastUpdated:      now,
	}
}

// DefaultVMs is the VM inventory shipped with a new record
func DefaultVMs() []VM {
	return []VM{
		{ID: 100, Name: "gateway", Node: "forge-01", Status: "stopped", CPUs: 2, MemoryMB: 2048},
		{ID: 101, Name: "control-plane", Node: "forge-01", Status: "stopped", CPUs: 4, MemoryMB: 8192},
		{ID: 102, Name: "worker-a", Node: "forge-02", Status: "stopped", CPUs: 8, MemoryMB: 16384},
		{ID: 103, Name: "worker-b", Node: "forge-03", Status: "stopped", CPUs: 8, MemoryMB: 16384},
	}
}

// DefaultNodes is the cluster membership shipped with a new record
func DefaultNodes() []Node {
	return []Node{
		{ID: "node-1", Name: "forge-01", Role: "primary", Address: "10.0.0.11", Status: "offline"},
		{ID: "node-2", Name: "forge-02", Role: "worker", Address: "10.0.0.12", Status: "offline"},
		{ID: "node-3", Name: "forge-03", Role: "worker", Address: "10.0.0.13", Status: "offline"},
	}
}
