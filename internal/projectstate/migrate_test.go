// ABOUTME: Tests for schema migrations applied when decoding stored documents
// ABOUTME: Each version boundary is checked against a hand-written document of that era

package projectstate

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecode_Version1Document(t *testing.T) {
	s, err := Decode([]byte(`{"checklist":[true]}`), 4)
	require.NoError(t, err)

	assert.Equal(t, CurrentSchemaVersion, s.SchemaVersion)
	assert.Equal(t, []bool{true, false, false, false}, s.Checklist)
	assert.Equal(t, DefaultNodes(), s.Nodes)
	assert.Empty(t, s.OrchestrationLog)
	assert.NotNil(t, s.OrchestrationLog)
	assert.NotNil(t, s.EvolutionQueue)
}

func TestDecode_Version2KeepsExistingNodes(t *testing.T) {
	doc := `{"schemaVersion":2,"checklist":[false,false],"nodes":[{"id":"n9","name":"solo"}],"orchestrationLog":[]}`
	s, err := Decode([]byte(doc), 2)
	require.NoError(t, err)

	require.Len(t, s.Nodes, 1)
	assert.Equal(t, "n9", s.Nodes[0].ID)
	assert.NotNil(t, s.ActiveForgeJobs)
	assert.NotNil(t, s.CustomCodex)
	assert.Equal(t, CurrentSchemaVersion, s.SchemaVersion)
}

func TestDecode_ExplicitEmptyNodesAreKept(t *testing.T) {
	s, err := Decode([]byte(`{"checklist":[],"nodes":[]}`), 1)
	require.NoError(t, err)
	assert.Empty(t, s.Nodes, "an explicitly empty collection is not replaced by defaults")
}

func TestDecode_CurrentDocumentUnchanged(t *testing.T) {
	orig := Default(3, time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC))
	orig.Revision = 42
	body, err := json.Marshal(orig)
	require.NoError(t, err)

	s, err := Decode(body, 3)
	require.NoError(t, err)
	assert.Equal(t, orig, s)
}

func TestDecode_NeverTruncatesChecklist(t *testing.T) {
	s, err := Decode([]byte(`{"checklist":[true,true,true,true,true]}`), 3)
	require.NoError(t, err)
	assert.Len(t, s.Checklist, 5)
}

func TestDecode_NullCollectionsBecomeEmpty(t *testing.T) {
	doc := `{"schemaVersion":3,"checklist":null,"vms":null,"customCodex":null,"storage":{"pools":null}}`
	s, err := Decode([]byte(doc), 0)
	require.NoError(t, err)

	assert.NotNil(t, s.Checklist)
	assert.NotNil(t, s.VMs)
	assert.NotNil(t, s.CustomCodex)
	assert.NotNil(t, s.Storage.Pools)

	out, err := json.Marshal(s)
	require.NoError(t, err)
	assert.NotContains(t, string(out), "null")
}

func TestDecode_RejectsFutureVersion(t *testing.T) {
	_, err := Decode([]byte(`{"schemaVersion":99}`), 1)
	assert.Error(t, err)
}

func TestDecode_RejectsGarbage(t *testing.T) {
	_, err := Decode([]byte(`not json`), 1)
	assert.Error(t, err)
}

func TestMigrations_AreContiguous(t *testing.T) {
	for i, m := range migrations {
		assert.Equal(t, i+1, m.from, "migration %s out of order", m.name)
	}
	assert.Equal(t, CurrentSchemaVersion, migrations[len(migrations)-1].from+1)
}

func TestClone_IsDeep(t *testing.T) {
	unlocked := true
	s := Default(2, time.Now())
	s.CustomCodex = []CodexItem{{ID: "a", IsUnlocked: &unlocked}}

	c := s.Clone()
	c.Checklist[0] = true
	c.Nodes[0].Name = "changed"
	*c.CustomCodex[0].IsUnlocked = false

	assert.False(t, s.Checklist[0])
	assert.NotEqual(t, "changed", s.Nodes[0].Name)
	assert.True(t, *s.CustomCodex[0].IsUnlocked)
}
