package speciesync

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func logEntry(version int64, entityType string, id int64, op Operation) ChangelogEntry {
	return ChangelogEntry{ID: version, EntityType: entityType, EntityID: &id, Operation: op, Version: version}
}

func speciesChanges(n int) []ChangelogEntry {
	out := make([]ChangelogEntry, 0, n)
	for i := 1; i <= n; i++ {
		out = append(out, logEntry(int64(i), EntitySpecies, int64(i), OpCreate))
	}
	return out
}

func TestDecide_UpToDateWhenNothingNewer(t *testing.T) {
	d := decide(nil, 7, 7, DefaultChangeThreshold)
	assert.Equal(t, DecisionUpToDate, d.Kind)
	assert.Equal(t, int64(7), d.LatestVersion)

	resp := d.ChangesResponse()
	assert.True(t, resp.UpToDate)
	require.NotNil(t, resp.RowCount)
	assert.Equal(t, 0, *resp.RowCount)
}

func TestDecide_ThresholdBoundary(t *testing.T) {
	at := decide(speciesChanges(20), 0, 20, 20)
	assert.Equal(t, DecisionIncremental, at.Kind)
	assert.Equal(t, 20, at.ChangeCount)

	over := decide(speciesChanges(21), 0, 21, 20)
	assert.Equal(t, DecisionForceBundle, over.Kind)
	assert.Equal(t, ReasonThreshold, over.Reason)
	assert.Equal(t, 21, over.ChangeCount)

	resp := over.ChangesResponse()
	assert.True(t, resp.ForceBundle)
	require.NotNil(t, resp.ChangeCount)
	assert.Equal(t, 21, *resp.ChangeCount)
	assert.Nil(t, resp.RowCount)
}

func TestDecide_RepeatedChangesCountOnce(t *testing.T) {
	entries := []ChangelogEntry{
		logEntry(4, EntitySpecies, 1, OpUpdate),
		logEntry(5, EntitySpecies, 1, OpUpdate),
		logEntry(6, EntityMedia, 1, OpCreate),
		logEntry(7, EntitySpecies, 1, OpDelete),
	}
	d := decide(entries, 3, 7, 2)
	require.Equal(t, DecisionIncremental, d.Kind)
	assert.Equal(t, 2, d.ChangeCount)
	assert.Equal(t, []ChangedEntity{
		{EntityRef: EntityRef{EntityType: EntityMedia, EntityID: 1}, Version: 6},
		{EntityRef: EntityRef{EntityType: EntitySpecies, EntityID: 1}, Version: 7},
	}, d.Changed)
}

func TestDecide_ClientAhead(t *testing.T) {
	d := decide(nil, 10, 4, DefaultChangeThreshold)
	assert.Equal(t, DecisionForceBundle, d.Kind)
	assert.Equal(t, ReasonClientAhead, d.Reason)
	assert.Equal(t, int64(4), d.LatestVersion)
}

func TestDecide_UserChangesOnlyAdvanceVersion(t *testing.T) {
	entries := []ChangelogEntry{
		logEntry(3, EntityUsers, 1, OpCreate),
		logEntry(4, EntityUsers, 2, OpUpdate),
	}
	d := decide(entries, 2, 4, DefaultChangeThreshold)
	assert.Equal(t, DecisionUpToDate, d.Kind)
	assert.Equal(t, int64(4), d.LatestVersion)
}

func TestDecide_BulkInsertForcesBundle(t *testing.T) {
	entries := []ChangelogEntry{
		logEntry(2, EntitySpecies, 9, OpUpdate),
		{ID: 3, EntityType: EntitySpecies, Operation: OpBulkInsert, Version: 3, Detail: "50 rows"},
	}
	d := decide(entries, 1, 3, DefaultChangeThreshold)
	assert.Equal(t, DecisionForceBundle, d.Kind)
	assert.Equal(t, ReasonBulkInsert, d.Reason)
}

func TestDecide_SameInputSameDecision(t *testing.T) {
	entries := speciesChanges(5)
	first := decide(entries, 0, 5, 10)
	second := decide(entries, 0, 5, 10)
	assert.Equal(t, first, second)
}

func TestValidateSince(t *testing.T) {
	require.NoError(t, validateSince(0))
	var ve *ValidationError
	require.ErrorAs(t, validateSince(-1), &ve)
	assert.Equal(t, []string{"since_version"}, ve.Fields)
}
