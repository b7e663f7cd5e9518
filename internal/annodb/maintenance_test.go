package annodb

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestMaintenance_ReconcilesRecordCounts(t *testing.T) {
	m := newTestManager(t)

	res, err := m.ImportReader(strings.NewReader(clinvarCSV), ImportOptions{
		Name:       "clinvar",
		SchemaName: "clinvar",
	})
	require.NoError(t, err)
	require.True(t, res.Success)

	// Desync the persisted count from the stored records.
	db, err := m.Get(res.DatabaseID)
	require.NoError(t, err)
	db.Meta.RecordCount = 999
	require.NoError(t, m.store.SaveDatabase(db))

	require.NoError(t, m.StartMaintenance(10*time.Millisecond))
	defer m.StopMaintenance()

	require.Eventually(t, func() bool {
		db, err := m.Get(res.DatabaseID)
		return err == nil && db.Meta.RecordCount == res.Imported
	}, 2*time.Second, 5*time.Millisecond)
}

func TestMaintenance_RestartAndStop(t *testing.T) {
	m := newTestManager(t)

	require.NoError(t, m.StartMaintenance(time.Minute))
	// A second start replaces the running schedule instead of stacking one.
	require.NoError(t, m.StartMaintenance(time.Minute))
	require.NotNil(t, m.maint)

	m.StopMaintenance()
	require.Nil(t, m.maint)
	m.StopMaintenance() // idempotent
}
