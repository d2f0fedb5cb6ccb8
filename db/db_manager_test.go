package db_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"playerident/db"
	"playerident/internal/metrics"
	"playerident/internal/testutils"
	"playerident/models"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDBManagerWritesInOrder(t *testing.T) {
	repo := testutils.SetupTestRepositoryFactory(t).NewIdentityRepository()
	m := metrics.New(prometheus.NewRegistry())
	mgr := db.NewDBManager(repo, 4, m)
	defer mgr.Stop()
	id := uuid.New()

	mgr.Enqueue(db.InsertIdentity(id, "Alice", models.EmptyIPList, 1, 1))
	for i := 0; i < 20; i++ {
		mgr.Enqueue(db.UpdateIPList(id, "10.0.0.1", int64(i+2)))
	}
	mgr.Enqueue(db.UpdateName(id, "Alicia", 30))
	require.NoError(t, mgr.Execute(context.Background()))

	row, err := repo.FindByID(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, "Alicia", row.Name)
	assert.Equal(t, int64(21), row.IPListUpdatedAt)
	assert.Equal(t, float64(22), testutil.ToFloat64(m.WriteBatches.WithLabelValues("ok")))
	assert.Equal(t, float64(0), testutil.ToFloat64(m.QueuedWrites))
}

func TestDBManagerExecuteReportsErrors(t *testing.T) {
	repo := testutils.SetupTestRepositoryFactory(t).NewIdentityRepository()
	mgr := db.NewDBManager(repo, 0, nil)
	defer mgr.Stop()

	err := mgr.Execute(context.Background(), db.Statement{Query: "UPDATE nowhere SET x = 1"})
	assert.Error(t, err)
}

func TestDBManagerStopDrainsQueue(t *testing.T) {
	repo := testutils.SetupTestRepositoryFactory(t).NewIdentityRepository()
	mgr := db.NewDBManager(repo, 2, nil)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			mgr.Enqueue(testutils.InsertStatement(testutils.CreateTestIdentityRow("p")))
		}()
	}
	wg.Wait()
	mgr.Stop()

	rows, err := repo.FindAll(context.Background())
	require.NoError(t, err)
	assert.Len(t, rows, 10)
	assert.Zero(t, mgr.Len())

	err = mgr.Execute(context.Background(), db.UpdateName(uuid.New(), "x", 1))
	assert.True(t, errors.Is(err, db.ErrManagerStopped))
	mgr.Enqueue(db.UpdateName(uuid.New(), "x", 1))
	mgr.Stop()
}
