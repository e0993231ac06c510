package indexer

import (
	"context"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"parley/internal/database"
)

type fakeEnqueuer struct {
	jobs []Job
	err  error
}

func (f *fakeEnqueuer) Enqueue(ctx context.Context, job Job) error {
	if f.err != nil {
		return f.err
	}
	f.jobs = append(f.jobs, job)
	return nil
}

func relayDB(t *testing.T) *database.Database {
	t.Helper()

	gdb, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	sqlDB, err := gdb.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	db := &database.Database{DB: gdb}
	require.NoError(t, db.Migrate())
	return db
}

func seedOutbox(t *testing.T, db *database.Database, messageID string, dispatchedAt *time.Time) {
	t.Helper()
	require.NoError(t, db.Create(&database.OutboxEntry{
		MessageID:    messageID,
		Content:      "content of " + messageID,
		MessageType:  database.MessageTypeText,
		DispatchedAt: dispatchedAt,
	}).Error)
}

func TestSweepEnqueuesUndispatchedEntries(t *testing.T) {
	db := relayDB(t)
	queue := &fakeEnqueuer{}
	relay := NewRelay(db, queue, time.Second)

	seedOutbox(t, db, "m1", nil)
	seedOutbox(t, db, "m2", nil)
	already := time.Now().UTC()
	seedOutbox(t, db, "m3", &already)

	require.NoError(t, relay.sweep(context.Background()))

	require.Len(t, queue.jobs, 2)
	assert.Equal(t, "m1", queue.jobs[0].MessageID)
	assert.Equal(t, "content of m1", queue.jobs[0].Content)
	assert.Equal(t, "m2", queue.jobs[1].MessageID)

	var pending int64
	require.NoError(t, db.Model(&database.OutboxEntry{}).
		Where("dispatched_at IS NULL").Count(&pending).Error)
	assert.EqualValues(t, 0, pending)

	// A second sweep finds nothing new.
	require.NoError(t, relay.sweep(context.Background()))
	assert.Len(t, queue.jobs, 2)
}

func TestSweepLeavesEntriesOnEnqueueFailure(t *testing.T) {
	db := relayDB(t)
	queue := &fakeEnqueuer{err: context.DeadlineExceeded}
	relay := NewRelay(db, queue, time.Second)

	seedOutbox(t, db, "m1", nil)
	require.NoError(t, relay.sweep(context.Background()))

	// Entry stays undispatched for the next sweep.
	var pending int64
	require.NoError(t, db.Model(&database.OutboxEntry{}).
		Where("dispatched_at IS NULL").Count(&pending).Error)
	assert.EqualValues(t, 1, pending)

	queue.err = nil
	require.NoError(t, relay.sweep(context.Background()))
	require.Len(t, queue.jobs, 1)
	assert.Equal(t, "m1", queue.jobs[0].MessageID)
}

func TestSweepPrunesOldDispatchedEntries(t *testing.T) {
	db := relayDB(t)
	relay := NewRelay(db, &fakeEnqueuer{}, time.Second)

	old := time.Now().UTC().Add(-48 * time.Hour)
	recent := time.Now().UTC().Add(-time.Hour)
	seedOutbox(t, db, "old", &old)
	seedOutbox(t, db, "recent", &recent)

	require.NoError(t, relay.sweep(context.Background()))

	var remaining []database.OutboxEntry
	require.NoError(t, db.Find(&remaining).Error)
	require.Len(t, remaining, 1)
	assert.Equal(t, "recent", remaining[0].MessageID)
}
