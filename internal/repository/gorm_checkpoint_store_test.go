package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"bridge-relayer/internal/models"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newMockStore(t *testing.T) (CheckpointStore, sqlmock.Sqlmock) {
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { sqlDB.Close() })

	gdb, err := gorm.Open(postgres.New(postgres.Config{Conn: sqlDB}), &gorm.Config{
		SkipDefaultTransaction: true,
		Logger:                 logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	store := NewGormCheckpointStore(gdb, 11155111, 421614)
	store.(*gormCheckpointStore).now = func() time.Time { return time.Unix(1700000000, 0).UTC() }
	return store, mock
}

func TestGormLoadWithoutCheckpoint(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery(`SELECT \* FROM "relay_checkpoints" WHERE id = \$1`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "start_block", "last_scanned_block"}))

	_, err := store.Load(context.Background())
	assert.ErrorIs(t, err, ErrCheckpointNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGormLoadWithPendingIntents(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Unix(1700000000, 0).UTC()

	mock.ExpectQuery(`SELECT \* FROM "relay_checkpoints" WHERE id = \$1`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "start_block", "last_scanned_block", "created_at", "updated_at"}).
			AddRow("11155111:421614", 100, 180, now, now))

	intentJSON := `{"source_chain_id":11155111,"source_bridge_address":"0x5388887b8b444170b5fd0f22919073579cc5bfec",` +
		`"nonce":5,"amount":10000000,"sender":"0x0000000000000000000000000000000000000000",` +
		`"recipient":"0xabcd000000000000000000000000000000000000","destination_chain_id":421614,` +
		`"source_block_number":150,"source_block_hash":"0x0000000000000000000000000000000000000000000000000000000000000001",` +
		`"source_tx_hash":"0x0000000000000000000000000000000000000000000000000000000000000002","log_index":0}`
	id := "0xc1d9f05ffe4ed70bbd5f2f90d028d74544db2ce7707dffeeedd8b8c073fc7c7d"

	mock.ExpectQuery(`SELECT \* FROM "relay_intents" WHERE source_chain_id = \$1 AND destination_chain_id = \$2 AND state NOT IN \(\$3,\$4\)`).
		WithArgs(uint64(11155111), uint64(421614), models.RelayStateCompleted, models.RelayStateRejected).
		WillReturnRows(sqlmock.NewRows([]string{"message_id", "state", "intent", "source_block_number", "attempts", "tx_hash", "created_at", "updated_at"}).
			AddRow(id, "confirmed", []byte(intentJSON), 150, 2, "", now, now))

	cp, err := store.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(180), cp.LastScannedBlock)
	require.Contains(t, cp.Pending, id)

	rec := cp.Pending[id]
	assert.Equal(t, models.RelayStateConfirmed, rec.State)
	assert.Equal(t, 2, rec.Attempts)
	assert.Equal(t, int64(5), rec.Intent.Nonce.Int64())
	assert.Equal(t, uint64(421614), rec.Intent.DestinationChainID)
	assert.Equal(t, testBridge, rec.Intent.SourceBridgeAddress)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGormSaveIntentWritesRecordAndTransitionTogether(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Unix(1700000100, 0).UTC()

	rec := testRecord(5, 150, 0)
	tr, err := rec.Transition(models.RelayStateConfirmed, "confirmed at depth", now)
	require.NoError(t, err)

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE "relay_intents" SET`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(`INSERT INTO "relay_transitions"`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(7))
	mock.ExpectCommit()

	require.NoError(t, store.SaveIntent(context.Background(), rec, tr))
	assert.Equal(t, uint64(7), tr.ID)
	assert.NoError(t, mock.ExpectationsWereMet())

	// both rows carry the store's pairing
	assert.Equal(t, uint64(11155111), rec.SourceChainID)
	assert.Equal(t, uint64(421614), rec.DestinationChainID)
	assert.Equal(t, uint64(11155111), tr.SourceChainID)
	assert.Equal(t, uint64(421614), tr.DestinationChainID)
}

func TestGormSaveIntentRollsBackOnTransitionFailure(t *testing.T) {
	store, mock := newMockStore(t)

	rec := testRecord(5, 150, 0)
	tr, err := rec.Transition(models.RelayStateConfirmed, "confirmed", time.Now())
	require.NoError(t, err)

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE "relay_intents" SET`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(`INSERT INTO "relay_transitions"`).WillReturnError(errors.New("disk full"))
	mock.ExpectRollback()

	err = store.SaveIntent(context.Background(), rec, tr)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGormAdvanceScan(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec(`UPDATE "relay_checkpoints" SET`).WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, store.AdvanceScan(context.Background(), 200))

	mock.ExpectExec(`UPDATE "relay_checkpoints" SET`).WillReturnResult(sqlmock.NewResult(0, 0))
	assert.ErrorIs(t, store.AdvanceScan(context.Background(), 201), ErrCheckpointNotFound)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGormGetIntentNotFound(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery(`SELECT \* FROM "relay_intents" WHERE source_chain_id = \$1 AND destination_chain_id = \$2 AND message_id = \$3`).
		WillReturnRows(sqlmock.NewRows([]string{"message_id"}))

	_, err := store.GetIntent(context.Background(), models.MessageID{1})
	assert.ErrorIs(t, err, ErrIntentNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGormReset(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE "relay_checkpoints" SET`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`DELETE FROM "relay_intents" WHERE source_chain_id = \$1 AND destination_chain_id = \$2 AND state IN \(\$3,\$4\)`).
		WithArgs(uint64(11155111), uint64(421614), models.RelayStateObserved, models.RelayStateConfirming).
		WillReturnResult(sqlmock.NewResult(0, 3))
	mock.ExpectCommit()

	require.NoError(t, store.Reset(context.Background(), 5))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGormQueriesStayInsidePairing(t *testing.T) {
	store, mock := newMockStore(t)
	ctx := context.Background()
	id := models.MessageID{0xaa}

	mock.ExpectQuery(`SELECT \* FROM "relay_intents" WHERE source_chain_id = \$1 AND destination_chain_id = \$2 AND state = \$3 ORDER BY source_block_number ASC`).
		WithArgs(uint64(11155111), uint64(421614), models.RelayStateConfirming).
		WillReturnRows(sqlmock.NewRows([]string{"message_id"}))
	mock.ExpectQuery(`SELECT \* FROM "relay_transitions" WHERE source_chain_id = \$1 AND destination_chain_id = \$2 AND message_id = \$3 ORDER BY id ASC`).
		WithArgs(uint64(11155111), uint64(421614), id.Hex()).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))
	mock.ExpectExec(`DELETE FROM "relay_intents" WHERE source_chain_id = \$1 AND destination_chain_id = \$2 AND message_id = \$3`).
		WithArgs(uint64(11155111), uint64(421614), id.Hex()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	records, err := store.ListByState(ctx, models.RelayStateConfirming)
	require.NoError(t, err)
	assert.Empty(t, records)

	transitions, err := store.ListTransitions(ctx, id)
	require.NoError(t, err)
	assert.Empty(t, transitions)

	require.NoError(t, store.DeleteIntent(ctx, id))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGormSecondPairingSeesOwnRows(t *testing.T) {
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer sqlDB.Close()
	gdb, err := gorm.Open(postgres.New(postgres.Config{Conn: sqlDB}), &gorm.Config{
		SkipDefaultTransaction: true,
		Logger:                 logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	other := NewGormCheckpointStore(gdb, 11155111, 84532)
	mock.ExpectQuery(`SELECT \* FROM "relay_intents" WHERE source_chain_id = \$1 AND destination_chain_id = \$2 AND state NOT IN \(\$3,\$4\)`).
		WithArgs(uint64(11155111), uint64(84532), models.RelayStateCompleted, models.RelayStateRejected).
		WillReturnRows(sqlmock.NewRows([]string{"message_id"}))

	pending, err := other.ListPending(context.Background())
	require.NoError(t, err)
	assert.Empty(t, pending)
	assert.NoError(t, mock.ExpectationsWereMet())
}
