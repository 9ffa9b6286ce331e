package db

import (
	"context"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMock(t *testing.T) pgxmock.PgxPoolIface {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(func() { mock.Close() })
	return mock
}

func TestCopyFrom_EmptyRows(t *testing.T) {
	n, err := CopyFrom(context.TODO(), nil, "item_scores", []string{"a", "b"}, nil)
	assert.NoError(t, err)
	assert.Equal(t, int64(0), n)
}

func TestCopyFrom_Success(t *testing.T) {
	mock := newMock(t)
	mock.ExpectCopyFrom(pgx.Identifier{"item_scores"}, []string{"a", "b"}).WillReturnResult(2)

	n, err := CopyFrom(context.Background(), mock, "item_scores", []string{"a", "b"}, [][]any{{1, "x"}, {2, "y"}})
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCopyFrom_Error(t *testing.T) {
	mock := newMock(t)
	mock.ExpectCopyFrom(pgx.Identifier{"item_scores"}, []string{"a"}).WillReturnError(fmt.Errorf("copy failed"))

	_, err := CopyFrom(context.Background(), mock, "item_scores", []string{"a"}, [][]any{{1}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "COPY INTO item_scores")
}

func TestBulkUpsert_Validation(t *testing.T) {
	n, err := BulkUpsert(context.TODO(), nil, UpsertConfig{Table: "responses"}, nil)
	assert.NoError(t, err)
	assert.Zero(t, n)

	_, err = BulkUpsert(context.TODO(), nil, UpsertConfig{Table: "responses", ConflictKeys: []string{"id"}}, [][]any{{1}})
	assert.ErrorContains(t, err, "no columns specified")

	_, err = BulkUpsert(context.TODO(), nil, UpsertConfig{Table: "responses", Columns: []string{"id"}}, [][]any{{1}})
	assert.ErrorContains(t, err, "no conflict keys specified")
}

func TestBulkUpsert_StagesAndMerges(t *testing.T) {
	mock := newMock(t)
	cols := []string{"assessment_id", "item_id", "partner_id", "value"}

	mock.ExpectExec("CREATE TEMP TABLE").WillReturnResult(pgxmock.NewResult("CREATE TABLE", 0))
	mock.ExpectCopyFrom(pgx.Identifier{"_stage_responses"}, cols).WillReturnResult(2)
	mock.ExpectExec("ON CONFLICT").WillReturnResult(pgxmock.NewResult("INSERT", 2))

	n, err := BulkUpsert(context.Background(), mock, UpsertConfig{
		Table:        "responses",
		Columns:      cols,
		ConflictKeys: []string{"assessment_id", "item_id", "partner_id"},
	}, [][]any{{"a", "i1", "", "1"}, {"a", "i2", "", "2"}})
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMergeSQL(t *testing.T) {
	got := MergeSQL("responses", "_stage_responses",
		[]string{"id", "value"}, []string{"id"}, []string{"value"})
	assert.Equal(t,
		`INSERT INTO "responses" ("id", "value") SELECT "id", "value" FROM "_stage_responses" ON CONFLICT ("id") DO UPDATE SET "value" = EXCLUDED."value"`,
		got)
}

func TestNonConflictColumns(t *testing.T) {
	assert.Equal(t, []string{"value", "updated_at"},
		nonConflictColumns([]string{"id", "value", "updated_at"}, []string{"id"}))
}

func TestInTx_CommitsOnSuccess(t *testing.T) {
	mock := newMock(t)
	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM item_scores").WillReturnResult(pgxmock.NewResult("DELETE", 3))
	mock.ExpectCommit()

	err := InTx(context.Background(), mock, func(tx pgx.Tx) error {
		_, err := tx.Exec(context.Background(), "DELETE FROM item_scores WHERE assessment_id = $1", "a")
		return err
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInTx_RollsBackOnError(t *testing.T) {
	mock := newMock(t)
	mock.ExpectBegin()
	mock.ExpectRollback()

	err := InTx(context.Background(), mock, func(pgx.Tx) error {
		return fmt.Errorf("guard failed")
	})
	assert.EqualError(t, err, "guard failed")
	assert.NoError(t, mock.ExpectationsWereMet())
}
