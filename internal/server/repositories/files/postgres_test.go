package files

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/dmitrijs2005/kbsync/internal/common"
	"github.com/dmitrijs2005/kbsync/internal/server/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRepoWithMock(t *testing.T) (*PostgresRepository, sqlmock.Sqlmock, *sql.DB) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	return NewPostgresRepository(db), mock, db
}

const upsertQuery = `(?s)^\s*INSERT\s+INTO\s+files\b.*ON\s+CONFLICT\s*\(id\)\s*DO\s+UPDATE\s+SET\b.*WHERE\s+files\.user_id\s*=\s*EXCLUDED\.user_id.*RETURNING created_at, updated_at;?\s*$`

func sampleFile() *models.File {
	return &models.File{
		ID:          "f1",
		FileName:    "invoice.pdf",
		Size:        51200,
		MimeType:    "application/pdf",
		StoragePath: "u1/f1-invoice.pdf",
		UserID:      "u1",
	}
}

func TestUpsert_Success(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	mock.ExpectQuery(upsertQuery).
		WithArgs("f1", "invoice.pdf", int64(51200), "application/pdf", "u1/f1-invoice.pdf", "u1").
		WillReturnRows(sqlmock.NewRows([]string{"created_at", "updated_at"}).AddRow(now, now))

	f := sampleFile()
	require.NoError(t, repo.Upsert(context.Background(), f))
	assert.Equal(t, now, f.CreatedAt)
	assert.Equal(t, now, f.UpdatedAt)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsert_OtherOwner(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectQuery(upsertQuery).
		WillReturnRows(sqlmock.NewRows([]string{"created_at", "updated_at"}))

	err := repo.Upsert(context.Background(), sampleFile())
	require.ErrorIs(t, err, common.ErrorForbidden)
}

func TestUpsert_DBError(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectQuery(upsertQuery).WillReturnError(errors.New("db down"))

	err := repo.Upsert(context.Background(), sampleFile())
	require.Error(t, err)
	assert.Regexp(t, `db error: .*db down`, err.Error())
}

var selectByIDQuery = regexp.QuoteMeta(`FROM files WHERE id=$1 AND user_id=$2`)

func TestGetByID(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	now := time.Now().UTC()
	mock.ExpectQuery(selectByIDQuery).
		WithArgs("f1", "u1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "file_name", "size", "mime_type", "storage_path", "user_id", "created_at", "updated_at"}).
			AddRow("f1", "invoice.pdf", int64(10), "application/pdf", "u1/f1-invoice.pdf", "u1", now, now))

	f, err := repo.GetByID(context.Background(), "f1", "u1")
	require.NoError(t, err)
	assert.Equal(t, "u1/f1-invoice.pdf", f.StoragePath)
	assert.Equal(t, int64(10), f.Size)
}

func TestGetByID_NotFound(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectQuery(selectByIDQuery).WithArgs("nope", "u1").WillReturnError(sql.ErrNoRows)

	_, err := repo.GetByID(context.Background(), "nope", "u1")
	require.ErrorIs(t, err, common.ErrorNotFound)
}

func TestListByUser(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	now := time.Now().UTC()
	cols := []string{"id", "file_name", "size", "mime_type", "storage_path", "user_id", "created_at", "updated_at"}
	mock.ExpectQuery(`FROM files WHERE user_id=\$1 ORDER BY created_at DESC`).
		WithArgs("u1").
		WillReturnRows(sqlmock.NewRows(cols).
			AddRow("f2", "b.csv", int64(2), "text/csv", "u1/f2-b.csv", "u1", now, now).
			AddRow("f1", "a.txt", int64(1), "text/plain", "u1/f1-a.txt", "u1", now, now))

	got, err := repo.ListByUser(context.Background(), "u1")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "f2", got[0].ID)
	assert.Equal(t, "a.txt", got[1].FileName)
}

func TestListByUser_RowsErr(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	now := time.Now().UTC()
	cols := []string{"id", "file_name", "size", "mime_type", "storage_path", "user_id", "created_at", "updated_at"}
	mock.ExpectQuery(`FROM files WHERE user_id=\$1`).
		WillReturnRows(sqlmock.NewRows(cols).
			AddRow("f1", "a.txt", int64(1), "text/plain", "u1/f1-a.txt", "u1", now, now).
			RowError(0, errors.New("row-err")))

	_, err := repo.ListByUser(context.Background(), "u1")
	require.EqualError(t, err, "row-err")
}

func TestNames(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectQuery(`SELECT file_name FROM files WHERE user_id=\$1`).
		WithArgs("u1").
		WillReturnRows(sqlmock.NewRows([]string{"file_name"}).AddRow("report.csv").AddRow("a.pdf"))

	names, err := repo.Names(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, []string{"report.csv", "a.pdf"}, names)
}

func TestNames_QueryErr(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectQuery(`SELECT file_name FROM files`).WillReturnError(errors.New("db err"))

	_, err := repo.Names(context.Background(), "u1")
	require.Error(t, err)
	assert.Regexp(t, `failed to select file names: .*db err`, err.Error())
}

func TestDelete(t *testing.T) {
	tests := []struct {
		name    string
		result  sql.Result
		execErr error
		wantErr error
		wantMsg string
	}{
		{name: "deleted", result: sqlmock.NewResult(0, 1)},
		{name: "nothing to delete", result: sqlmock.NewResult(0, 0), wantErr: common.ErrorNotFound},
		{name: "db error", execErr: errors.New("db err"), wantMsg: "failed to delete file: db err"},
		{name: "rows affected error", result: sqlmock.NewErrorResult(errors.New("rows-err")), wantMsg: "failed to get rows affected: rows-err"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo, mock, db := newRepoWithMock(t)
			defer db.Close()

			exp := mock.ExpectExec(`DELETE FROM files WHERE id=\$1 AND user_id=\$2`).WithArgs("f1", "u1")
			if tt.execErr != nil {
				exp.WillReturnError(tt.execErr)
			} else {
				exp.WillReturnResult(tt.result)
			}

			err := repo.Delete(context.Background(), "f1", "u1")
			switch {
			case tt.wantErr != nil:
				require.ErrorIs(t, err, tt.wantErr)
			case tt.wantMsg != "":
				require.EqualError(t, err, tt.wantMsg)
			default:
				require.NoError(t, err)
			}
		})
	}
}
