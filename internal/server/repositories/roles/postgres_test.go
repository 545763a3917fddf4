package roles

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/dmitrijs2005/kbsync/internal/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRepoWithMock(t *testing.T) (*PostgresRepository, sqlmock.Sqlmock, *sql.DB) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	return NewPostgresRepository(db), mock, db
}

func TestGetRole(t *testing.T) {
	tests := []struct {
		name    string
		setup   func(m sqlmock.Sqlmock)
		want    string
		wantErr error
	}{
		{
			name: "found",
			setup: func(m sqlmock.Sqlmock) {
				m.ExpectQuery(`SELECT role FROM user_roles WHERE user_id=\$1`).WithArgs("u1").
					WillReturnRows(sqlmock.NewRows([]string{"role"}).AddRow("operator"))
			},
			want: "operator",
		},
		{
			name: "missing",
			setup: func(m sqlmock.Sqlmock) {
				m.ExpectQuery(`SELECT role FROM user_roles`).WithArgs("u1").WillReturnError(sql.ErrNoRows)
			},
			wantErr: common.ErrorNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo, mock, db := newRepoWithMock(t)
			defer db.Close()
			tt.setup(mock)

			got, err := repo.GetRole(context.Background(), "u1")
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestGetRole_DBError(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()
	mock.ExpectQuery(`SELECT role`).WillReturnError(errors.New("down"))

	_, err := repo.GetRole(context.Background(), "u1")
	require.EqualError(t, err, "db error: down")
}

func TestSetRole(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()
	mock.ExpectExec(`INSERT INTO user_roles \(user_id, role\) VALUES \(\$1, \$2\)\s+ON CONFLICT \(user_id\) DO UPDATE SET role = EXCLUDED.role`).
		WithArgs("u1", "admin").
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.SetRole(context.Background(), "u1", "admin"))
	require.NoError(t, mock.ExpectationsWereMet())
}
