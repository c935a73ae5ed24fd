package repository

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hitoshi/registre/internal/database"
	"github.com/hitoshi/registre/internal/model"
)

// newSQLiteRepo はマイグレーション済みの一時SQLiteファイルでリポジトリを生成する。
func newSQLiteRepo(t *testing.T) *SQLPersonneRepo {
	t.Helper()

	dbURL := "sqlite://" + filepath.Join(t.TempDir(), "repo_test.db")
	require.NoError(t, database.RunMigrations(dbURL))

	db, err := database.Open(dbURL)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	return NewSQLPersonneRepo(db)
}

func strPtr(s string) *string { return &s }

func TestSQLPersonneRepo_ImplementsInterface(t *testing.T) {
	var _ PersonneRepository = (*SQLPersonneRepo)(nil)
}

func TestSQLPersonneRepo_InsertThenFind(t *testing.T) {
	repo := newSQLiteRepo(t)
	ctx := context.Background()

	res, err := repo.Insert(ctx, "Dupont", strPtr("1 Rue A"))
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.LastInsertID)
	assert.Equal(t, int64(1), res.RowsAffected)

	p, err := repo.FindByID(ctx, res.LastInsertID)
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.Equal(t, "Dupont", p.Nom)
	require.NotNil(t, p.Adresse)
	assert.Equal(t, "1 Rue A", *p.Adresse)
}

func TestSQLPersonneRepo_InsertWithoutAdresse_StoresNull(t *testing.T) {
	repo := newSQLiteRepo(t)
	ctx := context.Background()

	res, err := repo.Insert(ctx, "Martin", nil)
	require.NoError(t, err)

	p, err := repo.FindByID(ctx, res.LastInsertID)
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.Nil(t, p.Adresse)
}

func TestSQLPersonneRepo_FindByID_NotFound_ReturnsNil(t *testing.T) {
	repo := newSQLiteRepo(t)

	p, err := repo.FindByID(context.Background(), 42)
	require.NoError(t, err)
	assert.Nil(t, p)
}

func TestSQLPersonneRepo_List_OrderedByID(t *testing.T) {
	repo := newSQLiteRepo(t)
	ctx := context.Background()

	empty, err := repo.List(ctx)
	require.NoError(t, err)
	assert.NotNil(t, empty, "empty list should be a non-nil slice")
	assert.Len(t, empty, 0)

	for _, nom := range []string{"A", "B", "C"} {
		_, err := repo.Insert(ctx, nom, nil)
		require.NoError(t, err)
	}

	list, err := repo.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, "A", list[0].Nom)
	assert.Equal(t, "C", list[2].Nom)
	assert.Less(t, list[0].ID, list[1].ID)
}

func TestSQLPersonneRepo_Update_ReplacesBothFields(t *testing.T) {
	repo := newSQLiteRepo(t)
	ctx := context.Background()

	res, err := repo.Insert(ctx, "Dupont", strPtr("1 Rue A"))
	require.NoError(t, err)

	upd, err := repo.Update(ctx, res.LastInsertID, "Durand", nil)
	require.NoError(t, err)
	assert.Equal(t, int64(1), upd.RowsAffected)

	p, err := repo.FindByID(ctx, res.LastInsertID)
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.Equal(t, "Durand", p.Nom)
	assert.Nil(t, p.Adresse, "adresse must be replaced, not merged")
}

func TestSQLPersonneRepo_UpdateAndDelete_MissingID_ZeroRows(t *testing.T) {
	repo := newSQLiteRepo(t)
	ctx := context.Background()

	upd, err := repo.Update(ctx, 99, "X", nil)
	require.NoError(t, err)
	assert.Equal(t, int64(0), upd.RowsAffected)

	del, err := repo.Delete(ctx, 99)
	require.NoError(t, err)
	assert.Equal(t, int64(0), del.RowsAffected)
}

func TestSQLPersonneRepo_Delete_IDsAreNotReused(t *testing.T) {
	repo := newSQLiteRepo(t)
	ctx := context.Background()

	first, err := repo.Insert(ctx, "A", nil)
	require.NoError(t, err)

	del, err := repo.Delete(ctx, first.LastInsertID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), del.RowsAffected)

	second, err := repo.Insert(ctx, "B", nil)
	require.NoError(t, err)
	assert.Greater(t, second.LastInsertID, first.LastInsertID)

	n, err := repo.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestSQLPersonneRepo_Insert_ConstraintViolation_IsStoreError(t *testing.T) {
	repo := newSQLiteRepo(t)

	_, err := repo.Insert(context.Background(), "", nil)
	require.Error(t, err)

	var storeErr *model.StoreError
	require.True(t, errors.As(err, &storeErr))
	assert.Equal(t, "insert", storeErr.Op)
}

// --- sqlmockによるストアエラー経路 ---

func newMockRepo(t *testing.T) (*SQLPersonneRepo, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewSQLPersonneRepo(sqlx.NewDb(db, "sqlmock")), mock
}

func TestSQLPersonneRepo_List_StoreError_PassesDriverMessage(t *testing.T) {
	repo, mock := newMockRepo(t)
	mock.ExpectQuery(queryListPersonnes).WillReturnError(errors.New("database is locked"))

	_, err := repo.List(context.Background())
	require.Error(t, err)
	assert.Equal(t, "database is locked", err.Error())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLPersonneRepo_FindByID_UsesBoundParameter(t *testing.T) {
	repo, mock := newMockRepo(t)
	mock.ExpectQuery(queryFindPersonne).
		WithArgs(int64(7)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "nom", "adresse"}).AddRow(7, "Dupont", nil))

	p, err := repo.FindByID(context.Background(), 7)
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.Equal(t, int64(7), p.ID)
	assert.Nil(t, p.Adresse)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLPersonneRepo_Update_StoreError(t *testing.T) {
	repo, mock := newMockRepo(t)
	mock.ExpectExec(queryUpdatePersonne).
		WithArgs("Durand", "2 Rue B", int64(1)).
		WillReturnError(errors.New("disk I/O error"))

	_, err := repo.Update(context.Background(), 1, "Durand", strPtr("2 Rue B"))
	var storeErr *model.StoreError
	require.True(t, errors.As(err, &storeErr))
	assert.Equal(t, "disk I/O error", storeErr.Error())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLPersonneRepo_Delete_ReportsRowsAffected(t *testing.T) {
	repo, mock := newMockRepo(t)
	mock.ExpectExec(queryDeletePersonne).
		WithArgs(int64(3)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	res, err := repo.Delete(context.Background(), 3)
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.RowsAffected)
	assert.NoError(t, mock.ExpectationsWereMet())
}
