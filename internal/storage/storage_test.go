package storage_test

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/acadex/acadex-client/internal/models"
	"github.com/acadex/acadex-client/internal/storage"
	"github.com/acadex/acadex-client/pkg/errors"
)

func testPrincipal() *models.Principal {
	return &models.Principal{
		ID:    "u-100",
		Name:  "Dana Mentor",
		Email: "dana@school.test",
		Role:  models.RoleMentor,
	}
}

func TestStore_SetAndGetSession(t *testing.T) {
	store := storage.New("")

	require.NoError(t, store.SetSession(testPrincipal(), "tok-abc"))

	principal, token, err := store.Session()
	require.NoError(t, err)
	assert.Equal(t, "u-100", principal.ID)
	assert.Equal(t, models.RoleMentor, principal.Role)
	assert.Equal(t, "tok-abc", token)
	assert.True(t, store.HasSession())
}

func TestStore_SetSession_Invalid(t *testing.T) {
	store := storage.New("")

	err := store.SetSession(nil, "tok")
	assert.ErrorIs(t, err, errors.ErrInvalidInput)

	err = store.SetSession(testPrincipal(), "")
	assert.ErrorIs(t, err, errors.ErrInvalidInput)

	assert.False(t, store.HasSession())
}

func TestStore_Clear_RemovesBothKeys(t *testing.T) {
	store := storage.New("")
	require.NoError(t, store.SetSession(testPrincipal(), "tok-abc"))

	store.Clear()

	assert.False(t, store.HasSession())
	_, _, err := store.Session()
	assert.ErrorIs(t, err, errors.ErrNoSession)
}

func TestStore_PersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.db")

	first := storage.New(path)
	require.NoError(t, first.SetSession(testPrincipal(), "tok-abc"))

	second := storage.New(path)
	principal, token, err := second.Session()
	require.NoError(t, err)
	assert.Equal(t, "u-100", principal.ID)
	assert.Equal(t, "tok-abc", token)
}

func TestStore_ClearPersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.db")

	first := storage.New(path)
	require.NoError(t, first.SetSession(testPrincipal(), "tok-abc"))
	first.Clear()

	second := storage.New(path)
	assert.False(t, second.HasSession())
}

func TestStore_MissingFileLoadsEmpty(t *testing.T) {
	store := storage.New(filepath.Join(t.TempDir(), "does-not-exist.db"))
	assert.False(t, store.HasSession())
}
