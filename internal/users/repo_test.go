package users

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/campushub/campushub-backend/pkg/db"
	"github.com/campushub/campushub-backend/pkg/db/models"
	"github.com/campushub/campushub-backend/pkg/enums"
)

func newTestRepo(t *testing.T) *Repository {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	client, err := db.NewSQLite(context.Background(), dsn, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	require.NoError(t, client.DB().AutoMigrate(&models.User{}))
	return NewRepository(client.DB())
}

func TestCreateAppliesDefaults(t *testing.T) {
	repo := newTestRepo(t)

	user, err := repo.Create(context.Background(), CreateUserDTO{
		Email:        "new@example.com",
		PasswordHash: "$argon2id$fake",
		FullName:     "New Student",
	})
	require.NoError(t, err)
	require.Equal(t, enums.RoleStudent, user.Role)
	require.True(t, user.IsActive)
	require.NotEqual(t, "00000000-0000-0000-0000-000000000000", user.ID.String())
}

func TestCreateRejectsDuplicateEmail(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	_, err := repo.Create(ctx, CreateUserDTO{Email: "dup@example.com", PasswordHash: "h", FullName: "A"})
	require.NoError(t, err)

	_, err = repo.Create(ctx, CreateUserDTO{Email: "dup@example.com", PasswordHash: "h", FullName: "B"})
	require.Error(t, err)
}

func TestFindByEmailAndID(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	created, err := repo.Create(ctx, CreateUserDTO{
		Email:        "find@example.com",
		PasswordHash: "h",
		FullName:     "Findable",
		Role:         enums.RoleOrganizer,
	})
	require.NoError(t, err)

	byEmail, err := repo.FindByEmail(ctx, "find@example.com")
	require.NoError(t, err)
	require.Equal(t, created.ID, byEmail.ID)
	require.Equal(t, enums.RoleOrganizer, byEmail.Role)

	byID, err := repo.FindByID(ctx, created.ID)
	require.NoError(t, err)
	require.Equal(t, "find@example.com", byID.Email)

	_, err = repo.FindByEmail(ctx, "missing@example.com")
	require.True(t, errors.Is(err, gorm.ErrRecordNotFound))
}

func TestUpdateLastLogin(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	created, err := repo.Create(ctx, CreateUserDTO{Email: "login@example.com", PasswordHash: "h", FullName: "L"})
	require.NoError(t, err)
	require.Nil(t, created.LastLoginAt)

	at := time.Now().UTC().Truncate(time.Second)
	require.NoError(t, repo.UpdateLastLogin(ctx, created.ID, at))

	reloaded, err := repo.FindByID(ctx, created.ID)
	require.NoError(t, err)
	require.NotNil(t, reloaded.LastLoginAt)
	require.WithinDuration(t, at, *reloaded.LastLoginAt, time.Second)
}
