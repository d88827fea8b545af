package repositories

import (
	"testing"

	"deal-chat/errors"

	"github.com/stretchr/testify/require"
)

func Test_CreateUser_And_Lookup(t *testing.T) {
	req := require.New(t)
	repo := NewUserRepository(openTestDB(t))

	id, err := repo.CreateUser("alice@example.com", "hashed-secret")
	req.NoError(err)
	req.NotEmpty(id)

	byEmail, err := repo.GetUserByEmail("alice@example.com")
	req.NoError(err)
	req.Equal(id, byEmail.ID)
	req.Equal("hashed-secret", byEmail.PasswordHash)

	byID, err := repo.GetUserByID(id)
	req.NoError(err)
	req.Equal("alice@example.com", byID.Email)
}

func Test_CreateUser_Rejects_Duplicate_Email(t *testing.T) {
	req := require.New(t)
	repo := NewUserRepository(openTestDB(t))

	_, err := repo.CreateUser("alice@example.com", "hash-a")
	req.NoError(err)
	_, err = repo.CreateUser("alice@example.com", "hash-b")
	req.ErrorIs(err, errors.ErrUserAlreadyExists)
}

func Test_GetUser_Unknown(t *testing.T) {
	req := require.New(t)
	repo := NewUserRepository(openTestDB(t))

	_, err := repo.GetUserByEmail("nobody@example.com")
	req.ErrorIs(err, errors.ErrNotFound)

	_, err = repo.GetUserByID("missing")
	req.ErrorIs(err, errors.ErrNotFound)
}

func Test_SetVerified_Flips_Flag(t *testing.T) {
	req := require.New(t)
	repo := NewUserRepository(openTestDB(t))

	id, err := repo.CreateUser("buyer@example.com", "hash")
	req.NoError(err)

	verified, err := repo.IsVerified(id)
	req.NoError(err)
	req.False(verified)

	req.NoError(repo.SetVerified(id))

	verified, err = repo.IsVerified(id)
	req.NoError(err)
	req.True(verified)
}
