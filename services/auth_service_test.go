package services

import (
	"testing"
	"time"

	"deal-chat/auth"
	"deal-chat/errors"
	"deal-chat/repositories"

	"github.com/dgraph-io/badger/v4"
	"github.com/stretchr/testify/require"
)

const testPassword = "Str0ng&Secret!pass"

func newAuthService(t *testing.T) *AuthService {
	t.Helper()
	db, err := badger.Open(badger.DefaultOptions(t.TempDir()).WithLoggingLevel(badger.ERROR))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return NewAuthService(repositories.NewUserRepository(db), auth.NewTokenManager("test-secret", time.Hour))
}

func Test_Register_Then_Login(t *testing.T) {
	req := require.New(t)
	service := newAuthService(t)

	token, err := service.Register("alice@example.com", testPassword)
	req.NoError(err)
	req.NotEmpty(token)

	token, err = service.Login("alice@example.com", testPassword)
	req.NoError(err)
	req.NotEmpty(token)
}

func Test_Register_Rejects_Weak_Password(t *testing.T) {
	req := require.New(t)
	service := newAuthService(t)

	_, err := service.Register("alice@example.com", "short")
	req.ErrorIs(err, errors.ErrInvalidPayload)
}

func Test_Register_Rejects_Duplicate_Email(t *testing.T) {
	req := require.New(t)
	service := newAuthService(t)

	_, err := service.Register("alice@example.com", testPassword)
	req.NoError(err)
	_, err = service.Register("alice@example.com", testPassword)
	req.ErrorIs(err, errors.ErrUserAlreadyExists)
}

func Test_Login_Wrong_Password(t *testing.T) {
	req := require.New(t)
	service := newAuthService(t)

	_, err := service.Register("alice@example.com", testPassword)
	req.NoError(err)

	_, err = service.Login("alice@example.com", "Wr0ng&Secret!pass")
	req.ErrorIs(err, errors.ErrInvalidCredentials)
}

func Test_Login_Unknown_Email(t *testing.T) {
	req := require.New(t)
	service := newAuthService(t)

	// Unknown accounts and bad passwords are indistinguishable
	_, err := service.Login("nobody@example.com", testPassword)
	req.ErrorIs(err, errors.ErrInvalidCredentials)
}
