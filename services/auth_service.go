//go:generate go run go.uber.org/mock/mockgen -source=auth_service.go -destination=../mocks/mock_auth_service.go -package=mocks
package services

import (
	goerrors "errors"
	"fmt"

	"deal-chat/auth"
	"deal-chat/errors"
	"deal-chat/repositories"
)

type IAuthService interface {
	Register(email, password string) (Token, error)
	Login(email, password string) (Token, error)
}

type Token string

// AuthService issues the JWTs used both as HTTP bearer tokens and as
// the socket `authenticate` credential.
type AuthService struct {
	users  repositories.IUserRepository
	tokens *auth.TokenManager
}

func NewAuthService(users repositories.IUserRepository, tokens *auth.TokenManager) *AuthService {
	return &AuthService{users: users, tokens: tokens}
}

func (s *AuthService) Register(email, password string) (Token, error) {
	if err := auth.ValidateRegister(auth.RegisterRequest{Email: email, Password: password}); err != nil {
		return "", fmt.Errorf("%w: %v", errors.ErrInvalidPayload, err)
	}

	hash, err := auth.HashPassword(password)
	if err != nil {
		return "", err
	}
	userID, err := s.users.CreateUser(email, hash)
	if err != nil {
		return "", err
	}
	return s.issue(userID)
}

func (s *AuthService) Login(email, password string) (Token, error) {
	user, err := s.users.GetUserByEmail(email)
	if goerrors.Is(err, errors.ErrNotFound) {
		return "", errors.ErrInvalidCredentials
	}
	if err != nil {
		return "", err
	}

	ok, err := auth.ComparePassword(password, user.PasswordHash)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", errors.ErrInvalidCredentials
	}
	return s.issue(user.ID)
}

func (s *AuthService) issue(userID string) (Token, error) {
	token, err := s.tokens.Generate(userID)
	if err != nil {
		return "", err
	}
	return Token(token), nil
}
