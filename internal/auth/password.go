package auth

import (
	"github.com/pyr33x/goqttd/internal/session"
	"github.com/pyr33x/goqttd/pkg/er"
)

// PasswordStore grants full access to any CONNECT carrying the one
// configured shared password, regardless of username.
type PasswordStore struct {
	password string
}

func NewPasswordStore(password string) *PasswordStore {
	return &PasswordStore{password: password}
}

func (s *PasswordStore) Authenticate(clientID, username, password string) (session.Authorization, error) {
	if password != s.password {
		return session.Authorization{}, er.New("Auth", er.KindAuthenticationFailed, er.ErrInvalidPassword)
	}
	return allAuthorization, nil
}

// NoneStore accepts every CONNECT unconditionally, for brokers run
// without access control.
type NoneStore struct{}

func NewNoneStore() *NoneStore { return &NoneStore{} }

func (s *NoneStore) Authenticate(clientID, username, password string) (session.Authorization, error) {
	return allAuthorization, nil
}
