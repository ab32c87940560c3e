package auth

import (
	"encoding/json"
	"os"

	"github.com/pyr33x/goqttd/internal/session"
	h "github.com/pyr33x/goqttd/pkg/hash"
	"github.com/pyr33x/goqttd/pkg/er"
)

// authEntry is one record of an authfile:
//
//	[{"username": "john", "password": "<bcrypt hash>",
//	  "publish": ["sensors/+/temp"], "subscribe": ["sensors/#"]}]
//
// "*" in place of a list grants unrestricted access, as for webauth.
type authEntry struct {
	Username  string          `json:"username"`
	Password  string          `json:"password"`
	Publish   json.RawMessage `json:"publish"`
	Subscribe json.RawMessage `json:"subscribe"`
}

// JSONFileStore authenticates against a JSON authfile of bcrypt secrets
// and per-user publish/subscribe filter lists, loaded once at startup.
type JSONFileStore struct {
	users map[string]authEntry
}

func LoadJSONFile(path string) (*JSONFileStore, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, er.New("Auth", er.KindPersistenceError, err)
	}

	var entries []authEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, er.New("Auth", er.KindPersistenceError, err)
	}

	users := make(map[string]authEntry, len(entries))
	for _, e := range entries {
		users[e.Username] = e
	}
	return &JSONFileStore{users: users}, nil
}

func (s *JSONFileStore) Authenticate(clientID, username, password string) (session.Authorization, error) {
	entry, ok := s.users[username]
	if !ok {
		return session.Authorization{}, er.New("Auth", er.KindAuthenticationFailed, er.ErrUserNotFound)
	}
	if !h.VerifyPasswd(entry.Password, password) {
		return session.Authorization{}, er.New("Auth", er.KindAuthenticationFailed, er.ErrInvalidPassword)
	}

	return parseWebAuthorization(webAuthorization{Publish: entry.Publish, Subscribe: entry.Subscribe}), nil
}
