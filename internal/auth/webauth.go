package auth

import (
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/pyr33x/goqttd/internal/session"
	"github.com/pyr33x/goqttd/pkg/er"
)

// webAuthorization is the shape returned by the webauth endpoint:
// "*" in either field grants unrestricted access, an explicit list
// grants exactly those filters, and an absent/empty list grants none.
type webAuthorization struct {
	Publish   json.RawMessage `json:"publish"`
	Subscribe json.RawMessage `json:"subscribe"`
}

// WebAuthStore delegates authentication to an HTTP endpoint: a 200
// response carrying a webAuthorization body means the connection is
// authenticated with those permissions; any other status denies it.
type WebAuthStore struct {
	url    string
	client *http.Client
}

func NewWebAuthStore(endpoint string) *WebAuthStore {
	return &WebAuthStore{
		url:    endpoint,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

func (s *WebAuthStore) Authenticate(clientID, username, password string) (session.Authorization, error) {
	form := url.Values{
		"clientid": {clientID},
		"username": {username},
		"password": {password},
	}

	resp, err := s.client.PostForm(s.url, form)
	if err != nil {
		return session.Authorization{}, er.New("Auth", er.KindAuthenticationFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return session.Authorization{}, er.New("Auth", er.KindAuthenticationFailed, er.ErrConnectionDenied)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return session.Authorization{}, er.New("Auth", er.KindAuthenticationFailed, err)
	}

	var wa webAuthorization
	if err := json.Unmarshal(body, &wa); err != nil {
		return session.Authorization{}, er.New("Auth", er.KindAuthenticationFailed, err)
	}

	return parseWebAuthorization(wa), nil
}

func parseWebAuthorization(wa webAuthorization) session.Authorization {
	var authz session.Authorization
	authz.PublishAll, authz.PublishMasks = parseMaskField(wa.Publish)
	authz.SubscribeAll, authz.SubscribeMasks = parseMaskField(wa.Subscribe)
	return authz
}

func parseMaskField(raw json.RawMessage) (all bool, masks []string) {
	if len(raw) == 0 {
		return false, nil
	}

	var star string
	if err := json.Unmarshal(raw, &star); err == nil {
		return star == "*", nil
	}

	var list []string
	_ = json.Unmarshal(raw, &list)
	return false, list
}
