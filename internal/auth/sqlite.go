package auth

import (
	"database/sql"
	"encoding/json"
	"errors"

	_ "github.com/mattn/go-sqlite3"

	"github.com/pyr33x/goqttd/internal/session"
	h "github.com/pyr33x/goqttd/pkg/hash"
	"github.com/pyr33x/goqttd/pkg/er"
)

// SQLiteStore authenticates against a `users` table of bcrypt secrets
// plus the JSON-encoded publish/subscribe masks granted to each account.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens (and, if necessary, creates) the users table at path.
func OpenSQLite(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, er.New("Auth", er.KindPersistenceError, err)
	}

	_, err = db.Exec(`CREATE TABLE IF NOT EXISTS users (
		username TEXT PRIMARY KEY,
		secret TEXT NOT NULL,
		publish_all INTEGER NOT NULL DEFAULT 0,
		subscribe_all INTEGER NOT NULL DEFAULT 0,
		publish_masks TEXT NOT NULL DEFAULT '[]',
		subscribe_masks TEXT NOT NULL DEFAULT '[]'
	)`)
	if err != nil {
		db.Close()
		return nil, er.New("Auth", er.KindPersistenceError, err)
	}

	return &SQLiteStore{db: db}, nil
}

func NewSQLiteStore(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

func (s *SQLiteStore) Authenticate(clientID, username, password string) (session.Authorization, error) {
	var secret string
	var publishAll, subscribeAll bool
	var publishMasksJSON, subscribeMasksJSON string

	row := s.db.QueryRow(
		"SELECT secret, publish_all, subscribe_all, publish_masks, subscribe_masks FROM users WHERE username = ?",
		username,
	)
	err := row.Scan(&secret, &publishAll, &subscribeAll, &publishMasksJSON, &subscribeMasksJSON)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return session.Authorization{}, er.New("Auth", er.KindAuthenticationFailed, er.ErrUserNotFound)
		}
		return session.Authorization{}, er.New("Auth", er.KindPersistenceError, err)
	}

	if !h.VerifyPasswd(secret, password) {
		return session.Authorization{}, er.New("Auth", er.KindAuthenticationFailed, er.ErrInvalidPassword)
	}

	var publishMasks, subscribeMasks []string
	_ = json.Unmarshal([]byte(publishMasksJSON), &publishMasks)
	_ = json.Unmarshal([]byte(subscribeMasksJSON), &subscribeMasks)

	return session.Authorization{
		PublishAll:     publishAll,
		PublishMasks:   publishMasks,
		SubscribeAll:   subscribeAll,
		SubscribeMasks: subscribeMasks,
	}, nil
}

func (s *SQLiteStore) Close() error { return s.db.Close() }
