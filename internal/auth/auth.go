// Package auth covers user authentication, per-calendar authorization
// and login session state.
package auth

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"

	"github.com/google/uuid"

	"taskcal/internal/model"
	"taskcal/internal/store"
)

// User is one entry of the users database.
type User struct {
	Username        string `json:"username"`
	Password        string `json:"password"` // hex sha256(plaintext + salt)
	DefaultCalendar string `json:"default_calendar"`
	ICSKey          string `json:"ics_key"`
}

// Authentication validates credentials against the users file.
type Authentication struct {
	path  string
	salt  string
	users map[string]User
}

// LoadAuthentication reads the users file. A missing file yields an empty
// user set (first run; AddUser creates it).
func LoadAuthentication(path, salt string) (*Authentication, error) {
	a := &Authentication{path: path, salt: salt, users: make(map[string]User)}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return a, nil
		}
		return nil, fmt.Errorf("read users file: %w", err)
	}
	if err := json.Unmarshal(data, &a.users); err != nil {
		return nil, fmt.Errorf("users file: %w", err)
	}
	return a, nil
}

// IsValid reports whether the password matches the stored hash for
// username.
func (a *Authentication) IsValid(username, password string) bool {
	u, ok := a.users[username]
	if !ok {
		return false
	}
	hashed := a.hashPassword(password)
	return subtle.ConstantTimeCompare([]byte(hashed), []byte(u.Password)) == 1
}

// UserData returns the stored record for username.
func (a *Authentication) UserData(username string) (User, bool) {
	u, ok := a.users[username]
	return u, ok
}

// Usernames lists all known users, sorted.
func (a *Authentication) Usernames() []string {
	names := make([]string, 0, len(a.users))
	for name := range a.users {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// UserByICSKey finds the user owning an ICS feed key. Empty keys never
// match.
func (a *Authentication) UserByICSKey(key string) (User, bool) {
	if key == "" {
		return User{}, false
	}
	for _, u := range a.users {
		if subtle.ConstantTimeCompare([]byte(u.ICSKey), []byte(key)) == 1 {
			return u, true
		}
	}
	return User{}, false
}

// AddUser creates a user and persists the users file. Returns false when
// the username is already taken.
func (a *Authentication) AddUser(username, password, defaultCalendar string) (bool, error) {
	if _, exists := a.users[username]; exists {
		return false, nil
	}
	a.users[username] = User{
		Username:        username,
		Password:        a.hashPassword(password),
		DefaultCalendar: defaultCalendar,
		ICSKey:          uuid.NewString(),
	}
	if err := a.save(); err != nil {
		return false, err
	}
	return true, nil
}

func (a *Authentication) hashPassword(plaintext string) string {
	sum := sha256.Sum256([]byte(plaintext + a.salt))
	return hex.EncodeToString(sum[:])
}

// save writes the users file atomically with 0600 perms.
func (a *Authentication) save() error {
	dir := filepath.Dir(a.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	data, err := json.Marshal(a.users)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".users-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		return err
	}
	return os.Rename(tmpName, a.path)
}

// Authorization answers whether a user may access a calendar.
type Authorization struct {
	store *store.Store
}

// NewAuthorization returns an Authorization over s.
func NewAuthorization(s *store.Store) *Authorization {
	return &Authorization{store: s}
}

// CanAccess reports whether username is in the document's user list. An
// empty or missing list authorizes nobody.
func (a *Authorization) CanAccess(username string, doc *model.Document) bool {
	users, err := a.store.UsersList(doc)
	if err != nil {
		return false
	}
	return slices.Contains(users, username)
}
