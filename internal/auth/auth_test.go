package auth

import (
	"path/filepath"
	"testing"

	"taskcal/internal/model"
	"taskcal/internal/store"
)

func newAuthentication(t *testing.T) *Authentication {
	t.Helper()
	path := filepath.Join(t.TempDir(), "users.json")
	a, err := LoadAuthentication(path, "pepper")
	if err != nil {
		t.Fatal(err)
	}
	return a
}

func TestAddUserAndValidate(t *testing.T) {
	a := newAuthentication(t)

	added, err := a.AddUser("alice", "s3cret", "personal")
	if err != nil {
		t.Fatal(err)
	}
	if !added {
		t.Fatal("AddUser reported existing user on empty set")
	}

	if !a.IsValid("alice", "s3cret") {
		t.Error("correct password rejected")
	}
	if a.IsValid("alice", "wrong") {
		t.Error("wrong password accepted")
	}
	if a.IsValid("bob", "s3cret") {
		t.Error("unknown user accepted")
	}

	u, ok := a.UserData("alice")
	if !ok {
		t.Fatal("UserData missing for added user")
	}
	if u.DefaultCalendar != "personal" {
		t.Errorf("default calendar = %q", u.DefaultCalendar)
	}
	if u.ICSKey == "" {
		t.Error("no ICS key assigned")
	}
	if u.Password == "s3cret" {
		t.Error("password stored in plaintext")
	}
}

func TestAddUserDuplicate(t *testing.T) {
	a := newAuthentication(t)
	if _, err := a.AddUser("alice", "one", "personal"); err != nil {
		t.Fatal(err)
	}
	added, err := a.AddUser("alice", "two", "other")
	if err != nil {
		t.Fatal(err)
	}
	if added {
		t.Fatal("duplicate username accepted")
	}
	if !a.IsValid("alice", "one") {
		t.Fatal("original password lost on duplicate add")
	}
}

func TestAuthenticationRoundtrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "users.json")

	a, err := LoadAuthentication(path, "pepper")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := a.AddUser("alice", "pw", "personal"); err != nil {
		t.Fatal(err)
	}
	if _, err := a.AddUser("bob", "pw2", "shared"); err != nil {
		t.Fatal(err)
	}

	reloaded, err := LoadAuthentication(path, "pepper")
	if err != nil {
		t.Fatal(err)
	}
	if !reloaded.IsValid("alice", "pw") || !reloaded.IsValid("bob", "pw2") {
		t.Fatal("reloaded users file does not validate saved credentials")
	}

	names := reloaded.Usernames()
	if len(names) != 2 || names[0] != "alice" || names[1] != "bob" {
		t.Fatalf("Usernames() = %v", names)
	}
}

func TestSaltChangesHash(t *testing.T) {
	path := filepath.Join(t.TempDir(), "users.json")
	a, _ := LoadAuthentication(path, "pepper")
	if _, err := a.AddUser("alice", "pw", "personal"); err != nil {
		t.Fatal(err)
	}

	other, err := LoadAuthentication(path, "different-salt")
	if err != nil {
		t.Fatal(err)
	}
	if other.IsValid("alice", "pw") {
		t.Fatal("password validated under a different salt")
	}
}

func TestUserByICSKey(t *testing.T) {
	a := newAuthentication(t)
	if _, err := a.AddUser("alice", "pw", "personal"); err != nil {
		t.Fatal(err)
	}
	alice, _ := a.UserData("alice")

	got, ok := a.UserByICSKey(alice.ICSKey)
	if !ok || got.Username != "alice" {
		t.Fatalf("UserByICSKey = (%+v, %v)", got, ok)
	}
	if _, ok := a.UserByICSKey("not-a-key"); ok {
		t.Error("bogus key matched")
	}
	if _, ok := a.UserByICSKey(""); ok {
		t.Error("empty key matched")
	}
}

func TestCanAccess(t *testing.T) {
	authz := NewAuthorization(store.New(t.TempDir(), 0, nil))

	doc := model.NewDocument("alice", "bob")
	if !authz.CanAccess("alice", doc) {
		t.Error("listed user denied")
	}
	if authz.CanAccess("mallory", doc) {
		t.Error("unlisted user allowed")
	}

	empty := model.NewDocument()
	if authz.CanAccess("alice", empty) {
		t.Error("empty user list authorized someone")
	}
}
