package auth

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// Creates a database for testing. For the sake of simplicity this only uses
// the SQLite engine and creates a new database on every invocation since it
// is relatively cheap to do so.
func setUpDatabase(t *testing.T) *gorm.DB {
	t.Helper()
	testDBFile := filepath.Join(t.TempDir(), "test.db")
	db, err := gorm.Open(sqlite.Open(testDBFile), &gorm.Config{TranslateError: true})
	if err != nil {
		t.Fatalf("error initializing test database: %s", err)
	}
	return db
}

func setUpLocal(t *testing.T) *Local {
	t.Helper()
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)

	local, err := NewLocal(setUpDatabase(t), logger)
	if err != nil {
		t.Fatalf("error creating local authenticator: %s", err)
	}
	return local
}

func TestLocalRegisterAndLogin(t *testing.T) {
	local := setUpLocal(t)
	ctx := context.Background()

	registered, err := local.Register(ctx, "bob", "secret")
	if err != nil {
		t.Fatalf("error registering: %s", err)
	}
	if registered.UserID == 0 || registered.Token == "" {
		t.Fatalf("expected a populated grant, got %+v", registered)
	}

	loggedIn, err := local.Login(ctx, "bob", "secret")
	if err != nil {
		t.Fatalf("error logging in: %s", err)
	}
	if loggedIn.UserID != registered.UserID {
		t.Errorf("expected login user id = %d, got %d", registered.UserID, loggedIn.UserID)
	}

	username, err := local.GetUser(ctx, registered.UserID)
	if err != nil {
		t.Fatalf("error retrieving user: %s", err)
	}
	if username != "bob" {
		t.Errorf("expected username = bob, got %s", username)
	}
}

// Both a missing user and a wrong password collapse into the same error so
// the failure mode cannot be used to enumerate usernames.
func TestLocalLoginFailuresAreIndistinguishable(t *testing.T) {
	local := setUpLocal(t)
	ctx := context.Background()

	if _, err := local.Register(ctx, "bob", "secret"); err != nil {
		t.Fatalf("error registering: %s", err)
	}

	_, wrongPassword := local.Login(ctx, "bob", "wrong")
	_, noSuchUser := local.Login(ctx, "nobody", "secret")

	if !errors.Is(wrongPassword, ErrInvalidCredentials) {
		t.Errorf("expected ErrInvalidCredentials for wrong password, got %v", wrongPassword)
	}
	if !errors.Is(noSuchUser, ErrInvalidCredentials) {
		t.Errorf("expected ErrInvalidCredentials for missing user, got %v", noSuchUser)
	}
}

func TestLocalRegisterDuplicateUsername(t *testing.T) {
	local := setUpLocal(t)
	ctx := context.Background()

	first, err := local.Register(ctx, "alice", "pw1")
	if err != nil {
		t.Fatalf("error registering: %s", err)
	}

	if _, err := local.Register(ctx, "alice", "pw2"); !errors.Is(err, ErrUsernameTaken) {
		t.Fatalf("expected ErrUsernameTaken, got %v", err)
	}

	var count int64
	if err := local.db.Model(&User{}).Where("username = ?", "alice").Count(&count).Error; err != nil {
		t.Fatalf("error counting users: %s", err)
	}
	if count != 1 {
		t.Errorf("expected exactly one alice record, got %d", count)
	}

	username, err := local.GetUser(ctx, first.UserID)
	if err != nil {
		t.Fatalf("error retrieving user: %s", err)
	}
	if username != "alice" {
		t.Errorf("expected username = alice, got %s", username)
	}
}

func TestLocalLoginToken(t *testing.T) {
	local := setUpLocal(t)
	ctx := context.Background()

	registered, err := local.Register(ctx, "bob", "secret")
	if err != nil {
		t.Fatalf("error registering: %s", err)
	}

	resumed, err := local.LoginToken(ctx, registered.Token)
	if err != nil {
		t.Fatalf("error logging in with token: %s", err)
	}
	if resumed.UserID != registered.UserID {
		t.Errorf("expected user id = %d, got %d", registered.UserID, resumed.UserID)
	}

	if _, err := local.LoginToken(ctx, "not-a-token"); !errors.Is(err, ErrTokenExpired) {
		t.Errorf("expected ErrTokenExpired for unknown token, got %v", err)
	}
}

func TestLocalGetUserNotFound(t *testing.T) {
	local := setUpLocal(t)

	if _, err := local.GetUser(context.Background(), 12345); !errors.Is(err, ErrUserNotFound) {
		t.Errorf("expected ErrUserNotFound, got %v", err)
	}
}
