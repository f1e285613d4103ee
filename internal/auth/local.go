package auth

import (
	"context"
	"errors"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

// How long tokens issued by the local backend remain valid. The first
// issuance is deliberately short-lived; successful use refreshes it.
const localTokenTTL = 24 * time.Hour

// User is the credential record kept by the local backend. The unique
// index on username is what makes concurrent registrations of the same
// name safe: the losing insert fails instead of racing a lookup.
type User struct {
	ID       uint64 `gorm:"primaryKey"`
	Username string `gorm:"uniqueIndex;not null"`
	Password string `gorm:"not null"`
}

// Local is an Authenticator backed by the server's own database. Tokens
// are held in an expiring in-memory cache rather than persisted; they are
// connection bootstrap material, not durable state.
type Local struct {
	db     *gorm.DB
	logger *logrus.Logger
	tokens *cache.Cache
}

// NewLocal migrates the user table and returns a ready Local backend. The
// gorm handle must be opened with TranslateError so unique-constraint
// violations surface as gorm.ErrDuplicatedKey.
func NewLocal(db *gorm.DB, logger *logrus.Logger) (*Local, error) {
	if err := db.AutoMigrate(&User{}); err != nil {
		return nil, err
	}
	return &Local{
		db:     db,
		logger: logger,
		tokens: cache.New(localTokenTTL, 10*time.Minute),
	}, nil
}

func (a *Local) Login(ctx context.Context, username, password string) (*Grant, error) {
	var user User
	err := a.db.WithContext(ctx).Where("username = ?", username).First(&user).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			a.logger.Debugf("login failed for %q: no such user", username)
			return nil, ErrInvalidCredentials
		}
		a.logger.Warnf("error looking up user %q: %v", username, err)
		return nil, ErrUnknown
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(password)); err != nil {
		a.logger.Debugf("login failed for %q: wrong password", username)
		return nil, ErrInvalidCredentials
	}

	return a.issueToken(user.ID)
}

func (a *Local) LoginToken(_ context.Context, token string) (*Grant, error) {
	userID, ok := a.tokens.Get(token)
	if !ok {
		return nil, ErrTokenExpired
	}

	// Successful use pushes the expiry out again.
	a.tokens.Set(token, userID, localTokenTTL)
	return &Grant{UserID: userID.(uint64), Token: token}, nil
}

func (a *Local) Register(ctx context.Context, username, password string) (*Grant, error) {
	hashed, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		a.logger.Warnf("error hashing password for %q: %v", username, err)
		return nil, ErrUnknown
	}

	id, err := NewUserID()
	if err != nil {
		a.logger.Warnf("error generating user id for %q: %v", username, err)
		return nil, ErrUnknown
	}

	user := &User{ID: id, Username: username, Password: string(hashed)}
	if err := a.db.WithContext(ctx).Create(user).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, ErrUsernameTaken
		}
		a.logger.Warnf("error creating user %q: %v", username, err)
		return nil, ErrUnknown
	}

	return a.issueToken(user.ID)
}

func (a *Local) GetUser(ctx context.Context, userID uint64) (string, error) {
	var user User
	err := a.db.WithContext(ctx).First(&user, userID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", ErrUserNotFound
		}
		a.logger.Warnf("error looking up user id %d: %v", userID, err)
		return "", ErrUnknown
	}
	return user.Username, nil
}

func (a *Local) issueToken(userID uint64) (*Grant, error) {
	token, err := NewToken()
	if err != nil {
		a.logger.Warnf("error issuing token for user %d: %v", userID, err)
		return nil, ErrUnknown
	}
	a.tokens.Set(token, userID, localTokenTTL)
	return &Grant{UserID: userID, Token: token}, nil
}
