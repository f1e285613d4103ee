package authservice

import "time"

// Token lifetimes. The first access token is deliberately short-lived;
// refreshed tokens live longer.
const (
	firstTokenTTL     = 24 * time.Hour
	refreshedTokenTTL = 7 * 24 * time.Hour
)

// User is a credential record. The unique index on username is what makes
// concurrent account creation for the same name safe.
type User struct {
	ID       uint64 `gorm:"primaryKey"`
	Username string `gorm:"uniqueIndex;not null"`
	Password string `gorm:"not null"`
}

// Token is an issued access token. Lookups are by token value scoped to
// its owner, hence the composite index.
type Token struct {
	Token       string `gorm:"primaryKey;index:idx_token_user"`
	UserID      uint64 `gorm:"index:idx_token_user;not null"`
	ExpireUntil int64  `gorm:"not null"`
}

// Expired reports whether the token's expiry timestamp has passed.
func (t *Token) Expired(now time.Time) bool {
	return now.Unix() >= t.ExpireUntil
}
