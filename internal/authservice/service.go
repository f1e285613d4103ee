package authservice

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/patrickmn/go-cache"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	"github.com/dalang-app/dalang/internal/auth"
)

// Hashing cost for stored passwords. Fixed; raising it only affects
// accounts created afterwards.
const bcryptCost = 12

// service implements the credential service logic. It never talks to editor
// clients directly, only to Dalang servers over its HTTP API.
type service struct {
	logger *logrus.Logger
	db     *gorm.DB

	// Validity checks are the hot path, so known-good tokens are cached
	// until their expiry instead of hitting the table every time.
	validTokens *cache.Cache
}

// NewHandler migrates the service's tables and returns its HTTP handler.
func NewHandler(db *gorm.DB, logger *logrus.Logger) (http.Handler, error) {
	if err := db.AutoMigrate(&User{}, &Token{}); err != nil {
		return nil, err
	}

	s := &service{
		logger:      logger,
		db:          db,
		validTokens: cache.New(firstTokenTTL, 30*time.Minute),
	}

	r := chi.NewRouter()
	r.Post(RouteAuthenticate, s.handleAuthenticate)
	r.Post(RouteCreateAccount, s.handleCreateAccount)
	r.Post(RouteGetUserID, s.handleGetUserID)
	r.Post(RouteGetUser, s.handleGetUser)
	r.Post(RouteCheckValidity, s.handleCheckValidity)
	r.Post(RouteRefreshToken, s.handleRefreshToken)
	return r, nil
}

func (s *service) handleAuthenticate(w http.ResponseWriter, r *http.Request) {
	var req CredentialsRequest
	if !s.readJSON(w, r, &req) {
		return
	}

	var user User
	err := s.db.WithContext(r.Context()).Where("username = ?", req.Username).First(&user).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			s.logger.Debugf("[AUTH] authenticate failed for %q: no such user", req.Username)
			s.writeJSON(w, Response{Status: StatusInvalidLogin, ErrorMessage: auth.ErrInvalidCredentials.Error()})
			return
		}
		s.logger.Warnf("[AUTH] error looking up user %q: %v", req.Username, err)
		s.internalError(w)
		return
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(req.Password)); err != nil {
		s.logger.Debugf("[AUTH] authenticate failed for %q: wrong password", req.Username)
		s.writeJSON(w, Response{Status: StatusInvalidLogin, ErrorMessage: auth.ErrInvalidCredentials.Error()})
		return
	}

	token, err := s.issueToken(user.ID, firstTokenTTL)
	if err != nil {
		s.internalError(w)
		return
	}
	s.writeJSON(w, Response{Status: StatusOK, Token: token, UserID: user.ID})
}

func (s *service) handleCreateAccount(w http.ResponseWriter, r *http.Request) {
	var req CredentialsRequest
	if !s.readJSON(w, r, &req) {
		return
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcryptCost)
	if err != nil {
		s.logger.Warnf("[AUTH] error hashing password for %q: %v", req.Username, err)
		s.internalError(w)
		return
	}

	id, err := auth.NewUserID()
	if err != nil {
		s.logger.Warnf("[AUTH] error generating user id for %q: %v", req.Username, err)
		s.internalError(w)
		return
	}

	user := &User{ID: id, Username: req.Username, Password: string(hashed)}
	if err := s.db.WithContext(r.Context()).Create(user).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			s.writeJSON(w, Response{Status: StatusUsernameTaken, ErrorMessage: auth.ErrUsernameTaken.Error()})
			return
		}
		s.logger.Warnf("[AUTH] error creating account %q: %v", req.Username, err)
		s.internalError(w)
		return
	}

	token, err := s.issueToken(user.ID, firstTokenTTL)
	if err != nil {
		s.internalError(w)
		return
	}

	s.logger.Infof("[AUTH] created account %q (%d)", user.Username, user.ID)
	s.writeJSON(w, Response{Status: StatusOK, Token: token, UserID: user.ID})
}

func (s *service) handleGetUserID(w http.ResponseWriter, r *http.Request) {
	var req TokenRequest
	if !s.readJSON(w, r, &req) {
		return
	}

	token, ok := s.lookupToken(w, r, req.Token)
	if !ok {
		return
	}
	s.writeJSON(w, Response{Status: StatusOK, UserID: token.UserID, Token: token.Token})
}

func (s *service) handleGetUser(w http.ResponseWriter, r *http.Request) {
	var req UserRequest
	if !s.readJSON(w, r, &req) {
		return
	}

	var user User
	err := s.db.WithContext(r.Context()).First(&user, req.UserID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			s.writeJSON(w, Response{Status: StatusNotFound})
			return
		}
		s.logger.Warnf("[AUTH] error looking up user id %d: %v", req.UserID, err)
		s.internalError(w)
		return
	}
	s.writeJSON(w, Response{Status: StatusOK, UserID: user.ID, Username: user.Username})
}

func (s *service) handleCheckValidity(w http.ResponseWriter, r *http.Request) {
	var req TokenRequest
	if !s.readJSON(w, r, &req) {
		return
	}

	if _, ok := s.validTokens.Get(req.Token); ok {
		s.writeJSON(w, Response{Status: StatusOK})
		return
	}

	if _, ok := s.lookupToken(w, r, req.Token); !ok {
		return
	}
	s.writeJSON(w, Response{Status: StatusOK})
}

func (s *service) handleRefreshToken(w http.ResponseWriter, r *http.Request) {
	var req TokenRequest
	if !s.readJSON(w, r, &req) {
		return
	}

	token, ok := s.lookupToken(w, r, req.Token)
	if !ok {
		return
	}

	fresh, err := s.issueToken(token.UserID, refreshedTokenTTL)
	if err != nil {
		s.internalError(w)
		return
	}

	if err := s.db.WithContext(r.Context()).Delete(token).Error; err != nil {
		s.logger.Warnf("[AUTH] error deleting refreshed token for user %d: %v", token.UserID, err)
	}
	s.validTokens.Delete(token.Token)

	s.writeJSON(w, Response{Status: StatusOK, Token: fresh, UserID: token.UserID})
}

// lookupToken fetches a token record and handles the expired/unknown
// responses. It reports whether the caller should proceed.
func (s *service) lookupToken(w http.ResponseWriter, r *http.Request, value string) (*Token, bool) {
	var token Token
	err := s.db.WithContext(r.Context()).Where("token = ?", value).First(&token).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			s.writeJSON(w, Response{Status: StatusTokenExpired})
			return nil, false
		}
		s.logger.Warnf("[AUTH] error looking up token: %v", err)
		s.internalError(w)
		return nil, false
	}

	now := time.Now()
	if token.Expired(now) {
		s.validTokens.Delete(token.Token)
		s.writeJSON(w, Response{Status: StatusTokenExpired})
		return nil, false
	}

	s.validTokens.Set(token.Token, token.UserID, time.Until(time.Unix(token.ExpireUntil, 0)))
	return &token, true
}

func (s *service) issueToken(userID uint64, ttl time.Duration) (string, error) {
	value, err := auth.NewToken()
	if err != nil {
		s.logger.Warnf("[AUTH] error generating token for user %d: %v", userID, err)
		return "", err
	}

	token := &Token{
		Token:       value,
		UserID:      userID,
		ExpireUntil: time.Now().Add(ttl).Unix(),
	}
	if err := s.db.Create(token).Error; err != nil {
		s.logger.Warnf("[AUTH] error persisting token for user %d: %v", userID, err)
		return "", err
	}

	s.validTokens.Set(value, userID, ttl)
	return value, nil
}

func (s *service) readJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		s.logger.Debugf("[AUTH] malformed request body: %v", err)
		w.WriteHeader(http.StatusBadRequest)
		s.writeJSON(w, Response{Status: StatusInternalError, ErrorMessage: "malformed request"})
		return false
	}
	return true
}

func (s *service) writeJSON(w http.ResponseWriter, resp Response) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		s.logger.Warnf("[AUTH] error writing response: %v", err)
	}
}

// internalError responds with an opaque failure. Details stay in the log.
func (s *service) internalError(w http.ResponseWriter) {
	s.writeJSON(w, Response{Status: StatusInternalError, ErrorMessage: "unable to process request"})
}
