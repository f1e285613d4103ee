// Package authservice implements the standalone credential service and the
// client through which a Dalang server uses it as its Authenticator. The
// service owns the durable user and token records; the client-facing server
// only ever sees the capability interface.
package authservice

// Routes exposed by the credential service.
const (
	RouteAuthenticate  = "/v1/authenticate"
	RouteCreateAccount = "/v1/create_account"
	RouteGetUserID     = "/v1/get_user_id"
	RouteGetUser       = "/v1/get_user"
	RouteCheckValidity = "/v1/check_validity"
	RouteRefreshToken  = "/v1/refresh_token"
)

// Status codes returned in every response body. Anything the service does
// not want to disclose collapses into StatusInternalError.
const (
	StatusOK            = 0
	StatusInvalidLogin  = 1
	StatusTokenExpired  = 2
	StatusUsernameTaken = 3
	StatusNotFound      = 4
	StatusInternalError = 5
)

// CredentialsRequest is the body for authenticate and create_account.
type CredentialsRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// TokenRequest is the body for the token-keyed operations.
type TokenRequest struct {
	Token string `json:"token"`
}

// UserRequest is the body for get_user.
type UserRequest struct {
	UserID uint64 `json:"user_id"`
}

// Response is the uniform response body for every operation.
type Response struct {
	Status       int    `json:"status"`
	ErrorMessage string `json:"error_message,omitempty"`
	Token        string `json:"token,omitempty"`
	UserID       uint64 `json:"user_id,omitempty"`
	Username     string `json:"username,omitempty"`
}
