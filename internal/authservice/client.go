package authservice

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/dalang-app/dalang/internal/auth"
)

// Client is an auth.Authenticator backed by the remote credential
// service. It is interchangeable with the local backend; sessions cannot
// tell which one they are talking to.
type Client struct {
	logger  *logrus.Logger
	baseURL string
	http    *http.Client
}

func NewClient(logger *logrus.Logger, baseURL string) *Client {
	return &Client{
		logger:  logger,
		baseURL: baseURL,
		http:    &http.Client{Timeout: 10 * time.Second},
	}
}

func (c *Client) Login(ctx context.Context, username, password string) (*auth.Grant, error) {
	resp, err := c.post(ctx, RouteAuthenticate, CredentialsRequest{Username: username, Password: password})
	if err != nil {
		return nil, err
	}
	if err := c.statusError(resp); err != nil {
		return nil, err
	}
	return &auth.Grant{UserID: resp.UserID, Token: resp.Token}, nil
}

func (c *Client) LoginToken(ctx context.Context, token string) (*auth.Grant, error) {
	resp, err := c.post(ctx, RouteGetUserID, TokenRequest{Token: token})
	if err != nil {
		return nil, err
	}
	if err := c.statusError(resp); err != nil {
		return nil, err
	}
	return &auth.Grant{UserID: resp.UserID, Token: resp.Token}, nil
}

func (c *Client) Register(ctx context.Context, username, password string) (*auth.Grant, error) {
	resp, err := c.post(ctx, RouteCreateAccount, CredentialsRequest{Username: username, Password: password})
	if err != nil {
		return nil, err
	}
	if err := c.statusError(resp); err != nil {
		return nil, err
	}
	return &auth.Grant{UserID: resp.UserID, Token: resp.Token}, nil
}

func (c *Client) GetUser(ctx context.Context, userID uint64) (string, error) {
	resp, err := c.post(ctx, RouteGetUser, UserRequest{UserID: userID})
	if err != nil {
		return "", err
	}
	if err := c.statusError(resp); err != nil {
		return "", err
	}
	return resp.Username, nil
}

func (c *Client) post(ctx context.Context, route string, body any) (*Response, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		c.logger.Warnf("error marshaling credential request: %v", err)
		return nil, auth.ErrUnknown
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+route, bytes.NewReader(payload))
	if err != nil {
		c.logger.Warnf("error building credential request: %v", err)
		return nil, auth.ErrUnknown
	}
	req.Header.Set("Content-Type", "application/json")

	httpResp, err := c.http.Do(req)
	if err != nil {
		c.logger.Warnf("error reaching credential service: %v", err)
		return nil, auth.ErrUnknown
	}
	defer func() { _ = httpResp.Body.Close() }()

	if httpResp.StatusCode != http.StatusOK {
		c.logger.Warnf("credential service returned HTTP %d for %s", httpResp.StatusCode, route)
		return nil, auth.ErrUnknown
	}

	var resp Response
	if err := json.NewDecoder(httpResp.Body).Decode(&resp); err != nil {
		c.logger.Warnf("error decoding credential response: %v", err)
		return nil, auth.ErrUnknown
	}
	return &resp, nil
}

// statusError maps a service status onto the capability's sentinel errors.
func (c *Client) statusError(resp *Response) error {
	switch resp.Status {
	case StatusOK:
		return nil
	case StatusInvalidLogin:
		return auth.ErrInvalidCredentials
	case StatusTokenExpired:
		return auth.ErrTokenExpired
	case StatusUsernameTaken:
		return auth.ErrUsernameTaken
	case StatusNotFound:
		return auth.ErrUserNotFound
	}
	if resp.ErrorMessage != "" {
		c.logger.Warnf("credential service failure: %s", resp.ErrorMessage)
	}
	return auth.ErrUnknown
}

var _ auth.Authenticator = (*Client)(nil)
