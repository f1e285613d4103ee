package protocol

import "fmt"

// Client-originated Authentication opcodes.
const (
	ClientAuthSuccessResp          uint16 = 0x00
	ClientAuthLogin                uint16 = 0x10
	ClientAuthLoginWithToken       uint16 = 0x11
	ClientAuthRegister             uint16 = 0x20
	ClientAuthRegisterCheckEnabled uint16 = 0x21
	ClientAuthUsernameCheckExists  uint16 = 0xf0
	ClientAuthLogout               uint16 = 0x00ff
)

// Server-originated Authentication opcodes.
const (
	ServerAuthSuccessResp                 uint16 = 0x00
	ServerAuthLoginFailedInvalid          uint16 = 0x10
	ServerAuthLoginFailedTokenExpired     uint16 = 0x11
	ServerAuthLoginSuccess                uint16 = 0x12
	ServerAuthRegisterFailedUsernameTaken uint16 = 0x20
	ServerAuthRegisterFailedDisabled      uint16 = 0x21
	ServerAuthErrAlreadyLoggedIn          uint16 = 0xffff
)

// Login carries the credentials for a username/password login attempt.
type Login struct {
	Username string
	Password string
}

// LoginWithToken carries a previously issued access token.
type LoginWithToken struct {
	Token string
}

// Register carries the credentials for a new account.
type Register struct {
	Username string
	Password string
}

// LoginSuccess is the server's response to a successful login or
// registration, carrying the token for subsequent token logins.
type LoginSuccess struct {
	Token string
}

var credentialsSchema = record(
	field{name: "username", typ: typeString},
	field{name: "password", typ: typeString},
)

var tokenSchema = record(
	field{name: "token", typ: typeString},
)

var clientAuthSpecs = map[uint16]*opcodeSpec{
	ClientAuthSuccessResp: {},
	ClientAuthLogin: {
		schema: credentialsSchema,
		bind: func(v map[string]any) any {
			return Login{Username: v["username"].(string), Password: v["password"].(string)}
		},
	},
	ClientAuthLoginWithToken: {
		schema: tokenSchema,
		bind: func(v map[string]any) any {
			return LoginWithToken{Token: v["token"].(string)}
		},
	},
	ClientAuthRegister: {
		schema: credentialsSchema,
		bind: func(v map[string]any) any {
			return Register{Username: v["username"].(string), Password: v["password"].(string)}
		},
	},
	ClientAuthRegisterCheckEnabled: {},
	ClientAuthUsernameCheckExists:  {},
	ClientAuthLogout:               {},
}

var serverAuthSpecs = map[uint16]*opcodeSpec{
	ServerAuthSuccessResp:             {},
	ServerAuthLoginFailedInvalid:      {},
	ServerAuthLoginFailedTokenExpired: {},
	ServerAuthLoginSuccess: {
		schema: tokenSchema,
		bind: func(v map[string]any) any {
			return LoginSuccess{Token: v["token"].(string)}
		},
		extract: func(payload any) (map[string]any, error) {
			p, ok := payload.(LoginSuccess)
			if !ok {
				return nil, fmt.Errorf("expected LoginSuccess payload, got %T", payload)
			}
			return map[string]any{"token": p.Token}, nil
		},
	},
	ServerAuthRegisterFailedUsernameTaken: {},
	ServerAuthRegisterFailedDisabled:      {},
	ServerAuthErrAlreadyLoggedIn:          {},
}
