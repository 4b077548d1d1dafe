package schema

import "errors"

var (
	// ErrInvalidRequest indicates a malformed or incomplete request payload.
	ErrInvalidRequest = errors.New("invalid request")
	// ErrMissingToken indicates no bearer token was supplied.
	ErrMissingToken = errors.New("missing access token")
	// ErrUnauthorized indicates the identity provider rejected the token.
	ErrUnauthorized = errors.New("invalid or expired session")
	// ErrIdentityUnavailable indicates the identity provider is not configured.
	ErrIdentityUnavailable = errors.New("identity provider not configured")
	// ErrFeatureDisabled indicates the requested feature is switched off.
	ErrFeatureDisabled = errors.New("feature disabled")
	// ErrRunNotFound indicates an unknown run id.
	ErrRunNotFound = errors.New("run not found")
	// ErrLoginNotFound indicates an unknown login attempt id.
	ErrLoginNotFound = errors.New("login attempt not found")
	// ErrRoomNotFound indicates an unknown room id.
	ErrRoomNotFound = errors.New("room not found")
	// ErrNotMember indicates the user has not joined the room.
	ErrNotMember = errors.New("not a room member")
	// ErrBanned indicates the user is banned from the room.
	ErrBanned = errors.New("banned from room")
	// ErrForbidden indicates the actor's role does not permit the operation.
	ErrForbidden = errors.New("insufficient privileges")
	// ErrRPCTimeout indicates a gateway call exceeded its budget.
	ErrRPCTimeout = errors.New("rpc call timed out")
	// ErrGatewayClosed indicates the gateway process is not running.
	ErrGatewayClosed = errors.New("gateway closed")
)
