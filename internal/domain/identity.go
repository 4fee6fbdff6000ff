package domain

// Identity is a signed-in principal as reported by the identity provider.
type Identity struct {
	ID          string
	DisplayName string
	Email       string
}

type Role string

const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

// AuthState is the lifecycle of the current identity of a session.
type AuthState string

const (
	AuthStateUnknown   AuthState = "unknown"
	AuthStateSignedIn  AuthState = "signed-in"
	AuthStateSignedOut AuthState = "signed-out"
)
