package user

import "time"

// Identity is the verified caller as reported by the authentication boundary.
// Subject is the external provider id; it is empty for anonymous requests.
type Identity struct {
	Subject string
	Email   string
}

// Authenticated reports whether the boundary verified a caller.
func (i Identity) Authenticated() bool {
	return i.Subject != ""
}

// Account is the internal user record that owns sessions.
type Account struct {
	ID        string    `json:"id"`
	Subject   string    `json:"subject"`
	Email     string    `json:"email,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}
