// Package user defines the broker's normalized identity record,
// independent of which session kind produced it.
package user

// User is the resolved identity projection returned to the dashboard.
type User struct {
	ID            string   `json:"id"`
	Email         string   `json:"email"`
	EmailVerified bool     `json:"emailVerified"`
	FirstName     string   `json:"firstName"`
	LastName      string   `json:"lastName"`
	Avatar        string   `json:"avatar,omitempty"`
	Roles         []string `json:"roles"`
}
