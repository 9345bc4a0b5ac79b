package domain

import "strings"

// UserType is the marketplace role of an account.
type UserType string

const (
	UserTypeAdmin     UserType = "ADMIN"
	UserTypeRecruiter UserType = "RECRUITER"
	UserTypeJobSeeker UserType = "JOB_SEEKER"
)

// User is the signed-in account as returned by the gateway. It is replaced wholesale on
// login and profile updates, never patched field by field.
type User struct {
	ID            int64    `json:"id"`
	Username      string   `json:"username"`
	Email         string   `json:"email"`
	EmailVerified bool     `json:"email_verified"`
	UserType      UserType `json:"user_type"`
	IsStaff       bool     `json:"is_staff"`
	FirstName     string   `json:"first_name"`
	LastName      string   `json:"last_name"`
	Phone         string   `json:"phone,omitempty"`
}

// IsAdmin reports whether the user may use the admin console.
func (u *User) IsAdmin() bool {
	if u == nil {
		return false
	}
	return u.UserType == UserTypeAdmin || u.IsStaff
}

// DisplayName returns "First Last", falling back to the username.
func (u *User) DisplayName() string {
	if u == nil {
		return ""
	}
	if name := strings.TrimSpace(u.FirstName + " " + u.LastName); name != "" {
		return name
	}
	return u.Username
}

// Clone returns a copy that can be handed to subscribers.
func (u *User) Clone() *User {
	if u == nil {
		return nil
	}
	c := *u
	return &c
}
