package domain

import "time"

// User is an internal account. Users are created by the login flow; this
// service only reads them to link installations.
type User struct {
	ID         string    `json:"id"          db:"id"`
	Email      string    `json:"email"       db:"email"`
	Name       string    `json:"name"        db:"name"`
	AvatarURL  string    `json:"avatar_url"  db:"avatar_url"`
	Provider   string    `json:"provider"    db:"provider"`
	ProviderID string    `json:"provider_id" db:"provider_id"` // GitHub numeric account id for provider "github"
	Role       string    `json:"role"        db:"role"`
	CreatedAt  time.Time `json:"created_at"  db:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"  db:"updated_at"`
}

// ProviderGitHub is the provider name of users who signed in with GitHub.
const ProviderGitHub = "github"

// UserContext is the authenticated caller injected into request handlers.
type UserContext struct {
	UserID string `json:"user_id"`
	Email  string `json:"email"`
	Name   string `json:"name"`
	Role   string `json:"role"`
}
