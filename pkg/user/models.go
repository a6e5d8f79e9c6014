package user

import (
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// Metadata keys recorded on every successful login
const (
	MetaLastTokenResponse = "last_token_response"
	MetaLastIDTokenClaim  = "last_id_token_claim"
	MetaLastUserClaim     = "last_user_claim"
)

// User is a local account mirrored from a Citizen OS identity
type User struct {
	ID              uuid.UUID              `json:"id"`
	Username        string                 `json:"username"`
	Email           string                 `json:"email"`
	DisplayName     string                 `json:"display_name"`
	Nickname        string                 `json:"nickname"`
	FirstName       string                 `json:"first_name,omitempty"`
	LastName        string                 `json:"last_name,omitempty"`
	PasswordHash    string                 `json:"-"`
	ShowAdminBar    bool                   `json:"show_admin_bar"`
	SubjectIdentity string                 `json:"subject_identity,omitempty"`
	Meta            map[string]interface{} `json:"meta,omitempty"`
	CreatedAt       time.Time              `json:"created_at"`
}

// Exists reports whether the user has been persisted
func (u *User) Exists() bool {
	return u != nil && u.ID != uuid.Nil
}

func (u User) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("id", u.ID.String()),
		slog.String("username", u.Username),
	)
}
