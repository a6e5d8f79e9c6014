// Package sessionstore keeps a small server-side bag of values per visitor,
// keyed by the visitor cookie.
package sessionstore

import (
	"context"
	"time"

	"github.com/tendant/citizenos-connect/pkg/idtoken"
)

// DefaultTTL bounds how long an idle visitor bag is kept
const DefaultTTL = 48 * time.Hour

// Data is what the site remembers about a visitor between requests
type Data struct {
	Tokens    *idtoken.TokenResponse `json:"tokens,omitempty"`
	CosUserID string                 `json:"cos_user_id,omitempty"`
}

// AccessToken returns the cached Citizen OS access token, if any
func (d Data) AccessToken() string {
	if d.Tokens == nil {
		return ""
	}
	return d.Tokens.AccessToken
}

// Store persists visitor bags
type Store interface {
	// Get returns the bag of the visitor; a visitor without one gets an
	// empty bag.
	Get(ctx context.Context, visitorID string) (Data, error)
	Set(ctx context.Context, visitorID string, data Data) error
	Clear(ctx context.Context, visitorID string) error
}
