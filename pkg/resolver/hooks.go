package resolver

import (
	"context"

	"github.com/tendant/citizenos-connect/pkg/idtoken"
	"github.com/tendant/citizenos-connect/pkg/user"
)

// Hooks let the embedding site customise account creation. Nil hooks allow
// everything and change nothing.
type Hooks struct {
	// CreationTest vetoes creation of a new account
	CreationTest func(ctx context.Context, claim idtoken.Claim) bool

	AlterUserClaim func(ctx context.Context, claim idtoken.Claim) idtoken.Claim
	AlterUserData  func(ctx context.Context, u user.User, claim idtoken.Claim) user.User

	// UserCreate runs once a user is linked to a new subject identity
	UserCreate func(ctx context.Context, u user.User, claim idtoken.Claim)

	// UserUpdate runs when an existing account is linked
	UserUpdate func(ctx context.Context, u user.User)
}

func (h Hooks) creationTest(ctx context.Context, claim idtoken.Claim) bool {
	if h.CreationTest == nil {
		return true
	}
	return h.CreationTest(ctx, claim)
}

func (h Hooks) alterUserClaim(ctx context.Context, claim idtoken.Claim) idtoken.Claim {
	if h.AlterUserClaim == nil {
		return claim
	}
	return h.AlterUserClaim(ctx, claim)
}

func (h Hooks) alterUserData(ctx context.Context, u user.User, claim idtoken.Claim) user.User {
	if h.AlterUserData == nil {
		return u
	}
	return h.AlterUserData(ctx, u, claim)
}

func (h Hooks) userCreate(ctx context.Context, u user.User, claim idtoken.Claim) {
	if h.UserCreate != nil {
		h.UserCreate(ctx, u, claim)
	}
}

func (h Hooks) userUpdate(ctx context.Context, u user.User) {
	if h.UserUpdate != nil {
		h.UserUpdate(ctx, u)
	}
}
