package connect

import (
	"context"

	"github.com/tendant/citizenos-connect/pkg/citizenos"
	"github.com/tendant/citizenos-connect/pkg/errors"
	"github.com/tendant/citizenos-connect/pkg/idtoken"
)

// UserInfoClient fetches user claims from the Citizen OS user-info endpoint
type UserInfoClient struct {
	client *citizenos.Client
}

func NewUserInfoClient(client *citizenos.Client) *UserInfoClient {
	return &UserInfoClient{client: client}
}

// FetchUserInfo exchanges an access token for a user claim
func (c *UserInfoClient) FetchUserInfo(ctx context.Context, accessToken string) (idtoken.Claim, error) {
	raw, err := c.client.GetUserInfo(ctx, accessToken)
	if err != nil {
		return nil, err
	}
	if len(raw) == 0 {
		return nil, nil
	}
	claim, err := idtoken.DecodeClaim(raw)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeRequestFailed, "Request for userinfo failed.")
	}
	return claim, nil
}
