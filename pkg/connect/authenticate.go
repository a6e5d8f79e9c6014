package connect

import (
	"context"
	"log/slog"
	"net/url"
	"time"

	"github.com/tendant/citizenos-connect/pkg/errors"
	"github.com/tendant/citizenos-connect/pkg/idtoken"
	"github.com/tendant/citizenos-connect/pkg/sessions"
	"github.com/tendant/citizenos-connect/pkg/sessionstore"
	"github.com/tendant/citizenos-connect/pkg/user"
)

// CallbackRequest is what the browser brings back from Citizen OS
type CallbackRequest struct {
	Params url.Values

	// VisitorID keys the visitor's session bag
	VisitorID string

	// RedirectTarget is the page the visitor started the login from
	RedirectTarget string

	IPAddress string
	UserAgent string
}

// Result of a successful login
type Result struct {
	User      user.User
	Session   *sessions.Session
	AuthToken string
	ExpiresAt time.Time

	RedirectURL string

	// ClearRedirectTarget asks the caller to drop the redirect cookie
	ClearRedirectTarget bool
}

// Authenticate validates a callback and logs the user in. Validation stops
// at the first failure; nothing is written before every check passed.
func (s *Service) Authenticate(ctx context.Context, req CallbackRequest) (*Result, error) {
	tr, idClaim, userClaim, err := s.validate(ctx, req.Params)
	if err != nil {
		slog.Warn("Citizen OS callback rejected", "code", errors.GetCode(err), "err", err)
		return nil, err
	}

	subject := idClaim.Subject()
	u, err := s.resolveUser(ctx, subject, userClaim, tr.AccessToken)
	if err != nil {
		slog.Warn("Failed resolving user", "subject", subject, "code", errors.GetCode(err), "err", err)
		return nil, err
	}
	if !u.Exists() {
		return nil, errors.New(errors.ErrCodeInvalidUser, "Invalid user")
	}

	result, err := s.login(ctx, u, tr, idClaim, userClaim, req)
	if err != nil {
		return nil, err
	}

	if req.VisitorID != "" {
		data := sessionstore.Data{Tokens: &tr, CosUserID: accountID(userClaim, subject)}
		if err := s.bag.Set(ctx, req.VisitorID, data); err != nil {
			slog.Error("Failed saving visitor session", "visitor", req.VisitorID, "err", err)
		}
	}

	result.RedirectURL = s.config.HomeURL
	if req.RedirectTarget != "" {
		result.ClearRedirectTarget = true
		if s.config.RedirectUserBack {
			target := req.RedirectTarget
			if s.hooks.RedirectUserBack != nil {
				target = s.hooks.RedirectUserBack(ctx, target, u)
			}
			if target != "" {
				result.RedirectURL = target
			}
		}
	}

	slog.Info("User logged in via Citizen OS", "user", u, "subject", subject)
	return result, nil
}

// validate runs the callback checks up to and including the user claim
func (s *Service) validate(ctx context.Context, params url.Values) (idtoken.TokenResponse, idtoken.Claim, idtoken.Claim, error) {
	tr := idtoken.FromValues(params)
	if tr.HasError() {
		return tr, nil, nil, errors.New(errors.ErrCodeProviderDenied, "An unknown error occurred.").
			WithDetail("error", tr.Error).
			WithDetail("error_description", tr.ErrorDescription)
	}

	if s.config.VerifyState {
		ok, err := s.states.Consume(ctx, tr.State)
		if err != nil {
			return tr, nil, nil, errors.Wrap(err, errors.ErrCodeInvalidState, "Invalid state")
		}
		if !ok {
			return tr, nil, nil, errors.New(errors.ErrCodeInvalidState, "Invalid state")
		}
	}

	if err := idtoken.ValidateTokenResponse(tr); err != nil {
		return tr, nil, nil, err
	}

	idClaim, err := idtoken.DecodeIDToken(tr)
	if err != nil {
		return tr, nil, nil, err
	}
	if s.verifier != nil {
		if err := s.verifier.Verify(ctx, tr); err != nil {
			return tr, nil, nil, err
		}
	}
	if err := idtoken.ValidateIDTokenClaim(idClaim); err != nil {
		return tr, nil, nil, err
	}

	userClaim := idClaim
	if s.config.EndpointUserInfo != "" && tr.AccessToken != "" && s.fetcher != nil {
		userClaim, err = s.fetcher.FetchUserInfo(ctx, tr.AccessToken)
		if err != nil {
			return tr, nil, nil, errors.Wrap(err, errors.ErrCodeBadClaim, "Request for userinfo failed.")
		}
	}

	if err := idtoken.ValidateUserClaim(userClaim, idClaim, s.hooks.LoginTest); err != nil {
		return tr, nil, nil, err
	}
	return tr, idClaim, userClaim, nil
}

func (s *Service) resolveUser(ctx context.Context, subject string, userClaim idtoken.Claim, accessToken string) (user.User, error) {
	u, found, err := s.resolver.Lookup(ctx, subject)
	if err != nil {
		return user.User{}, errors.Wrap(err, errors.ErrCodeInternal, "Failed looking up user")
	}
	if found {
		if s.hooks.UpdateUserUsingCurrentClaim != nil {
			s.hooks.UpdateUserUsingCurrentClaim(ctx, u, userClaim)
		}
		return u, nil
	}
	return s.resolver.Resolve(ctx, subject, userClaim, accessToken)
}

// login records the last tokens on the user and opens a session
func (s *Service) login(ctx context.Context, u user.User, tr idtoken.TokenResponse, idClaim, userClaim idtoken.Claim, req CallbackRequest) (*Result, error) {
	meta := []struct {
		key   string
		value interface{}
	}{
		{user.MetaLastTokenResponse, tr},
		{user.MetaLastIDTokenClaim, idClaim},
		{user.MetaLastUserClaim, userClaim},
	}
	for _, m := range meta {
		if err := s.users.SetMeta(ctx, u.ID, m.key, m.value); err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "Failed saving user meta")
		}
	}

	expiration := s.config.AuthCookieExpiration
	if s.hooks.AuthCookieExpiration != nil {
		expiration = s.hooks.AuthCookieExpiration(ctx, expiration, u)
	}
	expiresAt := s.now().Add(expiration)

	session, err := s.sessions.CreateSession(ctx, sessions.CreateSessionRequest{
		UserID:    u.ID,
		ExpiresAt: expiresAt,
		IPAddress: req.IPAddress,
		UserAgent: req.UserAgent,
	})
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "Failed creating session")
	}

	token, err := s.signer.GenerateToken(u.ID.String(), session.Token, expiresAt)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "Failed signing auth cookie")
	}

	if s.hooks.Login != nil {
		s.hooks.Login(ctx, u)
	}

	return &Result{
		User:      u,
		Session:   session,
		AuthToken: token,
		ExpiresAt: expiresAt,
	}, nil
}

// accountID is the Citizen OS account id of the user claim
func accountID(userClaim idtoken.Claim, subject string) string {
	if id := userClaim.String("id"); id != "" {
		return id
	}
	return subject
}
