package connect

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"
	"net/url"
	"strings"

	"github.com/tendant/citizenos-connect/pkg/errors"
)

// extraAuthParams are the optional authorization request parameters a caller
// may add. Everything else in extra is dropped so the request parameters the
// service sets cannot be duplicated.
var extraAuthParams = []string{"prompt", "login_hint", "ui_locales", "display", "max_age", "acr_values"}

// AuthorizationURL builds the Citizen OS authorization URL for a new login.
// Every call issues a fresh state.
func (s *Service) AuthorizationURL(ctx context.Context, extra url.Values) (string, error) {
	nonce, err := newNonce()
	if err != nil {
		return "", errors.Wrap(err, errors.ErrCodeInternal, "Failed generating nonce")
	}
	st, err := s.states.Issue(ctx)
	if err != nil {
		return "", errors.Wrap(err, errors.ErrCodeInternal, "Failed issuing state")
	}

	separator := "?"
	if strings.Contains(s.config.EndpointLogin, "?") {
		separator = "&"
	}
	authURL := fmt.Sprintf("%s%s%sresponse_type=id_token+token&nonce=%s&scope=%s&client_id=%s&state=%s&redirect_uri=%s",
		s.config.BaseURL,
		s.config.EndpointLogin,
		separator,
		nonce,
		url.QueryEscape(s.config.Scope),
		url.QueryEscape(s.config.ClientID),
		st,
		url.QueryEscape(s.config.RedirectURI),
	)
	if allowed := allowedExtraParams(extra); len(allowed) > 0 {
		authURL += "&" + allowed.Encode()
	}

	if s.hooks.AuthURL != nil {
		authURL = s.hooks.AuthURL(ctx, authURL)
	}
	return authURL, nil
}

// ErrorRedirectURL is the login page URL reporting err
func (s *Service) ErrorRedirectURL(err error) string {
	separator := "?"
	if strings.Contains(s.config.LoginURL, "?") {
		separator = "&"
	}
	return s.config.LoginURL + separator +
		loginErrorParam + "=" + url.QueryEscape(string(errors.GetCode(err))) +
		"&" + loginErrorDetail + "=" + url.QueryEscape(errors.GetMessage(err))
}

func allowedExtraParams(extra url.Values) url.Values {
	allowed := url.Values{}
	for _, key := range extraAuthParams {
		if v := extra.Get(key); v != "" {
			allowed.Set(key, v)
		}
	}
	return allowed
}

func newNonce() (string, error) {
	limit := big.NewInt(int64(len(nonceAlphabet)))
	b := make([]byte, nonceLength)
	for i := range b {
		n, err := rand.Int(rand.Reader, limit)
		if err != nil {
			return "", err
		}
		b[i] = nonceAlphabet[n.Int64()]
	}
	return string(b), nil
}
