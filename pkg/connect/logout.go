package connect

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/url"
	"strings"

	"github.com/tendant/citizenos-connect/pkg/idtoken"
	"github.com/tendant/citizenos-connect/pkg/user"
)

// LoggedOutURL is the default page shown after logout
func (s *Service) LoggedOutURL() string {
	separator := "?"
	if strings.Contains(s.config.LoginURL, "?") {
		separator = "&"
	}
	return s.config.LoginURL + separator + loggedOutParam + "=true"
}

// LogoutRedirectURL returns where to send u after a local logout. Users who
// logged in through Citizen OS are routed through its end-session endpoint.
func (s *Service) LogoutRedirectURL(ctx context.Context, u user.User, redirect string) string {
	endSession := s.config.EndpointEndSession
	if endSession == "" {
		return redirect
	}

	// in auto mode the login page would send the user straight back to
	// Citizen OS
	if s.config.LoginType == LoginTypeAuto && redirect == s.LoggedOutURL() {
		redirect = ""
	}

	var tr idtoken.TokenResponse
	if !metaInto(u, user.MetaLastTokenResponse, &tr) || tr.IDToken == "" {
		return redirect
	}
	redirect = s.absoluteURL(redirect)

	var claim idtoken.Claim
	if metaInto(u, user.MetaLastIDTokenClaim, &claim) && claim.Issuer() == googleIssuer {
		return redirect
	}

	separator := "?"
	if strings.Contains(endSession, "?") {
		separator = "&"
	}
	return endSession + separator + "id_token_hint=" + tr.IDToken +
		"&post_logout_redirect_uri=" + url.QueryEscape(redirect)
}

// AllowedRedirectHosts adds the end-session host to the hosts a logout may
// redirect to.
func (s *Service) AllowedRedirectHosts(allowed []string) []string {
	if s.config.EndpointEndSession == "" {
		return allowed
	}
	u, err := url.Parse(s.config.EndpointEndSession)
	if err != nil || u.Hostname() == "" {
		return allowed
	}
	return append(allowed, u.Hostname())
}

// Logout revokes the login session and forgets the visitor's Citizen OS
// tokens.
func (s *Service) Logout(ctx context.Context, visitorID, sessionToken string) error {
	if sessionToken != "" {
		if err := s.sessions.RevokeSession(ctx, sessionToken); err != nil {
			return err
		}
	}
	if visitorID != "" {
		if err := s.bag.Clear(ctx, visitorID); err != nil {
			return err
		}
	}
	return nil
}

func (s *Service) absoluteURL(redirect string) string {
	if u, err := url.Parse(redirect); err == nil && u.Host != "" {
		return redirect
	}
	if redirect == "" {
		return s.config.SiteURL
	}
	return s.config.SiteURL + "/" + strings.TrimPrefix(redirect, "/")
}

// metaInto decodes user meta into dst. Meta read back from Postgres is
// generic JSON, so values take a round trip through encoding/json.
func metaInto(u user.User, key string, dst interface{}) bool {
	v, ok := u.Meta[key]
	if !ok || v == nil {
		return false
	}
	raw, err := json.Marshal(v)
	if err != nil {
		slog.Warn("Failed encoding user meta", "key", key, "err", err)
		return false
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		slog.Warn("Failed decoding user meta", "key", key, "err", err)
		return false
	}
	return true
}
