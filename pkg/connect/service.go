package connect

import (
	"context"
	"time"

	"github.com/tendant/citizenos-connect/pkg/idtoken"
	"github.com/tendant/citizenos-connect/pkg/resolver"
	"github.com/tendant/citizenos-connect/pkg/sessions"
	"github.com/tendant/citizenos-connect/pkg/sessionstore"
	"github.com/tendant/citizenos-connect/pkg/state"
	"github.com/tendant/citizenos-connect/pkg/user"
)

// Callback routes Citizen OS redirects back to
const (
	CallbackPath          = "/citizenos/authorize"
	AlternateCallbackPath = "/citizenos-connect-authorize"
)

const (
	DefaultScope     = "openid"
	LoginTypeAuto    = "auto"
	googleIssuer     = "https://accounts.google.com"
	nonceLength      = 14
	nonceAlphabet    = "0123456789abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ"
	loggedOutParam   = "loggedout"
	loginErrorParam  = "login-error"
	loginErrorDetail = "message"
)

// Config describes the Citizen OS registration and the site URLs involved in
// a login.
type Config struct {
	ClientID           string
	Scope              string
	BaseURL            string
	LoginType          string
	EndpointLogin      string
	EndpointUserInfo   string
	EndpointEndSession string
	VerifyState        bool
	RedirectUserBack   bool

	// RedirectURI is where Citizen OS sends the browser back to
	RedirectURI string

	SiteURL  string
	HomeURL  string
	LoginURL string

	AuthCookieExpiration time.Duration
}

// Hooks let the embedding site observe and adjust a login. Nil hooks allow
// everything and change nothing.
type Hooks struct {
	// LoginTest vetoes a login after the user claim was validated
	LoginTest idtoken.LoginTest

	// AuthURL rewrites the authorization URL before it is returned
	AuthURL func(ctx context.Context, authURL string) string

	// UpdateUserUsingCurrentClaim runs for returning users
	UpdateUserUsingCurrentClaim func(ctx context.Context, u user.User, claim idtoken.Claim)

	AuthCookieExpiration func(ctx context.Context, expiration time.Duration, u user.User) time.Duration

	// Login runs once the session is established
	Login func(ctx context.Context, u user.User)

	// RedirectUserBack may rewrite the redirect target; an empty result
	// sends the user home.
	RedirectUserBack func(ctx context.Context, redirectURL string, u user.User) string
}

// IDTokenVerifier checks the signature of an identity token
type IDTokenVerifier interface {
	Verify(ctx context.Context, tr idtoken.TokenResponse) error
}

// UserResolver finds or creates the local user of a subject identity
type UserResolver interface {
	Lookup(ctx context.Context, subject string) (user.User, bool, error)
	Resolve(ctx context.Context, subject string, claim idtoken.Claim, accessToken string) (user.User, error)
}

// SessionManager issues and revokes login sessions
type SessionManager interface {
	CreateSession(ctx context.Context, req sessions.CreateSessionRequest) (*sessions.Session, error)
	RevokeSession(ctx context.Context, token string) error
}

// CookieSigner signs the auth cookie value
type CookieSigner interface {
	GenerateToken(userID, sessionToken string, expiresAt time.Time) (string, error)
}

// Service coordinates the login handshake and logout
type Service struct {
	config   Config
	hooks    Hooks
	states   state.Store
	users    user.Repository
	resolver UserResolver
	sessions SessionManager
	signer   CookieSigner
	bag      sessionstore.Store
	fetcher  resolver.UserInfoFetcher
	verifier IDTokenVerifier
	now      func() time.Time
}

// Option configures the Service
type Option func(*Service)

func WithHooks(h Hooks) Option {
	return func(s *Service) {
		s.hooks = h
	}
}

// WithUserInfoFetcher enables the user-info exchange after the id token
func WithUserInfoFetcher(f resolver.UserInfoFetcher) Option {
	return func(s *Service) {
		s.fetcher = f
	}
}

// WithVerifier enables signature verification of identity tokens
func WithVerifier(v IDTokenVerifier) Option {
	return func(s *Service) {
		s.verifier = v
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

// NewService creates the login orchestrator
func NewService(config Config, states state.Store, users user.Repository, userResolver UserResolver,
	sessionManager SessionManager, signer CookieSigner, bag sessionstore.Store, opts ...Option) *Service {
	if config.Scope == "" {
		config.Scope = DefaultScope
	}
	if config.AuthCookieExpiration <= 0 {
		config.AuthCookieExpiration = sessions.DefaultExpiration
	}
	if config.HomeURL == "" {
		config.HomeURL = config.SiteURL + "/"
	}
	if config.LoginURL == "" {
		config.LoginURL = config.SiteURL + "/login"
	}

	s := &Service{
		config:   config,
		states:   states,
		users:    users,
		resolver: userResolver,
		sessions: sessionManager,
		signer:   signer,
		bag:      bag,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Config returns the effective configuration
func (s *Service) Config() Config {
	return s.config
}
