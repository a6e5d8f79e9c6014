package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/jinzhu/copier"
	"github.com/tendant/chi-demo/app"
	"github.com/tendant/citizenos-connect/pkg/connect"
	"github.com/tendant/citizenos-connect/pkg/resolver"
)

// minJwtSecretLength is the shortest accepted HS256 signing secret
const minJwtSecretLength = 32

// Login types. With the auto login type the site sends anonymous visitors
// straight to Citizen OS.
const (
	LoginTypeButton = "button"
	LoginTypeAuto   = "auto"
)

// Storage backends for login states, users and sessions
const (
	BackendMemory   = "memory"
	BackendFile     = "file"
	BackendRedis    = "redis"
	BackendPostgres = "postgres"
)

// CitizenOSConfig describes the Citizen OS client registration and how
// accounts are derived from its claims.
type CitizenOSConfig struct {
	ClientID     string `env:"CITIZENOS_CLIENT_ID"`
	ClientSecret string `env:"CITIZENOS_CLIENT_SECRET"`
	Scope        string `env:"CITIZENOS_SCOPE" env-default:"openid"`
	BaseURL      string `env:"CITIZENOS_BASE_URL"`
	LoginType    string `env:"CITIZENOS_LOGIN_TYPE" env-default:"button"`

	EndpointLogin      string `env:"CITIZENOS_ENDPOINT_LOGIN" env-default:"/api/auth/openid/authorize"`
	EndpointUserInfo   string `env:"CITIZENOS_ENDPOINT_USERINFO" env-default:"/api/users/self"`
	EndpointEndSession string `env:"CITIZENOS_ENDPOINT_END_SESSION"`

	IdentityKey          string `env:"CITIZENOS_IDENTITY_KEY" env-default:"preferred_username"`
	NicknameKey          string `env:"CITIZENOS_NICKNAME_KEY" env-default:"preferred_username"`
	EmailFormat          string `env:"CITIZENOS_EMAIL_FORMAT" env-default:"{email}"`
	DisplayNameFormat    string `env:"CITIZENOS_DISPLAYNAME_FORMAT"`
	IdentifyWithUsername bool   `env:"CITIZENOS_IDENTIFY_WITH_USERNAME" env-default:"false"`
	LinkExistingUsers    bool   `env:"CITIZENOS_LINK_EXISTING_USERS" env-default:"false"`

	EnforcePrivacy       bool `env:"CITIZENOS_ENFORCE_PRIVACY" env-default:"false"`
	RedirectUserBack     bool `env:"CITIZENOS_REDIRECT_USER_BACK" env-default:"false"`
	AlternateRedirectURI bool `env:"CITIZENOS_ALTERNATE_REDIRECT_URI" env-default:"false"`

	NoSSLVerify    bool          `env:"CITIZENOS_NO_SSLVERIFY" env-default:"false"`
	HTTPTimeout    time.Duration `env:"CITIZENOS_HTTP_TIMEOUT" env-default:"5s"`
	StateTimeLimit time.Duration `env:"CITIZENOS_STATE_TIME_LIMIT" env-default:"180s"`
	VerifyState    bool          `env:"CITIZENOS_VERIFY_STATE" env-default:"true"`
	JWKSURL        string        `env:"CITIZENOS_JWKS_URL"`

	TopicCategories []string `env:"CITIZENOS_TOPIC_CATEGORIES" env-separator:"," env-default:"thetwelvemovie"`
}

// SiteConfig holds the public URLs of the embedding site
type SiteConfig struct {
	SiteURL  string `env:"SITE_URL" env-default:"http://localhost:3000"`
	HomeURL  string `env:"HOME_URL"`
	LoginURL string `env:"LOGIN_URL"`
}

// AuthConfig configures the local auth cookie
type AuthConfig struct {
	JwtSecret            string        `env:"JWT_SECRET" env-required:"true"`
	CookieSecure         bool          `env:"COOKIE_SECURE" env-default:"false"`
	AuthCookieExpiration time.Duration `env:"AUTH_COOKIE_EXPIRATION" env-default:"48h"`
}

// StorageConfig selects where login states, users and sessions live
type StorageConfig struct {
	Backend string `env:"STORE_BACKEND" env-default:"memory"`
	DataDir string `env:"DATA_DIR" env-default:"./data"`
}

// RateLimitConfig throttles login starts and callbacks per client IP.
// A zero burst disables it.
type RateLimitConfig struct {
	Burst     int           `env:"LOGIN_RATE_LIMIT_BURST" env-default:"20"`
	PerMinute float64       `env:"LOGIN_RATE_LIMIT_PER_MINUTE" env-default:"10"`
	IdleTTL   time.Duration `env:"LOGIN_RATE_LIMIT_IDLE_TTL" env-default:"10m"`
}

// Settings is the complete server configuration
type Settings struct {
	CitizenOS CitizenOSConfig
	Site      SiteConfig
	Auth      AuthConfig
	Storage   StorageConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	Email     EmailConfig
	RateLimit RateLimitConfig
	AppConfig app.AppConfig
}

// Load reads Settings from the environment, fills derived URLs and validates
// the result.
func Load() (Settings, error) {
	var s Settings
	if err := cleanenv.ReadEnv(&s); err != nil {
		return s, err
	}
	s.normalize()
	if err := s.Validate(); err != nil {
		return s, err
	}
	return s, nil
}

func (s *Settings) normalize() {
	s.CitizenOS.BaseURL = strings.TrimRight(s.CitizenOS.BaseURL, "/")
	s.Site.SiteURL = strings.TrimRight(s.Site.SiteURL, "/")
	if s.Site.HomeURL == "" {
		s.Site.HomeURL = s.Site.SiteURL + "/"
	}
	if s.Site.LoginURL == "" {
		s.Site.LoginURL = s.Site.SiteURL + "/login"
	}
}

// Validate reports every invalid setting at once
func (s Settings) Validate() error {
	var errs ValidationErrors

	errs.add(RequireValidURL("SITE_URL", s.Site.SiteURL))
	errs.add(OptionalValidURL("CITIZENOS_BASE_URL", s.CitizenOS.BaseURL))
	errs.add(OptionalValidURL("CITIZENOS_JWKS_URL", s.CitizenOS.JWKSURL))
	errs.add(RequireOneOf("CITIZENOS_LOGIN_TYPE", s.CitizenOS.LoginType, LoginTypeButton, LoginTypeAuto))
	errs.add(RequirePositiveDuration("CITIZENOS_HTTP_TIMEOUT", s.CitizenOS.HTTPTimeout))
	errs.add(RequirePositiveDuration("CITIZENOS_STATE_TIME_LIMIT", s.CitizenOS.StateTimeLimit))
	errs.add(RequireMinLength("JWT_SECRET", s.Auth.JwtSecret, minJwtSecretLength))
	errs.add(RequirePositiveDuration("AUTH_COOKIE_EXPIRATION", s.Auth.AuthCookieExpiration))
	if s.RateLimit.Burst > 0 && s.RateLimit.PerMinute <= 0 {
		errs = append(errs, ValidationError{Field: "LOGIN_RATE_LIMIT_PER_MINUTE", Message: "must be positive"})
	}
	errs.add(RequireOneOf("STORE_BACKEND", s.Storage.Backend, BackendMemory, BackendFile, BackendRedis, BackendPostgres))

	switch s.Storage.Backend {
	case BackendFile:
		errs.add(RequireNonEmpty("DATA_DIR", s.Storage.DataDir))
	case BackendRedis:
		errs.add(RequireNonEmpty("REDIS_ADDR", s.Redis.Addr))
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

// ResolverConfig maps the account derivation settings onto the resolver
func (s Settings) ResolverConfig() (resolver.Config, error) {
	var config resolver.Config
	if err := copier.Copy(&config, &s.CitizenOS); err != nil {
		return config, fmt.Errorf("failed to map resolver config: %w", err)
	}
	return config, nil
}

// RedirectURI is the callback URL registered with Citizen OS
func (s Settings) RedirectURI() string {
	if s.CitizenOS.AlternateRedirectURI {
		return s.Site.SiteURL + connect.AlternateCallbackPath
	}
	return s.Site.SiteURL + connect.CallbackPath
}

// ConnectConfig maps the settings onto the login orchestrator
func (s Settings) ConnectConfig() (connect.Config, error) {
	var config connect.Config
	if err := copier.Copy(&config, &s.CitizenOS); err != nil {
		return config, fmt.Errorf("failed to map connect config: %w", err)
	}
	if err := copier.Copy(&config, &s.Site); err != nil {
		return config, fmt.Errorf("failed to map connect config: %w", err)
	}
	config.RedirectURI = s.RedirectURI()
	config.AuthCookieExpiration = s.Auth.AuthCookieExpiration
	return config, nil
}
