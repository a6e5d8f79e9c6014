package idtoken

import (
	"context"
	"crypto/rsa"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/tendant/citizenos-connect/pkg/errors"
)

// DefaultRefreshInterval is how often the key set is refetched
const DefaultRefreshInterval = time.Hour

// Verifier checks identity token signatures against the provider's JWKS.
// Keys come from a jwk.Cache refreshed in the background, so an unknown kid
// never triggers a fetch.
type Verifier struct {
	jwksURL string
	cache   *jwk.Cache
}

type verifierOptions struct {
	httpClient      *http.Client
	refreshInterval time.Duration
}

// VerifierOption configures the Verifier
type VerifierOption func(*verifierOptions)

// WithHTTPClient sets the client used to fetch the key set
func WithHTTPClient(c *http.Client) VerifierOption {
	return func(o *verifierOptions) { o.httpClient = c }
}

// WithRefreshInterval sets how often the key set is refetched
func WithRefreshInterval(d time.Duration) VerifierOption {
	return func(o *verifierOptions) { o.refreshInterval = d }
}

// NewVerifier registers jwksURL with a key cache. The cache refreshes until
// ctx is done.
func NewVerifier(ctx context.Context, jwksURL string, opts ...VerifierOption) (*Verifier, error) {
	o := verifierOptions{
		httpClient:      http.DefaultClient,
		refreshInterval: DefaultRefreshInterval,
	}
	for _, opt := range opts {
		opt(&o)
	}

	cache := jwk.NewCache(ctx)
	if err := cache.Register(jwksURL,
		jwk.WithHTTPClient(o.httpClient),
		jwk.WithMinRefreshInterval(o.refreshInterval),
	); err != nil {
		return nil, fmt.Errorf("failed to register jwks url: %w", err)
	}
	return &Verifier{jwksURL: jwksURL, cache: cache}, nil
}

// Verify checks the signature of the token's identity token. Expiry is
// enforced only when the token carries `exp`.
func (v *Verifier) Verify(ctx context.Context, tr TokenResponse) error {
	parser := jwt.NewParser(jwt.WithValidMethods([]string{"RS256", "RS384", "RS512"}))

	_, err := parser.Parse(tr.IDToken, func(token *jwt.Token) (interface{}, error) {
		kid, _ := token.Header["kid"].(string)
		return v.key(ctx, kid)
	})
	if err != nil {
		slog.Warn("identity token signature rejected", "err", err)
		return errors.Wrap(err, errors.ErrCodeInvalidSignature, "Invalid identity token signature")
	}
	return nil
}

func (v *Verifier) key(ctx context.Context, kid string) (*rsa.PublicKey, error) {
	set, err := v.cache.Get(ctx, v.jwksURL)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch jwks: %w", err)
	}

	key, ok := set.LookupKeyID(kid)
	if !ok && kid == "" && set.Len() == 1 {
		key, ok = set.Key(0)
	}
	if !ok {
		return nil, fmt.Errorf("key not found for kid %q", kid)
	}

	var pub rsa.PublicKey
	if err := key.Raw(&pub); err != nil {
		return nil, fmt.Errorf("key %q is not an RSA public key: %w", kid, err)
	}
	return &pub, nil
}
