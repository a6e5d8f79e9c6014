package resolver

import (
	"context"
	"crypto/rand"
	"log/slog"
	"math/big"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/tendant/citizenos-connect/pkg/errors"
	"github.com/tendant/citizenos-connect/pkg/idtoken"
	"github.com/tendant/citizenos-connect/pkg/user"
	"golang.org/x/crypto/bcrypt"
)

const (
	DefaultIdentityKey = "preferred_username"
	DefaultNicknameKey = "preferred_username"
	DefaultEmailFormat = "{email}"

	generatedPasswordLength = 32
	passwordChars           = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789!@#$%^&*()-_ []{}<>~`+=,.;:/?|"
)

// UserInfoFetcher fetches a fresh user claim with an access token
type UserInfoFetcher interface {
	FetchUserInfo(ctx context.Context, accessToken string) (idtoken.Claim, error)
}

// Config controls how account fields are derived from a claim
type Config struct {
	IdentityKey          string
	NicknameKey          string
	EmailFormat          string
	DisplayNameFormat    string
	LinkExistingUsers    bool
	IdentifyWithUsername bool
}

// DefaultConfig returns the derivation settings used when nothing is configured
func DefaultConfig() Config {
	return Config{
		IdentityKey: DefaultIdentityKey,
		NicknameKey: DefaultNicknameKey,
		EmailFormat: DefaultEmailFormat,
	}
}

// Resolver maps an authenticated subject identity to a local user, creating
// or linking one when needed.
type Resolver struct {
	repo    user.Repository
	config  Config
	hooks   Hooks
	fetcher UserInfoFetcher
}

// Option configures the Resolver
type Option func(*Resolver)

func WithHooks(h Hooks) Option {
	return func(r *Resolver) { r.hooks = h }
}

// WithUserInfoFetcher enables the one-shot user-info re-fetch when a claim
// is too thin to derive account fields from.
func WithUserInfoFetcher(f UserInfoFetcher) Option {
	return func(r *Resolver) { r.fetcher = f }
}

func NewResolver(repo user.Repository, config Config, opts ...Option) *Resolver {
	r := &Resolver{
		repo:   repo,
		config: config,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// derived holds the account fields computed from a claim
type derived struct {
	Email        string
	Username     string
	BaseUsername string
	Nickname     string
	DisplayName  string
}

// Resolve returns the user linked to subject, linking or creating one from
// the claim. accessToken may be empty; it is only used for the re-fetch.
func (r *Resolver) Resolve(ctx context.Context, subject string, claim idtoken.Claim, accessToken string) (user.User, error) {
	d, err := r.derive(ctx, subject, claim)
	if err != nil && accessToken != "" && r.fetcher != nil {
		slog.Info("user claim incomplete, fetching user info again", "subject", subject, "err", err)
		refetched, ferr := r.fetcher.FetchUserInfo(ctx, accessToken)
		if ferr != nil {
			return user.User{}, errors.Wrap(ferr, errors.ErrCodeBadUserClaimResult, "Bad user claim result")
		}
		claim = refetched
		d, err = r.derive(ctx, subject, claim)
	}
	if err != nil {
		return user.User{}, err
	}

	if r.config.LinkExistingUsers {
		var existing user.User
		var lerr error
		if r.config.IdentifyWithUsername {
			existing, lerr = r.repo.FindByUsername(ctx, d.BaseUsername)
		} else {
			existing, lerr = r.repo.FindByEmail(ctx, d.Email)
		}
		if lerr == nil {
			return r.linkExisting(ctx, existing.ID, subject)
		}
		if !errors.Is(lerr, user.ErrUserNotFound) {
			return user.User{}, errors.Wrap(lerr, errors.ErrCodeInternal, "Failed to look up existing user")
		}
	}

	return r.createUser(ctx, subject, claim, d)
}

func (r *Resolver) createUser(ctx context.Context, subject string, claim idtoken.Claim, d derived) (user.User, error) {
	existing, err := r.repo.FindByEmail(ctx, d.Email)
	if err != nil && !errors.Is(err, user.ErrUserNotFound) {
		return user.User{}, errors.Wrap(err, errors.ErrCodeUserCreationFailed, "Failed user creation.")
	}

	var u user.User
	if err == nil {
		u = existing
		if aerr := r.repo.AttachSubjectIdentity(ctx, u.ID, subject); aerr != nil {
			return user.User{}, errors.Wrap(aerr, errors.ErrCodeUserCreationFailed, "Failed user creation.")
		}
	} else {
		if !r.hooks.creationTest(ctx, claim) {
			return user.User{}, errors.New(errors.ErrCodeCreationDenied, "Can not authorize.")
		}

		claim = r.hooks.alterUserClaim(ctx, claim)

		hash, herr := generatePasswordHash()
		if herr != nil {
			return user.User{}, errors.Wrap(herr, errors.ErrCodeUserCreationFailed, "Failed user creation.")
		}

		data := user.User{
			Username:     d.Username,
			Email:        d.Email,
			DisplayName:  d.DisplayName,
			Nickname:     d.Nickname,
			FirstName:    claim.String("given_name"),
			LastName:     claim.String("family_name"),
			PasswordHash: hash,
		}
		data = r.hooks.alterUserData(ctx, data, claim)
		data.ShowAdminBar = false
		data.SubjectIdentity = subject

		created, cerr := r.repo.Create(ctx, data)
		if cerr != nil {
			slog.Error("failed to create user", "username", data.Username, "err", cerr)
			return user.User{}, errors.Wrap(cerr, errors.ErrCodeUserCreationFailed, "Failed user creation.")
		}
		u = created
		slog.Info("created user for subject identity", "user", u, "subject", subject)
	}

	u, err = r.repo.GetByID(ctx, u.ID)
	if err != nil {
		return user.User{}, errors.Wrap(err, errors.ErrCodeUserCreationFailed, "Failed user creation.")
	}

	r.hooks.userCreate(ctx, u, claim)
	return u, nil
}

// Lookup returns the user already linked to subject. The boolean is false
// when no user is linked.
func (r *Resolver) Lookup(ctx context.Context, subject string) (user.User, bool, error) {
	u, err := r.repo.FindBySubjectIdentity(ctx, subject)
	if errors.Is(err, user.ErrUserNotFound) {
		return user.User{}, false, nil
	}
	if err != nil {
		return user.User{}, false, errors.Wrap(err, errors.ErrCodeInternal, "Failed to look up user by subject identity")
	}
	return u, true, nil
}

func (r *Resolver) linkExisting(ctx context.Context, id uuid.UUID, subject string) (user.User, error) {
	if err := r.repo.AttachSubjectIdentity(ctx, id, subject); err != nil {
		return user.User{}, errors.Wrap(err, errors.ErrCodeUserCreationFailed, "Failed to link existing user")
	}
	u, err := r.repo.GetByID(ctx, id)
	if err != nil {
		return user.User{}, errors.Wrap(err, errors.ErrCodeUserCreationFailed, "Failed to link existing user")
	}
	slog.Info("linked existing user to subject identity", "user", u, "subject", subject)

	r.hooks.userUpdate(ctx, u)
	return u, nil
}

// derive computes the account fields, failing when a required value is
// missing from the claim.
func (r *Resolver) derive(ctx context.Context, subject string, claim idtoken.Claim) (derived, error) {
	d := derived{Email: subject}

	if r.config.EmailFormat != "" {
		email, err := Format(r.config.EmailFormat, claim, true)
		if err != nil {
			return derived{}, err
		}
		d.Email = email
	}

	base, err := r.desiredUsername(claim)
	if err != nil {
		return derived{}, err
	}
	d.BaseUsername = base
	d.Username, err = r.uniqueUsername(ctx, base)
	if err != nil {
		return derived{}, err
	}

	d.Nickname = d.Username
	if r.config.NicknameKey != "" && claim.Has(r.config.NicknameKey) {
		d.Nickname = claim.String(r.config.NicknameKey)
	}

	d.DisplayName = d.Nickname
	if r.config.DisplayNameFormat != "" {
		name, err := Format(r.config.DisplayNameFormat, claim, true)
		if err != nil {
			return derived{}, err
		}
		d.DisplayName = name
	}

	return d, nil
}

func (r *Resolver) desiredUsername(claim idtoken.Claim) (string, error) {
	var desired string
	switch {
	case r.config.IdentityKey != "" && claim.Has(r.config.IdentityKey):
		desired = claim.String(r.config.IdentityKey)
	case claim.String("preferred_username") != "":
		desired = claim.String("preferred_username")
	case claim.String("name") != "":
		desired = claim.String("name")
	case claim.String("email") != "":
		desired, _, _ = strings.Cut(claim.String("email"), "@")
	}

	normalized := NormalizeUsername(desired)
	if normalized == "" {
		return "", errors.New(errors.ErrCodeNoUsername, "No appropriate username found")
	}
	return normalized, nil
}

// uniqueUsername returns base, or base2, base3... for the first free name
func (r *Resolver) uniqueUsername(ctx context.Context, base string) (string, error) {
	username := base
	for count := 2; ; count++ {
		exists, err := r.repo.UsernameExists(ctx, username)
		if err != nil {
			return "", errors.Wrap(err, errors.ErrCodeInternal, "Failed to check username")
		}
		if !exists {
			return username, nil
		}
		username = base + strconv.Itoa(count)
	}
}

func generatePasswordHash() (string, error) {
	limit := big.NewInt(int64(len(passwordChars)))
	password := make([]byte, generatedPasswordLength)
	for i := range password {
		n, err := rand.Int(rand.Reader, limit)
		if err != nil {
			return "", err
		}
		password[i] = passwordChars[n.Int64()]
	}
	hash, err := bcrypt.GenerateFromPassword(password, bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}
