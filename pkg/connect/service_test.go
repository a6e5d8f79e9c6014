package connect

import (
	"context"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/jwtauth/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/tendant/citizenos-connect/pkg/errors"
	"github.com/tendant/citizenos-connect/pkg/idtoken"
	"github.com/tendant/citizenos-connect/pkg/resolver"
	"github.com/tendant/citizenos-connect/pkg/sessions"
	"github.com/tendant/citizenos-connect/pkg/sessionstore"
	"github.com/tendant/citizenos-connect/pkg/state"
	"github.com/tendant/citizenos-connect/pkg/tokengenerator"
	"github.com/tendant/citizenos-connect/pkg/user"
)

// MockFetcher is a mock implementation of resolver.UserInfoFetcher
type MockFetcher struct {
	mock.Mock
}

func (m *MockFetcher) FetchUserInfo(ctx context.Context, accessToken string) (idtoken.Claim, error) {
	args := m.Called(ctx, accessToken)
	claim, _ := args.Get(0).(idtoken.Claim)
	return claim, args.Error(1)
}

type fixture struct {
	service    *Service
	states     *state.CollectionStore
	collection *state.InMemoryCollection
	users      *user.InMemoryRepository
	sessions   *sessions.Service
	signer     *tokengenerator.JwtTokenGenerator
	bag        *sessionstore.InMemoryStore
	fetcher    *MockFetcher
}

func testConfig() Config {
	return Config{
		ClientID:         "partner-1",
		BaseURL:          "https://api.citizenos.com",
		EndpointLogin:    "/api/auth/openid/authorize",
		EndpointUserInfo: "/api/users/self",
		VerifyState:      true,
		RedirectURI:      "https://site/citizenos/authorize",
		SiteURL:          "https://site",
	}
}

func newFixture(t *testing.T, config Config, hooks Hooks) *fixture {
	t.Helper()
	return newFixtureWithResolver(t, config, resolver.DefaultConfig(), hooks)
}

func newFixtureWithResolver(t *testing.T, config Config, resolverConfig resolver.Config, hooks Hooks) *fixture {
	t.Helper()
	f := &fixture{
		collection: state.NewInMemoryCollection(),
		users:      user.NewInMemoryRepository(),
		sessions:   sessions.NewService(sessions.NewInMemoryRepository()),
		signer:     tokengenerator.NewJwtTokenGenerator("test-secret", "citizenos-connect"),
		bag:        sessionstore.NewInMemoryStore(sessionstore.DefaultTTL),
		fetcher:    new(MockFetcher),
	}
	f.states = state.NewCollectionStore(f.collection)
	r := resolver.NewResolver(f.users, resolverConfig, resolver.WithUserInfoFetcher(f.fetcher))
	f.service = NewService(config, f.states, f.users, r, f.sessions, f.signer, f.bag,
		WithHooks(hooks), WithUserInfoFetcher(f.fetcher))
	return f
}

func idToken(t *testing.T, claim idtoken.Claim) string {
	t.Helper()
	seg, err := idtoken.EncodeSegment(claim)
	require.NoError(t, err)
	return "eyJhbGciOiJub25lIn0." + seg + ".sig"
}

// callback builds valid callback params with a freshly issued state
func (f *fixture) callback(t *testing.T, claim idtoken.Claim) url.Values {
	t.Helper()
	st, err := f.states.Issue(context.Background())
	require.NoError(t, err)
	return url.Values{
		"id_token":     {idToken(t, claim)},
		"access_token": {"at"},
		"token_type":   {"Bearer"},
		"state":        {st},
	}
}

func aliceClaim() idtoken.Claim {
	return idtoken.Claim{
		"sub":                "cos-alice",
		"id":                 "cos-account-1",
		"preferred_username": "Alice",
		"email":              "alice@example.com",
		"given_name":         "Alice",
		"family_name":        "Liddell",
	}
}

func TestAuthorizationURL(t *testing.T) {
	ctx := context.Background()

	t.Run("Parameters", func(t *testing.T) {
		f := newFixture(t, testConfig(), Hooks{})

		authURL, err := f.service.AuthorizationURL(ctx, url.Values{"ui_locales": {"et"}})
		require.NoError(t, err)
		assert.True(t, strings.HasPrefix(authURL, "https://api.citizenos.com/api/auth/openid/authorize?response_type=id_token+token&nonce="))

		u, err := url.Parse(authURL)
		require.NoError(t, err)
		q := u.Query()
		assert.Equal(t, "id_token token", q.Get("response_type"))
		assert.Len(t, q.Get("nonce"), nonceLength)
		assert.Equal(t, "openid", q.Get("scope"))
		assert.Equal(t, "partner-1", q.Get("client_id"))
		assert.Equal(t, "https://site/citizenos/authorize", q.Get("redirect_uri"))
		assert.Equal(t, "et", q.Get("ui_locales"))

		ok, err := f.states.Consume(ctx, q.Get("state"))
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("OnlyAllowedExtraParameters", func(t *testing.T) {
		f := newFixture(t, testConfig(), Hooks{})

		authURL, err := f.service.AuthorizationURL(ctx, url.Values{
			"client_id":    {"evil"},
			"redirect_uri": {"https://evil.example/"},
			"state":        {"forged"},
			"nonce":        {"forged"},
			"prompt":       {"login"},
		})
		require.NoError(t, err)

		u, err := url.Parse(authURL)
		require.NoError(t, err)
		q := u.Query()
		assert.Equal(t, []string{"partner-1"}, q["client_id"])
		assert.Equal(t, []string{"https://site/citizenos/authorize"}, q["redirect_uri"])
		assert.Len(t, q["state"], 1)
		assert.NotEqual(t, "forged", q.Get("state"))
		assert.Len(t, q["nonce"], 1)
		assert.Equal(t, "login", q.Get("prompt"))
	})

	t.Run("LoginPathWithQuery", func(t *testing.T) {
		config := testConfig()
		config.EndpointLogin = "/authorize?prompt=login"
		f := newFixture(t, config, Hooks{})

		authURL, err := f.service.AuthorizationURL(ctx, nil)
		require.NoError(t, err)
		assert.True(t, strings.HasPrefix(authURL, "https://api.citizenos.com/authorize?prompt=login&response_type="))
	})

	t.Run("FilterHook", func(t *testing.T) {
		f := newFixture(t, testConfig(), Hooks{
			AuthURL: func(ctx context.Context, authURL string) string {
				return authURL + "&ui_locales=et"
			},
		})

		authURL, err := f.service.AuthorizationURL(ctx, nil)
		require.NoError(t, err)
		assert.True(t, strings.HasSuffix(authURL, "&ui_locales=et"))
	})

	t.Run("NonceIsRandom", func(t *testing.T) {
		a, err := newNonce()
		require.NoError(t, err)
		b, err := newNonce()
		require.NoError(t, err)
		assert.NotEqual(t, a, b)
	})
}

func TestAuthenticate_FailFast(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name        string
		hooks       Hooks
		params      func(t *testing.T, f *fixture) url.Values
		userClaim   idtoken.Claim
		wantCode    errors.ErrorCode
		wantFetches int
	}{
		{
			name: "ProviderDenied",
			params: func(t *testing.T, f *fixture) url.Values {
				return url.Values{"error": {"access_denied"}}
			},
			wantCode: errors.ErrCodeProviderDenied,
		},
		{
			name: "UnknownState",
			params: func(t *testing.T, f *fixture) url.Values {
				p := f.callback(t, aliceClaim())
				p.Set("state", "forged")
				return p
			},
			wantCode: errors.ErrCodeInvalidState,
		},
		{
			name: "NoIDToken",
			params: func(t *testing.T, f *fixture) url.Values {
				p := f.callback(t, aliceClaim())
				p.Del("id_token")
				return p
			},
			wantCode: errors.ErrCodeInvalidTokenResponse,
		},
		{
			name: "MalformedIDToken",
			params: func(t *testing.T, f *fixture) url.Values {
				p := f.callback(t, aliceClaim())
				p.Set("id_token", "only-one-part")
				return p
			},
			wantCode: errors.ErrCodeMalformedToken,
		},
		{
			name: "NoSubject",
			params: func(t *testing.T, f *fixture) url.Values {
				return f.callback(t, idtoken.Claim{"email": "alice@example.com"})
			},
			wantCode: errors.ErrCodeNoSubjectIdentity,
		},
		{
			name: "ProviderErrorInUserClaim",
			params: func(t *testing.T, f *fixture) url.Values {
				return f.callback(t, aliceClaim())
			},
			userClaim:   idtoken.Claim{"error": "access_denied"},
			wantCode:    errors.ErrorCode("invalid-user-claim-access_denied"),
			wantFetches: 1,
		},
		{
			name: "LoginTestVeto",
			hooks: Hooks{
				LoginTest: func(claim idtoken.Claim) bool { return false },
			},
			params: func(t *testing.T, f *fixture) url.Values {
				return f.callback(t, aliceClaim())
			},
			userClaim:   aliceClaim(),
			wantCode:    errors.ErrCodeUnauthorized,
			wantFetches: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, testConfig(), tt.hooks)
			f.fetcher.On("FetchUserInfo", mock.Anything, "at").Return(tt.userClaim, nil)

			_, err := f.service.Authenticate(ctx, CallbackRequest{
				Params:    tt.params(t, f),
				VisitorID: "visitor-1",
			})
			require.Error(t, err)
			assert.Equal(t, tt.wantCode, errors.GetCode(err))
			f.fetcher.AssertNumberOfCalls(t, "FetchUserInfo", tt.wantFetches)

			// nothing is committed
			_, err = f.users.FindByEmail(ctx, "alice@example.com")
			assert.ErrorIs(t, err, user.ErrUserNotFound)
			data, err := f.bag.Get(ctx, "visitor-1")
			require.NoError(t, err)
			assert.Nil(t, data.Tokens)
		})
	}
}

func TestAuthenticate_UserInfoFailure(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, testConfig(), Hooks{})
	f.fetcher.On("FetchUserInfo", mock.Anything, "at").
		Return(nil, errors.New(errors.ErrCodeRequestFailed, "timeout"))

	_, err := f.service.Authenticate(ctx, CallbackRequest{Params: f.callback(t, aliceClaim())})
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrCodeBadClaim))
	f.fetcher.AssertNumberOfCalls(t, "FetchUserInfo", 1)
}

func TestAuthenticate_StateIsSingleUse(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, testConfig(), Hooks{})
	f.fetcher.On("FetchUserInfo", mock.Anything, "at").Return(aliceClaim(), nil)

	params := f.callback(t, aliceClaim())
	_, err := f.service.Authenticate(ctx, CallbackRequest{Params: params})
	require.NoError(t, err)

	_, err = f.service.Authenticate(ctx, CallbackRequest{Params: params})
	assert.True(t, errors.IsCode(err, errors.ErrCodeInvalidState))
}

func TestAuthenticate_EndToEnd(t *testing.T) {
	ctx := context.Background()

	var updated []user.User
	var loggedIn int
	f := newFixture(t, testConfig(), Hooks{
		UpdateUserUsingCurrentClaim: func(ctx context.Context, u user.User, claim idtoken.Claim) {
			updated = append(updated, u)
		},
		Login: func(ctx context.Context, u user.User) {
			loggedIn++
		},
	})
	f.fetcher.On("FetchUserInfo", mock.Anything, "at").Return(aliceClaim(), nil)

	result, err := f.service.Authenticate(ctx, CallbackRequest{
		Params:    f.callback(t, aliceClaim()),
		VisitorID: "visitor-1",
		IPAddress: "203.0.113.7",
		UserAgent: "test-agent",
	})
	require.NoError(t, err)

	// new local user
	assert.Equal(t, "alice", result.User.Username)
	assert.Equal(t, "alice@example.com", result.User.Email)
	assert.Equal(t, "cos-alice", result.User.SubjectIdentity)
	assert.False(t, result.User.ShowAdminBar)
	assert.Equal(t, "https://site/", result.RedirectURL)
	assert.Empty(t, updated)
	assert.Equal(t, 1, loggedIn)

	// login metadata
	stored, err := f.users.GetByID(ctx, result.User.ID)
	require.NoError(t, err)
	assert.Contains(t, stored.Meta, user.MetaLastTokenResponse)
	assert.Contains(t, stored.Meta, user.MetaLastIDTokenClaim)
	assert.Contains(t, stored.Meta, user.MetaLastUserClaim)

	// session and auth cookie
	valid, err := f.sessions.IsSessionValid(ctx, result.Session.Token)
	require.NoError(t, err)
	assert.True(t, valid)
	assert.Equal(t, "203.0.113.7", result.Session.IPAddress)
	assert.WithinDuration(t, time.Now().Add(sessions.DefaultExpiration), result.ExpiresAt, time.Minute)

	verified, err := jwtauth.VerifyToken(jwtauth.New("HS256", []byte("test-secret"), nil), result.AuthToken)
	require.NoError(t, err)
	assert.Equal(t, result.User.ID.String(), verified.Subject())
	assert.Equal(t, result.Session.Token, verified.JwtID())

	// visitor bag
	data, err := f.bag.Get(ctx, "visitor-1")
	require.NoError(t, err)
	assert.Equal(t, "at", data.AccessToken())
	assert.Equal(t, "cos-account-1", data.CosUserID)

	// returning user keeps the same account
	again, err := f.service.Authenticate(ctx, CallbackRequest{Params: f.callback(t, aliceClaim())})
	require.NoError(t, err)
	assert.Equal(t, result.User.ID, again.User.ID)
	require.Len(t, updated, 1)
	assert.Equal(t, result.User.ID, updated[0].ID)
	assert.Equal(t, 2, loggedIn)
}

// A bare id_token claim with no email, no state check and no user-info
// endpoint still creates exactly one account for the subject.
func TestAuthenticate_ClaimOnlyLogin(t *testing.T) {
	ctx := context.Background()
	config := testConfig()
	config.VerifyState = false
	config.EndpointUserInfo = ""
	resolverConfig := resolver.DefaultConfig()
	resolverConfig.EmailFormat = ""
	f := newFixtureWithResolver(t, config, resolverConfig, Hooks{})

	params := url.Values{
		"id_token":     {idToken(t, idtoken.Claim{"sub": "u1", "preferred_username": "alice"})},
		"access_token": {"tok"},
	}

	result, err := f.service.Authenticate(ctx, CallbackRequest{Params: params})
	require.NoError(t, err)
	assert.Equal(t, "alice", result.User.Username)
	assert.Equal(t, "u1", result.User.SubjectIdentity)
	assert.Equal(t, "u1", result.User.Email)
	require.NotNil(t, result.Session)

	valid, err := f.sessions.IsSessionValid(ctx, result.Session.Token)
	require.NoError(t, err)
	assert.True(t, valid)

	again, err := f.service.Authenticate(ctx, CallbackRequest{Params: params})
	require.NoError(t, err)
	assert.Equal(t, result.User.ID, again.User.ID)

	exists, err := f.users.UsernameExists(ctx, "alice2")
	require.NoError(t, err)
	assert.False(t, exists)
	f.fetcher.AssertNotCalled(t, "FetchUserInfo", mock.Anything, mock.Anything)
}

func TestAuthenticate_WithoutUserInfoEndpoint(t *testing.T) {
	ctx := context.Background()
	config := testConfig()
	config.EndpointUserInfo = ""
	f := newFixture(t, config, Hooks{})

	result, err := f.service.Authenticate(ctx, CallbackRequest{Params: f.callback(t, aliceClaim())})
	require.NoError(t, err)
	assert.Equal(t, "alice", result.User.Username)
	f.fetcher.AssertNotCalled(t, "FetchUserInfo", mock.Anything, mock.Anything)
}

func TestAuthenticate_CookieExpirationHook(t *testing.T) {
	ctx := context.Background()
	now := time.Now().UTC()
	f := newFixture(t, testConfig(), Hooks{
		AuthCookieExpiration: func(ctx context.Context, expiration time.Duration, u user.User) time.Duration {
			return 14 * 24 * time.Hour
		},
	})
	f.service.now = func() time.Time { return now }
	f.fetcher.On("FetchUserInfo", mock.Anything, "at").Return(aliceClaim(), nil)

	result, err := f.service.Authenticate(ctx, CallbackRequest{Params: f.callback(t, aliceClaim())})
	require.NoError(t, err)
	assert.Equal(t, now.Add(14*24*time.Hour), result.ExpiresAt)
}

func TestAuthenticate_RedirectUserBack(t *testing.T) {
	ctx := context.Background()

	t.Run("Enabled", func(t *testing.T) {
		config := testConfig()
		config.RedirectUserBack = true
		f := newFixture(t, config, Hooks{})
		f.fetcher.On("FetchUserInfo", mock.Anything, "at").Return(aliceClaim(), nil)

		result, err := f.service.Authenticate(ctx, CallbackRequest{
			Params:         f.callback(t, aliceClaim()),
			RedirectTarget: "https://site/topics/42",
		})
		require.NoError(t, err)
		assert.Equal(t, "https://site/topics/42", result.RedirectURL)
		assert.True(t, result.ClearRedirectTarget)
	})

	t.Run("HookVeto", func(t *testing.T) {
		config := testConfig()
		config.RedirectUserBack = true
		f := newFixture(t, config, Hooks{
			RedirectUserBack: func(ctx context.Context, redirectURL string, u user.User) string {
				return ""
			},
		})
		f.fetcher.On("FetchUserInfo", mock.Anything, "at").Return(aliceClaim(), nil)

		result, err := f.service.Authenticate(ctx, CallbackRequest{
			Params:         f.callback(t, aliceClaim()),
			RedirectTarget: "https://site/topics/42",
		})
		require.NoError(t, err)
		assert.Equal(t, "https://site/", result.RedirectURL)
	})

	t.Run("Disabled", func(t *testing.T) {
		f := newFixture(t, testConfig(), Hooks{})
		f.fetcher.On("FetchUserInfo", mock.Anything, "at").Return(aliceClaim(), nil)

		result, err := f.service.Authenticate(ctx, CallbackRequest{
			Params:         f.callback(t, aliceClaim()),
			RedirectTarget: "https://site/topics/42",
		})
		require.NoError(t, err)
		assert.Equal(t, "https://site/", result.RedirectURL)
		assert.True(t, result.ClearRedirectTarget)
	})
}

func TestErrorRedirectURL(t *testing.T) {
	f := newFixture(t, testConfig(), Hooks{})

	got := f.service.ErrorRedirectURL(errors.New(errors.ErrCodeNoUsername, "No appropriate username found"))
	assert.Equal(t, "https://site/login?login-error=no-username&message=No+appropriate+username+found", got)
}
