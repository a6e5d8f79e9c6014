package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/jwtauth/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tendant/citizenos-connect/pkg/client"
	"github.com/tendant/citizenos-connect/pkg/connect"
	"github.com/tendant/citizenos-connect/pkg/idtoken"
	"github.com/tendant/citizenos-connect/pkg/ratelimit"
	"github.com/tendant/citizenos-connect/pkg/resolver"
	"github.com/tendant/citizenos-connect/pkg/sessions"
	"github.com/tendant/citizenos-connect/pkg/sessionstore"
	"github.com/tendant/citizenos-connect/pkg/state"
	"github.com/tendant/citizenos-connect/pkg/tokengenerator"
	"github.com/tendant/citizenos-connect/pkg/user"
)

const testSecret = "test-secret"

type testServer struct {
	router   *chi.Mux
	sessions *sessions.Service
	bag      *sessionstore.InMemoryStore
}

func testConfig() connect.Config {
	return connect.Config{
		ClientID:           "partner-1",
		BaseURL:            "https://api.citizenos.com",
		EndpointLogin:      "/api/auth/openid/authorize",
		EndpointEndSession: "https://idp/logout",
		VerifyState:        true,
		RedirectURI:        "https://site/citizenos/authorize",
		SiteURL:            "https://site",
	}
}

func newTestServer(t *testing.T, opts ...Option) *testServer {
	t.Helper()
	return newTestServerWith(t, testConfig(), opts...)
}

func newTestServerWith(t *testing.T, config connect.Config, opts ...Option) *testServer {
	t.Helper()
	users := user.NewInMemoryRepository()
	sessionService := sessions.NewService(sessions.NewInMemoryRepository())
	bag := sessionstore.NewInMemoryStore(sessionstore.DefaultTTL)
	service := connect.NewService(config,
		state.NewCollectionStore(state.NewInMemoryCollection()),
		users,
		resolver.NewResolver(users, resolver.DefaultConfig()),
		sessionService,
		tokengenerator.NewJwtTokenGenerator(testSecret, "citizenos-connect"),
		bag,
	)

	r := chi.NewRouter()
	r.Use(client.Verifier(jwtauth.New("HS256", []byte(testSecret), nil)))
	r.Use(client.AuthUserMiddleware(sessionService))
	NewHandle(service, users, opts...).RegisterRoutes(r)

	return &testServer{router: r, sessions: sessionService, bag: bag}
}

func (s *testServer) get(target string, cookies ...*http.Cookie) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, target, nil)
	for _, c := range cookies {
		req.AddCookie(c)
	}
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func cookieNamed(rec *httptest.ResponseRecorder, name string) *http.Cookie {
	for _, c := range rec.Result().Cookies() {
		if c.Name == name {
			return c
		}
	}
	return nil
}

// loginState starts a login and returns the issued state
func (s *testServer) loginState(t *testing.T) string {
	t.Helper()
	rec := s.get(LoginPath)
	require.Equal(t, http.StatusFound, rec.Code)
	u, err := url.Parse(rec.Header().Get("Location"))
	require.NoError(t, err)
	return u.Query().Get("state")
}

func callbackQuery(t *testing.T, st string) string {
	t.Helper()
	seg, err := idtoken.EncodeSegment(idtoken.Claim{
		"sub":                "cos-alice",
		"preferred_username": "alice",
		"email":              "alice@example.com",
	})
	require.NoError(t, err)
	return url.Values{
		"id_token":     {"eyJhbGciOiJub25lIn0." + seg + ".sig"},
		"access_token": {"at"},
		"state":        {st},
	}.Encode()
}

func TestLogin(t *testing.T) {
	s := newTestServer(t)

	rec := s.get(LoginPath + "?redirect_to=%2Ftopics&ui_locales=et&lang=et")
	require.Equal(t, http.StatusFound, rec.Code)

	location := rec.Header().Get("Location")
	assert.True(t, strings.HasPrefix(location, "https://api.citizenos.com/api/auth/openid/authorize?response_type=id_token+token"))
	assert.Contains(t, location, "&ui_locales=et")
	assert.NotContains(t, location, "lang=")
	assert.NotContains(t, location, "redirect_to")

	redirect := cookieNamed(rec, client.REDIRECT_COOKIE_NAME)
	require.NotNil(t, redirect)
	assert.Equal(t, "/topics", redirect.Value)

	t.Run("ForeignRedirectTarget", func(t *testing.T) {
		for _, target := range []string{
			"https%3A%2F%2Fevil.example%2Fphish",
			"%2F%2Fevil.example",
			"%2F%5Cevil.example",
			"javascript%3Aalert(1)",
		} {
			rec := s.get(LoginPath + "?redirect_to=" + target)
			require.Equal(t, http.StatusFound, rec.Code, target)
			assert.Nil(t, cookieNamed(rec, client.REDIRECT_COOKIE_NAME), target)
		}
	})

	t.Run("SiteRedirectTarget", func(t *testing.T) {
		rec := s.get(LoginPath + "?redirect_to=https%3A%2F%2Fsite%2Ftopics%2F1")
		redirect := cookieNamed(rec, client.REDIRECT_COOKIE_NAME)
		require.NotNil(t, redirect)
		assert.Equal(t, "https://site/topics/1", redirect.Value)
	})
}

func TestAuthURL(t *testing.T) {
	s := newTestServer(t)

	rec := s.get(AuthURLPath)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"url":"https://api.citizenos.com/api/auth/openid/authorize?`)
}

func TestAuthorize(t *testing.T) {
	t.Run("FragmentRelay", func(t *testing.T) {
		s := newTestServer(t)
		rec := s.get(connect.CallbackPath)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), "window.location.hash")
	})

	t.Run("ProviderDenied", func(t *testing.T) {
		s := newTestServer(t)
		rec := s.get(connect.CallbackPath + "?error=access_denied")
		require.Equal(t, http.StatusFound, rec.Code)
		assert.Equal(t, "https://site/login?login-error=provider-denied&message=An+unknown+error+occurred.", rec.Header().Get("Location"))
		assert.Nil(t, cookieNamed(rec, client.AUTH_COOKIE_NAME))
	})

	t.Run("Success", func(t *testing.T) {
		s := newTestServer(t)
		st := s.loginState(t)

		rec := s.get(connect.CallbackPath+"?"+callbackQuery(t, st),
			&http.Cookie{Name: client.REDIRECT_COOKIE_NAME, Value: "/topics"})
		require.Equal(t, http.StatusFound, rec.Code)
		assert.Equal(t, "https://site/", rec.Header().Get("Location"))

		auth := cookieNamed(rec, client.AUTH_COOKIE_NAME)
		require.NotNil(t, auth)
		assert.NotEmpty(t, auth.Value)
		assert.NotNil(t, cookieNamed(rec, client.VISITOR_COOKIE_NAME))

		cleared := cookieNamed(rec, client.REDIRECT_COOKIE_NAME)
		require.NotNil(t, cleared)
		assert.Empty(t, cleared.Value)
	})

	t.Run("RedirectUserBack", func(t *testing.T) {
		config := testConfig()
		config.RedirectUserBack = true

		for target, want := range map[string]string{
			"/topics":              "/topics",
			"https://site/topics":  "https://site/topics",
			"https://evil.example": "https://site/",
			"//evil.example/x":     "https://site/",
		} {
			s := newTestServerWith(t, config)
			rec := s.get(connect.CallbackPath+"?"+callbackQuery(t, s.loginState(t)),
				&http.Cookie{Name: client.REDIRECT_COOKIE_NAME, Value: target})
			require.Equal(t, http.StatusFound, rec.Code, target)
			assert.Equal(t, want, rec.Header().Get("Location"), target)
		}
	})

	t.Run("ReplayedState", func(t *testing.T) {
		s := newTestServer(t)
		query := callbackQuery(t, s.loginState(t))

		require.Equal(t, "https://site/", s.get(connect.CallbackPath+"?"+query).Header().Get("Location"))

		rec := s.get(connect.CallbackPath + "?" + query)
		assert.True(t, strings.HasPrefix(rec.Header().Get("Location"), "https://site/login?login-error=invalid-state"))
	})
}

func TestLogout(t *testing.T) {
	s := newTestServer(t)
	login := s.get(connect.CallbackPath + "?" + callbackQuery(t, s.loginState(t)))
	auth := cookieNamed(login, client.AUTH_COOKIE_NAME)
	visitor := cookieNamed(login, client.VISITOR_COOKIE_NAME)
	require.NotNil(t, auth)
	require.NotNil(t, visitor)

	data, err := s.bag.Get(context.Background(), visitor.Value)
	require.NoError(t, err)
	require.Equal(t, "at", data.AccessToken())

	rec := s.get(LogoutPath+"?redirect_to=%2F", auth, visitor)
	require.Equal(t, http.StatusFound, rec.Code)
	location := rec.Header().Get("Location")
	assert.True(t, strings.HasPrefix(location, "https://idp/logout?id_token_hint=eyJhbGciOiJub25lIn0."))
	assert.True(t, strings.HasSuffix(location, "&post_logout_redirect_uri=https%3A%2F%2Fsite%2F"))

	cleared := cookieNamed(rec, client.AUTH_COOKIE_NAME)
	require.NotNil(t, cleared)
	assert.Empty(t, cleared.Value)

	data, err = s.bag.Get(context.Background(), visitor.Value)
	require.NoError(t, err)
	assert.Empty(t, data.AccessToken())

	// the old cookie no longer authenticates
	rec = s.get(LogoutPath+"?redirect_to=https%3A%2F%2Fevil.example%2F", auth)
	assert.Equal(t, "https://site/login?loggedout=true", rec.Header().Get("Location"))

	rec = s.get(LogoutPath + "?redirect_to=%2F%5Cevil.example%2F")
	assert.Equal(t, "https://site/login?loggedout=true", rec.Header().Get("Location"))

	rec = s.get(LogoutPath + "?redirect_to=%2Ftopics")
	assert.Equal(t, "/topics", rec.Header().Get("Location"))
}

func TestPrivacyMiddleware(t *testing.T) {
	r := chi.NewRouter()
	r.Use(PrivacyMiddleware("https://site/login", "/healthz"))
	ok := func(w http.ResponseWriter, r *http.Request) { w.Write([]byte("ok")) }
	r.Get("/private", ok)
	r.Get("/feed", ok)
	r.Get("/healthz", ok)
	r.Get(connect.CallbackPath, ok)

	serve := func(target string) *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
		return rec
	}

	rec := serve("/private?x=1")
	require.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "https://site/login?redirect_to=%2Fprivate%3Fx%3D1", rec.Header().Get("Location"))

	rec = serve("/feed")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, privateSiteMessage, rec.Body.String())

	assert.Equal(t, "ok", serve("/healthz").Body.String())
	assert.Equal(t, "ok", serve(connect.CallbackPath).Body.String())

	authed := httptest.NewRequest(http.MethodGet, "/private", nil)
	authed = authed.WithContext(context.WithValue(authed.Context(), client.AuthUserKey, &client.AuthUser{UserId: "u"}))
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, authed)
	assert.Equal(t, "ok", rec.Body.String())
}

func TestThrottle(t *testing.T) {
	limiter := ratelimit.NewLimiter(1, 1, 0)
	s := newTestServer(t, WithThrottle(ratelimit.PerIP(limiter)))

	assert.Equal(t, http.StatusFound, s.get(LoginPath).Code)
	assert.Equal(t, http.StatusTooManyRequests, s.get(LoginPath).Code)
	assert.Equal(t, http.StatusTooManyRequests, s.get(connect.CallbackPath+"?state=x").Code)

	// logout stays reachable
	assert.NotEqual(t, http.StatusTooManyRequests, s.get(LogoutPath).Code)
}
