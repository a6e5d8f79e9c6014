package api

import (
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/tendant/citizenos-connect/pkg/client"
	"github.com/tendant/citizenos-connect/pkg/connect"
	"github.com/tendant/citizenos-connect/pkg/ratelimit"
	"github.com/tendant/citizenos-connect/pkg/tokengenerator"
	"github.com/tendant/citizenos-connect/pkg/user"
)

// Route paths served by the Handle
const (
	LoginPath   = "/citizenos/login"
	AuthURLPath = "/citizenos/auth-url"
	LogoutPath  = "/citizenos/logout"

	redirectToParam = "redirect_to"
)

// fragmentRelayPage forwards the implicit-flow fragment to the server as a
// query string.
const fragmentRelayPage = `<!DOCTYPE html>
<html><head><meta charset="utf-8"><title>Citizen OS</title></head>
<body><script>
if (window.location.hash.length > 1) {
	window.location.replace(window.location.pathname + "?" + window.location.hash.substring(1));
}
</script></body></html>`

// Handle serves the login, callback and logout endpoints
type Handle struct {
	service              *connect.Service
	users                user.Repository
	cookies              tokengenerator.CookieSetter
	alternateRedirectURI bool
	throttle             func(http.Handler) http.Handler
}

type Option func(*Handle)

func WithCookieSetter(setter tokengenerator.CookieSetter) Option {
	return func(h *Handle) {
		h.cookies = setter
	}
}

// WithAlternateRedirectURI also serves the callback on
// connect.AlternateCallbackPath.
func WithAlternateRedirectURI(enabled bool) Option {
	return func(h *Handle) {
		h.alternateRedirectURI = enabled
	}
}

// WithThrottle wraps the login start and callback routes
func WithThrottle(mw func(http.Handler) http.Handler) Option {
	return func(h *Handle) {
		h.throttle = mw
	}
}

func NewHandle(service *connect.Service, users user.Repository, opts ...Option) *Handle {
	h := &Handle{
		service: service,
		users:   users,
		cookies: tokengenerator.NewCookieSetter(false),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// RegisterRoutes registers the public login routes. Logout needs the auth
// middleware from pkg/client in front of it.
func (h *Handle) RegisterRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		if h.throttle != nil {
			r.Use(h.throttle)
		}
		r.Get(LoginPath, h.Login)
		r.Get(AuthURLPath, h.AuthURL)
		r.Get(connect.CallbackPath, h.Authorize)
		if h.alternateRedirectURI {
			r.Get(connect.AlternateCallbackPath, h.Authorize)
		}
	})
	r.Get(LogoutPath, h.Logout)
	r.Post(LogoutPath, h.Logout)
}

// Login handles GET /citizenos/login - redirect to Citizen OS
func (h *Handle) Login(w http.ResponseWriter, r *http.Request) {
	if target := r.URL.Query().Get(redirectToParam); target != "" {
		if h.allowedRedirect(target) {
			h.cookies.SetCookie(w, client.REDIRECT_COOKIE_NAME, target, time.Time{})
		} else {
			slog.Warn("Ignoring redirect target on foreign host", "target", target)
		}
	}

	extra := r.URL.Query()
	extra.Del(redirectToParam)

	authURL, err := h.service.AuthorizationURL(r.Context(), extra)
	if err != nil {
		slog.Error("Failed building authorization URL", "err", err)
		http.Redirect(w, r, h.service.ErrorRedirectURL(err), http.StatusFound)
		return
	}
	http.Redirect(w, r, authURL, http.StatusFound)
}

// AuthURLResponse carries a freshly built authorization URL
type AuthURLResponse struct {
	URL string `json:"url"`
}

// AuthURL handles GET /citizenos/auth-url - authorization URL as JSON
func (h *Handle) AuthURL(w http.ResponseWriter, r *http.Request) {
	authURL, err := h.service.AuthorizationURL(r.Context(), nil)
	if err != nil {
		slog.Error("Failed building authorization URL", "err", err)
		http.Error(w, "Failed building authorization URL", http.StatusInternalServerError)
		return
	}
	render.JSON(w, r, AuthURLResponse{URL: authURL})
}

// Authorize handles the callback from Citizen OS
func (h *Handle) Authorize(w http.ResponseWriter, r *http.Request) {
	params := r.URL.Query()
	if len(params) == 0 {
		render.HTML(w, r, fragmentRelayPage)
		return
	}

	result, err := h.service.Authenticate(r.Context(), connect.CallbackRequest{
		Params:         params,
		VisitorID:      tokengenerator.VisitorID(w, r, h.cookies),
		RedirectTarget: tokengenerator.CookieValue(r, client.REDIRECT_COOKIE_NAME),
		IPAddress:      ratelimit.ClientIP(r),
		UserAgent:      r.UserAgent(),
	})
	if err != nil {
		http.Redirect(w, r, h.service.ErrorRedirectURL(err), http.StatusFound)
		return
	}

	h.cookies.SetCookie(w, client.AUTH_COOKIE_NAME, result.AuthToken, result.ExpiresAt)
	if result.ClearRedirectTarget {
		h.cookies.ClearCookie(w, client.REDIRECT_COOKIE_NAME)
	}
	http.Redirect(w, r, h.safeRedirect(result.RedirectURL, h.service.Config().HomeURL), http.StatusFound)
}

// Logout handles GET/POST /citizenos/logout
func (h *Handle) Logout(w http.ResponseWriter, r *http.Request) {
	redirect := r.URL.Query().Get(redirectToParam)
	if redirect == "" {
		redirect = h.service.LoggedOutURL()
	}

	visitorID := tokengenerator.CookieValue(r, client.VISITOR_COOKIE_NAME)
	authUser, ok := client.GetAuthUser(r)
	if !ok {
		if err := h.service.Logout(r.Context(), visitorID, ""); err != nil {
			slog.Error("Failed clearing visitor session", "visitor", visitorID, "err", err)
		}
		h.cookies.ClearCookie(w, client.AUTH_COOKIE_NAME)
		http.Redirect(w, r, h.safeRedirect(redirect, h.service.LoggedOutURL()), http.StatusFound)
		return
	}

	u, err := h.users.GetByID(r.Context(), authUser.UserUuid)
	if err != nil {
		slog.Warn("Failed loading user on logout", "user", authUser, "err", err)
	}

	if err := h.service.Logout(r.Context(), visitorID, authUser.SessionToken); err != nil {
		slog.Error("Failed logging out", "user", authUser, "err", err)
		http.Error(w, "Failed logging out", http.StatusInternalServerError)
		return
	}
	h.cookies.ClearCookie(w, client.AUTH_COOKIE_NAME)

	slog.Info("User logged out", "user", authUser)
	http.Redirect(w, r, h.safeRedirect(h.service.LogoutRedirectURL(r.Context(), u, redirect), h.service.LoggedOutURL()), http.StatusFound)
}

// safeRedirect returns target when allowedRedirect accepts it, else fallback
func (h *Handle) safeRedirect(target, fallback string) string {
	if h.allowedRedirect(target) {
		return target
	}
	slog.Warn("Refusing redirect", "target", target)
	return fallback
}

// allowedRedirect accepts site-relative paths and http(s) URLs on the site or
// the end-session host. Paths a browser could read as scheme-relative
// (`//host`, `/\host`) are refused.
func (h *Handle) allowedRedirect(target string) bool {
	if target == "" || strings.TrimSpace(target) != target {
		return false
	}
	if strings.Contains(target, `\`) || strings.HasPrefix(target, "//") {
		return false
	}
	u, err := url.Parse(target)
	if err != nil {
		return false
	}
	if u.Scheme == "" && u.Host == "" && u.Opaque == "" {
		return true
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return false
	}

	var allowed []string
	if site, err := url.Parse(h.service.Config().SiteURL); err == nil {
		allowed = append(allowed, site.Hostname())
	}
	for _, host := range h.service.AllowedRedirectHosts(allowed) {
		if strings.EqualFold(u.Hostname(), host) {
			return true
		}
	}
	return false
}
