package api

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/render"
	"github.com/tendant/citizenos-connect/pkg/client"
	"github.com/tendant/citizenos-connect/pkg/connect"
)

const privateSiteMessage = "Private site"

// PrivacyMiddleware keeps anonymous visitors out of a private site. Feeds
// answer with a placeholder, everything else redirects to the login URL.
// The login and callback routes stay reachable, as do the extra paths given.
// Must be used after client.AuthUserMiddleware.
func PrivacyMiddleware(loginURL string, exempt ...string) func(http.Handler) http.Handler {
	open := map[string]bool{
		LoginPath:                     true,
		AuthURLPath:                   true,
		connect.CallbackPath:          true,
		connect.AlternateCallbackPath: true,
	}
	if u, err := url.Parse(loginURL); err == nil && u.Path != "" {
		open[u.Path] = true
	}
	for _, p := range exempt {
		open[p] = true
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if _, ok := client.GetAuthUser(r); ok || open[r.URL.Path] {
				next.ServeHTTP(w, r)
				return
			}

			if isFeed(r.URL.Path) {
				render.PlainText(w, r, privateSiteMessage)
				return
			}

			separator := "?"
			if strings.Contains(loginURL, "?") {
				separator = "&"
			}
			target := loginURL + separator + redirectToParam + "=" + url.QueryEscape(r.URL.RequestURI())
			http.Redirect(w, r, target, http.StatusFound)
		})
	}
}

func isFeed(path string) bool {
	path = strings.TrimSuffix(path, "/")
	return strings.HasSuffix(path, "/feed") || strings.HasSuffix(path, "/rss") || strings.HasSuffix(path, ".rss")
}
