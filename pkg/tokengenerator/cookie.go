package tokengenerator

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/tendant/citizenos-connect/pkg/client"
)

// CookieSetter interface defines methods for cookie operations
type CookieSetter interface {
	// SetCookie sets a cookie with the given value and expiry
	SetCookie(w http.ResponseWriter, name, value string, expire time.Time)

	// ClearCookie clears a cookie
	ClearCookie(w http.ResponseWriter, name string)
}

// BaseCookieSetter provides a base implementation of CookieSetter
type BaseCookieSetter struct {
	Path     string
	Domain   string
	HttpOnly bool
	Secure   bool
	SameSite http.SameSite
}

// SetCookie sets a cookie with the given value and expiry. A zero expiry
// makes a browser session cookie.
func (c *BaseCookieSetter) SetCookie(w http.ResponseWriter, name, value string, expire time.Time) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Path:     c.Path,
		Domain:   c.Domain,
		Value:    value,
		Expires:  expire,
		HttpOnly: c.HttpOnly,
		Secure:   c.Secure,
		SameSite: c.SameSite,
	})
}

// ClearCookie clears a cookie
func (c *BaseCookieSetter) ClearCookie(w http.ResponseWriter, name string) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Path:     c.Path,
		Domain:   c.Domain,
		Value:    "",
		MaxAge:   -1,
		HttpOnly: c.HttpOnly,
		Secure:   c.Secure,
		SameSite: c.SameSite,
	})
}

// NewCookieSetter creates a new cookie setter
func NewCookieSetter(secure bool) CookieSetter {
	return &BaseCookieSetter{
		Path:     "/",
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
	}
}

// VisitorID returns the visitor id from the visitor cookie, issuing a new
// one when the request carries none.
func VisitorID(w http.ResponseWriter, r *http.Request, setter CookieSetter) string {
	if cookie, err := r.Cookie(client.VISITOR_COOKIE_NAME); err == nil {
		if _, err := uuid.Parse(cookie.Value); err == nil {
			return cookie.Value
		}
	}
	id := uuid.New().String()
	setter.SetCookie(w, client.VISITOR_COOKIE_NAME, id, time.Time{})
	// make it visible to the rest of this request
	r.AddCookie(&http.Cookie{Name: client.VISITOR_COOKIE_NAME, Value: id})
	return id
}

// CookieValue returns the value of the named cookie or ""
func CookieValue(r *http.Request, name string) string {
	cookie, err := r.Cookie(name)
	if err != nil {
		return ""
	}
	return cookie.Value
}
