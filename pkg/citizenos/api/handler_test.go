package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tendant/citizenos-connect/pkg/citizenos"
	"github.com/tendant/citizenos-connect/pkg/client"
	"github.com/tendant/citizenos-connect/pkg/idtoken"
	"github.com/tendant/citizenos-connect/pkg/sessionstore"
)

type recorded struct {
	method string
	path   string
	auth   string
	body   map[string]interface{}
}

// fakeCitizenOS answers every call with the canned response for its path
type fakeCitizenOS struct {
	mu        sync.Mutex
	calls     []recorded
	responses map[string]string
}

func (f *fakeCitizenOS) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	rec := recorded{method: r.Method, path: r.URL.Path, auth: r.Header.Get("Authorization")}
	if data, _ := io.ReadAll(r.Body); len(data) > 0 {
		json.Unmarshal(data, &rec.body)
	}
	f.mu.Lock()
	f.calls = append(f.calls, rec)
	f.mu.Unlock()

	resp, ok := f.responses[r.Method+" "+r.URL.Path]
	if !ok {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(resp))
}

func (f *fakeCitizenOS) last() recorded {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[len(f.calls)-1]
}

func setup(t *testing.T, responses map[string]string) (*chi.Mux, *fakeCitizenOS) {
	t.Helper()
	fake := &fakeCitizenOS{responses: responses}
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)

	bag := sessionstore.NewInMemoryStore(sessionstore.DefaultTTL)
	tr := &idtoken.TokenResponse{IDToken: "T", AccessToken: "visitor-token"}
	require.NoError(t, bag.Set(context.Background(), "visitor-1", sessionstore.Data{Tokens: tr}))

	r := chi.NewRouter()
	NewHandle(citizenos.NewClient(srv.URL, "partner-1"), bag).RegisterRoutes(r)
	return r, fake
}

func do(r http.Handler, method, target string, form url.Values, visitor bool) *httptest.ResponseRecorder {
	var body io.Reader
	if form != nil {
		body = strings.NewReader(form.Encode())
	}
	req := httptest.NewRequest(method, target, body)
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	if visitor {
		req.AddCookie(&http.Cookie{Name: client.VISITOR_COOKIE_NAME, Value: "visitor-1"})
	}
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) WidgetResponse {
	t.Helper()
	var resp WidgetResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

func TestCreateGroup_Validation(t *testing.T) {
	r, fake := setup(t, nil)

	rec := do(r, http.MethodPost, "/groups", url.Values{"group_name": {"  "}, "group_location": {"Tallinn"}}, true)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, WidgetResponse{Error: true, ErrorMessage: "Group name is required", Code: "invalid-input"}, decode(t, rec))

	rec = do(r, http.MethodPost, "/groups", url.Values{"group_name": {"Movie night"}}, true)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Group location is required", decode(t, rec).ErrorMessage)

	assert.Empty(t, fake.calls)
}

func TestCreateGroup(t *testing.T) {
	r, fake := setup(t, map[string]string{
		"POST /api/users/self/groups": `{"status":{"code":20000},"data":{"id":"g1","name":"Movie night"}}`,
	})

	rec := do(r, http.MethodPost, "/groups", url.Values{"group_name": {" Movie night "}, "group_location": {"Tallinn"}}, true)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"id":"g1","name":"Movie night"}`, rec.Body.String())

	call := fake.last()
	assert.Equal(t, "Bearer visitor-token", call.auth)
	assert.Equal(t, "Movie night", call.body["name"])
	assert.Equal(t, "partner-1", call.body["sourcePartnerId"])
}

func TestGetUserGroups_Anonymous(t *testing.T) {
	r, fake := setup(t, nil)

	rec := do(r, http.MethodGet, "/groups", nil, false)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	resp := decode(t, rec)
	assert.True(t, resp.Error)
	assert.Equal(t, "unauthenticated", resp.Code)
	assert.Empty(t, fake.calls)
}

func TestTopics(t *testing.T) {
	r, fake := setup(t, map[string]string{
		"GET /api/users/self/topics":    `{"status":{"code":20000},"data":{"rows":[{"id":"t1"}]}}`,
		"GET /api/topics":               `{"status":{"code":20000},"data":{"rows":[{"id":"p1"}]}}`,
		"GET /api/topics/p1":            `{"status":{"code":20000},"data":{"id":"p1"}}`,
		"GET /api/users/self/topics/t1": `{"status":{"code":20000},"data":{"id":"t1"}}`,
	})

	rec := do(r, http.MethodGet, "/topics", nil, true)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"rows":[{"id":"t1"}]}`, rec.Body.String())

	rec = do(r, http.MethodGet, "/topics/public", nil, false)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"rows":[{"id":"p1"}]}`, rec.Body.String())
	assert.Empty(t, fake.last().auth)

	rec = do(r, http.MethodGet, "/topics/p1?public=1", nil, false)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"id":"p1"}`, rec.Body.String())

	rec = do(r, http.MethodGet, "/topics/t1", nil, true)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"id":"t1"}`, rec.Body.String())
	assert.Equal(t, "Bearer visitor-token", fake.last().auth)
}

func TestCreateTopic(t *testing.T) {
	t.Run("Validation", func(t *testing.T) {
		r, _ := setup(t, nil)
		rec := do(r, http.MethodPost, "/topics", url.Values{"title": {" "}, "content": {""}}, true)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "Topic title or content is required", decode(t, rec).ErrorMessage)
	})

	t.Run("Created", func(t *testing.T) {
		r, fake := setup(t, map[string]string{
			"POST /api/users/self/topics":   `{"status":{"code":20000},"data":{"id":"t9","title":"Screening"}}`,
			"PUT /api/users/self/topics/t9": `{"status":{"code":20000},"data":{"id":"t9"}}`,
		})

		rec := do(r, http.MethodPost, "/topics", url.Values{
			"title":      {"Screening"},
			"visibility": {"friends"},
			"endsAt":     {"2026-12-31"},
		}, true)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.JSONEq(t, `{"id":"t9","title":"Screening","sourcePartnerObjectId":"t9"}`, rec.Body.String())

		require.Len(t, fake.calls, 2)
		created := fake.calls[0].body
		assert.Equal(t, "public", created["visibility"])
		assert.Equal(t, "2026-12-31", created["endsAt"])
	})

	t.Run("UpdateRejected", func(t *testing.T) {
		r, _ := setup(t, map[string]string{
			"POST /api/users/self/topics":   `{"status":{"code":20000},"data":{"id":"t9"}}`,
			"PUT /api/users/self/topics/t9": `{"status":{"code":40100,"message":"Forbidden"}}`,
		})

		rec := do(r, http.MethodPost, "/topics", url.Values{"content": {"Popcorn"}, "visibility": {"private"}}, true)
		assert.Equal(t, http.StatusBadGateway, rec.Code)
		assert.Equal(t, WidgetResponse{Error: true, ErrorMessage: "Forbidden"}, decode(t, rec))
	})
}
