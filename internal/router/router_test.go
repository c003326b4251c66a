package router

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/casting-agency/internal/auth"
	"github.com/iliyamo/casting-agency/internal/auth/authtest"
	"github.com/iliyamo/casting-agency/internal/config"
	"github.com/iliyamo/casting-agency/internal/database"
	"github.com/iliyamo/casting-agency/internal/handler"
	"github.com/iliyamo/casting-agency/internal/metrics"
	"github.com/iliyamo/casting-agency/internal/queue"
	"github.com/iliyamo/casting-agency/internal/repository"
)

const secret = "router-secret"

type recordingPublisher struct {
	mu     sync.Mutex
	events []queue.CastingEvent
}

func (r *recordingPublisher) Publish(_ context.Context, ev queue.CastingEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recordingPublisher) types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.events))
	for i, ev := range r.events {
		out[i] = ev.Type
	}
	return out
}

type testServer struct {
	e      *echo.Echo
	events *recordingPublisher
	redis  *miniredis.Miniredis
}

func newTestServer(t *testing.T, withRedis bool) *testServer {
	t.Helper()
	log, _ := test.NewNullLogger()
	m := metrics.New()

	db, d, err := database.Open(database.Options{Driver: database.DriverSQLite, DSN: ":memory:"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	_, err = database.Migrate(context.Background(), db, d)
	require.NoError(t, err)

	srv := &testServer{events: &recordingPublisher{}}
	var rdb *redis.Client
	if withRedis {
		srv.redis = miniredis.RunT(t)
		rdb = redis.NewClient(&redis.Options{Addr: srv.redis.Addr()})
		t.Cleanup(func() { _ = rdb.Close() })
	}

	e := New(log, m)
	RegisterRoutes(e, db, rdb)
	RegisterMetrics(e, m)
	h := handler.NewCastingHandler(repository.NewMovieRepo(db, d), repository.NewActorRepo(db, d), srv.events, log)
	RegisterCasting(e, h, Guards{
		Verifier: auth.NewVerifier(auth.HMACKey(secret), auth.Options{Algorithms: []string{"HS256"}}),
		Metrics:  m,
		Redis:    rdb,
		RateLimit: config.RateLimitConfig{
			Enabled: true, Capacity: 1000, RefillTokens: 1, RefillInterval: time.Second,
			TTL: time.Minute, KeyStrategy: "ip_user_route", Prefix: "rl",
		},
		Cache: config.CacheConfig{
			Enabled: true, Methods: map[string]bool{"GET": true}, TTL: time.Minute,
			KeyStrategy: "route_query", Prefix: "cache", MaxBodyBytes: 1 << 20,
		},
		Log: log,
	})
	srv.e = e
	return srv
}

func token(t *testing.T, role auth.Role) string {
	return authtest.MustHS256(t, secret, "auth0|"+string(role), role.Permissions())
}

// do sends a request and decodes the JSON response body.
func (s *testServer) do(t *testing.T, method, path, tok, body string) (int, map[string]any) {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	if tok != "" {
		req.Header.Set(echo.HeaderAuthorization, "Bearer "+tok)
	}
	rec := httptest.NewRecorder()
	s.e.ServeHTTP(rec, req)

	var out map[string]any
	if ct := rec.Header().Get(echo.HeaderContentType); strings.HasPrefix(ct, echo.MIMEApplicationJSON) {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	}
	return rec.Code, out
}

func authMessage(t *testing.T, body map[string]any) map[string]any {
	t.Helper()
	msg, ok := body["message"].(map[string]any)
	require.True(t, ok, "message is not an object: %v", body["message"])
	return msg
}

func TestCreateMovieAndList(t *testing.T) {
	s := newTestServer(t, false)
	producer := token(t, auth.RoleProducer)

	code, body := s.do(t, http.MethodPost, "/movies", producer, `{"title": "Wanted", "release_date": "2008"}`)
	require.Equal(t, http.StatusOK, code, body)
	assert.Equal(t, true, body["success"])
	movie := body["movie"].(map[string]any)
	assert.Equal(t, "Wanted", movie["title"])
	assert.Equal(t, "2008-01-01T00:00:00Z", movie["release_date"])

	code, body = s.do(t, http.MethodGet, "/movies", token(t, auth.RoleAssistant), "")
	require.Equal(t, http.StatusOK, code)
	movies := body["movies"].([]any)
	require.Len(t, movies, 1)
	assert.Equal(t, movie["id"], movies[0].(map[string]any)["id"])
	assert.Equal(t, []string{"movie.created"}, s.events.types())
}

func TestEmptyListsRenderAsArrays(t *testing.T) {
	s := newTestServer(t, false)
	for _, path := range []string{"/movies", "/actors"} {
		code, body := s.do(t, http.MethodGet, path, token(t, auth.RoleAssistant), "")
		require.Equal(t, http.StatusOK, code)
		assert.Equal(t, []any{}, body[strings.TrimPrefix(path, "/")])
	}
}

func TestActorLifecycle(t *testing.T) {
	s := newTestServer(t, false)
	director := token(t, auth.RoleDirector)

	code, body := s.do(t, http.MethodPost, "/actors", director, `{"name": "Tom Cruise", "age": "30", "gender": "Male"}`)
	require.Equal(t, http.StatusOK, code, body)
	actor := body["actor"].(map[string]any)
	assert.Equal(t, float64(30), actor["age"])
	id := int64(actor["id"].(float64))

	path := "/actors/" + jsonNumber(id)
	code, body = s.do(t, http.MethodPatch, path, director, `{"age": 31}`)
	require.Equal(t, http.StatusOK, code, body)
	updated := body["actor"].(map[string]any)
	assert.Equal(t, float64(31), updated["age"])
	assert.Equal(t, "Tom Cruise", updated["name"], "fields absent from the body are untouched")
	assert.Equal(t, "Male", updated["gender"])

	code, body = s.do(t, http.MethodDelete, path, director, "")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, float64(id), body["deleted_actor"])

	code, body = s.do(t, http.MethodDelete, path, director, "")
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, false, body["success"])
	assert.Equal(t, float64(404), body["error"])

	assert.Equal(t, []string{"actor.created", "actor.updated", "actor.deleted"}, s.events.types())
}

func TestMoviePartialUpdate(t *testing.T) {
	s := newTestServer(t, false)
	producer := token(t, auth.RoleProducer)

	_, body := s.do(t, http.MethodPost, "/movies", producer, `{"title": "Heat", "release_date": "1995-12-15"}`)
	id := int64(body["movie"].(map[string]any)["id"].(float64))

	code, body := s.do(t, http.MethodPatch, "/movies/"+jsonNumber(id), producer, `{"release_date": 1996}`)
	require.Equal(t, http.StatusOK, code, body)
	movie := body["movie"].(map[string]any)
	assert.Equal(t, "Heat", movie["title"])
	assert.Equal(t, "1996-01-01T00:00:00Z", movie["release_date"])

	code, _ = s.do(t, http.MethodPatch, "/movies/9999", producer, `{"title": "Ghost"}`)
	assert.Equal(t, http.StatusNotFound, code)
}

func TestDuplicateTitleIsRejected(t *testing.T) {
	s := newTestServer(t, false)
	producer := token(t, auth.RoleProducer)

	code, _ := s.do(t, http.MethodPost, "/movies", producer, `{"title": "Wanted", "release_date": "2008"}`)
	require.Equal(t, http.StatusOK, code)
	code, body := s.do(t, http.MethodPost, "/movies", producer, `{"title": "Wanted", "release_date": "2009"}`)
	assert.Equal(t, http.StatusUnprocessableEntity, code)
	assert.Equal(t, "movie title already exists", body["message"])

	_, body = s.do(t, http.MethodPost, "/movies", producer, `{"title": "Heat", "release_date": "1995"}`)
	id := int64(body["movie"].(map[string]any)["id"].(float64))
	code, _ = s.do(t, http.MethodPatch, "/movies/"+jsonNumber(id), producer, `{"title": "Wanted"}`)
	assert.Equal(t, http.StatusUnprocessableEntity, code)
}

func TestValidationErrors(t *testing.T) {
	s := newTestServer(t, false)
	producer := token(t, auth.RoleProducer)

	cases := []struct {
		name   string
		method string
		path   string
		body   string
		status int
	}{
		{"malformed json", http.MethodPost, "/movies", `{"title":`, http.StatusBadRequest},
		{"array body", http.MethodPost, "/actors", `[1,2]`, http.StatusBadRequest},
		{"missing title", http.MethodPost, "/movies", `{"release_date": "2008"}`, http.StatusUnprocessableEntity},
		{"blank title", http.MethodPost, "/movies", `{"title": "  ", "release_date": "2008"}`, http.StatusUnprocessableEntity},
		{"bad date", http.MethodPost, "/movies", `{"title": "X", "release_date": "soon"}`, http.StatusUnprocessableEntity},
		{"missing gender", http.MethodPost, "/actors", `{"name": "A", "age": 30}`, http.StatusUnprocessableEntity},
		{"negative age", http.MethodPost, "/actors", `{"name": "A", "age": -1, "gender": "f"}`, http.StatusUnprocessableEntity},
		{"fractional age", http.MethodPost, "/actors", `{"name": "A", "age": 3.5, "gender": "f"}`, http.StatusUnprocessableEntity},
		{"empty patch", http.MethodPatch, "/actors/1", `{}`, http.StatusUnprocessableEntity},
		{"null only patch", http.MethodPatch, "/movies/1", `{"title": null}`, http.StatusUnprocessableEntity},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			code, body := s.do(t, tc.method, tc.path, producer, tc.body)
			assert.Equal(t, tc.status, code)
			assert.Equal(t, false, body["success"])
			assert.Equal(t, float64(tc.status), body["error"])
			assert.IsType(t, "", body["message"])
		})
	}
	assert.Empty(t, s.events.types())
}

func TestMalformedIDs(t *testing.T) {
	s := newTestServer(t, false)
	producer := token(t, auth.RoleProducer)

	for _, id := range []string{"abc", "0", "-3", "99999999999999999999", "4294967296"} {
		code, body := s.do(t, http.MethodDelete, "/movies/"+id, producer, "")
		assert.Equal(t, http.StatusUnprocessableEntity, code, id)
		assert.Equal(t, "invalid id", body["message"])

		code, _ = s.do(t, http.MethodPatch, "/actors/"+id, producer, `{"name": "x"}`)
		assert.Equal(t, http.StatusUnprocessableEntity, code, id)
	}

	code, _ := s.do(t, http.MethodDelete, "/movies/42", producer, "")
	assert.Equal(t, http.StatusNotFound, code)
}

func TestAuthorization(t *testing.T) {
	s := newTestServer(t, false)

	code, body := s.do(t, http.MethodGet, "/actors", "", "")
	assert.Equal(t, http.StatusUnauthorized, code)
	assert.Equal(t, false, body["success"])
	assert.Equal(t, "missing_header", authMessage(t, body)["code"])

	code, body = s.do(t, http.MethodDelete, "/actors/2", token(t, auth.RoleAssistant), "")
	assert.Equal(t, http.StatusUnauthorized, code)
	assert.Equal(t, map[string]any{"code": "no_permission", "description": "No permission"}, authMessage(t, body))

	code, body = s.do(t, http.MethodDelete, "/movies/1", token(t, auth.RoleDirector), "")
	assert.Equal(t, http.StatusUnauthorized, code)
	assert.Equal(t, "no_permission", authMessage(t, body)["code"])

	expired, err := authtest.HS256Token(secret, "auth0|p", auth.RoleProducer.Permissions(), -time.Minute)
	require.NoError(t, err)
	_, body = s.do(t, http.MethodGet, "/movies", expired, "")
	assert.Equal(t, "expired", authMessage(t, body)["code"])

	req := httptest.NewRequest(http.MethodGet, "/movies", nil)
	req.Header.Set(echo.HeaderAuthorization, "Token abc")
	rec := httptest.NewRecorder()
	s.e.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Body.String(), "malformed_header")
}

func TestEveryRouteRequiresItsOwnPermission(t *testing.T) {
	s := newTestServer(t, false)
	routes := []struct {
		method, path, perm string
	}{
		{http.MethodGet, "/movies", auth.PermGetMovies},
		{http.MethodPost, "/movies", auth.PermPostMovies},
		{http.MethodPatch, "/movies/1", auth.PermPatchMovies},
		{http.MethodDelete, "/movies/1", auth.PermDeleteMovies},
		{http.MethodGet, "/actors", auth.PermGetActors},
		{http.MethodPost, "/actors", auth.PermPostActors},
		{http.MethodPatch, "/actors/1", auth.PermPatchActors},
		{http.MethodDelete, "/actors/1", auth.PermDeleteActors},
	}
	all := auth.RoleProducer.Permissions()

	for _, rt := range routes {
		t.Run(rt.method+" "+rt.path, func(t *testing.T) {
			var others []string
			for _, p := range all {
				if p != rt.perm {
					others = append(others, p)
				}
			}
			require.Len(t, others, 7)

			code, body := s.do(t, rt.method, rt.path, authtest.MustHS256(t, secret, "auth0|others", others), "")
			assert.Equal(t, http.StatusUnauthorized, code)
			assert.Equal(t, false, body["success"])
			assert.Equal(t, map[string]any{"code": "no_permission", "description": "No permission"}, authMessage(t, body))

			code, _ = s.do(t, rt.method, rt.path, authtest.MustHS256(t, secret, "auth0|only", []string{rt.perm}), "")
			assert.NotEqual(t, http.StatusUnauthorized, code)
		})
	}
}

func TestFrameworkErrorsUseEnvelope(t *testing.T) {
	s := newTestServer(t, false)

	code, body := s.do(t, http.MethodGet, "/studios", "", "")
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, "not found", body["message"])

	code, body = s.do(t, http.MethodPut, "/movies", token(t, auth.RoleProducer), "")
	assert.Equal(t, http.StatusMethodNotAllowed, code)
	assert.Equal(t, "method not allowed", body["message"])
}

func TestListCacheIsInvalidatedByWrites(t *testing.T) {
	s := newTestServer(t, true)
	producer := token(t, auth.RoleProducer)

	req := func() *httptest.ResponseRecorder {
		r := httptest.NewRequest(http.MethodGet, "/movies", nil)
		r.Header.Set(echo.HeaderAuthorization, "Bearer "+producer)
		rec := httptest.NewRecorder()
		s.e.ServeHTTP(rec, r)
		return rec
	}

	assert.Equal(t, "MISS", req().Header().Get("X-Cache"))
	assert.Equal(t, "HIT", req().Header().Get("X-Cache"))

	code, _ := s.do(t, http.MethodPost, "/movies", producer, `{"title": "Wanted", "release_date": "2008"}`)
	require.Equal(t, http.StatusOK, code)

	rec := req()
	assert.Equal(t, "MISS", rec.Header().Get("X-Cache"))
	assert.Contains(t, rec.Body.String(), "Wanted")

	// cached lists are still behind the permission check
	code, body := s.do(t, http.MethodGet, "/movies", authtest.MustHS256(t, secret, "nobody", []string{}), "")
	assert.Equal(t, http.StatusUnauthorized, code)
	assert.Equal(t, "no_permission", authMessage(t, body)["code"])
}

func TestProbesAndMetrics(t *testing.T) {
	s := newTestServer(t, true)

	rec := httptest.NewRecorder()
	s.e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())
	assert.NotEmpty(t, rec.Header().Get(echo.HeaderXRequestID))

	code, body := s.do(t, http.MethodGet, "/readyz", "", "")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ok", body["database"])
	assert.Equal(t, "ok", body["redis"])

	s.redis.Close()
	code, body = s.do(t, http.MethodGet, "/readyz", "", "")
	assert.Equal(t, http.StatusOK, code, "redis is optional")
	assert.Equal(t, "unavailable", body["redis"])

	s.do(t, http.MethodGet, "/actors", "", "")
	rec = httptest.NewRecorder()
	s.e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Contains(t, rec.Body.String(), `casting_http_requests_total{method="GET",route="/actors",status="401"} 1`)
	assert.Contains(t, rec.Body.String(), `casting_auth_failures_total{code="missing_header"} 1`)
}

func jsonNumber(id int64) string {
	bs, _ := json.Marshal(id)
	return string(bs)
}
