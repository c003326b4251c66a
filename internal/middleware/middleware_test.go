package middleware

import (
	"bytes"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/casting-agency/internal/apperr"
	"github.com/iliyamo/casting-agency/internal/auth"
	"github.com/iliyamo/casting-agency/internal/auth/authtest"
	"github.com/iliyamo/casting-agency/internal/config"
	"github.com/iliyamo/casting-agency/internal/metrics"
)

const secret = "middleware-secret"

func verifier() *auth.Verifier {
	return auth.NewVerifier(auth.HMACKey(secret), auth.Options{Algorithms: []string{"HS256"}})
}

func newContext(e *echo.Echo, method, path, authz string) (echo.Context, *httptest.ResponseRecorder) {
	req := httptest.NewRequest(method, path, nil)
	if authz != "" {
		req.Header.Set(echo.HeaderAuthorization, authz)
	}
	rec := httptest.NewRecorder()
	return e.NewContext(req, rec), rec
}

func ok(c echo.Context) error { return c.String(http.StatusOK, "ok") }

func authCode(t *testing.T, err error) string {
	t.Helper()
	var ae *apperr.AuthError
	require.True(t, errors.As(err, &ae), "expected auth error, got %v", err)
	return ae.Code
}

func TestAuthenticate_Header(t *testing.T) {
	e := echo.New()
	m := metrics.New()
	mw := Authenticate(verifier(), m)

	cases := []struct {
		name   string
		header string
		code   string
	}{
		{"missing", "", apperr.CodeMissingHeader},
		{"no scheme", "abc.def.ghi", apperr.CodeMalformedHeader},
		{"wrong scheme", "Basic dXNlcjpwYXNz", apperr.CodeMalformedHeader},
		{"extra parts", "Bearer a b", apperr.CodeMalformedHeader},
		{"bearer only", "Bearer", apperr.CodeMalformedHeader},
		{"garbage token", "Bearer not-a-jwt", apperr.CodeInvalidSignature},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c, _ := newContext(e, http.MethodGet, "/movies", tc.header)
			err := mw(ok)(c)
			assert.Equal(t, tc.code, authCode(t, err))
			assert.Nil(t, ClaimsFrom(c))
		})
	}
	assert.Equal(t, float64(4), testutil.ToFloat64(m.AuthFailuresTotal.WithLabelValues(apperr.CodeMalformedHeader)))
}

func TestAuthenticate_StoresClaims(t *testing.T) {
	e := echo.New()
	tok := authtest.MustHS256(t, secret, "auth0|assistant", auth.RoleAssistant.Permissions())

	c, rec := newContext(e, http.MethodGet, "/movies", "bearer "+tok)
	require.NoError(t, Authenticate(verifier(), nil)(ok)(c))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "auth0|assistant", Subject(c))
	assert.True(t, ClaimsFrom(c).HasPermission(auth.PermGetActors))
}

func TestRequirePermission(t *testing.T) {
	e := echo.New()
	m := metrics.New()
	tok := authtest.MustHS256(t, secret, "auth0|assistant", auth.RoleAssistant.Permissions())
	chain := Authenticate(verifier(), m)(RequirePermission(auth.PermDeleteActors, m)(ok))

	c, _ := newContext(e, http.MethodDelete, "/actors/2", "Bearer "+tok)
	err := chain(c)
	assert.Equal(t, apperr.CodeNoPermission, authCode(t, err))
	assert.Equal(t, "No permission", apperr.Message(err).(*apperr.AuthError).Description)
	assert.Equal(t, float64(1), testutil.ToFloat64(m.AuthFailuresTotal.WithLabelValues(apperr.CodeNoPermission)))

	// without Authenticate there are no claims at all
	c, _ = newContext(e, http.MethodGet, "/actors", "")
	assert.Equal(t, apperr.CodeNoPermission, authCode(t, RequirePermission(auth.PermGetActors, nil)(ok)(c)))
}

func newRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return mr, rdb
}

func quietLogger() *logrus.Logger {
	log, _ := test.NewNullLogger()
	return log
}

func TestTokenBucket(t *testing.T) {
	_, rdb := newRedis(t)
	e := echo.New()
	m := metrics.New()
	cfg := config.RateLimitConfig{
		Enabled:        true,
		Capacity:       2,
		RefillTokens:   1,
		RefillInterval: time.Hour,
		TTL:            time.Hour,
		KeyStrategy:    "ip",
		Prefix:         "rl",
	}
	h := NewTokenBucket(cfg, rdb, m, quietLogger())(ok)

	for i := 0; i < 2; i++ {
		c, rec := newContext(e, http.MethodGet, "/movies", "")
		require.NoError(t, h(c))
		assert.Equal(t, "2", rec.Header().Get("X-RateLimit-Limit"))
		assert.Equal(t, []string{"1", "0"}[i], rec.Header().Get("X-RateLimit-Remaining"))
	}

	c, rec := newContext(e, http.MethodGet, "/movies", "")
	err := h(c)
	var he *echo.HTTPError
	require.ErrorAs(t, err, &he)
	assert.Equal(t, http.StatusTooManyRequests, he.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.RateLimited))
}

func TestTokenBucket_FailsOpen(t *testing.T) {
	mr, rdb := newRedis(t)
	mr.Close()
	e := echo.New()
	cfg := config.RateLimitConfig{Enabled: true, Capacity: 1, RefillTokens: 1, RefillInterval: time.Second, TTL: time.Minute, Prefix: "rl"}
	h := NewTokenBucket(cfg, rdb, nil, quietLogger())(ok)

	for i := 0; i < 3; i++ {
		c, rec := newContext(e, http.MethodGet, "/movies", "")
		require.NoError(t, h(c))
		assert.Equal(t, http.StatusOK, rec.Code)
	}
}

func TestBuildRateKey(t *testing.T) {
	e := echo.New()
	c, _ := newContext(e, http.MethodGet, "/movies", "")
	c.SetPath("/movies")
	c.Set(UserIDKey, "auth0|42")
	c.Request().RemoteAddr = "10.0.0.1:1234"

	assert.Equal(t, "rl:user:auth0|42", buildRateKey(config.RateLimitConfig{Prefix: "rl", KeyStrategy: "user"}, c))
	assert.Equal(t, "rl:ip:10.0.0.1:user:auth0|42:route:GET /movies", buildRateKey(config.RateLimitConfig{Prefix: "rl"}, c))
}

func TestListCache(t *testing.T) {
	mr, rdb := newRedis(t)
	e := echo.New()
	m := metrics.New()
	cfg := config.CacheConfig{Enabled: true, Methods: map[string]bool{"GET": true}, TTL: time.Minute, Prefix: "cache", MaxBodyBytes: 1 << 20}

	calls := 0
	list := func(c echo.Context) error {
		calls++
		return c.JSON(http.StatusOK, map[string]any{"success": true, "movies": []string{}})
	}
	create := func(c echo.Context) error { return c.JSON(http.StatusOK, map[string]any{"success": true}) }
	mw := NewListCache(cfg, rdb, "movies", m, quietLogger())

	get := func() *httptest.ResponseRecorder {
		c, rec := newContext(e, http.MethodGet, "/movies", "")
		c.SetPath("/movies")
		require.NoError(t, mw(list)(c))
		return rec
	}

	first := get()
	assert.Equal(t, "MISS", first.Header().Get("X-Cache"))
	second := get()
	assert.Equal(t, "HIT", second.Header().Get("X-Cache"))
	assert.Equal(t, first.Body.String(), second.Body.String())
	assert.Equal(t, echo.MIMEApplicationJSON, second.Header().Get(echo.HeaderContentType))
	assert.Equal(t, 1, calls)
	assert.Len(t, mr.Keys(), 1)

	c, _ := newContext(e, http.MethodPost, "/movies", "")
	c.SetPath("/movies")
	require.NoError(t, mw(create)(c))
	assert.Equal(t, []string{"cache:gen:movies"}, mr.Keys())

	assert.Equal(t, "MISS", get().Header().Get("X-Cache"))
	assert.Equal(t, 2, calls)
	assert.Equal(t, float64(1), testutil.ToFloat64(m.CacheResults.WithLabelValues("hit")))
}

func TestListCache_InFlightListIsNotServedAfterWrite(t *testing.T) {
	_, rdb := newRedis(t)
	e := echo.New()
	cfg := config.CacheConfig{Enabled: true, Methods: map[string]bool{"GET": true}, TTL: time.Minute, Prefix: "cache", MaxBodyBytes: 1 << 20}
	mw := NewListCache(cfg, rdb, "movies", metrics.New(), quietLogger())

	var mu sync.Mutex
	state := "old"
	read := make(chan struct{})
	release := make(chan struct{})
	slowList := func(c echo.Context) error {
		mu.Lock()
		body := state
		mu.Unlock()
		close(read)
		<-release
		return c.String(http.StatusOK, body)
	}
	list := func(c echo.Context) error {
		mu.Lock()
		defer mu.Unlock()
		return c.String(http.StatusOK, state)
	}
	create := func(c echo.Context) error {
		mu.Lock()
		state = "new"
		mu.Unlock()
		return c.String(http.StatusOK, "created")
	}

	done := make(chan error, 1)
	go func() {
		c, _ := newContext(e, http.MethodGet, "/movies", "")
		c.SetPath("/movies")
		done <- mw(slowList)(c)
	}()
	<-read

	c, _ := newContext(e, http.MethodPost, "/movies", "")
	c.SetPath("/movies")
	require.NoError(t, mw(create)(c))

	close(release)
	require.NoError(t, <-done)

	c, rec := newContext(e, http.MethodGet, "/movies", "")
	c.SetPath("/movies")
	require.NoError(t, mw(list)(c))
	assert.Equal(t, "MISS", rec.Header().Get("X-Cache"))
	assert.Equal(t, "new", rec.Body.String())
}

func TestListCache_FailedWriteKeepsEntries(t *testing.T) {
	mr, rdb := newRedis(t)
	e := echo.New()
	cfg := config.CacheConfig{Enabled: true, Methods: map[string]bool{"GET": true}, TTL: time.Minute, Prefix: "cache"}
	mw := NewListCache(cfg, rdb, "actors", nil, quietLogger())
	require.NoError(t, mr.Set("cache:actors:abc", "x"))
	require.NoError(t, mr.Set("cache:movies:abc", "y"))

	c, _ := newContext(e, http.MethodDelete, "/actors/9", "")
	err := mw(func(echo.Context) error { return &apperr.NotFoundError{Resource: "actor", ID: 9} })(c)
	require.Error(t, err)
	assert.True(t, mr.Exists("cache:actors:abc"))

	c, _ = newContext(e, http.MethodPatch, "/actors/1", "")
	require.NoError(t, mw(ok)(c))
	assert.False(t, mr.Exists("cache:actors:abc"))
	assert.True(t, mr.Exists("cache:movies:abc"), "other collections are untouched")
}

func TestPayloadCodec(t *testing.T) {
	hdr := http.Header{"Content-Type": {"application/json"}}
	bs, err := encodePayload(http.StatusOK, hdr, []byte(`{"a":1}`))
	require.NoError(t, err)

	status, got, body, ok := decodePayload(bs)
	require.True(t, ok)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "application/json", got.Get("Content-Type"))
	assert.Equal(t, `{"a":1}`, string(body))

	_, _, _, ok = decodePayload([]byte{0, 0})
	assert.False(t, ok)
}

func TestRequestLogger(t *testing.T) {
	log, hook := test.NewNullLogger()
	e := echo.New()
	e.HTTPErrorHandler = func(err error, c echo.Context) {
		if !c.Response().Committed {
			_ = c.JSON(apperr.HTTPStatus(err), map[string]any{"message": apperr.Message(err)})
		}
	}
	e.Use(RequestLogger(log))
	e.GET("/movies", func(c echo.Context) error {
		c.Set(UserIDKey, "auth0|7")
		return apperr.Invalid("title is required")
	})

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/movies", nil))

	require.Len(t, hook.AllEntries(), 1)
	entry := hook.LastEntry()
	assert.Equal(t, logrus.WarnLevel, entry.Level)
	assert.Equal(t, "/movies", entry.Data["route"])
	assert.Equal(t, "auth0|7", entry.Data["subject"])
	assert.Equal(t, http.StatusUnprocessableEntity, entry.Data["status"])
}

func TestMetricsMiddleware(t *testing.T) {
	m := metrics.New()
	e := echo.New()
	e.Use(Metrics(m))
	e.GET("/movies/:id", func(c echo.Context) error { return &apperr.NotFoundError{Resource: "movie", ID: 1} })
	e.GET("/healthz", ok)

	for _, p := range []string{"/movies/1", "/movies/2", "/healthz"} {
		e.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, p, nil))
	}

	assert.Equal(t, float64(2), testutil.ToFloat64(m.HTTPRequestsTotal.WithLabelValues("GET", "/movies/:id", "404")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.HTTPRequestsTotal.WithLabelValues("GET", "/healthz", "200")))
}

func TestCaptureWriterLimit(t *testing.T) {
	rec := httptest.NewRecorder()
	cw := &captureWriter{ResponseWriter: rec, status: http.StatusOK, limit: 4}
	_, _ = cw.Write([]byte("abc"))
	_, _ = cw.Write([]byte("def"))
	assert.Equal(t, "abcd", cw.buf.String())
	assert.True(t, cw.truncated())
	assert.Equal(t, "abcdef", rec.Body.String())
	assert.True(t, bytes.Equal(rec.Body.Bytes(), []byte("abcdef")))
}
