package middleware

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/mediconnect/backend/auth"
	"github.com/mediconnect/backend/models"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.uber.org/zap"
)

type envelope struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
	Code    string `json:"code"`
}

func decode(t *testing.T, resp *http.Response) envelope {
	t.Helper()
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	var env envelope
	require.NoError(t, json.Unmarshal(body, &env))
	return env
}

func newTokens(t *testing.T) *auth.TokenManager {
	t.Helper()
	m, err := auth.NewTokenManager(auth.TokenConfig{
		Secret: "test-secret",
		Issuer: "mediconnect",
		Expiry: time.Hour,
	}, auth.NewMemoryRevocationList(), zap.NewNop())
	require.NoError(t, err)
	return m
}

func protectedApp(v Verifier, roles ...models.Role) *fiber.App {
	app := fiber.New()
	chain := []fiber.Handler{Authenticate(v, zap.NewNop())}
	if len(roles) > 0 {
		chain = append(chain, RequireRole(roles...))
	}
	chain = append(chain, func(c *fiber.Ctx) error {
		caller, _ := IdentityFrom(c)
		return c.JSON(fiber.Map{"success": true, "error": caller.ID, "code": string(caller.Role)})
	})
	app.Get("/private", chain...)
	return app
}

func TestAuthenticateTokenSources(t *testing.T) {
	tokens := newTokens(t)
	caller := auth.Identity{ID: bson.NewObjectID().Hex(), Role: models.RolePatient, Email: "p@example.com"}
	token, _, err := tokens.Issue(caller)
	require.NoError(t, err)
	app := protectedApp(tokens)

	cases := map[string]func(r *http.Request){
		"bearer header": func(r *http.Request) { r.Header.Set("Authorization", "Bearer "+token) },
		"x-auth-token":  func(r *http.Request) { r.Header.Set("x-auth-token", token) },
		"cookie":        func(r *http.Request) { r.AddCookie(&http.Cookie{Name: TokenCookie, Value: token}) },
	}
	for name, set := range cases {
		t.Run(name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/private", nil)
			set(req)
			resp, err := app.Test(req)
			require.NoError(t, err)
			assert.Equal(t, fiber.StatusOK, resp.StatusCode)
			env := decode(t, resp)
			assert.Equal(t, caller.ID, env.Error)
			assert.Equal(t, "patient", env.Code)
		})
	}
}

func TestAuthenticateRejects(t *testing.T) {
	tokens := newTokens(t)
	app := protectedApp(tokens)

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/private", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)
	env := decode(t, resp)
	assert.False(t, env.Success)
	assert.Equal(t, auth.CodeNoToken, env.Code)

	req := httptest.NewRequest(http.MethodGet, "/private", nil)
	req.Header.Set("Authorization", "Bearer not.a.token")
	resp, err = app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, auth.CodeMalformedToken, decode(t, resp).Code)

	caller := auth.Identity{ID: bson.NewObjectID().Hex(), Role: models.RoleDoctor}
	token, claims, err := tokens.Issue(caller)
	require.NoError(t, err)
	require.NoError(t, tokens.Revoke(context.Background(), claims))

	req = httptest.NewRequest(http.MethodGet, "/private", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err = app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, auth.CodeTokenRevoked, decode(t, resp).Code)
}

type brokenVerifier struct{}

func (brokenVerifier) Verify(context.Context, string) (*auth.Claims, error) {
	return nil, errors.New("boom")
}

func TestAuthenticateUnexpectedError(t *testing.T) {
	app := protectedApp(brokenVerifier{})
	req := httptest.NewRequest(http.MethodGet, "/private", nil)
	req.Header.Set("x-auth-token", "anything")
	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, auth.CodeInvalidToken, decode(t, resp).Code)
}

func TestRequireRole(t *testing.T) {
	tokens := newTokens(t)
	app := protectedApp(tokens, models.RoleDoctor, models.RoleAdmin)

	patient, _, err := tokens.Issue(auth.Identity{ID: bson.NewObjectID().Hex(), Role: models.RolePatient})
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodGet, "/private", nil)
	req.Header.Set("Authorization", "Bearer "+patient)
	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusForbidden, resp.StatusCode)
	env := decode(t, resp)
	assert.Equal(t, "FORBIDDEN", env.Code)
	assert.Contains(t, env.Error, "patient")

	doctor, _, err := tokens.Issue(auth.Identity{ID: bson.NewObjectID().Hex(), Role: models.RoleDoctor})
	require.NoError(t, err)
	req = httptest.NewRequest(http.MethodGet, "/private", nil)
	req.Header.Set("Authorization", "Bearer "+doctor)
	resp, err = app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
}

func TestRecovery(t *testing.T) {
	app := fiber.New()
	app.Use(Recovery(zap.NewNop()))
	app.Get("/panic", func(c *fiber.Ctx) error {
		panic("kaboom")
	})

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/panic", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusInternalServerError, resp.StatusCode)
	assert.Equal(t, "INTERNAL_SERVER_ERROR", decode(t, resp).Code)
}

func TestRequestLoggerAndHeaders(t *testing.T) {
	app := fiber.New()
	app.Use(RequestLogger(zap.NewNop()), SecurityHeaders("https://api.example.com"))
	app.Get("/", func(c *fiber.Ctx) error { return c.SendStatus(fiber.StatusNoContent) })

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/", nil))
	require.NoError(t, err)
	assert.NotEmpty(t, resp.Header.Get(HeaderRequestID))
	assert.Contains(t, resp.Header.Get("Content-Security-Policy"), "https://api.example.com")
	assert.Equal(t, "nosniff", resp.Header.Get("X-Content-Type-Options"))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(HeaderRequestID, "req-42")
	resp, err = app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, "req-42", resp.Header.Get(HeaderRequestID))
}

type memoryCounter struct {
	mu     sync.Mutex
	counts map[string]int64
	err    error
}

func (m *memoryCounter) Hit(_ context.Context, key string, _ time.Duration) (int64, error) {
	if m.err != nil {
		return 0, m.err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.counts == nil {
		m.counts = map[string]int64{}
	}
	m.counts[key]++
	return m.counts[key], nil
}

func limitedApp(counter Counter, limit int) *fiber.App {
	app := fiber.New()
	app.Use(RateLimiter(counter, RateLimitConfig{Limit: limit, Window: time.Minute}, zap.NewNop()))
	app.Get("/", func(c *fiber.Ctx) error { return c.SendString("ok") })
	return app
}

func TestRateLimiter(t *testing.T) {
	app := limitedApp(&memoryCounter{}, 2)
	for i := 0; i < 2; i++ {
		resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/", nil))
		require.NoError(t, err)
		assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	}
	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusTooManyRequests, resp.StatusCode)
	assert.Equal(t, "60", resp.Header.Get(fiber.HeaderRetryAfter))
	assert.Equal(t, "RATE_LIMITED", decode(t, resp).Code)
}

func TestRateLimiterFailsOpen(t *testing.T) {
	app := limitedApp(&memoryCounter{err: errors.New("redis down")}, 1)
	for i := 0; i < 3; i++ {
		resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/", nil))
		require.NoError(t, err)
		assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	}

	app = limitedApp(nil, 1)
	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
}

// scriptedRedis answers INCR and EXPIRE in process so RedisCounter runs
// without a server.
type scriptedRedis struct {
	mu         sync.Mutex
	commands   []string
	counts     map[string]int64
	windows    map[string]int64
	failExpire bool
}

func (h *scriptedRedis) DialHook(next redis.DialHook) redis.DialHook { return next }

func (h *scriptedRedis) ProcessPipelineHook(next redis.ProcessPipelineHook) redis.ProcessPipelineHook {
	return next
}

func (h *scriptedRedis) ProcessHook(next redis.ProcessHook) redis.ProcessHook {
	return func(ctx context.Context, cmd redis.Cmder) error {
		h.mu.Lock()
		defer h.mu.Unlock()
		h.commands = append(h.commands, cmd.Name())
		args := cmd.Args()
		key, _ := args[1].(string)
		switch c := cmd.(type) {
		case *redis.IntCmd:
			h.counts[key]++
			c.SetVal(h.counts[key])
		case *redis.BoolCmd:
			if h.failExpire {
				err := errors.New("READONLY You can't write against a read only replica")
				c.SetErr(err)
				return err
			}
			h.windows[key], _ = args[2].(int64)
			c.SetVal(true)
		}
		return nil
	}
}

func scriptedClient(t *testing.T, h *scriptedRedis) *redis.Client {
	h.counts = map[string]int64{}
	h.windows = map[string]int64{}
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:0"})
	client.AddHook(h)
	t.Cleanup(func() { client.Close() })
	return client
}

func TestRedisCounterStartsWindowOnFirstHit(t *testing.T) {
	h := &scriptedRedis{}
	counter := NewRedisCounter(scriptedClient(t, h))
	key := "ratelimit:10.0.0.7"

	for i := int64(1); i <= 3; i++ {
		n, err := counter.Hit(context.Background(), key, time.Minute)
		require.NoError(t, err)
		assert.Equal(t, i, n)
	}
	assert.Equal(t, []string{"incr", "expire", "incr", "incr"}, h.commands)
	assert.Equal(t, int64(60), h.windows[key])
}

func TestRedisCounterReportsExpireFailure(t *testing.T) {
	h := &scriptedRedis{failExpire: true}
	counter := NewRedisCounter(scriptedClient(t, h))

	n, err := counter.Hit(context.Background(), "ratelimit:10.0.0.8", time.Minute)
	require.Error(t, err)
	assert.Equal(t, int64(1), n)
}
