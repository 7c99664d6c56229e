package testutil

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/charlesng35/foodbridge/internal/api"
	"github.com/charlesng35/foodbridge/internal/app"
	iauth "github.com/charlesng35/foodbridge/internal/auth"
	sharedtestutil "github.com/charlesng35/foodbridge/internal/database/testutil"
	"github.com/charlesng35/foodbridge/internal/middleware"
	"github.com/charlesng35/foodbridge/internal/realtime"
	"github.com/charlesng35/foodbridge/pkg/response"
)

// Env encapsulates a fully-wired API instance backed by an in-memory database for handler tests.
type Env struct {
	T      *testing.T
	DB     *gorm.DB
	Router *gin.Engine
	JWT    *iauth.JWTService
	Hub    *realtime.Hub
	Config *app.Config

	server *httptest.Server
}

// EnvOption customises the test configuration before the router is built.
type EnvOption func(*app.Config)

// WithAutoRejectSiblings enables sibling auto-rejection on accept.
func WithAutoRejectSiblings() EnvOption {
	return func(cfg *app.Config) {
		cfg.Features.Requests.AutoRejectSiblings = true
	}
}

// WithRateLimit sets the global request limit.
func WithRateLimit(requests int, window time.Duration) EnvOption {
	return func(cfg *app.Config) {
		cfg.Server.RateLimit = app.RateLimitConfig{Requests: requests, Window: window}
	}
}

// NewEnv provisions a fresh handler test environment with migrations applied and a started hub.
func NewEnv(t *testing.T, opts ...EnvOption) *Env {
	t.Helper()

	gin.SetMode(gin.TestMode)

	db := sharedtestutil.MustOpenTestDB(t, sharedtestutil.WithAutoMigrate())

	cfg := &app.Config{
		Auth: app.AuthConfig{
			JWT: app.JWTSettings{
				Secret: "test-suite-super-secret-key-32-bytes!!",
				Issuer: "test-suite",
				TTL:    time.Hour,
			},
			Password: app.PasswordSettings{BcryptCost: 4},
		},
		Monitoring: app.MonitoringConfig{
			Prometheus: app.PrometheusConfig{Enabled: true, Endpoint: "/metrics"},
			Health:     app.HealthConfig{Enabled: true},
		},
	}
	for _, opt := range opts {
		opt(cfg)
	}

	jwtSvc, err := iauth.NewJWTService(cfg.Auth.JWTServiceConfig())
	require.NoError(t, err)

	hub := realtime.NewHub()
	require.NoError(t, hub.Start(context.Background()))
	t.Cleanup(func() { _ = hub.Close() })

	router, err := api.NewRouter(db, jwtSvc, cfg, hub, middleware.NewMemoryRateStore())
	require.NoError(t, err)

	return &Env{
		T:      t,
		DB:     db,
		Router: router,
		JWT:    jwtSvc,
		Hub:    hub,
		Config: cfg,
	}
}

// UserPayload captures the user fields returned from auth endpoints.
type UserPayload struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
	Role  string `json:"role"`
}

// AuthResult bundles the JSON response from register and login.
type AuthResult struct {
	AccessToken string      `json:"access_token"`
	TokenType   string      `json:"token_type"`
	ExpiresIn   int         `json:"expires_in"`
	User        UserPayload `json:"user"`
}

// Register creates an account through the API and returns the issued token.
func (e *Env) Register(name, role string) AuthResult {
	e.T.Helper()

	payload := map[string]string{
		"name":     name,
		"email":    strings.ToLower(strings.ReplaceAll(name, " ", ".")) + "@foodbridge.test",
		"password": "Password123!",
		"role":     role,
	}

	w := e.Request(http.MethodPost, "/api/auth/register", payload, "")
	require.Equal(e.T, http.StatusCreated, w.Code, w.Body.String())

	resp := DecodeResponse(e.T, w)
	require.True(e.T, resp.Success, w.Body.String())

	var result AuthResult
	DecodeInto(e.T, resp.Data, &result)
	require.NotEmpty(e.T, result.AccessToken)
	require.Equal(e.T, role, result.User.Role)
	return result
}

// Login authenticates with email and password.
func (e *Env) Login(email, password string) *httptest.ResponseRecorder {
	e.T.Helper()
	return e.Request(http.MethodPost, "/api/auth/login", map[string]string{
		"email":    email,
		"password": password,
	}, "")
}

// APIResponse represents the canonical API envelope returned by handlers.
type APIResponse struct {
	Success bool                `json:"success"`
	Message string              `json:"message"`
	Data    json.RawMessage     `json:"data"`
	Error   *response.ErrorInfo `json:"error"`
	Meta    *response.Meta      `json:"meta"`
}

// DecodeResponse parses the standard API response object from a recorder.
func DecodeResponse(t *testing.T, w *httptest.ResponseRecorder) APIResponse {
	t.Helper()
	var resp APIResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp), w.Body.String())
	return resp
}

// DecodeInto unmarshals the data payload into the provided destination.
func DecodeInto[T any](t *testing.T, raw json.RawMessage, dest *T) {
	t.Helper()
	if dest == nil {
		t.Fatal("destination must not be nil")
	}
	require.NoError(t, json.Unmarshal(raw, dest))
}

// Request executes an HTTP request against the test router, applying JSON encoding and auth headers automatically.
func (e *Env) Request(method, path string, body any, token string) *httptest.ResponseRecorder {
	e.T.Helper()

	buf := bytes.NewBuffer(nil)
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(e.T, err)
		buf = bytes.NewBuffer(data)
	}

	req, err := http.NewRequest(method, path, buf)
	require.NoError(e.T, err)

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	w := httptest.NewRecorder()
	e.Router.ServeHTTP(w, req)
	return w
}

// Frame is a server to client websocket frame as seen by tests.
type Frame struct {
	Room  string          `json:"room"`
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// Socket is a websocket client connected to the test server.
type Socket struct {
	t    *testing.T
	conn *websocket.Conn
}

// Dial opens a websocket to /ws authenticated with token.
func (e *Env) Dial(token string) *Socket {
	e.T.Helper()

	if e.server == nil {
		e.server = httptest.NewServer(e.Router)
		e.T.Cleanup(e.server.Close)
	}

	url := "ws" + strings.TrimPrefix(e.server.URL, "http") + "/ws?token=" + token
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(e.T, err)
	e.T.Cleanup(func() { _ = conn.Close() })
	return &Socket{t: e.T, conn: conn}
}

// Send writes a client frame.
func (s *Socket) Send(action, ref string, data any) {
	s.t.Helper()
	require.NoError(s.t, s.conn.WriteJSON(map[string]any{"action": action, "ref": ref, "data": data}))
}

// Read returns the next frame.
func (s *Socket) Read() Frame {
	s.t.Helper()
	require.NoError(s.t, s.conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	var frame Frame
	require.NoError(s.t, s.conn.ReadJSON(&frame))
	return frame
}

// Command sends a frame and returns its ack together with any frames that arrived first.
func (s *Socket) Command(action, ref string, data any) (realtime.Ack, []Frame) {
	s.t.Helper()
	s.Send(action, ref, data)

	var before []Frame
	for {
		frame := s.Read()
		if frame.Event != realtime.EventAck {
			before = append(before, frame)
			continue
		}
		var ack realtime.Ack
		require.NoError(s.t, json.Unmarshal(frame.Data, &ack))
		if ack.Ref != ref {
			continue
		}
		return ack, before
	}
}

// Drain sends a ping and returns every frame received before the pong.
func (s *Socket) Drain() []Frame {
	s.t.Helper()
	s.Send(realtime.ActionPing, "drain", nil)

	var before []Frame
	for {
		frame := s.Read()
		if frame.Event == realtime.EventPong {
			_ = s.Read() // ack
			return before
		}
		before = append(before, frame)
	}
}

// Events filters frames by event name.
func Events(frames []Frame, event string) []Frame {
	var out []Frame
	for _, frame := range frames {
		if frame.Event == event {
			out = append(out, frame)
		}
	}
	return out
}
