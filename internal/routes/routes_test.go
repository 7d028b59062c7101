package routes_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lumenapp/lumen/internal/app"
	"github.com/lumenapp/lumen/internal/config"
	"github.com/lumenapp/lumen/internal/db"
	"github.com/lumenapp/lumen/internal/repository"
	"github.com/lumenapp/lumen/internal/routes"
	"github.com/lumenapp/lumen/internal/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

// recordingMailer captures outgoing mail so tests can pull tokens out of
// the links users would normally click.
type recordingMailer struct {
	verifyTokens []string
	resetTokens  []string
	welcomes     []string
}

func (m *recordingMailer) SendVerificationEmail(email, token string) error {
	m.verifyTokens = append(m.verifyTokens, token)
	return nil
}

func (m *recordingMailer) SendPasswordResetEmail(email, token string) error {
	m.resetTokens = append(m.resetTokens, token)
	return nil
}

func (m *recordingMailer) SendWelcomeEmail(email, name string) error {
	m.welcomes = append(m.welcomes, email)
	return nil
}

// newTestServer wires the full router against a throwaway SQLite
// database, with the mailer swapped for a recorder. The database handle
// is returned so tests can age tokens directly.
func newTestServer(t *testing.T) (*httptest.Server, *recordingMailer, *sqlx.DB) {
	t.Helper()

	database, err := db.Init("sqlite", filepath.Join(t.TempDir(), "test.db?_pragma=foreign_keys(1)"))
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = database.Close()
	})
	require.NoError(t, db.RunMigrations(database.DB, "sqlite"))

	cfg := &config.Config{
		AppName:                  "Lumen",
		AppEnv:                   "development",
		AppURL:                   "http://localhost:8090",
		JWTSecret:                "test-jwt-secret",
		JWTExpiry:                time.Hour,
		TokenEmailVerifyExpiry:   24 * time.Hour,
		TokenPasswordResetExpiry: time.Hour,
		AutoLoginExpiry:          2 * time.Minute,
		BcryptCost:               bcrypt.MinCost,
	}

	userRepository := repository.NewUserRepository(database)
	tokenRepository := repository.NewTokenRepository(database)
	mailer := &recordingMailer{}

	a := &app.App{
		Cfg: cfg,
		DB:  database,
		AuthService: service.NewAuthService(
			userRepository,
			tokenRepository,
			mailer,
			cfg.JWTSecret,
			cfg.IsProduction(),
			cfg.BcryptCost,
			cfg.JWTExpiry,
			cfg.TokenEmailVerifyExpiry,
			cfg.TokenPasswordResetExpiry,
			cfg.AutoLoginExpiry,
		),
		UserService: service.NewUserService(userRepository, cfg.BcryptCost),
	}

	srv := httptest.NewServer(routes.SetupRoutes(a))
	t.Cleanup(srv.Close)
	return srv, mailer, database
}

func newClient(t *testing.T) *http.Client {
	t.Helper()
	jar, err := cookiejar.New(nil)
	require.NoError(t, err)
	return &http.Client{Jar: jar}
}

// postJSON sends a JSON body and decodes the JSON response into a
// generic map.
func postJSON(t *testing.T, client *http.Client, url string, body any) (int, map[string]any) {
	t.Helper()

	payload, err := json.Marshal(body)
	require.NoError(t, err)

	resp, err := client.Post(url, "application/json", bytes.NewReader(payload))
	require.NoError(t, err)
	defer resp.Body.Close()

	var out map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return resp.StatusCode, out
}

func getJSON(t *testing.T, client *http.Client, url string) (int, map[string]any) {
	t.Helper()

	resp, err := client.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()

	var out map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return resp.StatusCode, out
}

func errorCode(body map[string]any) string {
	e, ok := body["error"].(map[string]any)
	if !ok {
		return ""
	}
	code, _ := e["code"].(string)
	return code
}

func TestAuthFlow(t *testing.T) {
	srv, mailer, _ := newTestServer(t)
	client := newClient(t)

	register := map[string]any{
		"email":    "jess@example.com",
		"password": "password-1",
		"name":     "Jess",
	}

	t.Run("register", func(t *testing.T) {
		status, body := postJSON(t, client, srv.URL+"/api/auth/register", register)
		require.Equal(t, http.StatusOK, status)
		assert.Equal(t, true, body["success"])
		require.Len(t, mailer.verifyTokens, 1)
	})

	t.Run("duplicate register conflicts", func(t *testing.T) {
		status, body := postJSON(t, client, srv.URL+"/api/auth/register", register)
		assert.Equal(t, http.StatusConflict, status)
		assert.Equal(t, "CONFLICT", errorCode(body))
	})

	t.Run("login before verification works", func(t *testing.T) {
		status, _ := postJSON(t, newClient(t), srv.URL+"/api/auth/login", map[string]any{
			"email":    "jess@example.com",
			"password": "password-1",
		})
		assert.Equal(t, http.StatusOK, status)
	})

	verifyToken := mailer.verifyTokens[0]
	var autoLoginToken string

	t.Run("verify email", func(t *testing.T) {
		status, body := postJSON(t, client, srv.URL+"/api/auth/verify-email", map[string]any{
			"token": verifyToken,
		})
		require.Equal(t, http.StatusOK, status)
		assert.Equal(t, "Email verified", body["message"])
		assert.Contains(t, mailer.welcomes, "jess@example.com")

		autoLoginToken, _ = body["token"].(string)
		require.NotEmpty(t, autoLoginToken)
	})

	t.Run("verify replay without hint is gone", func(t *testing.T) {
		status, body := postJSON(t, client, srv.URL+"/api/auth/verify-email", map[string]any{
			"token": verifyToken,
		})
		assert.Equal(t, http.StatusNotFound, status)
		assert.Equal(t, "NOT_FOUND", errorCode(body))
	})

	t.Run("verify replay with email hint is idempotent", func(t *testing.T) {
		status, body := postJSON(t, client, srv.URL+"/api/auth/verify-email", map[string]any{
			"token": verifyToken,
			"email": "jess@example.com",
		})
		require.Equal(t, http.StatusOK, status)
		assert.Equal(t, "Already verified", body["message"])
	})

	t.Run("auto-login token signs in", func(t *testing.T) {
		status, body := postJSON(t, client, srv.URL+"/api/auth/token-login", map[string]any{
			"token": autoLoginToken,
		})
		require.Equal(t, http.StatusOK, status)
		assert.Equal(t, true, body["success"])
	})

	t.Run("session reaches protected routes", func(t *testing.T) {
		status, body := getJSON(t, client, srv.URL+"/api/user/me")
		require.Equal(t, http.StatusOK, status)
		assert.Equal(t, "jess@example.com", body["email"])
		assert.NotNil(t, body["emailVerified"])
	})

	t.Run("logout ends the session", func(t *testing.T) {
		status, _ := postJSON(t, client, srv.URL+"/api/auth/logout", map[string]any{})
		require.Equal(t, http.StatusOK, status)

		status, body := getJSON(t, client, srv.URL+"/api/user/me")
		assert.Equal(t, http.StatusUnauthorized, status)
		assert.Equal(t, "UNAUTHORIZED", errorCode(body))
	})
}

func TestPasswordResetFlow(t *testing.T) {
	srv, mailer, _ := newTestServer(t)
	client := newClient(t)

	// Register and verify so forgot-password issues a reset token.
	status, _ := postJSON(t, client, srv.URL+"/api/auth/register", map[string]any{
		"email":    "sam@example.com",
		"password": "old-password",
	})
	require.Equal(t, http.StatusOK, status)
	require.Len(t, mailer.verifyTokens, 1)

	status, _ = postJSON(t, client, srv.URL+"/api/auth/verify-email", map[string]any{
		"token": mailer.verifyTokens[0],
	})
	require.Equal(t, http.StatusOK, status)

	t.Run("forgot password issues reset token", func(t *testing.T) {
		status, body := postJSON(t, client, srv.URL+"/api/auth/forgot-password", map[string]any{
			"email": "sam@example.com",
		})
		require.Equal(t, http.StatusOK, status)
		assert.Equal(t, true, body["success"])
		require.Len(t, mailer.resetTokens, 1)
	})

	t.Run("forgot password hides unknown emails", func(t *testing.T) {
		status, body := postJSON(t, client, srv.URL+"/api/auth/forgot-password", map[string]any{
			"email": "nobody@example.com",
		})
		assert.Equal(t, http.StatusOK, status)
		assert.Equal(t, true, body["success"])
	})

	resetToken := mailer.resetTokens[0]

	t.Run("reset password", func(t *testing.T) {
		status, body := postJSON(t, client, srv.URL+"/api/auth/reset-password", map[string]any{
			"token":    resetToken,
			"password": "new-password",
		})
		require.Equal(t, http.StatusOK, status)
		assert.Equal(t, true, body["success"])
	})

	t.Run("old password stops working", func(t *testing.T) {
		status, body := postJSON(t, client, srv.URL+"/api/auth/login", map[string]any{
			"email":    "sam@example.com",
			"password": "old-password",
		})
		assert.Equal(t, http.StatusUnauthorized, status)
		assert.Equal(t, "UNAUTHORIZED", errorCode(body))
	})

	t.Run("new password logs in", func(t *testing.T) {
		status, _ := postJSON(t, client, srv.URL+"/api/auth/login", map[string]any{
			"email":    "sam@example.com",
			"password": "new-password",
		})
		assert.Equal(t, http.StatusOK, status)
	})

	t.Run("reset token is single use", func(t *testing.T) {
		status, body := postJSON(t, client, srv.URL+"/api/auth/reset-password", map[string]any{
			"token":    resetToken,
			"password": "another-password",
		})
		assert.Equal(t, http.StatusNotFound, status)
		assert.Equal(t, "NOT_FOUND", errorCode(body))
	})
}

func TestRegisterValidation(t *testing.T) {
	srv, _, _ := newTestServer(t)
	client := newClient(t)

	status, body := postJSON(t, client, srv.URL+"/api/auth/register", map[string]any{
		"email":    "not-an-email",
		"password": "short",
	})
	require.Equal(t, http.StatusBadRequest, status)

	e, ok := body["error"].(map[string]any)
	require.True(t, ok)
	fields, ok := e["fields"].(map[string]any)
	require.True(t, ok)
	assert.Contains(t, fields, "email")
	assert.Contains(t, fields, "password")
}

func TestProtectedRoutesRequireAuth(t *testing.T) {
	srv, _, _ := newTestServer(t)
	client := newClient(t)

	for _, route := range []string{"/api/user/me", "/api/dashboard"} {
		status, body := getJSON(t, client, srv.URL+route)
		assert.Equal(t, http.StatusUnauthorized, status, route)
		assert.Equal(t, "UNAUTHORIZED", errorCode(body), route)
	}
}

func TestHealth(t *testing.T) {
	srv, _, _ := newTestServer(t)

	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))
}

func TestExpiredVerificationToken(t *testing.T) {
	srv, mailer, database := newTestServer(t)
	client := newClient(t)

	status, _ := postJSON(t, client, srv.URL+"/api/auth/register", map[string]any{
		"email":    "late@example.com",
		"password": "password-1",
	})
	require.Equal(t, http.StatusOK, status)
	require.Len(t, mailer.verifyTokens, 1)

	// Age the token past its expiry directly in the store.
	_, err := database.Exec(`UPDATE tokens SET expires_at = $1 WHERE token = $2`,
		time.Now().Add(-time.Hour), mailer.verifyTokens[0])
	require.NoError(t, err)

	status, body := postJSON(t, client, srv.URL+"/api/auth/verify-email", map[string]any{
		"token": mailer.verifyTokens[0],
	})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "BAD_REQUEST", errorCode(body))

	t.Run("account stays unverified", func(t *testing.T) {
		status, body := postJSON(t, client, srv.URL+"/api/auth/login", map[string]any{
			"email":    "late@example.com",
			"password": "password-1",
		})
		require.Equal(t, http.StatusOK, status)
		assert.Equal(t, true, body["success"])
	})
}
