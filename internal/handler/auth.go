package handler

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/lumenapp/lumen/internal/config"
	"github.com/lumenapp/lumen/internal/ctxkeys"
	"github.com/lumenapp/lumen/internal/model"
	"github.com/lumenapp/lumen/internal/service"
	"github.com/lumenapp/lumen/internal/validation"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/github"
	"golang.org/x/oauth2/google"
)

type authHandler struct {
	authService       *service.AuthService
	googleOAuthConfig *oauth2.Config
	githubOAuthConfig *oauth2.Config
}

func NewAuthHandler(authService *service.AuthService, cfg *config.Config) *authHandler {
	return &authHandler{
		authService: authService,
		googleOAuthConfig: &oauth2.Config{
			ClientID:     cfg.GoogleClientID,
			ClientSecret: cfg.GoogleClientSecret,
			RedirectURL:  cfg.AppURL + "/auth/google/callback",
			Scopes:       []string{"https://www.googleapis.com/auth/userinfo.email", "https://www.googleapis.com/auth/userinfo.profile"},
			Endpoint:     google.Endpoint,
		},
		githubOAuthConfig: &oauth2.Config{
			ClientID:     cfg.GitHubClientID,
			ClientSecret: cfg.GitHubClientSecret,
			RedirectURL:  cfg.AppURL + "/auth/github/callback",
			Scopes:       []string{"user:email"},
			Endpoint:     github.Endpoint,
		},
	}
}

func (h *authHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
		Name     string `json:"name"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}

	fields := map[string]string{}
	if err := validation.ValidateEmail(strings.TrimSpace(req.Email)); err != nil {
		fields["email"] = err.Error()
	}
	if err := validation.ValidatePassword(req.Password); err != nil {
		fields["password"] = err.Error()
	}
	if len(fields) > 0 {
		respondFieldErrors(w, fields)
		return
	}

	err := h.authService.Register(req.Email, req.Password, req.Name)
	if err != nil {
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (h *authHandler) VerifyEmail(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Token string `json:"token"`
		Email string `json:"email"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}

	if req.Token == "" {
		respondFieldErrors(w, map[string]string{"token": "token is required"})
		return
	}

	result, err := h.authService.VerifyEmail(req.Token, req.Email)
	if err != nil {
		slog.Warn("email verification failed", "error", err)
		respondServiceError(w, err)
		return
	}

	resp := map[string]any{"success": true, "message": result.Message}
	if result.AutoLoginToken != "" {
		resp["token"] = result.AutoLoginToken
	}
	respondJSON(w, http.StatusOK, resp)
}

func (h *authHandler) ForgotPassword(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email string `json:"email"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}

	if err := validation.ValidateEmail(strings.TrimSpace(req.Email)); err != nil {
		respondFieldErrors(w, map[string]string{"email": err.Error()})
		return
	}

	err := h.authService.ForgotPassword(req.Email)
	if err != nil {
		// Don't reveal specific errors to prevent email enumeration
		slog.Warn("forgot password failed", "error", err)
	}

	// Always report success so the response doesn't reveal whether the
	// email exists
	respondJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (h *authHandler) ResetPassword(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Token    string `json:"token"`
		Password string `json:"password"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}

	fields := map[string]string{}
	if req.Token == "" {
		fields["token"] = "token is required"
	}
	if err := validation.ValidatePassword(req.Password); err != nil {
		fields["password"] = err.Error()
	}
	if len(fields) > 0 {
		respondFieldErrors(w, fields)
		return
	}

	err := h.authService.ResetPassword(req.Token, req.Password)
	if err != nil {
		slog.Warn("password reset failed", "error", err)
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (h *authHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}

	if req.Email == "" || req.Password == "" {
		respondError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Invalid credentials")
		return
	}

	user, err := h.authService.Login(req.Email, req.Password)
	if err != nil {
		slog.Warn("password login failed", "error", err, "email", req.Email)
		respondServiceError(w, err)
		return
	}

	if !h.startSession(w, user, "password") {
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"success": true, "user": user.Public()})
}

// TokenLogin signs in with the one-shot auto-login token handed out by
// email verification.
func (h *authHandler) TokenLogin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Token string `json:"token"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}

	if req.Token == "" {
		respondError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Invalid credentials")
		return
	}

	user, err := h.authService.LoginWithToken(req.Token)
	if err != nil {
		slog.Warn("token login failed", "error", err)
		respondServiceError(w, err)
		return
	}

	if !h.startSession(w, user, "token") {
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"success": true, "user": user.Public()})
}

func (h *authHandler) Logout(w http.ResponseWriter, r *http.Request) {
	h.authService.ClearJWTCookie(w)
	respondJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (h *authHandler) startSession(w http.ResponseWriter, user *model.User, method string) bool {
	jwtToken, err := h.authService.GenerateJWT(user)
	if err != nil {
		slog.Error("failed to generate JWT", "error", err, "user_id", user.ID)
		respondError(w, http.StatusInternalServerError, "INTERNAL", "Something went wrong")
		return false
	}

	h.authService.SetJWTCookie(w, jwtToken, time.Now().Add(h.authService.SessionExpiry()))
	slog.Info("user logged in", "user_id", user.ID, "email", user.Email, "method", method)
	return true
}

// GoogleAuth redirects user to Google OAuth consent screen
func (h *authHandler) GoogleAuth(w http.ResponseWriter, r *http.Request) {
	state := h.setOAuthState(w, r)
	url := h.googleOAuthConfig.AuthCodeURL(state, oauth2.AccessTypeOffline)
	http.Redirect(w, r, url, http.StatusTemporaryRedirect)
}

// GoogleCallback handles the OAuth callback from Google
func (h *authHandler) GoogleCallback(w http.ResponseWriter, r *http.Request) {
	code, ok := h.checkOAuthCallback(w, r, "google")
	if !ok {
		return
	}

	token, err := h.googleOAuthConfig.Exchange(context.Background(), code)
	if err != nil {
		slog.Error("google oauth token exchange failed", "error", err)
		respondError(w, http.StatusBadRequest, "BAD_REQUEST", "OAuth authentication failed")
		return
	}

	client := h.googleOAuthConfig.Client(context.Background(), token)
	resp, err := client.Get("https://www.googleapis.com/oauth2/v2/userinfo")
	if err != nil {
		slog.Error("failed to get google user info", "error", err)
		respondError(w, http.StatusBadRequest, "BAD_REQUEST", "OAuth authentication failed")
		return
	}
	defer func() {
		closeErr := resp.Body.Close()
		if closeErr != nil {
			slog.Error("failed to close response body", "error", closeErr)
		}
	}()

	var userInfo struct {
		Email         string `json:"email"`
		VerifiedEmail bool   `json:"verified_email"`
		Name          string `json:"name"`
		Picture       string `json:"picture"`
	}
	err = json.NewDecoder(resp.Body).Decode(&userInfo)
	if err != nil {
		slog.Error("failed to decode google user info", "error", err)
		respondError(w, http.StatusBadRequest, "BAD_REQUEST", "OAuth authentication failed")
		return
	}

	// Google asserting a verified email counts as verification
	user, err := h.authService.AuthenticateOAuth(userInfo.Email, userInfo.Name, userInfo.Picture, userInfo.VerifiedEmail, "google")
	if err != nil {
		slog.Error("oauth authentication failed", "error", err, "email", userInfo.Email)
		respondError(w, http.StatusBadRequest, "BAD_REQUEST", "Authentication failed")
		return
	}

	h.finishOAuthLogin(w, r, user)
}

// GitHubAuth redirects user to GitHub OAuth consent screen
func (h *authHandler) GitHubAuth(w http.ResponseWriter, r *http.Request) {
	state := h.setOAuthState(w, r)
	url := h.githubOAuthConfig.AuthCodeURL(state, oauth2.AccessTypeOffline)
	http.Redirect(w, r, url, http.StatusTemporaryRedirect)
}

// GitHubCallback handles the OAuth callback from GitHub
func (h *authHandler) GitHubCallback(w http.ResponseWriter, r *http.Request) {
	code, ok := h.checkOAuthCallback(w, r, "github")
	if !ok {
		return
	}

	token, err := h.githubOAuthConfig.Exchange(context.Background(), code)
	if err != nil {
		slog.Error("github oauth token exchange failed", "error", err)
		respondError(w, http.StatusBadRequest, "BAD_REQUEST", "OAuth authentication failed")
		return
	}

	client := h.githubOAuthConfig.Client(context.Background(), token)
	resp, err := client.Get("https://api.github.com/user")
	if err != nil {
		slog.Error("failed to get github user info", "error", err)
		respondError(w, http.StatusBadRequest, "BAD_REQUEST", "OAuth authentication failed")
		return
	}
	defer func() {
		closeErr := resp.Body.Close()
		if closeErr != nil {
			slog.Error("failed to close response body", "error", closeErr)
		}
	}()

	var userInfo struct {
		Email     string `json:"email"`
		Name      string `json:"name"`
		AvatarURL string `json:"avatar_url"`
	}
	err = json.NewDecoder(resp.Body).Decode(&userInfo)
	if err != nil {
		slog.Error("failed to decode github user info", "error", err)
		respondError(w, http.StatusBadRequest, "BAD_REQUEST", "OAuth authentication failed")
		return
	}

	emailVerified := false

	// GitHub API may not return email in main response if it's private.
	// Fetch from /user/emails, which also carries the verified flag.
	emailResp, err := client.Get("https://api.github.com/user/emails")
	if err == nil {
		defer func() {
			closeErr := emailResp.Body.Close()
			if closeErr != nil {
				slog.Error("failed to close email response body", "error", closeErr)
			}
		}()

		var emails []struct {
			Email    string `json:"email"`
			Primary  bool   `json:"primary"`
			Verified bool   `json:"verified"`
		}
		err = json.NewDecoder(emailResp.Body).Decode(&emails)
		if err == nil {
			for _, e := range emails {
				if e.Primary {
					userInfo.Email = e.Email
					emailVerified = e.Verified
					break
				}
			}
		}
	}

	if userInfo.Email == "" {
		slog.Warn("github oauth: no email found")
		respondError(w, http.StatusBadRequest, "BAD_REQUEST", "Could not retrieve email from GitHub")
		return
	}

	user, err := h.authService.AuthenticateOAuth(userInfo.Email, userInfo.Name, userInfo.AvatarURL, emailVerified, "github")
	if err != nil {
		slog.Error("oauth authentication failed", "error", err, "email", userInfo.Email)
		respondError(w, http.StatusBadRequest, "BAD_REQUEST", "Authentication failed")
		return
	}

	h.finishOAuthLogin(w, r, user)
}

// setOAuthState stores a CSRF state token in a short-lived cookie and
// returns it for the authorize URL.
func (h *authHandler) setOAuthState(w http.ResponseWriter, r *http.Request) string {
	state := generateOAuthState()

	cfg := ctxkeys.Config(r.Context())
	isProduction := cfg != nil && cfg.IsProduction()

	http.SetCookie(w, &http.Cookie{
		Name:     "oauth_state",
		Value:    state,
		Path:     "/",
		HttpOnly: true,
		Secure:   isProduction, // Secure flag based on APP_ENV (safer than r.TLS behind load balancers)
		SameSite: http.SameSiteLaxMode,
		MaxAge:   600, // 10 minutes
	})

	return state
}

// checkOAuthCallback validates the state parameter and extracts the
// authorization code.
func (h *authHandler) checkOAuthCallback(w http.ResponseWriter, r *http.Request, provider string) (string, bool) {
	state := r.URL.Query().Get("state")
	cookie, err := r.Cookie("oauth_state")
	if err != nil || cookie.Value != state || state == "" {
		slog.Warn("oauth state validation failed", "error", err, "provider", provider)
		respondError(w, http.StatusBadRequest, "BAD_REQUEST", "OAuth authentication failed")
		return "", false
	}

	// Clear state cookie
	http.SetCookie(w, &http.Cookie{
		Name:   "oauth_state",
		Value:  "",
		Path:   "/",
		MaxAge: -1,
	})

	code := r.URL.Query().Get("code")
	if code == "" {
		slog.Warn("oauth callback missing code", "provider", provider)
		respondError(w, http.StatusBadRequest, "BAD_REQUEST", "OAuth authentication failed")
		return "", false
	}

	return code, true
}

func (h *authHandler) finishOAuthLogin(w http.ResponseWriter, r *http.Request, user *model.User) {
	jwtToken, err := h.authService.GenerateJWT(user)
	if err != nil {
		slog.Error("failed to generate JWT", "error", err, "user_id", user.ID)
		respondError(w, http.StatusInternalServerError, "INTERNAL", "Something went wrong")
		return
	}

	h.authService.SetJWTCookie(w, jwtToken, time.Now().Add(h.authService.SessionExpiry()))
	slog.Info("user logged in via oauth", "user_id", user.ID, "email", user.Email)

	http.Redirect(w, r, "/app/dashboard", http.StatusSeeOther)
}

// generateOAuthState creates cryptographically secure random state token for OAuth CSRF protection
func generateOAuthState() string {
	bytes := make([]byte, 32)
	_, err := rand.Read(bytes)
	if err != nil {
		panic("failed to generate oauth state: " + err.Error())
	}
	return base64.RawURLEncoding.EncodeToString(bytes)
}
