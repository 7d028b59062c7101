package service

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/lumenapp/lumen/internal/model"
	"github.com/lumenapp/lumen/internal/repository"
	"github.com/lumenapp/lumen/internal/token"
	"github.com/lumenapp/lumen/internal/validation"
	"golang.org/x/crypto/bcrypt"
)

var (
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrEmailAlreadyExists = errors.New("email already exists")
	ErrInvalidEmail       = errors.New("invalid email address")
	ErrTokenInvalid       = errors.New("invalid token")
	ErrTokenExpired       = errors.New("token expired")
)

// AuthService coordinates the account and token stores, the credential
// hasher and the mailer into the registration, verification, and
// password-reset flows. Email dispatch is always best effort: the
// account state change decides the outcome, not the notification.
type AuthService struct {
	userRepository           repository.UserRepository
	tokenRepository          repository.TokenRepository
	mailer                   Mailer
	autoLogin                *token.Codec
	jwtSecret                string
	isProduction             bool
	bcryptCost               int
	jwtExpiry                time.Duration
	tokenEmailVerifyExpiry   time.Duration
	tokenPasswordResetExpiry time.Duration
	autoLoginExpiry          time.Duration
}

func NewAuthService(
	userRepository repository.UserRepository,
	tokenRepository repository.TokenRepository,
	mailer Mailer,
	jwtSecret string,
	isProduction bool,
	bcryptCost int,
	jwtExpiry time.Duration,
	tokenEmailVerifyExpiry time.Duration,
	tokenPasswordResetExpiry time.Duration,
	autoLoginExpiry time.Duration,
) *AuthService {
	return &AuthService{
		userRepository:           userRepository,
		tokenRepository:          tokenRepository,
		mailer:                   mailer,
		autoLogin:                token.NewCodec(jwtSecret),
		jwtSecret:                jwtSecret,
		isProduction:             isProduction,
		bcryptCost:               bcryptCost,
		jwtExpiry:                jwtExpiry,
		tokenEmailVerifyExpiry:   tokenEmailVerifyExpiry,
		tokenPasswordResetExpiry: tokenPasswordResetExpiry,
		autoLoginExpiry:          autoLoginExpiry,
	}
}

// Register creates an unverified account and mails a verification link.
// The operation succeeds once the account row exists; a failed email
// dispatch is logged and swallowed because the token stays redeemable
// through the resend path.
func (s *AuthService) Register(email, password, name string) error {
	email = strings.TrimSpace(strings.ToLower(email))

	err := validation.ValidateEmail(email)
	if err != nil {
		return ErrInvalidEmail
	}

	err = validation.ValidatePassword(password)
	if err != nil {
		return err
	}

	name = strings.TrimSpace(name)
	if name != "" {
		err = validation.ValidateName(name)
		if err != nil {
			return err
		}
	}

	existing, err := s.userRepository.ByEmail(email)
	if err != nil && !errors.Is(err, repository.ErrUserNotFound) {
		return fmt.Errorf("failed to check email: %w", err)
	}
	if existing != nil {
		return ErrEmailAlreadyExists
	}

	hashedPassword, err := s.HashPassword(password)
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}

	user := &model.User{
		ID:           uuid.New().String(),
		Email:        email,
		PasswordHash: &hashedPassword,
		CreatedAt:    time.Now(),
	}
	if name != "" {
		user.Name = &name
	}

	err = s.userRepository.Create(user)
	if err != nil {
		// Unique index on email resolves concurrent registrations.
		if errors.Is(err, repository.ErrDuplicateEmail) {
			return ErrEmailAlreadyExists
		}
		return fmt.Errorf("failed to create user: %w", err)
	}

	s.issueVerificationToken(user)

	slog.Info("user registered", "user_id", user.ID, "email", user.Email)
	return nil
}

// issueVerificationToken creates a fresh verification token and mails
// it. Older tokens for the same account stay outstanding and redeemable
// until they expire; the unique index is on the token string, not the
// account.
func (s *AuthService) issueVerificationToken(user *model.User) {
	verificationToken, err := token.New()
	if err != nil {
		slog.Error("failed to generate verification token", "error", err, "user_id", user.ID)
		return
	}

	t := &model.Token{
		UserID:    user.ID,
		Type:      model.TokenTypeEmailVerify,
		Token:     verificationToken,
		Email:     user.Email,
		ExpiresAt: time.Now().Add(s.tokenEmailVerifyExpiry),
	}
	err = s.tokenRepository.Create(t)
	if err != nil {
		slog.Error("failed to create verification token", "error", err, "user_id", user.ID)
		return
	}

	err = s.mailer.SendVerificationEmail(user.Email, verificationToken)
	if err != nil {
		slog.Warn("failed to send verification email", "error", err, "email", user.Email)
	}
}

// VerifyEmailResult is returned on successful verification. The
// auto-login token lets the client sign the user in without a password
// within a short window.
type VerifyEmailResult struct {
	Message        string
	AutoLoginToken string
}

// VerifyEmail redeems a verification token. An unknown token with an
// email hint for an already-verified account succeeds idempotently, so
// double-clicked links don't show an error; without the hint a second
// redemption legitimately fails since the row is gone.
func (s *AuthService) VerifyEmail(tokenStr, emailHint string) (*VerifyEmailResult, error) {
	t, err := s.tokenRepository.ByToken(tokenStr)
	if err != nil {
		if errors.Is(err, repository.ErrTokenNotFound) {
			if emailHint != "" {
				email := strings.TrimSpace(strings.ToLower(emailHint))
				user, lookupErr := s.userRepository.ByEmail(email)
				if lookupErr == nil && user.IsVerified() {
					return &VerifyEmailResult{Message: "Already verified"}, nil
				}
			}
			return nil, ErrTokenInvalid
		}
		return nil, fmt.Errorf("failed to look up token: %w", err)
	}

	if t.Type != model.TokenTypeEmailVerify {
		return nil, ErrTokenInvalid
	}

	if t.IsExpired() {
		return nil, ErrTokenExpired
	}

	user, err := s.userRepository.ByID(t.UserID)
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}

	if !user.IsVerified() {
		now := time.Now()
		user.EmailVerifiedAt = &now
		err = s.userRepository.Update(user)
		if err != nil {
			return nil, fmt.Errorf("failed to mark email verified: %w", err)
		}
	}

	name := ""
	if user.Name != nil {
		name = *user.Name
	}
	err = s.mailer.SendWelcomeEmail(user.Email, name)
	if err != nil {
		slog.Warn("failed to send welcome email", "error", err, "email", user.Email)
	}

	deleted, err := s.tokenRepository.DeleteByToken(tokenStr)
	if err != nil {
		slog.Warn("failed to delete verification token", "error", err, "user_id", user.ID)
	} else if deleted == 0 {
		// A concurrent redemption won the delete; the account is
		// verified either way.
		slog.Debug("verification token already deleted", "user_id", user.ID)
	}

	autoLoginToken, err := s.autoLogin.Encode(user.ID, s.autoLoginExpiry)
	if err != nil {
		return nil, fmt.Errorf("failed to encode auto-login token: %w", err)
	}

	slog.Info("email verified", "user_id", user.ID, "email", user.Email)
	return &VerifyEmailResult{Message: "Email verified", AutoLoginToken: autoLoginToken}, nil
}

// ForgotPassword issues a password-reset token for verified accounts
// and re-sends the verification flow for unverified ones. Unknown
// emails succeed silently to prevent enumeration.
func (s *AuthService) ForgotPassword(email string) error {
	email = strings.TrimSpace(strings.ToLower(email))

	err := validation.ValidateEmail(email)
	if err != nil {
		return ErrInvalidEmail
	}

	user, err := s.userRepository.ByEmail(email)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			slog.Info("forgot password requested for non-existent email", "email", email)
			return nil
		}
		return fmt.Errorf("failed to get user: %w", err)
	}

	if !user.IsVerified() {
		// The account can't reset a password it never confirmed an
		// address for; resend the verification link instead.
		s.issueVerificationToken(user)
		slog.Info("verification link re-sent", "user_id", user.ID, "email", user.Email)
		return nil
	}

	resetToken, err := token.New()
	if err != nil {
		return fmt.Errorf("failed to generate token: %w", err)
	}

	t := &model.Token{
		UserID:    user.ID,
		Type:      model.TokenTypePasswordReset,
		Token:     resetToken,
		Email:     user.Email,
		ExpiresAt: time.Now().Add(s.tokenPasswordResetExpiry),
	}
	err = s.tokenRepository.Create(t)
	if err != nil {
		return fmt.Errorf("failed to create token: %w", err)
	}

	err = s.mailer.SendPasswordResetEmail(user.Email, resetToken)
	if err != nil {
		slog.Warn("failed to send password reset email", "error", err, "email", user.Email)
	}

	slog.Info("password reset link sent", "user_id", user.ID, "email", user.Email)
	return nil
}

// ResetPassword redeems a reset token and sets a new password. The
// token is single use: the delete gates success, so a retried request
// with the same token fails with ErrTokenInvalid.
func (s *AuthService) ResetPassword(tokenStr, newPassword string) error {
	err := validation.ValidatePassword(newPassword)
	if err != nil {
		return err
	}

	t, err := s.tokenRepository.ByToken(tokenStr)
	if err != nil {
		if errors.Is(err, repository.ErrTokenNotFound) {
			return ErrTokenInvalid
		}
		return fmt.Errorf("failed to look up token: %w", err)
	}

	if t.Type != model.TokenTypePasswordReset {
		return ErrTokenInvalid
	}

	if t.IsExpired() {
		return ErrTokenExpired
	}

	user, err := s.userRepository.ByID(t.UserID)
	if err != nil {
		return fmt.Errorf("failed to get user: %w", err)
	}

	hashedPassword, err := s.HashPassword(newPassword)
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}

	user.PasswordHash = &hashedPassword
	err = s.userRepository.Update(user)
	if err != nil {
		return fmt.Errorf("failed to update password: %w", err)
	}

	deleted, err := s.tokenRepository.DeleteByToken(tokenStr)
	if err != nil {
		return fmt.Errorf("failed to delete token: %w", err)
	}
	if deleted == 0 {
		// Lost the redemption race to a concurrent request.
		return ErrTokenInvalid
	}

	slog.Info("password reset", "user_id", user.ID)
	return nil
}

// Login authenticates email+password credentials. Unknown accounts,
// accounts without a password hash, and hash mismatches all collapse
// into the same rejection so the caller can only present a generic
// failure.
func (s *AuthService) Login(email, password string) (*model.User, error) {
	email = strings.TrimSpace(strings.ToLower(email))

	user, err := s.userRepository.ByEmail(email)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}

	if !user.HasPassword() {
		return nil, ErrInvalidCredentials
	}

	err = s.ComparePassword(password, *user.PasswordHash)
	if err != nil {
		return nil, ErrInvalidCredentials
	}

	return user, nil
}

// LoginWithToken authenticates the one-shot auto-login token issued by
// VerifyEmail. Malformed, tampered, and expired payloads reject.
func (s *AuthService) LoginWithToken(value string) (*model.User, error) {
	payload, err := s.autoLogin.Decode(value)
	if err != nil {
		return nil, ErrInvalidCredentials
	}

	user, err := s.userRepository.ByID(payload.UserID)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}

	return user, nil
}

// AuthenticateOAuth handles OAuth sign-in (Google, GitHub, etc.).
// It creates a new account on first sign-in, and when the provider
// asserts a verified email the account is marked verified exactly once.
func (s *AuthService) AuthenticateOAuth(email, name, image string, emailVerified bool, provider string) (*model.User, error) {
	email = strings.TrimSpace(strings.ToLower(email))

	err := validation.ValidateEmail(email)
	if err != nil {
		return nil, ErrInvalidEmail
	}

	user, err := s.userRepository.ByEmail(email)
	if err != nil {
		if !errors.Is(err, repository.ErrUserNotFound) {
			return nil, fmt.Errorf("failed to lookup user: %w", err)
		}

		now := time.Now()
		user = &model.User{
			ID:        uuid.New().String(),
			Email:     email,
			CreatedAt: now,
			// password_hash stays NULL for OAuth accounts
		}
		if name != "" {
			user.Name = &name
		}
		if image != "" {
			user.Image = &image
		}
		if emailVerified {
			user.EmailVerifiedAt = &now
		}

		err = s.userRepository.Create(user)
		if err != nil {
			return nil, fmt.Errorf("failed to create user: %w", err)
		}

		if emailVerified {
			err = s.mailer.SendWelcomeEmail(user.Email, name)
			if err != nil {
				slog.Warn("failed to send welcome email", "error", err, "email", user.Email)
			}
		}

		slog.Info("new OAuth user created", "email", email, "user_id", user.ID, "provider", provider)
		return user, nil
	}

	if emailVerified && !user.IsVerified() {
		now := time.Now()
		user.EmailVerifiedAt = &now
		err = s.userRepository.Update(user)
		if err != nil {
			slog.Warn("failed to mark email as verified", "error", err, "user_id", user.ID)
			// Don't fail login
		} else {
			username := ""
			if user.Name != nil {
				username = *user.Name
			}
			err = s.mailer.SendWelcomeEmail(user.Email, username)
			if err != nil {
				slog.Warn("failed to send welcome email", "error", err, "email", user.Email)
			}
		}
	}

	slog.Info("user authenticated via OAuth", "user_id", user.ID, "email", user.Email, "provider", provider)
	return user, nil
}

func (s *AuthService) HashPassword(password string) (string, error) {
	hashedBytes, err := bcrypt.GenerateFromPassword([]byte(password), s.bcryptCost)
	if err != nil {
		return "", err
	}
	return string(hashedBytes), nil
}

// ComparePassword returns a mismatch error for wrong passwords and for
// malformed digests alike; it never panics.
func (s *AuthService) ComparePassword(password, hash string) error {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
}

func (s *AuthService) GenerateJWT(user *model.User) (string, error) {
	claims := jwt.MapClaims{
		"user_id": user.ID,
		"email":   user.Email,
		"exp":     time.Now().Add(s.jwtExpiry).Unix(),
		"iat":     time.Now().Unix(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)

	tokenString, err := token.SignedString([]byte(s.jwtSecret))
	if err != nil {
		return "", err
	}

	return tokenString, nil
}

func (s *AuthService) VerifyJWT(tokenString string) (jwt.MapClaims, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(s.jwtSecret), nil
	})

	if err != nil {
		return nil, err
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if ok && token.Valid {
		return claims, nil
	}

	return nil, fmt.Errorf("invalid token")
}

func (s *AuthService) SessionExpiry() time.Duration {
	return s.jwtExpiry
}

func (s *AuthService) SetJWTCookie(w http.ResponseWriter, token string, expiry time.Time) {
	http.SetCookie(w, &http.Cookie{
		Name:     "auth_token",
		Value:    token,
		Expires:  expiry,
		Path:     "/",
		HttpOnly: true,
		Secure:   s.isProduction,
		SameSite: http.SameSiteLaxMode,
	})
}

func (s *AuthService) ClearJWTCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     "auth_token",
		Value:    "",
		Expires:  time.Unix(0, 0),
		Path:     "/",
		HttpOnly: true,
		Secure:   s.isProduction,
		SameSite: http.SameSiteLaxMode,
	})
}
