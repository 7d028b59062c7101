package service

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/lumenapp/lumen/internal/model"
	"github.com/lumenapp/lumen/internal/repository"
	"golang.org/x/crypto/bcrypt"
)

// In-memory store fakes. They mirror the repository contracts closely
// enough that the orchestrator can't tell the difference: unique email
// and token constraints, delete-returning-count semantics.

type fakeUserRepo struct {
	users map[string]*model.User // keyed by id
}

func newFakeUserRepo() *fakeUserRepo {
	return &fakeUserRepo{users: make(map[string]*model.User)}
}

func cloneUser(u *model.User) *model.User {
	c := *u
	return &c
}

func (r *fakeUserRepo) Create(user *model.User) error {
	for _, existing := range r.users {
		if existing.Email == user.Email {
			return repository.ErrDuplicateEmail
		}
	}
	r.users[user.ID] = cloneUser(user)
	return nil
}

func (r *fakeUserRepo) ByID(id string) (*model.User, error) {
	user, ok := r.users[id]
	if !ok {
		return nil, repository.ErrUserNotFound
	}
	return cloneUser(user), nil
}

func (r *fakeUserRepo) ByEmail(email string) (*model.User, error) {
	for _, user := range r.users {
		if user.Email == email {
			return cloneUser(user), nil
		}
	}
	return nil, repository.ErrUserNotFound
}

func (r *fakeUserRepo) Update(user *model.User) error {
	if _, ok := r.users[user.ID]; !ok {
		return repository.ErrUserNotFound
	}
	for id, existing := range r.users {
		if id != user.ID && existing.Email == user.Email {
			return repository.ErrDuplicateEmail
		}
	}
	r.users[user.ID] = cloneUser(user)
	return nil
}

func (r *fakeUserRepo) Delete(id string) error {
	if _, ok := r.users[id]; !ok {
		return repository.ErrUserNotFound
	}
	delete(r.users, id)
	return nil
}

type fakeTokenRepo struct {
	tokens map[string]*model.Token // keyed by token string
}

func newFakeTokenRepo() *fakeTokenRepo {
	return &fakeTokenRepo{tokens: make(map[string]*model.Token)}
}

func (r *fakeTokenRepo) Create(token *model.Token) error {
	if _, ok := r.tokens[token.Token]; ok {
		return errors.New("UNIQUE constraint failed: tokens.token")
	}
	if token.ID == "" {
		token.ID = uuid.New().String()
	}
	if token.CreatedAt.IsZero() {
		token.CreatedAt = time.Now()
	}
	c := *token
	r.tokens[token.Token] = &c
	return nil
}

func (r *fakeTokenRepo) ByToken(token string) (*model.Token, error) {
	t, ok := r.tokens[token]
	if !ok {
		return nil, repository.ErrTokenNotFound
	}
	c := *t
	return &c, nil
}

func (r *fakeTokenRepo) DeleteByToken(token string) (int64, error) {
	if _, ok := r.tokens[token]; !ok {
		return 0, nil
	}
	delete(r.tokens, token)
	return 1, nil
}

func (r *fakeTokenRepo) byUser(userID string) []*model.Token {
	var out []*model.Token
	for _, t := range r.tokens {
		if t.UserID == userID {
			c := *t
			out = append(out, &c)
		}
	}
	return out
}

type sentMail struct {
	Kind  string
	To    string
	Token string
	Name  string
}

// recordingMailer captures dispatched notifications instead of sending
// them, optionally failing every send.
type recordingMailer struct {
	sent    []sentMail
	failAll bool
}

func (m *recordingMailer) SendVerificationEmail(email, token string) error {
	if m.failAll {
		return errors.New("mail transport down")
	}
	m.sent = append(m.sent, sentMail{Kind: "verification", To: email, Token: token})
	return nil
}

func (m *recordingMailer) SendPasswordResetEmail(email, token string) error {
	if m.failAll {
		return errors.New("mail transport down")
	}
	m.sent = append(m.sent, sentMail{Kind: "password_reset", To: email, Token: token})
	return nil
}

func (m *recordingMailer) SendWelcomeEmail(email, name string) error {
	if m.failAll {
		return errors.New("mail transport down")
	}
	m.sent = append(m.sent, sentMail{Kind: "welcome", To: email, Name: name})
	return nil
}

func (m *recordingMailer) last() sentMail {
	if len(m.sent) == 0 {
		return sentMail{}
	}
	return m.sent[len(m.sent)-1]
}

func (m *recordingMailer) lastOfKind(kind string) sentMail {
	for i := len(m.sent) - 1; i >= 0; i-- {
		if m.sent[i].Kind == kind {
			return m.sent[i]
		}
	}
	return sentMail{}
}

// newTestAuthService wires the orchestrator against fresh fakes.
// bcrypt runs at MinCost to keep the suite fast.
func newTestAuthService(mailer *recordingMailer) (*AuthService, *fakeUserRepo, *fakeTokenRepo) {
	users := newFakeUserRepo()
	tokens := newFakeTokenRepo()
	svc := NewAuthService(
		users,
		tokens,
		mailer,
		"test-jwt-secret",
		false,
		bcrypt.MinCost,
		time.Hour,
		24*time.Hour,
		time.Hour,
		120*time.Second,
	)
	return svc, users, tokens
}
