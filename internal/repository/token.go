package repository

import (
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lumenapp/lumen/internal/model"
)

var ErrTokenNotFound = errors.New("token not found")

type TokenRepository interface {
	Create(token *model.Token) error
	ByToken(token string) (*model.Token, error)
	// DeleteByToken removes a token and reports how many rows went away.
	// Zero rows is not an error: under concurrent redemption another
	// request may have deleted the row first, and callers use the count
	// to decide who won.
	DeleteByToken(token string) (int64, error)
}

type tokenRepository struct {
	db *sqlx.DB
}

func NewTokenRepository(db *sqlx.DB) TokenRepository {
	return &tokenRepository{db: db}
}

func (r *tokenRepository) Create(token *model.Token) error {
	if token.ID == "" {
		token.ID = uuid.New().String()
	}
	if token.CreatedAt.IsZero() {
		token.CreatedAt = time.Now()
	}

	query := `
		INSERT INTO tokens (id, user_id, type, token, email, expires_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err := r.db.Exec(query,
		token.ID,
		token.UserID,
		token.Type,
		token.Token,
		token.Email,
		token.ExpiresAt,
		token.CreatedAt,
	)
	return err
}

func (r *tokenRepository) ByToken(token string) (*model.Token, error) {
	t := &model.Token{}
	query := `SELECT * FROM tokens WHERE token = $1`

	err := r.db.Get(t, query, token)
	if err == sql.ErrNoRows {
		return nil, ErrTokenNotFound
	}

	return t, err
}

func (r *tokenRepository) DeleteByToken(token string) (int64, error) {
	query := `DELETE FROM tokens WHERE token = $1`

	result, err := r.db.Exec(query, token)
	if err != nil {
		return 0, err
	}

	return result.RowsAffected()
}

// PurgeExpired removes tokens whose expiry is older than the cutoff.
// Nothing schedules this; expired rows are rejected at read time and
// only accumulate as garbage. Call it from a cron job if volume ever
// becomes a problem.
func (r *tokenRepository) PurgeExpired(olderThan time.Duration) (int64, error) {
	cutoff := time.Now().Add(-olderThan)
	query := `DELETE FROM tokens WHERE expires_at < $1`

	result, err := r.db.Exec(query, cutoff)
	if err != nil {
		return 0, err
	}

	return result.RowsAffected()
}
