// Package repositories implements the data access layer for the CRM.
// Global identity (users, organizations, memberships lookups) is reached
// through plain repositories; every tenant-owned table is reached only through
// a Scope handed out by TenantStore, which binds each statement to one
// organization.
package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/crm-platform/crm/internal/db/models"
)

// UserRepository handles user and verification token database operations
type UserRepository struct {
	db *sqlx.DB
}

// NewUserRepository creates a new UserRepository
func NewUserRepository(db *sqlx.DB) *UserRepository {
	return &UserRepository{db: db}
}

// GetByID retrieves a user by ID
func (r *UserRepository) GetByID(ctx context.Context, id string) (*models.User, error) {
	user, err := getOne[models.User](ctx, r.db, `SELECT * FROM users WHERE id = $1`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return user, nil
}

// GetByEmail retrieves a user by email, ignoring case
func (r *UserRepository) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	user, err := getOne[models.User](ctx, r.db, userByEmailQuery, email)
	if err != nil {
		return nil, fmt.Errorf("failed to get user by email: %w", err)
	}
	return user, nil
}

// Create inserts a user. ErrDuplicate means the email is already registered.
func (r *UserRepository) Create(ctx context.Context, user *models.User) error {
	return createUser(ctx, r.db, user)
}

func createUser(ctx context.Context, q dbtx, user *models.User) error {
	query := `
		INSERT INTO users (id, email, name, password_hash, image, email_verified_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING *`
	err := q.GetContext(ctx, user, query,
		uuid.New().String(), user.Email, user.Name, user.PasswordHash, user.Image, user.EmailVerifiedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("failed to create user: %w", err)
	}
	return nil
}

const userByEmailQuery = `SELECT * FROM users WHERE LOWER(email) = LOWER($1)`

// findOrCreateUser returns the user registered under email, inserting a bare
// user when there is none. A conflicting insert is skipped rather than
// raised so it cannot abort a surrounding transaction; the second lookup then
// sees the concurrently registered row.
func findOrCreateUser(ctx context.Context, q dbtx, email string) (*models.User, error) {
	user, err := getOne[models.User](ctx, q, userByEmailQuery, email)
	if err != nil {
		return nil, fmt.Errorf("failed to get user by email: %w", err)
	}
	if user != nil {
		return user, nil
	}

	user, err = getOne[models.User](ctx, q,
		`INSERT INTO users (id, email) VALUES ($1, $2) ON CONFLICT DO NOTHING RETURNING *`,
		uuid.New().String(), email)
	if err != nil {
		return nil, fmt.Errorf("failed to create user: %w", err)
	}
	if user != nil {
		return user, nil
	}

	user, err = getOne[models.User](ctx, q, userByEmailQuery, email)
	if err != nil {
		return nil, fmt.Errorf("failed to get user by email: %w", err)
	}
	if user == nil {
		return nil, fmt.Errorf("user %q neither inserted nor found", email)
	}
	return user, nil
}

// UpdateProfile refreshes name and image from an identity provider and marks
// the email verified.
func (r *UserRepository) UpdateProfile(ctx context.Context, user *models.User) error {
	query := `
		UPDATE users
		SET name = COALESCE($2, name), image = COALESCE($3, image),
		    email_verified_at = COALESCE(email_verified_at, NOW()), updated_at = NOW()
		WHERE id = $1
		RETURNING *`
	if err := r.db.GetContext(ctx, user, query, user.ID, user.Name, user.Image); err != nil {
		return fmt.Errorf("failed to update user: %w", err)
	}
	return nil
}

// === Verification tokens ===

// CreateVerificationToken stores a token for the identifier (an email address)
func (r *UserRepository) CreateVerificationToken(ctx context.Context, token *models.VerificationToken) error {
	return createVerificationToken(ctx, r.db, token)
}

func createVerificationToken(ctx context.Context, q dbtx, token *models.VerificationToken) error {
	query := `INSERT INTO verification_tokens (token, identifier, expires_at) VALUES ($1, $2, $3)`
	if _, err := q.ExecContext(ctx, query, token.Token, token.Identifier, token.ExpiresAt); err != nil {
		return fmt.Errorf("failed to create verification token: %w", err)
	}
	return nil
}

// GetVerificationToken retrieves a token, or nil when it does not exist
func (r *UserRepository) GetVerificationToken(ctx context.Context, token string) (*models.VerificationToken, error) {
	t, err := getOne[models.VerificationToken](ctx, r.db,
		`SELECT token, identifier, expires_at FROM verification_tokens WHERE token = $1`, token)
	if err != nil {
		return nil, fmt.Errorf("failed to get verification token: %w", err)
	}
	return t, nil
}

// ConsumeVerificationToken marks the identified user's email verified and
// deletes the token in one transaction.
func (r *UserRepository) ConsumeVerificationToken(ctx context.Context, token *models.VerificationToken) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx,
		`UPDATE users SET email_verified_at = NOW(), updated_at = NOW() WHERE LOWER(email) = LOWER($1)`,
		token.Identifier); err != nil {
		return fmt.Errorf("failed to verify email: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM verification_tokens WHERE token = $1`, token.Token); err != nil {
		return fmt.Errorf("failed to delete verification token: %w", err)
	}
	return tx.Commit()
}

// DeleteVerificationToken removes a token
func (r *UserRepository) DeleteVerificationToken(ctx context.Context, token string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM verification_tokens WHERE token = $1`, token); err != nil {
		return fmt.Errorf("failed to delete verification token: %w", err)
	}
	return nil
}

// DeleteExpiredVerificationTokens removes tokens that expired before now and
// returns how many were removed.
func (r *UserRepository) DeleteExpiredVerificationTokens(ctx context.Context, now time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM verification_tokens WHERE expires_at < $1`, now)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired verification tokens: %w", err)
	}
	return res.RowsAffected()
}
