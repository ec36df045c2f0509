package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

// AuthOptions configures password hashing and the password policy.
type AuthOptions struct {
	BcryptCost        int
	MinPasswordLength int
	MaxPasswordLength int
}

// bcrypt reads at most 72 bytes of input.
const maxBcryptInput = 72

// DefaultAuthOptions returns the options used when none are configured.
func DefaultAuthOptions() AuthOptions {
	return AuthOptions{
		BcryptCost:        bcrypt.DefaultCost,
		MinPasswordLength: 8,
		MaxPasswordLength: maxBcryptInput,
	}
}

// Session is one caller's view of the store: the shared connection plus the
// current user. A Session is not safe for concurrent use; each caller (the
// desktop shell, each API request) gets its own.
type Session struct {
	sqlite   *SQLite
	logger   *zap.SugaredLogger
	opts     AuthOptions
	validate *validator.Validate

	user *Profile
}

// NewSession creates an anonymous session over s.
func NewSession(s *SQLite, opts AuthOptions, logger *zap.SugaredLogger) *Session {
	if opts.BcryptCost == 0 {
		opts.BcryptCost = bcrypt.DefaultCost
	}
	if opts.MaxPasswordLength <= 0 || opts.MaxPasswordLength > maxBcryptInput {
		opts.MaxPasswordLength = maxBcryptInput
	}
	return &Session{
		sqlite:   s,
		logger:   logger,
		opts:     opts,
		validate: validator.New(),
	}
}

// Store returns the underlying connection owner.
func (s *Session) Store() *SQLite {
	return s.sqlite
}

// From starts a query on behalf of this session.
func (s *Session) From(table Table) *Query {
	return newQuery(s.sqlite, nil, table)
}

// Scope issues queries inside an open transaction.
type Scope struct {
	sqlite *SQLite
	tx     *sql.Tx
}

// Tx binds queries to tx, for use inside SQLite.WithTransaction.
func (s *Session) Tx(tx *sql.Tx) Scope {
	return Scope{sqlite: s.sqlite, tx: tx}
}

// From starts a query that runs inside the scope's transaction.
func (sc Scope) From(table Table) *Query {
	return newQuery(sc.sqlite, sc.tx, table)
}

// CurrentUser returns the logged-in profile, or nil for an anonymous session.
func (s *Session) CurrentUser() *Profile {
	return s.user
}

// SetCurrentUser installs a profile authenticated by other means (e.g. a token).
func (s *Session) SetCurrentUser(p *Profile) {
	s.user = p
}

// Logout clears the current user.
func (s *Session) Logout() {
	if s.user != nil {
		s.logger.Infow("User logged out", "user_id", s.user.UserID)
	}
	s.user = nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// dummyHash keeps the cost of a login for an unknown email close to that of a
// wrong password.
var dummyHash, _ = bcrypt.GenerateFromPassword([]byte("auditdesk-dummy-password"), bcrypt.DefaultCost)

// Login checks email and password. Every failure returns ErrInvalidCredentials.
func (s *Session) Login(ctx context.Context, email, password string) (*Profile, error) {
	row, err := s.sqlite.From(TableProfiles).Eq("email", normalizeEmail(email)).Single(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to look up profile: %w", err)
	}

	profile, err := DecodeOne[Profile](row)
	if err != nil {
		return nil, err
	}
	if profile == nil || profile.PasswordHash == "" {
		_ = bcrypt.CompareHashAndPassword(dummyHash, []byte(password))
		s.logger.Infow("Login failed", "reason", "unknown account")
		return nil, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(profile.PasswordHash), []byte(password)); err != nil {
		s.logger.Infow("Login failed", "reason", "password mismatch", "user_id", profile.UserID)
		return nil, ErrInvalidCredentials
	}
	if !profile.IsActive {
		s.logger.Infow("Login failed", "reason", "inactive", "user_id", profile.UserID)
		return nil, ErrInvalidCredentials
	}

	s.user = profile
	s.logger.Infow("User logged in", "user_id", profile.UserID)
	return profile, nil
}

// ValidatePassword applies the password policy.
func (s *Session) ValidatePassword(password string) error {
	if n := utf8.RuneCountInString(password); n < s.opts.MinPasswordLength {
		return fmt.Errorf("%w: must be at least %d characters", ErrWeakPassword, s.opts.MinPasswordLength)
	}
	if len(password) > s.opts.MaxPasswordLength {
		return fmt.Errorf("%w: must be at most %d bytes", ErrWeakPassword, s.opts.MaxPasswordLength)
	}
	return nil
}

// Signup creates a profile with the default role and logs it in.
func (s *Session) Signup(ctx context.Context, email, password, fullName string) (*Profile, error) {
	email = normalizeEmail(email)
	if err := s.validate.Var(email, "required,email"); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidEmail, email)
	}
	if err := s.ValidatePassword(password); err != nil {
		return nil, err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.opts.BcryptCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	var created Row
	err = s.sqlite.WithTransaction(ctx, func(tx *sql.Tx) error {
		scope := s.Tx(tx)
		existing, err := scope.From(TableProfiles).Select("id").Eq("email", email).Single(ctx)
		if err != nil {
			return err
		}
		if existing != nil {
			return ErrEmailTaken
		}

		created, err = scope.From(TableProfiles).Insert(ctx, Row{
			"id":            uuid.NewString(),
			"user_id":       uuid.NewString(),
			"email":         email,
			"full_name":     strings.TrimSpace(fullName),
			"is_active":     1,
			"password_hash": string(hash),
		})
		if err != nil {
			if isUniqueViolation(err) {
				return ErrEmailTaken
			}
			return err
		}

		_, err = scope.From(TableUserRoles).Insert(ctx, Row{
			"user_id": created.String("user_id"),
			"role":    string(DefaultRole),
		})
		return err
	})
	if err != nil {
		if errors.Is(err, ErrEmailTaken) {
			return nil, ErrEmailTaken
		}
		return nil, fmt.Errorf("failed to create profile: %w", err)
	}

	profile, err := DecodeOne[Profile](created)
	if err != nil {
		return nil, err
	}
	s.user = profile
	s.logger.Infow("User signed up", "user_id", profile.UserID, "email", profile.Email)
	return profile, nil
}
