package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// CredentialStore is the persistence collaborator. Save must write
// password_hash, failed_login_attempts, locked_until and last_failed_login
// in a single statement.
type CredentialStore interface {
	FindByNormalizedEmail(ctx context.Context, email string) (CredentialRecord, error)
	FindByID(ctx context.Context, id string) (CredentialRecord, error)
	Save(ctx context.Context, record CredentialRecord) error
	Create(ctx context.Context, record CredentialRecord) error
	Delete(ctx context.Context, id string) error
}

type Service struct {
	store   CredentialStore
	hasher  *Hasher
	tokens  *TokenIssuer
	lockout LockoutPolicy
	logger  *zap.Logger
	now     func() time.Time
}

func NewService(store CredentialStore, hasher *Hasher, tokens *TokenIssuer, lockout LockoutPolicy, logger *zap.Logger) (*Service, error) {
	if err := lockout.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Service{
		store:   store,
		hasher:  hasher,
		tokens:  tokens,
		lockout: lockout,
		logger:  logger,
		now:     time.Now,
	}, nil
}

// WithClock replaces the service clock. The TokenIssuer has its own clock.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func (s *Service) Login(ctx context.Context, email, password string) (LoginResult, error) {
	email = NormalizeEmail(email)
	now := s.now().UTC()

	record, err := s.store.FindByNormalizedEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrRecordNotFound) {
			if err := s.hasher.VerifyDummy(ctx, password); err != nil {
				return LoginResult{}, err
			}
			s.logger.Warn("login_unknown_email")
			return LoginResult{}, ErrInvalidCredentials
		}
		return LoginResult{}, err
	}

	if IsLocked(record, now) {
		s.logger.Warn("login_account_locked",
			zap.String("user_id", record.ID),
			zap.Time("locked_until", *record.LockedUntil),
		)
		return LoginResult{}, ErrAccountLocked{
			Until:            *record.LockedUntil,
			MinutesRemaining: RemainingMinutes(record, now),
		}
	}

	matched, err := s.hasher.Verify(ctx, password, record.PasswordHash)
	if err != nil {
		return LoginResult{}, err
	}

	if !matched {
		locked := s.lockout.RecordFailure(&record, now)
		if err := s.save(ctx, record, now); err != nil {
			return LoginResult{}, err
		}
		s.logger.Warn("login_wrong_password",
			zap.String("user_id", record.ID),
			zap.Int("failed_attempts", record.FailedLoginAttempts),
			zap.Bool("locked", locked),
		)
		return LoginResult{}, ErrInvalidCredentials
	}

	RecordSuccess(&record)
	if err := s.save(ctx, record, now); err != nil {
		return LoginResult{}, err
	}

	result, err := s.issuePair(record.ID)
	if err != nil {
		return LoginResult{}, err
	}

	s.logger.Info("login_succeeded", zap.String("user_id", record.ID))
	return result, nil
}

// Refresh mints a new access token. The refresh token itself is neither
// rotated nor invalidated.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (RefreshResult, error) {
	userID, err := s.tokens.Verify(strings.TrimSpace(refreshToken), TokenTypeRefresh)
	if err != nil {
		return RefreshResult{}, ErrInvalidRefreshToken
	}

	record, err := s.store.FindByID(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrRecordNotFound) {
			s.logger.Warn("refresh_unknown_user", zap.String("user_id", userID))
			return RefreshResult{}, ErrInvalidRefreshToken
		}
		return RefreshResult{}, err
	}

	now := s.now().UTC()
	if IsLocked(record, now) {
		s.logger.Warn("refresh_account_locked", zap.String("user_id", record.ID))
		return RefreshResult{}, ErrAccountLocked{
			Until:            *record.LockedUntil,
			MinutesRemaining: RemainingMinutes(record, now),
		}
	}

	access, err := s.tokens.Issue(record.ID, TokenTypeAccess)
	if err != nil {
		return RefreshResult{}, err
	}

	return RefreshResult{AccessToken: access, TokenType: BearerTokenType}, nil
}

// VerifyAccessToken guards protected operations. It performs no I/O.
func (s *Service) VerifyAccessToken(token string) (string, error) {
	userID, err := s.tokens.Verify(token, TokenTypeAccess)
	if err != nil {
		return "", ErrInvalidCredentials
	}
	return userID, nil
}

// Register creates a credential record and logs the new account in.
func (s *Service) Register(ctx context.Context, email, password string) (LoginResult, error) {
	email = NormalizeEmail(email)

	_, err := s.store.FindByNormalizedEmail(ctx, email)
	switch {
	case err == nil:
		s.logger.Warn("register_duplicate_email")
		return LoginResult{}, ErrEmailTaken
	case !errors.Is(err, ErrRecordNotFound):
		return LoginResult{}, err
	}

	hash, err := s.hasher.Hash(ctx, password)
	if err != nil {
		return LoginResult{}, err
	}

	id, err := uuid.NewV7()
	if err != nil {
		return LoginResult{}, fmt.Errorf("generate uuid v7: %w", err)
	}

	now := s.now().UTC()
	record := CredentialRecord{
		ID:           id.String(),
		Email:        email,
		PasswordHash: hash,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.store.Create(ctx, record); err != nil {
		return LoginResult{}, err
	}

	s.logger.Info("account_registered", zap.String("user_id", record.ID))
	return s.issuePair(record.ID)
}

// DeleteAccount removes the credential record. Owned tasks are cleaned up by
// the task store, not here.
func (s *Service) DeleteAccount(ctx context.Context, userID string) error {
	if err := s.store.Delete(ctx, userID); err != nil {
		if errors.Is(err, ErrRecordNotFound) {
			return ErrAccountNotFound
		}
		return err
	}

	s.logger.Info("account_deleted", zap.String("user_id", userID))
	return nil
}

// BootstrapFromEnv makes sure a seed account exists with the given password.
// It runs on every cold start, so an existing account only has its hash
// replaced when the password changed. Lockout state is never touched.
func (s *Service) BootstrapFromEnv(ctx context.Context, email, password string) error {
	email = NormalizeEmail(email)
	if email == "" && password == "" {
		return nil
	}
	if email == "" || password == "" {
		return errors.New("bootstrap email and password are required together")
	}

	record, err := s.store.FindByNormalizedEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrRecordNotFound) {
			_, err = s.Register(ctx, email, password)
			return err
		}
		return err
	}

	matched, err := s.hasher.Verify(ctx, password, record.PasswordHash)
	if err != nil {
		return err
	}
	if matched {
		return nil
	}

	hash, err := s.hasher.Hash(ctx, password)
	if err != nil {
		return err
	}
	record.PasswordHash = hash

	if err := s.save(ctx, record, s.now().UTC()); err != nil {
		return err
	}
	s.logger.Info("bootstrap_password_rotated", zap.String("user_id", record.ID))
	return nil
}

func (s *Service) issuePair(userID string) (LoginResult, error) {
	access, err := s.tokens.Issue(userID, TokenTypeAccess)
	if err != nil {
		return LoginResult{}, err
	}
	refresh, err := s.tokens.Issue(userID, TokenTypeRefresh)
	if err != nil {
		return LoginResult{}, err
	}

	return LoginResult{
		AccessToken:  access,
		RefreshToken: refresh,
		TokenType:    BearerTokenType,
		UserID:       userID,
	}, nil
}

func (s *Service) save(ctx context.Context, record CredentialRecord, now time.Time) error {
	record.UpdatedAt = now
	if err := s.store.Save(ctx, record); err != nil {
		return fmt.Errorf("save credential record: %w", err)
	}
	return nil
}
