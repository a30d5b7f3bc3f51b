// internal/membership/implementation.go
package membership

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"shelfshare/internal/errs"
)

var errRateLimited = errors.New("rate limit exceeded")

// service implements the Service interface.
type service struct {
	repo        Repository
	tokens      *TokenManager
	rateLimiter *rate.Limiter
	logger      *zap.Logger
}

// NewService creates a new membership service instance.
func NewService(repo Repository, tokens *TokenManager, logger *zap.Logger) Service {
	return &service{
		repo:        repo,
		tokens:      tokens,
		rateLimiter: rate.NewLimiter(rate.Every(time.Second), 20),
		logger:      logger,
	}
}

// RegisterMember creates a new member with the default role.
func (s *service) RegisterMember(ctx context.Context, email, name, password string) (*Member, error) {
	if !s.rateLimiter.Allow() {
		return nil, errs.Unavailable(errRateLimited)
	}
	email = strings.ToLower(strings.TrimSpace(email))
	if _, err := mail.ParseAddress(email); err != nil {
		return nil, errs.InvalidInput("email %q", email)
	}
	if len(password) < 8 {
		return nil, errs.InvalidInput("password must be at least 8 characters")
	}

	hash, err := hashPassword(password)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	now := time.Now().UTC()
	member := &Member{
		ID:        uuid.New(),
		Email:     email,
		Name:      strings.TrimSpace(name),
		Role:      RoleMember,
		Status:    "active",
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.repo.Insert(ctx, member, &Credential{MemberID: member.ID, PasswordHash: hash}); err != nil {
		return nil, fmt.Errorf("failed to register member: %w", err)
	}
	s.logger.Info("member registered", zap.String("member_id", member.ID.String()))
	return member, nil
}

// Authenticate verifies a member's credentials and returns the member with a
// signed token.
func (s *service) Authenticate(ctx context.Context, email, password string) (*Member, string, error) {
	if !s.rateLimiter.Allow() {
		return nil, "", errs.Unavailable(errRateLimited)
	}

	member, err := s.repo.GetByEmail(ctx, strings.ToLower(strings.TrimSpace(email)))
	if err != nil {
		if errors.Is(err, errs.ErrNotFound) {
			return nil, "", errs.ErrAuthRequired
		}
		return nil, "", fmt.Errorf("authentication failed: %w", err)
	}
	if member.Status != "active" {
		return nil, "", errs.ErrForbidden
	}

	credential, err := s.repo.GetCredential(ctx, member.ID)
	if err != nil {
		return nil, "", fmt.Errorf("authentication failed: %w", err)
	}
	ok, err := verifyPassword(password, credential.PasswordHash)
	if err != nil {
		return nil, "", fmt.Errorf("authentication failed: %w", err)
	}
	if !ok {
		return nil, "", errs.ErrAuthRequired
	}

	token, err := s.tokens.Issue(member)
	if err != nil {
		return nil, "", fmt.Errorf("failed to issue token: %w", err)
	}
	return member, token, nil
}

// GetMember retrieves a member by their ID.
func (s *service) GetMember(ctx context.Context, id uuid.UUID) (*Member, error) {
	return s.repo.GetByID(ctx, id)
}

// SetRole grants or revokes admin rights through the stored role attribute.
func (s *service) SetRole(ctx context.Context, id uuid.UUID, role Role) error {
	if !role.Valid() {
		return errs.InvalidInput("role %q", role)
	}
	if err := s.repo.UpdateRole(ctx, id, role); err != nil {
		return fmt.Errorf("failed to set role: %w", err)
	}
	s.logger.Info("member role changed", zap.String("member_id", id.String()), zap.String("role", string(role)))
	return nil
}
