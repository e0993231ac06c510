package user

import (
	"context"
	stderrors "errors"
	"strings"

	"github.com/google/uuid"
	passwordvalidator "github.com/wagslane/go-password-validator"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	"parley/internal/database"
	"parley/pkg/errors"
	"parley/pkg/jwt"
)

const minPasswordEntropy = 50

type Service struct {
	db     *database.Database
	tokens *jwt.JWT
}

func NewService(db *database.Database, tokens *jwt.JWT) *Service {
	return &Service{db: db, tokens: tokens}
}

type RegisterInput struct {
	Username string
	Email    string
	Password string
}

type AuthResult struct {
	User  *database.User
	Token string
}

func (s *Service) Register(ctx context.Context, in RegisterInput) (*AuthResult, error) {
	in.Username = strings.TrimSpace(in.Username)
	in.Email = strings.ToLower(strings.TrimSpace(in.Email))
	if in.Username == "" || in.Email == "" || in.Password == "" {
		return nil, errors.InvalidArg("username, email and password are required")
	}
	if err := passwordvalidator.Validate(in.Password, minPasswordEntropy); err != nil {
		return nil, errors.InvalidArg("password is too weak")
	}

	var count int64
	if err := s.db.WithContext(ctx).Model(&database.User{}).
		Where("username = ? OR email = ?", in.Username, in.Email).
		Count(&count).Error; err != nil {
		return nil, errors.Wrap(errors.CodeInternal, "failed to check existing users", err)
	}
	if count > 0 {
		return nil, errors.AlreadyExists("username or email already taken")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, errors.Wrap(errors.CodeInternal, "failed to hash password", err)
	}

	newUser := &database.User{
		ID:           uuid.New().String(),
		Username:     in.Username,
		Email:        in.Email,
		PasswordHash: string(hash),
		IsActive:     true,
	}
	if err := s.db.WithContext(ctx).Create(newUser).Error; err != nil {
		return nil, errors.Wrap(errors.CodeInternal, "failed to create user", err)
	}

	token, err := s.tokens.GenerateToken(newUser.ID, newUser.Username)
	if err != nil {
		return nil, errors.Wrap(errors.CodeInternal, "failed to issue token", err)
	}
	return &AuthResult{User: newUser, Token: token}, nil
}

func (s *Service) Login(ctx context.Context, email, password string) (*AuthResult, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || password == "" {
		return nil, errors.InvalidArg("email and password are required")
	}

	var u database.User
	err := s.db.WithContext(ctx).
		Where("email = ? AND is_active = ?", email, true).
		First(&u).Error
	if err != nil {
		if stderrors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errors.Unauthenticated("invalid credentials")
		}
		return nil, errors.Wrap(errors.CodeInternal, "failed to load user", err)
	}

	if bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)) != nil {
		return nil, errors.Unauthenticated("invalid credentials")
	}

	token, err := s.tokens.GenerateToken(u.ID, u.Username)
	if err != nil {
		return nil, errors.Wrap(errors.CodeInternal, "failed to issue token", err)
	}
	return &AuthResult{User: &u, Token: token}, nil
}

// Authenticate resolves a bearer token to an active user. Used by both the
// HTTP middleware and the websocket handshake.
func (s *Service) Authenticate(ctx context.Context, token string) (string, string, error) {
	claims, err := s.tokens.ValidateToken(token)
	if err != nil {
		return "", "", errors.Unauthenticated("invalid or expired token")
	}

	var u database.User
	err = s.db.WithContext(ctx).
		Select("id", "username").
		Where("id = ? AND is_active = ?", claims.UserID, true).
		First(&u).Error
	if err != nil {
		if stderrors.Is(err, gorm.ErrRecordNotFound) {
			return "", "", errors.Unauthenticated("user not found or inactive")
		}
		return "", "", errors.Wrap(errors.CodeInternal, "failed to load user", err)
	}
	return u.ID, u.Username, nil
}

func (s *Service) Profile(ctx context.Context, userID string) (*database.User, error) {
	var u database.User
	err := s.db.WithContext(ctx).
		Where("id = ? AND is_active = ?", userID, true).
		First(&u).Error
	if err != nil {
		if stderrors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errors.NotFound("user not found")
		}
		return nil, errors.Wrap(errors.CodeInternal, "failed to load user", err)
	}
	return &u, nil
}

// Deactivate soft-deletes the account. Rows are never hard-deleted so message
// attribution survives.
func (s *Service) Deactivate(ctx context.Context, userID string) error {
	result := s.db.WithContext(ctx).Model(&database.User{}).
		Where("id = ?", userID).
		Update("is_active", false)
	if result.Error != nil {
		return errors.Wrap(errors.CodeInternal, "failed to deactivate user", result.Error)
	}
	if result.RowsAffected == 0 {
		return errors.NotFound("user not found")
	}
	return nil
}

// Search finds active users by username prefix, excluding the requester.
func (s *Service) Search(ctx context.Context, requesterID, query string) ([]database.User, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, errors.InvalidArg("search query is required")
	}

	var users []database.User
	err := s.db.WithContext(ctx).
		Select("id", "username", "email", "is_active", "created_at", "updated_at").
		Where("username LIKE ? AND is_active = ? AND id <> ?", query+"%", true, requesterID).
		Limit(20).
		Find(&users).Error
	if err != nil {
		return nil, errors.Wrap(errors.CodeInternal, "failed to search users", err)
	}
	return users, nil
}
