package service

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/dom/genstudio/internal/config"
	"github.com/dom/genstudio/internal/domain"
	"github.com/dom/genstudio/internal/repository"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

// MinPasswordLength is the server-side password floor. The client enforces
// its own, lower floor independently.
const MinPasswordLength = 8

var (
	ErrInvalidCredentials = domain.NewError(domain.KindAuth, "", domain.MsgInvalidCredentials)
	ErrEmailExists        = domain.NewError(domain.KindConflict, "", domain.MsgEmailAlreadyInUse)
	ErrInvalidToken       = domain.NewError(domain.KindAuth, "", domain.MsgInvalidToken)
	ErrUserNotFound       = domain.NewError(domain.KindNotFound, "", "user not found")
)

type AuthService struct {
	userRepo repository.UserRepository
	cfg      *config.Config
	now      func() time.Time
}

func NewAuthService(userRepo repository.UserRepository, cfg *config.Config) *AuthService {
	return &AuthService{
		userRepo: userRepo,
		cfg:      cfg,
		now:      time.Now,
	}
}

type CredentialsInput struct {
	Email    string
	Password string
}

type AuthResult struct {
	User        *domain.User
	AccessToken string
}

func (s *AuthService) Signup(ctx context.Context, input CredentialsInput) (*AuthResult, error) {
	email, err := validateCredentials("service.Signup", input)
	if err != nil {
		return nil, err
	}

	existing, err := s.userRepo.GetByEmail(ctx, email)
	if err == nil && existing != nil {
		return nil, ErrEmailExists
	}
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		return nil, domain.WrapError(domain.KindInternal, "service.Signup", "lookup user", err)
	}

	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(input.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, domain.WrapError(domain.KindInternal, "service.Signup", "hash password", err)
	}

	user := &domain.User{
		ID:           uuid.New(),
		Email:        email,
		PasswordHash: string(hashedPassword),
	}

	if err := s.userRepo.Create(ctx, user); err != nil {
		// Lost a race with a concurrent signup for the same email.
		if errors.Is(err, repository.ErrDuplicateEmail) {
			return nil, ErrEmailExists
		}
		return nil, domain.WrapError(domain.KindInternal, "service.Signup", "create user", err)
	}

	return s.issue(user)
}

func (s *AuthService) Login(ctx context.Context, input CredentialsInput) (*AuthResult, error) {
	email, err := validateCredentials("service.Login", input)
	if err != nil {
		return nil, err
	}

	user, err := s.userRepo.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, domain.WrapError(domain.KindInternal, "service.Login", "lookup user", err)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(input.Password)); err != nil {
		return nil, ErrInvalidCredentials
	}

	return s.issue(user)
}

func (s *AuthService) issue(user *domain.User) (*AuthResult, error) {
	accessToken, err := s.generateAccessToken(user)
	if err != nil {
		return nil, domain.WrapError(domain.KindInternal, "service.issue", "sign token", err)
	}
	return &AuthResult{User: user, AccessToken: accessToken}, nil
}

func (s *AuthService) generateAccessToken(user *domain.User) (string, error) {
	now := s.now()
	claims := domain.TokenClaims{
		Email: user.Email,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user.ID.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.cfg.JWTExpiration)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(s.cfg.JWTSecret))
}

// ValidateToken verifies signature and expiry and returns the claims.
func (s *AuthService) ValidateToken(tokenString string) (*domain.TokenClaims, error) {
	claims := &domain.TokenClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", token.Header["alg"])
		}
		return []byte(s.cfg.JWTSecret), nil
	}, jwt.WithExpirationRequired(), jwt.WithTimeFunc(s.now))
	if err != nil {
		return nil, domain.WrapError(domain.KindAuth, "service.ValidateToken", domain.MsgInvalidToken, err)
	}
	if !token.Valid {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// SubjectID validates tokenString and returns the user ID it was issued to.
func (s *AuthService) SubjectID(tokenString string) (uuid.UUID, error) {
	claims, err := s.ValidateToken(tokenString)
	if err != nil {
		return uuid.Nil, err
	}
	userID, err := uuid.Parse(claims.Subject)
	if err != nil {
		return uuid.Nil, domain.WrapError(domain.KindAuth, "service.SubjectID", domain.MsgInvalidToken, err)
	}
	return userID, nil
}

func (s *AuthService) GetUserByID(ctx context.Context, id uuid.UUID) (*domain.User, error) {
	user, err := s.userRepo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, domain.WrapError(domain.KindInternal, "service.GetUserByID", "lookup user", err)
	}
	return user, nil
}

// NormalizeEmail lower-cases and trims an address.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func validateCredentials(op string, input CredentialsInput) (string, error) {
	email := NormalizeEmail(input.Email)
	if email == "" {
		return "", domain.NewError(domain.KindValidation, op, domain.MsgInvalidEmail)
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return "", domain.NewError(domain.KindValidation, op, domain.MsgInvalidEmail)
	}
	if len(input.Password) < MinPasswordLength {
		return "", domain.NewError(domain.KindValidation, op, fmt.Sprintf(domain.MsgPasswordTooShort, MinPasswordLength))
	}
	return email, nil
}
