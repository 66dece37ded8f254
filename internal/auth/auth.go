package auth

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/ukydev/fleet-dashboard/internal/models"
	"golang.org/x/crypto/bcrypt"
)

var (
	ErrInvalidToken       = errors.New("invalid token")
	ErrExpiredToken       = errors.New("token expired")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrUserInactive       = errors.New("user is inactive")
	ErrEmailTaken         = errors.New("email already registered")
	ErrRevokedToken       = errors.New("token revoked")
)

// Sign-up validation errors.
var (
	ErrMissingFields    = errors.New("missing required fields")
	ErrPasswordMismatch = errors.New("passwords do not match")
	ErrWeakPassword     = errors.New("password too short")
	ErrInvalidEmail     = errors.New("invalid email format")
	ErrInvalidRole      = errors.New("invalid role")
)

// MinPasswordLength is the shortest password sign-up accepts.
const MinPasswordLength = 6

var emailPattern = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

// Service handles authentication operations
type Service struct {
	jwtSecret []byte
	tokenExp  time.Duration
}

// NewService creates a new authentication service
func NewService(secret string, tokenExp time.Duration) (*Service, error) {
	if secret == "" {
		return nil, errors.New("jwt secret is empty")
	}
	if tokenExp <= 0 {
		return nil, fmt.Errorf("token expiry must be positive, got %s", tokenExp)
	}
	return &Service{
		jwtSecret: []byte(secret),
		tokenExp:  tokenExp,
	}, nil
}

// HashPassword hashes a password using bcrypt
func (s *Service) HashPassword(password string) (string, error) {
	bytes, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(bytes), nil
}

// CheckPassword checks if a password matches a hash
func (s *Service) CheckPassword(password, hash string) bool {
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
	return err == nil
}

// GenerateToken issues a token for a user. user_id carries the account
// identifier.
func (s *Service) GenerateToken(user *models.User) (string, error) {
	return s.sign(models.Claims{UserID: user.UID, Email: user.Email, Role: user.Role})
}

func (s *Service) sign(c models.Claims) (string, error) {
	now := time.Now()
	claims := jwt.MapClaims{
		"user_id": c.UserID,
		"email":   c.Email,
		"role":    string(c.Role),
		"exp":     now.Add(s.tokenExp).Unix(),
		"iat":     now.Unix(),
		"jti":     uuid.NewString(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.jwtSecret)
}

// RefreshToken validates a token and issues a new one for the same
// account with a fresh expiry.
func (s *Service) RefreshToken(tokenString string) (string, *models.Claims, error) {
	claims, err := s.ValidateToken(tokenString)
	if err != nil {
		return "", nil, err
	}
	token, err := s.sign(*claims)
	if err != nil {
		return "", nil, fmt.Errorf("sign refreshed token: %w", err)
	}
	refreshed, err := s.ValidateToken(token)
	if err != nil {
		return "", nil, err
	}
	return token, refreshed, nil
}

// ValidateToken validates a raw JWT, without the Bearer scheme, and
// returns its claims.
func (s *Service) ValidateToken(tokenString string) (*models.Claims, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.jwtSecret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, ErrInvalidToken
	}
	if !token.Valid {
		return nil, ErrInvalidToken
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, ErrInvalidToken
	}

	userID, ok := claims["user_id"].(string)
	if !ok || userID == "" {
		return nil, ErrInvalidToken
	}
	email, _ := claims["email"].(string)
	jti, _ := claims["jti"].(string)
	roleStr, ok := claims["role"].(string)
	if !ok {
		return nil, ErrInvalidToken
	}
	exp, ok := claims["exp"].(float64)
	if !ok {
		return nil, ErrInvalidToken
	}

	return &models.Claims{
		ID:     jti,
		UserID: userID,
		Email:  email,
		Role:   models.Role(roleStr),
		Exp:    int64(exp),
	}, nil
}

// ExtractTokenFromHeader extracts token from Authorization header
func ExtractTokenFromHeader(authHeader string) (string, error) {
	if authHeader == "" {
		return "", ErrInvalidToken
	}

	parts := strings.Split(authHeader, " ")
	if len(parts) != 2 || parts[0] != "Bearer" || parts[1] == "" {
		return "", ErrInvalidToken
	}

	return parts[1], nil
}

// ValidateSignup checks a sign-up form in the order the form reports
// problems: missing fields, mismatch, length, email, role.
func ValidateSignup(req models.SignupRequest) error {
	if strings.TrimSpace(req.Name) == "" || strings.TrimSpace(req.Email) == "" ||
		req.Password == "" || req.ConfirmPassword == "" || req.Role == "" {
		return ErrMissingFields
	}
	if req.Password != req.ConfirmPassword {
		return ErrPasswordMismatch
	}
	if len(req.Password) < MinPasswordLength {
		return ErrWeakPassword
	}
	if !emailPattern.MatchString(strings.TrimSpace(req.Email)) {
		return ErrInvalidEmail
	}
	if !models.IsValidRole(req.Role) {
		return ErrInvalidRole
	}
	return nil
}

// Message maps an auth error to the text shown to the user.
func Message(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrMissingFields):
		return "All fields are required"
	case errors.Is(err, ErrPasswordMismatch):
		return "Passwords do not match"
	case errors.Is(err, ErrWeakPassword):
		return fmt.Sprintf("Password should be at least %d characters", MinPasswordLength)
	case errors.Is(err, ErrInvalidEmail):
		return "Invalid email address"
	case errors.Is(err, ErrInvalidRole):
		return "Please select a valid role"
	case errors.Is(err, ErrEmailTaken):
		return "Email already in use"
	case errors.Is(err, ErrInvalidCredentials):
		return "Invalid email or password"
	case errors.Is(err, ErrUserInactive):
		return "Account is disabled"
	case errors.Is(err, ErrRevokedToken):
		return "Session ended, please sign in again"
	case errors.Is(err, ErrExpiredToken):
		return "Session expired, please sign in again"
	case errors.Is(err, ErrInvalidToken):
		return "Invalid session"
	default:
		return "Something went wrong, please try again"
	}
}
