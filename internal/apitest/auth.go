package apitest

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"edutalk/internal/models"
)

type contextKey string

const userKey contextKey = "user_id"

type tokenClaims struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Type  string `json:"type"`
	jwt.RegisteredClaims
}

// TokenValidator resolves a bearer token to a user id.
type TokenValidator interface {
	ValidateToken(token string) (string, error)
}

type AuthMiddleware struct {
	validator TokenValidator
}

func NewAuthMiddleware(v TokenValidator) *AuthMiddleware {
	return &AuthMiddleware{validator: v}
}

// Handle accepts the token from the Authorization header or, for sockets,
// the token query parameter.
func (am *AuthMiddleware) Handle(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := ""
		if parts := strings.SplitN(r.Header.Get("Authorization"), " ", 2); len(parts) == 2 {
			token = parts[1]
		}
		if token == "" {
			token = r.URL.Query().Get("token")
		}
		if token == "" {
			writeError(w, http.StatusUnauthorized, "missing authentication token")
			return
		}

		userID, err := am.validator.ValidateToken(token)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "invalid token")
			return
		}
		ctx := context.WithValue(r.Context(), userKey, userID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) ValidateToken(token string) (string, error) {
	claims := &tokenClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (interface{}, error) {
		return s.secret, nil
	})
	if err != nil || !parsed.Valid {
		return "", errors.New("invalid token")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.accountByID(claims.ID) == nil {
		return "", errors.New("unknown user")
	}
	return claims.ID, nil
}

func (s *Server) sign(acc *account) (string, error) {
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, tokenClaims{
		ID:    acc.ID,
		Email: acc.Email,
		Type:  acc.Type,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "edutalk-apitest",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(24 * time.Hour)),
		},
	})
	return tok.SignedString(s.secret)
}

var errEmailTaken = errors.New("email already registered")

func (s *Server) createAccount(data models.RegisterData) (*account, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(data.Password), bcrypt.MinCost)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range s.accounts {
		if strings.EqualFold(a.Email, data.Email) {
			return nil, errEmailTaken
		}
	}
	name := strings.TrimSpace(data.Name + " " + data.Lastname)
	acc := &account{
		User:         models.User{ID: uuid.NewString(), Name: name, Email: data.Email},
		Username:     data.Username,
		PasswordHash: hash,
		Type:         data.Type,
		Grade:        data.Grade,
	}
	s.accounts = append(s.accounts, acc)
	return acc, nil
}

func (s *Server) login(creds models.LoginCredentials) (string, error) {
	s.mu.Lock()
	var acc *account
	for _, a := range s.accounts {
		if strings.EqualFold(a.Email, creds.Email) {
			acc = a
			break
		}
	}
	s.mu.Unlock()
	if acc == nil {
		return "", errors.New("user not found")
	}
	if err := bcrypt.CompareHashAndPassword(acc.PasswordHash, []byte(creds.Password)); err != nil {
		return "", err
	}
	return s.sign(acc)
}
