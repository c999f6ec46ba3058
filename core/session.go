package core

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("token expired")
)

const (
	FlashInfo   = "info"
	FlashErrors = "errors"
)

// Session is the server side state behind a session cookie.
// UserID is uuid.Nil while the session is anonymous.
type Session struct {
	ID        string              `json:"id"`
	UserID    uuid.UUID           `json:"user_id"`
	Flash     map[string][]string `json:"flash,omitempty"`
	ExpiresAt time.Time           `json:"expires_at"`
}

func (s *Session) AddFlash(kind, message string) {
	if s.Flash == nil {
		s.Flash = make(map[string][]string)
	}
	s.Flash[kind] = append(s.Flash[kind], message)
}

// ConsumeFlash returns the pending flash messages and clears them.
func (s *Session) ConsumeFlash() map[string][]string {
	flash := s.Flash
	s.Flash = nil
	if flash == nil {
		flash = map[string][]string{}
	}
	return flash
}

type SessionStore interface {
	Get(ctx context.Context, id string) (*Session, error)

	Save(ctx context.Context, session *Session) error

	Delete(ctx context.Context, id string) error
}

type SessionClaims struct {
	SessionID string `json:"sid"`
	jwt.RegisteredClaims
}

// SessionManager binds sessions to requests through a signed cookie.
type SessionManager struct {
	store  SessionStore
	config SessionConfig
}

func NewSessionManager(store SessionStore, config SessionConfig) *SessionManager {
	return &SessionManager{
		store:  store,
		config: config,
	}
}

// Load returns the session named by the request cookie, or a fresh anonymous
// session when the cookie is missing, invalid or points to an expired session.
func (m *SessionManager) Load(c echo.Context) (*Session, error) {
	cookie, err := c.Cookie(m.config.CookieName)
	if err == nil && cookie.Value != "" {
		sessionID, err := m.ValidateToken(cookie.Value)
		if err == nil {
			session, err := m.store.Get(c.Request().Context(), sessionID)
			if err == nil && time.Now().Before(session.ExpiresAt) {
				return session, nil
			}
			if err != nil && !errors.Is(err, ErrNotFound) {
				return nil, fmt.Errorf("failed to load session: %w", err)
			}
		}
	}

	return m.newSession()
}

// Commit persists the session and (re)issues its cookie.
func (m *SessionManager) Commit(c echo.Context, session *Session) error {
	if err := m.store.Save(c.Request().Context(), session); err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}

	token, err := m.GenerateToken(session)
	if err != nil {
		return err
	}

	c.SetCookie(&http.Cookie{
		Name:     m.config.CookieName,
		Value:    token,
		Path:     "/",
		Expires:  session.ExpiresAt,
		HttpOnly: true,
		Secure:   m.config.Secure,
		SameSite: http.SameSiteLaxMode,
	})
	return nil
}

// Destroy deletes the session and clears its cookie.
func (m *SessionManager) Destroy(c echo.Context, session *Session) error {
	c.SetCookie(&http.Cookie{
		Name:     m.config.CookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   m.config.Secure,
		SameSite: http.SameSiteLaxMode,
	})

	if session == nil {
		return nil
	}
	if err := m.store.Delete(c.Request().Context(), session.ID); err != nil && !errors.Is(err, ErrNotFound) {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

// Renew moves the session to a fresh id, keeping its flash messages. Called
// whenever the session changes hands so a pre-login session id is never reused.
func (m *SessionManager) Renew(c echo.Context, session *Session) (*Session, error) {
	renewed, err := m.newSession()
	if err != nil {
		return nil, err
	}
	if session == nil {
		return renewed, nil
	}

	if err := m.store.Delete(c.Request().Context(), session.ID); err != nil && !errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("failed to delete session: %w", err)
	}
	renewed.Flash = session.Flash
	c.Set(contextKeySession, renewed)
	return renewed, nil
}

func (m *SessionManager) newSession() (*Session, error) {
	id, err := GenerateRandomString(32)
	if err != nil {
		return nil, err
	}
	return &Session{
		ID:        id,
		ExpiresAt: time.Now().Add(time.Duration(m.config.Duration) * time.Second),
	}, nil
}

func (m *SessionManager) GenerateToken(session *Session) (string, error) {
	claims := &SessionClaims{
		SessionID: session.ID,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(session.ExpiresAt),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signedToken, err := token.SignedString([]byte(m.config.Secret))
	if err != nil {
		return "", fmt.Errorf("failed to sign session token: %w", err)
	}

	return signedToken, nil
}

func (m *SessionManager) ValidateToken(tokenString string) (string, error) {
	token, err := jwt.ParseWithClaims(tokenString, &SessionClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return []byte(m.config.Secret), nil
	})

	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return "", ErrExpiredToken
		}
		return "", ErrInvalidToken
	}

	claims, ok := token.Claims.(*SessionClaims)
	if !ok || !token.Valid || claims.SessionID == "" {
		return "", ErrInvalidToken
	}

	return claims.SessionID, nil
}
