package core

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

const (
	contextKeySession = "accountd.session"
	contextKeyUser    = "accountd.user"

	stateCookieName    = "accountd_oauth_state"
	verifierCookieName = "accountd_oauth_verifier"
	oauthCookieMaxAge  = 10 * 60
)

var providerTitle = cases.Title(language.English)

// SessionState is the server-provided view of the current session that the
// frontend hydrates from.
type SessionState struct {
	User  *User               `json:"user"`
	Flash map[string][]string `json:"flash"`
}

type credentialsRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type Server struct {
	authenticator *Authenticator
	resolver      *Resolver
	sessions      *SessionManager
	repo          Repository
	providers     map[Provider]AuthProvider
	config        Config
	logger        *zap.Logger
}

func NewServer(
	authenticator *Authenticator,
	resolver *Resolver,
	sessions *SessionManager,
	repo Repository,
	providers map[Provider]AuthProvider,
	config Config,
	logger *zap.Logger,
) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		authenticator: authenticator,
		resolver:      resolver,
		sessions:      sessions,
		repo:          repo,
		providers:     providers,
		config:        config.WithDefaults(),
		logger:        logger,
	}
}

func (s *Server) RegisterRoutes(e *echo.Echo) {
	e.GET("/health", s.HandleHealth)

	g := e.Group("", s.LoadSession)
	g.POST("/login", s.HandleLogin)
	g.POST("/register", s.HandleRegister)
	g.POST("/logout", s.HandleLogout)
	g.GET("/session", s.HandleSession)
	g.GET("/auth/:provider", s.HandleAuthStart)
	g.GET("/auth/:provider/callback", s.HandleCallback)
	g.GET("/account", s.HandleAccount, s.RequireAuthenticated)
	g.GET("/api/:provider", s.HandleProviderAPI, s.RequireAuthenticated, s.RequireAuthorized)
}

// LoadSession attaches the request's session and, when signed in, its user.
func (s *Server) LoadSession(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		session, err := s.sessions.Load(c)
		if err != nil {
			s.logger.Error("failed to load session", zap.Error(err))
			return respondError(c, http.StatusInternalServerError, "internal_error", "Failed to load session")
		}
		c.Set(contextKeySession, session)

		if session.UserID != uuid.Nil {
			user, err := s.repo.FindByID(c.Request().Context(), session.UserID)
			switch {
			case err == nil:
				c.Set(contextKeyUser, user)
			case errors.Is(err, ErrNotFound):
				session.UserID = uuid.Nil
			default:
				s.logger.Error("failed to load session user", zap.Stringer("user_id", session.UserID), zap.Error(err))
				return respondError(c, http.StatusInternalServerError, "internal_error", "Failed to load session")
			}
		}

		return next(c)
	}
}

// CurrentUser returns the signed in user, or nil for anonymous requests.
func CurrentUser(c echo.Context) *User {
	user, _ := c.Get(contextKeyUser).(*User)
	return user
}

func CurrentSession(c echo.Context) *Session {
	session, _ := c.Get(contextKeySession).(*Session)
	return session
}

func (s *Server) HandleLogin(c echo.Context) error {
	req, ok := decodeCredentials(c)
	if !ok {
		return respondError(c, http.StatusBadRequest, "invalid_request", "username and password are required")
	}

	user, err := s.authenticator.Authenticate(c.Request().Context(), req.Username, req.Password)
	if err != nil {
		switch {
		case errors.Is(err, ErrEmailNotFound):
			return respondError(c, http.StatusUnauthorized, "email_not_found", fmt.Sprintf("Email %s not found.", req.Username))
		case errors.Is(err, ErrInvalidCredential):
			return respondError(c, http.StatusUnauthorized, "invalid_credentials", "Invalid email or password.")
		default:
			s.logger.Error("local login failed", zap.Error(err))
			return respondError(c, http.StatusInternalServerError, "internal_error", "Authentication failed")
		}
	}

	return s.signIn(c, user)
}

func (s *Server) HandleRegister(c echo.Context) error {
	req, ok := decodeCredentials(c)
	if !ok {
		return respondError(c, http.StatusBadRequest, "invalid_request", "username and password are required")
	}

	user, err := s.authenticator.Register(c.Request().Context(), req.Username, req.Password)
	if err != nil {
		switch {
		case errors.Is(err, ErrInvalidEmail), errors.Is(err, ErrInvalidPassword):
			return respondError(c, http.StatusBadRequest, "invalid_request", err.Error())
		case errors.Is(err, ErrEmailRegistered):
			return respondError(c, http.StatusConflict, "email_registered", "Account with that email address already exists.")
		default:
			s.logger.Error("registration failed", zap.Error(err))
			return respondError(c, http.StatusInternalServerError, "internal_error", "Registration failed")
		}
	}

	s.logger.Info("account registered", zap.Stringer("user_id", user.ID))
	return s.signIn(c, user)
}

func (s *Server) signIn(c echo.Context, user *User) error {
	session, err := s.sessions.Renew(c, CurrentSession(c))
	if err != nil {
		s.logger.Error("failed to renew session", zap.Error(err))
		return respondError(c, http.StatusInternalServerError, "internal_error", "Failed to start session")
	}
	session.UserID = user.ID

	if err := s.sessions.Commit(c, session); err != nil {
		s.logger.Error("failed to commit session", zap.Error(err))
		return respondError(c, http.StatusInternalServerError, "internal_error", "Failed to start session")
	}

	return c.JSON(http.StatusOK, user)
}

func (s *Server) HandleLogout(c echo.Context) error {
	if err := s.sessions.Destroy(c, CurrentSession(c)); err != nil {
		s.logger.Error("failed to destroy session", zap.Error(err))
		return respondError(c, http.StatusInternalServerError, "internal_error", "Failed to logout")
	}

	return c.JSON(http.StatusOK, map[string]string{
		"status": "logged_out",
	})
}

func (s *Server) HandleSession(c echo.Context) error {
	session := CurrentSession(c)
	flash := session.ConsumeFlash()

	if len(flash) > 0 {
		if err := s.sessions.Commit(c, session); err != nil {
			s.logger.Error("failed to commit session", zap.Error(err))
			return respondError(c, http.StatusInternalServerError, "internal_error", "Failed to load session")
		}
	}

	return c.JSON(http.StatusOK, SessionState{
		User:  CurrentUser(c),
		Flash: flash,
	})
}

// HandleAuthStart redirects to the provider's consent page.
func (s *Server) HandleAuthStart(c echo.Context) error {
	provider, ok := s.providers[Provider(c.Param("provider"))]
	if !ok {
		return respondError(c, http.StatusNotFound, "invalid_provider", "Unsupported provider")
	}

	state, err := GenerateRandomString(24)
	if err != nil {
		s.logger.Error("failed to generate oauth state", zap.Error(err))
		return respondError(c, http.StatusInternalServerError, "internal_error", "Failed to start provider flow")
	}
	verifier := oauth2.GenerateVerifier()

	s.setOAuthCookie(c, stateCookieName, state, oauthCookieMaxAge)
	s.setOAuthCookie(c, verifierCookieName, verifier, oauthCookieMaxAge)

	return c.Redirect(http.StatusFound, provider.AuthCodeURL(state, verifier))
}

// HandleCallback completes a provider flow. All outcomes end in a redirect with
// a flash message describing what happened.
func (s *Server) HandleCallback(c echo.Context) error {
	name := Provider(c.Param("provider"))
	provider, ok := s.providers[name]
	if !ok {
		return respondError(c, http.StatusNotFound, "invalid_provider", "Unsupported provider")
	}

	ctx := c.Request().Context()
	session := CurrentSession(c)
	sessionUser := CurrentUser(c)
	title := providerTitle.String(string(name))

	failureRedirect := s.config.LoginPath
	if sessionUser != nil {
		failureRedirect = s.config.AccountPath
	}

	state, verifier := s.takeOAuthCookies(c)
	if state == "" || c.QueryParam("state") != state {
		return s.redirectWithFlash(c, session, failureRedirect, FlashErrors, fmt.Sprintf("%s sign in expired or was tampered with. Please try again.", title))
	}
	if errParam := c.QueryParam("error"); errParam != "" {
		s.logger.Info("provider denied authorization", zap.String("provider", string(name)), zap.String("error", errParam))
		return s.redirectWithFlash(c, session, failureRedirect, FlashErrors, fmt.Sprintf("%s sign in was cancelled.", title))
	}

	credentials, err := provider.Exchange(ctx, c.QueryParam("code"), verifier)
	if err != nil {
		s.logger.Error("provider token exchange failed", zap.String("provider", string(name)), zap.Error(err))
		return s.redirectWithFlash(c, session, failureRedirect, FlashErrors, fmt.Sprintf("Something went wrong while signing in with %s.", title))
	}

	profile, err := provider.FetchProfile(ctx, credentials)
	if err != nil {
		s.logger.Error("provider profile request failed", zap.String("provider", string(name)), zap.Error(err))
		return s.redirectWithFlash(c, session, failureRedirect, FlashErrors, fmt.Sprintf("Something went wrong while signing in with %s.", title))
	}

	result, err := s.resolver.Resolve(ctx, provider, CallbackInput{
		SessionUser: sessionUser,
		Credentials: *credentials,
		Profile:     *profile,
	})
	if err != nil {
		var persistErr *PersistenceError
		switch {
		case errors.Is(err, ErrProviderLinked):
			return s.redirectWithFlash(c, session, failureRedirect, FlashErrors, fmt.Sprintf("There is already a %s account that belongs to you. Sign in with that account or delete it, then link it with your current account.", title))
		case errors.Is(err, ErrEmailRegistered):
			return s.redirectWithFlash(c, session, failureRedirect, FlashErrors, fmt.Sprintf("There is already an account using this email address. Sign in to that account and link it with %s manually from Account Settings.", title))
		case errors.As(err, &persistErr):
			s.logger.Error("failed to persist oauth account", zap.String("provider", string(name)), zap.String("op", persistErr.Op), zap.Error(persistErr.Err))
		default:
			s.logger.Error("failed to resolve oauth callback", zap.String("provider", string(name)), zap.Error(err))
		}
		return s.redirectWithFlash(c, session, failureRedirect, FlashErrors, fmt.Sprintf("Something went wrong while signing in with %s.", title))
	}

	s.logger.Info("oauth callback resolved",
		zap.String("provider", string(name)),
		zap.Stringer("outcome", result.Outcome),
		zap.Stringer("user_id", result.User.ID),
	)

	if result.User.ID != session.UserID {
		session, err = s.sessions.Renew(c, session)
		if err != nil {
			s.logger.Error("failed to renew session", zap.Error(err))
			return respondError(c, http.StatusInternalServerError, "internal_error", "Failed to start session")
		}
		session.UserID = result.User.ID
	}

	switch result.Outcome {
	case OutcomeLinked:
		session.AddFlash(FlashInfo, fmt.Sprintf("%s account has been linked.", title))
	case OutcomeCreated:
		session.AddFlash(FlashInfo, fmt.Sprintf("Your account has been created with %s.", title))
	default:
		session.AddFlash(FlashInfo, "Success! You are logged in.")
	}

	if err := s.sessions.Commit(c, session); err != nil {
		s.logger.Error("failed to commit session", zap.Error(err))
		return respondError(c, http.StatusInternalServerError, "internal_error", "Failed to start session")
	}

	return c.Redirect(http.StatusFound, s.config.SuccessRedirect)
}

func (s *Server) HandleAccount(c echo.Context) error {
	return c.JSON(http.StatusOK, CurrentUser(c))
}

// HandleProviderAPI is the landing handler for provider-scoped routes guarded
// by RequireAuthorized.
func (s *Server) HandleProviderAPI(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"provider": c.Param("provider"),
		"status":   "authorized",
	})
}

func (s *Server) HandleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status": "ok",
	})
}

// Helper functions

func (s *Server) redirectWithFlash(c echo.Context, session *Session, location, kind, message string) error {
	session.AddFlash(kind, message)
	if err := s.sessions.Commit(c, session); err != nil {
		s.logger.Error("failed to commit session", zap.Error(err))
		return respondError(c, http.StatusInternalServerError, "internal_error", "Failed to save session")
	}
	return c.Redirect(http.StatusFound, location)
}

func (s *Server) setOAuthCookie(c echo.Context, name, value string, maxAge int) {
	c.SetCookie(&http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/auth/",
		MaxAge:   maxAge,
		Expires:  time.Now().Add(time.Duration(maxAge) * time.Second),
		HttpOnly: true,
		Secure:   s.config.Session.Secure,
		SameSite: http.SameSiteLaxMode,
	})
}

// takeOAuthCookies reads the state and PKCE verifier cookies and clears them.
func (s *Server) takeOAuthCookies(c echo.Context) (state, verifier string) {
	if cookie, err := c.Cookie(stateCookieName); err == nil {
		state = cookie.Value
	}
	if cookie, err := c.Cookie(verifierCookieName); err == nil {
		verifier = cookie.Value
	}
	for _, name := range []string{stateCookieName, verifierCookieName} {
		c.SetCookie(&http.Cookie{
			Name:     name,
			Value:    "",
			Path:     "/auth/",
			MaxAge:   -1,
			HttpOnly: true,
			Secure:   s.config.Session.Secure,
			SameSite: http.SameSiteLaxMode,
		})
	}
	return state, verifier
}

func decodeCredentials(c echo.Context) (credentialsRequest, bool) {
	var req credentialsRequest
	if err := c.Bind(&req); err != nil {
		return req, false
	}
	return req, req.Username != "" && req.Password != ""
}

func respondError(c echo.Context, statusCode int, errorCode, message string) error {
	return c.JSON(statusCode, map[string]string{
		"error":   errorCode,
		"message": message,
	})
}
