package core

import (
	"net/http"
	"path"

	"github.com/labstack/echo/v4"
)

// RequireAuthenticated lets signed in requests through and sends everyone else
// to the login page.
func (s *Server) RequireAuthenticated(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		if CurrentUser(c) == nil {
			return c.Redirect(http.StatusFound, s.config.LoginPath)
		}
		return next(c)
	}
}

// RequireAuthorized expects routes shaped like .../<provider>. The request
// passes when the user holds a token from that provider; otherwise it is sent
// to the provider's OAuth entry point.
func (s *Server) RequireAuthorized(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		provider := ProviderFromPath(c.Request().URL.Path)

		user := CurrentUser(c)
		if user != nil && user.HasToken(provider) {
			return next(c)
		}
		return c.Redirect(http.StatusFound, "/auth/"+string(provider))
	}
}

// ProviderFromPath returns the last segment of a request path as a provider name.
func ProviderFromPath(requestPath string) Provider {
	return Provider(path.Base(path.Clean("/" + requestPath)))
}
