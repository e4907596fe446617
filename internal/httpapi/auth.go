package httpapi

import (
	"github.com/labstack/echo/v4"

	"github.com/kamaleldincom/Briefs-sub000/internal/auth"
)

// requireOperator guards mutating routes with the bearer token whose hash is
// configured in Options.AdminTokenHash. Without a hash every request passes.
func (s *Server) requireOperator() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if s.opts.AdminTokenHash == "" {
				return next(c)
			}

			token, ok := auth.BearerToken(c.Request().Header.Get(echo.HeaderAuthorization))
			if !ok || !auth.VerifyToken(token, s.opts.AdminTokenHash) {
				s.logger.Warn().
					Str("method", c.Request().Method).
					Str("uri", c.Request().RequestURI).
					Str("remote_ip", c.RealIP()).
					Msg("operator token rejected")
				return failUnauthorized(c)
			}
			return next(c)
		}
	}
}
