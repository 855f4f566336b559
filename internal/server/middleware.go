package server

import (
	"errors"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/smallorbit/nebula/internal/fault"
	identitydomain "github.com/smallorbit/nebula/internal/identity/domain"
	"github.com/smallorbit/nebula/internal/opctx"
	"github.com/smallorbit/nebula/internal/reqmeta"
)

const (
	sessionCookieName = "nebula_session"
	contextActorKey   = "actor"
	contextTokenKey   = "session_token"
)

// AuthRequired resolves the session token from the Authorization header or
// the session cookie and stores the authenticated actor on the gin context.
func (s *Server) AuthRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := bearerToken(c)
		if token == "" {
			if cookie, err := c.Cookie(sessionCookieName); err == nil {
				token = strings.TrimSpace(cookie)
			}
		}
		if token == "" {
			AbortWithError(c, fault.New(fault.Unauthenticated, "missing session token"))
			return
		}

		user, err := s.identitySvc.VerifyToken(c.Request.Context(), token)
		if err != nil {
			switch {
			case isAuthError(err):
				AbortWithError(c, fault.Wrap(fault.Unauthenticated, "session is not valid", err))
			default:
				AbortWithError(c, err)
			}
			return
		}

		actor := &opctx.Actor{
			ID:    user.ID,
			Email: user.Email,
			Roles: user.Roles(),
		}
		c.Set(contextActorKey, actor)
		c.Set(contextTokenKey, token)

		ctx := reqmeta.WithActor(c.Request.Context(), "user", user.ID.String())
		c.Request = c.Request.WithContext(ctx)

		c.Next()
	}
}

func bearerToken(c *gin.Context) string {
	header := c.GetHeader("Authorization")
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

func isAuthError(err error) bool {
	for _, known := range []error{
		identitydomain.ErrInvalidCredentials,
		identitydomain.ErrSessionExpired,
		identitydomain.ErrUserNotFound,
		identitydomain.ErrUserInactive,
	} {
		if errors.Is(err, known) {
			return true
		}
	}
	return false
}

func actorFrom(c *gin.Context) *opctx.Actor {
	v, ok := c.Get(contextActorKey)
	if !ok {
		return nil
	}
	actor, _ := v.(*opctx.Actor)
	return actor
}

func sessionTokenFrom(c *gin.Context) string {
	v, ok := c.Get(contextTokenKey)
	if !ok {
		return ""
	}
	token, _ := v.(string)
	return token
}
