package server

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/smallorbit/nebula/internal/fault"
	identitydomain "github.com/smallorbit/nebula/internal/identity/domain"
)

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type UserResponse struct {
	ID    string   `json:"id"`
	Email string   `json:"email"`
	Name  string   `json:"name"`
	Roles []string `json:"roles"`
}

func userResponse(u identitydomain.User) UserResponse {
	return UserResponse{
		ID:    u.ID.String(),
		Email: u.Email,
		Name:  u.Name,
		Roles: u.Roles(),
	}
}

func (s *Server) Login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortValidation(c, "invalid request body")
		return
	}

	email := strings.TrimSpace(req.Email)
	if email == "" || req.Password == "" {
		abortValidation(c, "email and password are required")
		return
	}

	result, err := s.identitySvc.Login(c.Request.Context(), email, req.Password, identitydomain.SessionMeta{
		UserAgent: c.Request.UserAgent(),
		IPAddress: c.ClientIP(),
	})
	if err != nil {
		if isAuthError(err) {
			AbortWithError(c, fault.Wrap(fault.Unauthenticated, "invalid email or password", err))
			return
		}
		AbortWithError(c, err)
		return
	}

	maxAge := int(time.Until(result.ExpiresAt).Seconds())
	if maxAge < 0 {
		maxAge = 0
	}
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(sessionCookieName, result.Token, maxAge, "/", "", false, true)

	c.JSON(http.StatusOK, gin.H{
		"token":      result.Token,
		"expires_at": result.ExpiresAt,
		"user":       userResponse(result.User),
	})
}

func (s *Server) Logout(c *gin.Context) {
	token := sessionTokenFrom(c)
	if token != "" {
		if err := s.identitySvc.Logout(c.Request.Context(), token); err != nil {
			AbortWithError(c, err)
			return
		}
	}
	c.SetCookie(sessionCookieName, "", -1, "/", "", false, true)
	c.JSON(http.StatusOK, gin.H{"status": "logged_out"})
}

func (s *Server) Me(c *gin.Context) {
	actor := actorFrom(c)
	user, err := s.identitySvc.GetUser(c.Request.Context(), actor.ID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, userResponse(*user))
}
