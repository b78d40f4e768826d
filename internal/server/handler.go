package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/amoylab/authcore/internal/auth/client"
	"github.com/amoylab/authcore/internal/auth/introspect"
	"github.com/amoylab/authcore/internal/auth/middleware"
	"github.com/amoylab/authcore/internal/common/errorx"
	"github.com/amoylab/authcore/pkg/version"
)

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "version": version.Get()})
}

// handleIntrospect answers RFC 7662 requests. The caller authenticates as
// a client and only sees tokens issued to itself.
func (s *Server) handleIntrospect(c *gin.Context) {
	creds, err := client.ExtractCredentials(c.Request)
	if err != nil {
		s.errors.HandleError(c, err)
		return
	}
	value := c.PostForm("token")
	if value == "" {
		s.errors.HandleError(c, errorx.ErrInvalidRequest.WithDescription("token is required"))
		return
	}

	// the caller is authenticated before any token lookup, so a rejected
	// caller learns nothing about the token
	ctx := c.Request.Context()
	if _, err := s.Clients.Authenticate(ctx, creds); err != nil {
		if errors.Is(err, errorx.ErrBadCredentials) {
			err = errorx.ErrIntrospectionBadCredentials
		}
		s.errors.HandleError(c, err)
		return
	}

	principal, err := s.Introspector.As(creds).Introspect(ctx, value)
	if err != nil {
		c.JSON(http.StatusOK, introspect.Inactive())
		return
	}
	c.JSON(http.StatusOK, principal.Response())
}

func (s *Server) handleMe(c *gin.Context) {
	principal, ok := middleware.PrincipalFrom(c)
	if !ok {
		s.errors.HandleError(c, errorx.ErrInvalidToken)
		return
	}
	c.JSON(http.StatusOK, principal.Response())
}

func (s *Server) handleListResources(c *gin.Context) {
	list, err := s.Resources.List(c.Request.Context())
	if err != nil {
		s.errors.HandleError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"resources": list})
}
