// Package auth guards routes that change the service setup behind an admin
// token. Validation routes stay open.
package auth

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

type Permission int

const (
	PermissionNone Permission = iota
	PermissionAdmin
)

// Router is a wrapper that adds the token check for routes requiring admin
// permission. An empty AdminToken disables the check.
type Router struct {
	Base       gin.IRouter
	AdminToken string
}

func (cr *Router) allowed(c *gin.Context, required []Permission) bool {
	if cr.AdminToken == "" {
		return true
	}
	for _, p := range required {
		if p != PermissionAdmin {
			continue
		}
		token := strings.TrimPrefix(c.GetHeader("Authorization"), "Bearer ")
		if subtle.ConstantTimeCompare([]byte(token), []byte(cr.AdminToken)) != 1 {
			return false
		}
	}
	return true
}

func (cr *Router) wrap(handler gin.HandlerFunc, required []Permission) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !cr.allowed(c, required) {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "access denied"})
			return
		}
		handler(c)
	}
}

func (cr *Router) POST(path string, handler gin.HandlerFunc, required ...Permission) {
	cr.Base.POST(path, cr.wrap(handler, required))
}

func (cr *Router) GET(path string, handler gin.HandlerFunc, required ...Permission) {
	cr.Base.GET(path, cr.wrap(handler, required))
}

func (cr *Router) PUT(path string, handler gin.HandlerFunc, required ...Permission) {
	cr.Base.PUT(path, cr.wrap(handler, required))
}
