package auth

import (
	"errors"

	"github.com/gin-gonic/gin"
	apierrors "github.com/zfogg/orbit/internal/errors"
	"github.com/zfogg/orbit/internal/util"
)

// Gin context keys set by Middleware
const (
	ContextUserID    = "user_id"
	ContextPrincipal = "principal"
)

// Middleware requires a valid bearer token. When allowQueryToken is set a
// ?token= parameter is accepted too, for websocket clients that cannot set headers.
func Middleware(v *Verifier, allowQueryToken bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenString, err := ParseBearerToken(c.GetHeader("Authorization"))
		if errors.Is(err, ErrMissingToken) && allowQueryToken {
			tokenString, err = c.Query("token"), nil
			if tokenString == "" {
				err = ErrMissingToken
			}
		}
		if err != nil {
			util.RespondWithAPIError(c, apierrors.Unauthorized(err.Error()))
			c.Abort()
			return
		}

		principal, err := v.Verify(tokenString)
		if err != nil {
			util.RespondWithAPIError(c, apierrors.Unauthorized("invalid or expired token"))
			c.Abort()
			return
		}

		c.Set(ContextUserID, principal.UserID)
		c.Set(ContextPrincipal, principal)
		c.Request = c.Request.WithContext(WithPrincipal(c.Request.Context(), principal))
		c.Next()
	}
}
