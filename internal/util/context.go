package util

import (
	"github.com/gin-gonic/gin"
)

// GetUserIDFromContext extracts the authenticated user ID from the Gin context.
// If the user is not authenticated, it responds with 401 Unauthorized.
func GetUserIDFromContext(c *gin.Context) (string, bool) {
	userID := c.GetString("user_id")
	if userID == "" {
		RespondUnauthorized(c)
		return "", false
	}
	return userID, true
}

// RequireSelf checks that the userId a request acts on is the caller.
// An empty claimed id means the caller. Mismatches respond 401.
func RequireSelf(c *gin.Context, claimedID string) (string, bool) {
	userID, ok := GetUserIDFromContext(c)
	if !ok {
		return "", false
	}
	if claimedID != "" && claimedID != userID {
		RespondUnauthorized(c, "token does not match the requested user")
		return "", false
	}
	return userID, true
}

// RequireSelfParam is RequireSelf for a mandatory parameter. A missing
// value responds 400.
func RequireSelfParam(c *gin.Context, field, claimedID string) (string, bool) {
	if _, ok := GetUserIDFromContext(c); !ok {
		return "", false
	}
	if claimedID == "" {
		RespondValidationError(c, field, field+" is required")
		return "", false
	}
	return RequireSelf(c, claimedID)
}
