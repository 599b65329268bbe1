package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/noah-isme/safecircle-api/internal/middleware"
	"github.com/noah-isme/safecircle-api/internal/models"
	appErrors "github.com/noah-isme/safecircle-api/pkg/errors"
	"github.com/noah-isme/safecircle-api/pkg/response"
)

// requireSubject writes 401 and returns false when the route ran without JWT.
func requireSubject(c *gin.Context) (string, bool) {
	subjectID := middleware.SubjectID(c)
	if subjectID == "" {
		response.Error(c, appErrors.ErrUnauthorized)
		return "", false
	}
	return subjectID, true
}

func clientMeta(c *gin.Context) models.ClientMeta {
	return models.ClientMeta{IP: c.ClientIP(), UserAgent: c.GetHeader("User-Agent")}
}
