package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/noah-isme/lxc-ledger-api/internal/middleware"
	"github.com/noah-isme/lxc-ledger-api/internal/models"
	appErrors "github.com/noah-isme/lxc-ledger-api/pkg/errors"
	"github.com/noah-isme/lxc-ledger-api/pkg/response"
)

// claimsFromContext returns the authenticated teacher; services reject a nil actor.
func claimsFromContext(c *gin.Context) *models.JWTClaims {
	return middleware.Claims(c)
}

// requireClaims answers 401 when the request carries no authenticated caller.
func requireClaims(c *gin.Context) (*models.JWTClaims, bool) {
	claims := middleware.Claims(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return nil, false
	}
	return claims, true
}
