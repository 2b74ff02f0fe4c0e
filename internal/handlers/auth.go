package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/BraydenSmith1/kora/libs/auth"
)

type devLoginRequest struct {
	Email    string `json:"email"`
	Name     string `json:"name"`
	RegionID string `json:"region_id"`
}

type devLoginResponse struct {
	Token    string `json:"token"`
	UserID   string `json:"user_id"`
	Email    string `json:"email"`
	RegionID string `json:"region_id"`
}

// DevLogin provisions a user by email and mints a token. Pilot deployments
// run without an identity provider; this stands in for one.
func (h *Handler) DevLogin(c *gin.Context) {
	var req devLoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "invalid payload")
		return
	}
	if strings.TrimSpace(req.Email) == "" {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "email is required")
		return
	}
	if strings.TrimSpace(req.RegionID) == "" {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "region_id is required")
		return
	}

	user, err := h.store.GetOrCreateUser(c.Request.Context(), req.Email, req.Name, req.RegionID)
	if err != nil {
		h.logger.Error("dev login failed", "error", err)
		writeError(c, http.StatusInternalServerError, "INTERNAL_ERROR", "internal error")
		return
	}

	token, err := auth.Sign(user.ID, user.RegionID, h.jwtSecret, h.tokenTTL, time.Now())
	if err != nil {
		h.logger.Error("sign token failed", "error", err)
		writeError(c, http.StatusInternalServerError, "INTERNAL_ERROR", "internal error")
		return
	}

	c.JSON(http.StatusOK, devLoginResponse{
		Token:    token,
		UserID:   user.ID.String(),
		Email:    user.Email,
		RegionID: user.RegionID,
	})
}
