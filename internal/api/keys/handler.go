// Package keys exposes the API key lifecycle endpoints: requesting a
// verification challenge and redeeming it for a key.
//
// The pending marker travels in an HTTP-only cookie, so the browser flow
// never sees the email address between the two calls; non-browser clients can
// pass the marker explicitly in the verify body instead.
package keys

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/JamieBuffing/kumasi-data-api/internal/credentials"
)

// PendingCookie names the cookie carrying the pending-verification marker.
const PendingCookie = "kda_pending"

// Handler serves the key lifecycle endpoints.
type Handler struct {
	svc          *credentials.Service
	cookieMaxAge int
	secureCookie bool
}

// NewHandler creates the key lifecycle handler. cookieMaxAge should match the
// challenge validity; secure controls the cookie's Secure attribute and is
// false only for plain-HTTP development setups.
func NewHandler(svc *credentials.Service, cookieMaxAge int, secure bool) *Handler {
	return &Handler{svc: svc, cookieMaxAge: cookieMaxAge, secureCookie: secure}
}

type requestBody struct {
	Email string `json:"email" binding:"required"`
}

// Request handles POST /api-key/request.
func (h *Handler) Request(c *gin.Context) {
	var body requestBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "validation_error",
			"message": "Body must contain an email field",
		})
		return
	}

	marker, err := h.svc.Request(c.Request.Context(), body.Email)
	if err != nil {
		if errors.Is(err, credentials.ErrInvalidEmail) {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "validation_error",
				"message": "Not a valid email address",
			})
			return
		}
		slog.Error("challenge request failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Something went wrong",
		})
		return
	}

	c.SetCookie(PendingCookie, marker, h.cookieMaxAge, "/", "", h.secureCookie, true)
	c.JSON(http.StatusAccepted, gin.H{
		"message": "Verification code sent, check your inbox",
		"marker":  marker,
	})
}

type verifyBody struct {
	Code   string `json:"code" binding:"required"`
	Marker string `json:"marker"`
}

// Verify handles POST /api-key/verify. The marker comes from the pending
// cookie when present, else from the body.
func (h *Handler) Verify(c *gin.Context) {
	var body verifyBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "validation_error",
			"message": "Body must contain a code field",
		})
		return
	}

	marker := body.Marker
	if cookie, err := c.Cookie(PendingCookie); err == nil && cookie != "" {
		marker = cookie
	}
	if marker == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_or_expired_challenge",
			"message": "The verification code is invalid or has expired",
		})
		return
	}

	key, err := h.svc.Verify(c.Request.Context(), marker, body.Code)
	if err != nil {
		if errors.Is(err, credentials.ErrInvalidOrExpiredChallenge) {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "invalid_or_expired_challenge",
				"message": "The verification code is invalid or has expired",
			})
			return
		}
		slog.Error("verification failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Something went wrong",
		})
		return
	}

	// Clear the consumed pending cookie.
	c.SetCookie(PendingCookie, "", -1, "/", "", h.secureCookie, true)
	c.JSON(http.StatusOK, gin.H{
		"api_key": key,
		"message": "Store this key now, it will not be shown again",
	})
}
