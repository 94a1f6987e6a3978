package handlers

import (
	"crypto/subtle"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/mossy-p/stranger-chat/config"
	"github.com/mossy-p/stranger-chat/internal/middleware"
)

const operatorTokenTTL = 12 * time.Hour

// LoginRequest represents the login request body
type LoginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// LoginResponse represents the login response
type LoginResponse struct {
	Token    string `json:"token"`
	Operator string `json:"operator"`
}

// Login issues an operator token for the configured credentials.
func Login(jwtSecret string, operator config.OperatorConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req LoginRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"error": "Invalid request body",
			})
			return
		}

		userOK := subtle.ConstantTimeCompare([]byte(req.Username), []byte(operator.Username)) == 1
		passOK := subtle.ConstantTimeCompare([]byte(req.Password), []byte(operator.Password)) == 1
		if !userOK || !passOK {
			c.JSON(http.StatusUnauthorized, gin.H{
				"error": "Invalid credentials",
			})
			return
		}

		token, err := middleware.IssueToken(jwtSecret, req.Username, operatorTokenTTL)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{
				"error": "Failed to generate token",
			})
			return
		}

		c.JSON(http.StatusOK, LoginResponse{
			Token:    token,
			Operator: req.Username,
		})
	}
}
