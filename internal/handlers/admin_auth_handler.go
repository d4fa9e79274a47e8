package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"bridge-relayer/internal/config"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"
)

const (
	adminRole   = "admin"
	adminIssuer = "bridge-relayer-admin"
)

// ErrInvalidAdminToken token failed signature, expiry or role checks
var ErrInvalidAdminToken = errors.New("invalid admin token")

// AdminAuthHandler operator login
type AdminAuthHandler struct {
	username     string
	passwordHash string
	totpSecret   string
	jwtSecret    []byte
	tokenTTL     time.Duration
	log          *logrus.Entry
	now          func() time.Time
}

// AdminLoginRequest login body
type AdminLoginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
	TOTPCode string `json:"totp_code" binding:"required"`
}

// AdminLoginResponse login result
type AdminLoginResponse struct {
	Success   bool      `json:"success"`
	Token     string    `json:"token,omitempty"`
	ExpiresAt time.Time `json:"expires_at,omitempty"`
	Message   string    `json:"message"`
}

// AdminJWTClaims admin JWT claims
type AdminJWTClaims struct {
	Username string `json:"username"`
	Role     string `json:"role"`
	jwt.RegisteredClaims
}

// NewAdminAuthHandler creates the login handler. Missing credentials only disable login.
func NewAdminAuthHandler(cfg config.AdminConfig, log *logrus.Entry) *AdminAuthHandler {
	if cfg.TOTPSecret == "" || cfg.PasswordHash == "" || cfg.JWTSecret == "" {
		log.Warn("⚠️ admin credentials not fully configured (ADMIN_PASSWORD_HASH, ADMIN_TOTP_SECRET, ADMIN_JWT_SECRET), admin login disabled")
	}
	return &AdminAuthHandler{
		username:     cfg.Username,
		passwordHash: cfg.PasswordHash,
		totpSecret:   cfg.TOTPSecret,
		jwtSecret:    []byte(cfg.JWTSecret),
		tokenTTL:     cfg.TokenTTL,
		log:          log,
		now:          time.Now,
	}
}

// AdminLoginHandler POST /api/admin/login
func (h *AdminAuthHandler) AdminLoginHandler(c *gin.Context) {
	if h.totpSecret == "" || h.passwordHash == "" || len(h.jwtSecret) == 0 {
		c.JSON(http.StatusServiceUnavailable, AdminLoginResponse{
			Success: false,
			Message: "Admin login is not configured",
		})
		return
	}

	var req AdminLoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, AdminLoginResponse{
			Success: false,
			Message: fmt.Sprintf("Invalid request: %v", err),
		})
		return
	}

	// Same message for a wrong username or password
	if req.Username != h.username || bcrypt.CompareHashAndPassword([]byte(h.passwordHash), []byte(req.Password)) != nil {
		h.log.WithFields(logrus.Fields{"username": req.Username, "client_ip": c.ClientIP()}).Warn("admin login rejected: bad credentials")
		c.JSON(http.StatusUnauthorized, AdminLoginResponse{
			Success: false,
			Message: "Invalid credentials",
		})
		return
	}

	if !totp.Validate(req.TOTPCode, h.totpSecret) {
		h.log.WithFields(logrus.Fields{"username": req.Username, "client_ip": c.ClientIP()}).Warn("admin login rejected: bad TOTP code")
		c.JSON(http.StatusUnauthorized, AdminLoginResponse{
			Success: false,
			Message: "Invalid TOTP code",
		})
		return
	}

	now := h.now()
	token, err := IssueAdminToken(h.jwtSecret, req.Username, h.tokenTTL, now)
	if err != nil {
		h.log.WithError(err).Error("❌ Failed to sign admin token")
		c.JSON(http.StatusInternalServerError, AdminLoginResponse{
			Success: false,
			Message: "Failed to generate token",
		})
		return
	}

	h.log.WithField("username", req.Username).Info("✅ admin login")
	c.JSON(http.StatusOK, AdminLoginResponse{
		Success:   true,
		Token:     token,
		ExpiresAt: now.Add(h.tokenTTL).UTC(),
		Message:   "Login successful",
	})
}

// IssueAdminToken signs an HS256 admin token valid for ttl from now.
func IssueAdminToken(secret []byte, username string, ttl time.Duration, now time.Time) (string, error) {
	if len(secret) == 0 {
		return "", errors.New("jwt secret is empty")
	}
	claims := AdminJWTClaims{
		Username: username,
		Role:     adminRole,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			Issuer:    adminIssuer,
			Subject:   username,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString(secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return tokenString, nil
}

// ValidateAdminToken parses tokenString and checks the admin role.
func ValidateAdminToken(secret []byte, tokenString string) (*AdminJWTClaims, error) {
	if len(secret) == 0 {
		return nil, fmt.Errorf("%w: jwt secret is not configured", ErrInvalidAdminToken)
	}

	token, err := jwt.ParseWithClaims(tokenString, &AdminJWTClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return secret, nil
	}, jwt.WithIssuer(adminIssuer))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidAdminToken, err)
	}

	claims, ok := token.Claims.(*AdminJWTClaims)
	if !ok || !token.Valid || claims.Role != adminRole {
		return nil, ErrInvalidAdminToken
	}
	return claims, nil
}

// GenerateTOTPSecret creates a new TOTP key for the admin account.
func GenerateTOTPSecret(account string) (*otp.Key, error) {
	return totp.Generate(totp.GenerateOpts{
		Issuer:      "Bridge Relayer",
		AccountName: account,
		Period:      30,
		Digits:      otp.DigitsSix,
		Algorithm:   otp.AlgorithmSHA1,
	})
}

// HashPassword bcrypt hash for admin.passwordHash
func HashPassword(password string) (string, error) {
	if password == "" {
		return "", errors.New("password is empty")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(hash), nil
}
