package handlers

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/Ale866/malta-photogramme3d/internal/auth"
	"github.com/Ale866/malta-photogramme3d/internal/common"
	"github.com/Ale866/malta-photogramme3d/internal/httpapi/middleware"
	"github.com/Ale866/malta-photogramme3d/internal/models"
	"github.com/Ale866/malta-photogramme3d/internal/store/redisstore"
)

const (
	accessTokenTTL  = 24 * time.Hour
	refreshTokenTTL = 7 * 24 * time.Hour
)

type registerReq struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Nickname string `json:"nickname"`
}

type loginReq struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type refreshReq struct {
	UserID       uint64 `json:"user_id"`
	RefreshToken string `json:"refresh_token"`
}

func randomToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

// issueSession signs an access token and stores a fresh refresh token in redis.
func (h *Handler) issueSession(c *gin.Context, user *models.User) (gin.H, bool) {
	token, err := auth.SignJWT(user.ID, h.Cfg.JWTSecret, accessTokenTTL)
	if err != nil {
		common.Fail(c, http.StatusInternalServerError, 20003, "failed to sign token")
		return nil, false
	}
	refresh, err := randomToken()
	if err != nil {
		common.Fail(c, http.StatusInternalServerError, 20004, "failed to generate refresh token")
		return nil, false
	}
	if err := h.Redis.SaveRefreshToken(c.Request.Context(), user.ID, refresh, refreshTokenTTL); err != nil {
		common.Fail(c, http.StatusInternalServerError, 20001, "redis error")
		return nil, false
	}
	return gin.H{
		"id":            user.ID,
		"email":         user.Email,
		"nickname":      user.Nickname,
		"token":         token,
		"refresh_token": refresh,
	}, true
}

func (h *Handler) Register(c *gin.Context) {
	var req registerReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}
	if req.Email == "" || req.Password == "" {
		common.Fail(c, http.StatusBadRequest, 10002, "email and password required")
		return
	}
	if len(req.Password) < 6 {
		common.Fail(c, http.StatusBadRequest, 10003, "password must be at least 6 characters")
		return
	}
	if req.Nickname == "" {
		req.Nickname = req.Email
	}

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		common.Fail(c, http.StatusInternalServerError, 20002, "failed to hash password")
		return
	}

	user := models.User{
		Email:        req.Email,
		Nickname:     req.Nickname,
		PasswordHash: hash,
	}
	if err := h.DB.WithContext(c.Request.Context()).Create(&user).Error; err != nil {
		common.Fail(c, http.StatusBadRequest, 10004, "failed to create user (maybe email already exists)")
		return
	}

	if body, ok := h.issueSession(c, &user); ok {
		common.OK(c, body)
	}
}

func (h *Handler) Login(c *gin.Context) {
	var req loginReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}
	if req.Email == "" || req.Password == "" {
		common.Fail(c, http.StatusBadRequest, 10002, "email and password required")
		return
	}

	var user models.User
	if err := h.DB.WithContext(c.Request.Context()).Where("email = ?", req.Email).First(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			common.Fail(c, http.StatusUnauthorized, 40101, "invalid email or password")
			return
		}
		common.Fail(c, http.StatusInternalServerError, 20001, "db error")
		return
	}
	if !auth.CheckPassword(req.Password, user.PasswordHash) {
		common.Fail(c, http.StatusUnauthorized, 40101, "invalid email or password")
		return
	}

	if body, ok := h.issueSession(c, &user); ok {
		common.OK(c, body)
	}
}

// Refresh rotates a refresh token: the presented token is consumed and a new
// access/refresh pair is issued.
func (h *Handler) Refresh(c *gin.Context) {
	var req refreshReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}
	if req.UserID == 0 || req.RefreshToken == "" {
		common.Fail(c, http.StatusBadRequest, 10002, "user_id and refresh_token required")
		return
	}

	if err := h.Redis.ConsumeRefreshToken(c.Request.Context(), req.UserID, req.RefreshToken); err != nil {
		if errors.Is(err, redisstore.ErrSessionNotFound) {
			common.Fail(c, http.StatusUnauthorized, 40102, "refresh session expired")
			return
		}
		common.Fail(c, http.StatusInternalServerError, 20001, "redis error")
		return
	}

	var user models.User
	if err := h.DB.WithContext(c.Request.Context()).First(&user, req.UserID).Error; err != nil {
		common.Fail(c, http.StatusUnauthorized, 40102, "refresh session expired")
		return
	}

	if body, ok := h.issueSession(c, &user); ok {
		common.OK(c, body)
	}
}

func (h *Handler) Logout(c *gin.Context) {
	var req refreshReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}
	if req.UserID != 0 && req.RefreshToken != "" {
		_ = h.Redis.ConsumeRefreshToken(c.Request.Context(), req.UserID, req.RefreshToken)
	}
	common.OK(c, gin.H{"logged_out": true})
}

func (h *Handler) Me(c *gin.Context) {
	uid := c.GetUint64(middleware.UserIDKey)

	var user models.User
	if err := h.DB.WithContext(c.Request.Context()).First(&user, uid).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			common.Fail(c, http.StatusNotFound, 40401, "user not found")
			return
		}
		common.Fail(c, http.StatusInternalServerError, 20001, "db error")
		return
	}

	common.OK(c, gin.H{
		"id":         user.ID,
		"email":      user.Email,
		"nickname":   user.Nickname,
		"created_at": user.CreatedAt,
	})
}
