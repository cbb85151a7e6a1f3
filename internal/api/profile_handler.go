package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"cvforge/internal/database"
	"cvforge/internal/extract"
)

// ProfileHandler 负责当前用户信息、求职画像与文本抽取。
type ProfileHandler struct {
	db      *gorm.DB
	extract *extract.Service
}

func NewProfileHandler(db *gorm.DB, extractService *extract.Service) *ProfileHandler {
	return &ProfileHandler{db: db, extract: extractService}
}

type meResponse struct {
	ID        uint      `json:"id"`
	Email     string    `json:"email"`
	FullName  string    `json:"full_name"`
	CreatedAt time.Time `json:"created_at"`
}

// GetMe 返回当前登录用户的基本信息。
func (h *ProfileHandler) GetMe(c *gin.Context) {
	userID, ok := userIDFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return
	}

	var user database.User
	if err := h.db.WithContext(c.Request.Context()).First(&user, userID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			NotFound(c, "user not found")
			return
		}
		Internal(c, "failed to query user")
		return
	}

	c.JSON(http.StatusOK, meResponse{
		ID:        user.ID,
		Email:     user.Email,
		FullName:  user.FullName,
		CreatedAt: user.CreatedAt,
	})
}

type profileResponse struct {
	CurrentRole       string   `json:"current_role"`
	YearsOfExperience *int     `json:"years_of_experience"`
	SalaryRange       string   `json:"salary_range"`
	SpokenLanguages   []string `json:"spoken_languages"`
}

type upsertProfileRequest struct {
	CurrentRole       string   `json:"current_role" binding:"max=255"`
	YearsOfExperience *int     `json:"years_of_experience"`
	SalaryRange       string   `json:"salary_range" binding:"max=100"`
	SpokenLanguages   []string `json:"spoken_languages"`
}

// GetProfile 返回当前用户的求职画像；尚未创建时返回 404。
func (h *ProfileHandler) GetProfile(c *gin.Context) {
	userID, ok := userIDFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return
	}

	var profile database.UserProfile
	if err := h.db.WithContext(c.Request.Context()).
		Where("user_id = ?", userID).
		First(&profile).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			NotFound(c, "profile not found")
			return
		}
		Internal(c, "failed to query profile")
		return
	}

	c.JSON(http.StatusOK, newProfileResponse(profile))
}

// UpsertProfile 创建或整体覆盖当前用户的求职画像。
func (h *ProfileHandler) UpsertProfile(c *gin.Context) {
	userID, ok := userIDFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return
	}

	var req upsertProfileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, err.Error())
		return
	}
	if req.YearsOfExperience != nil && *req.YearsOfExperience < 0 {
		BadRequest(c, "years_of_experience must not be negative")
		return
	}

	languages, err := json.Marshal(req.SpokenLanguages)
	if err != nil {
		Internal(c, "failed to encode languages")
		return
	}

	ctx := c.Request.Context()
	var profile database.UserProfile
	switch err := h.db.WithContext(ctx).Where("user_id = ?", userID).First(&profile).Error; {
	case err == nil:
		updates := map[string]any{
			"current_role":        req.CurrentRole,
			"years_of_experience": req.YearsOfExperience,
			"salary_range":        req.SalaryRange,
			"spoken_languages":    datatypes.JSON(languages),
		}
		if err := h.db.WithContext(ctx).Model(&profile).Updates(updates).Error; err != nil {
			Internal(c, "failed to update profile")
			return
		}
		if err := h.db.WithContext(ctx).First(&profile, profile.ID).Error; err != nil {
			Internal(c, "failed to reload profile")
			return
		}
		c.JSON(http.StatusOK, newProfileResponse(profile))
	case errors.Is(err, gorm.ErrRecordNotFound):
		profile = database.UserProfile{
			UserID:            userID,
			CurrentRole:       req.CurrentRole,
			YearsOfExperience: req.YearsOfExperience,
			SalaryRange:       req.SalaryRange,
			SpokenLanguages:   datatypes.JSON(languages),
		}
		if err := h.db.WithContext(ctx).Create(&profile).Error; err != nil {
			Internal(c, "failed to create profile")
			return
		}
		c.JSON(http.StatusCreated, newProfileResponse(profile))
	default:
		Internal(c, "failed to query profile")
	}
}

type extractRequest struct {
	Text string `json:"text" binding:"required"`
}

// Extract 从自由文本中抽取画像与技能并持久化。
func (h *ProfileHandler) Extract(c *gin.Context) {
	userID, ok := userIDFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return
	}

	var req extractRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, err.Error())
		return
	}

	result, err := h.extract.ExtractProfileData(c.Request.Context(), userID, req.Text)
	if err != nil {
		FromError(c, err)
		return
	}

	c.JSON(http.StatusOK, result)
}

func newProfileResponse(profile database.UserProfile) profileResponse {
	languages := []string{}
	if len(profile.SpokenLanguages) > 0 {
		_ = json.Unmarshal(profile.SpokenLanguages, &languages)
	}
	return profileResponse{
		CurrentRole:       profile.CurrentRole,
		YearsOfExperience: profile.YearsOfExperience,
		SalaryRange:       profile.SalaryRange,
		SpokenLanguages:   languages,
	}
}
