package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"cvforge/internal/database"
	"cvforge/internal/skills"
)

// SkillHandler 负责用户技能条目的增删改查。
type SkillHandler struct {
	db *gorm.DB
}

func NewSkillHandler(db *gorm.DB) *SkillHandler {
	return &SkillHandler{db: db}
}

type skillResponse struct {
	ID        uint      `json:"id"`
	SkillText string    `json:"skill_text"`
	SkillType string    `json:"skill_type"`
	Source    string    `json:"source,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

type createSkillRequest struct {
	SkillText string `json:"skill_text" binding:"required"`
	SkillType string `json:"skill_type" binding:"required"`
	RawInput  string `json:"raw_input"`
	Source    string `json:"source" binding:"max=100"`
}

// ListSkills 列出当前用户的技能，可按 skill_type 过滤。
func (h *SkillHandler) ListSkills(c *gin.Context) {
	userID, ok := userIDFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return
	}

	query := h.db.WithContext(c.Request.Context()).
		Where("user_id = ?", userID).
		Order("id")

	if skillType := c.Query("skill_type"); skillType != "" {
		if _, err := skills.Parse(skillType); err != nil {
			FromError(c, err)
			return
		}
		query = query.Where("skill_type = ?", skillType)
	}

	var rows []database.UserSkill
	if err := query.Find(&rows).Error; err != nil {
		Internal(c, "failed to list skills")
		return
	}

	items := make([]skillResponse, 0, len(rows))
	for _, row := range rows {
		items = append(items, newSkillResponse(row))
	}
	c.JSON(http.StatusOK, items)
}

// ListSkillsGrouped 按分类分组返回当前用户的技能。
func (h *SkillHandler) ListSkillsGrouped(c *gin.Context) {
	userID, ok := userIDFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return
	}

	var rows []database.UserSkill
	if err := h.db.WithContext(c.Request.Context()).
		Where("user_id = ?", userID).
		Order("id").
		Find(&rows).Error; err != nil {
		Internal(c, "failed to list skills")
		return
	}

	grouped, err := skills.Group(rows)
	if err != nil {
		FromError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"experience":  toSkillResponses(grouped.Experience),
		"dev-skill":   toSkillResponses(grouped.DevSkills),
		"certificate": toSkillResponses(grouped.Certificates),
		"extra":       toSkillResponses(grouped.Extra),
	})
}

// CreateSkill 新建一条技能。
func (h *SkillHandler) CreateSkill(c *gin.Context) {
	userID, ok := userIDFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return
	}

	var req createSkillRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, err.Error())
		return
	}
	if _, err := skills.Parse(req.SkillType); err != nil {
		FromError(c, err)
		return
	}

	source := req.Source
	if source == "" {
		source = "manual"
	}

	row := database.UserSkill{
		UserID:    userID,
		SkillText: req.SkillText,
		SkillType: req.SkillType,
		RawInput:  req.RawInput,
		Source:    source,
	}
	if err := h.db.WithContext(c.Request.Context()).Create(&row).Error; err != nil {
		Internal(c, "failed to create skill")
		return
	}

	c.JSON(http.StatusCreated, newSkillResponse(row))
}

type updateSkillRequest struct {
	SkillText *string `json:"skill_text"`
	SkillType *string `json:"skill_type"`
}

// UpdateSkill 修改技能文本或分类。
func (h *SkillHandler) UpdateSkill(c *gin.Context) {
	userID, ok := userIDFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return
	}

	row, err := h.getSkillForUser(c, userID)
	if err != nil {
		return
	}

	var req updateSkillRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, err.Error())
		return
	}

	updates := map[string]any{}
	if req.SkillText != nil {
		if *req.SkillText == "" {
			BadRequest(c, "skill_text must not be empty")
			return
		}
		updates["skill_text"] = *req.SkillText
	}
	if req.SkillType != nil {
		if _, err := skills.Parse(*req.SkillType); err != nil {
			FromError(c, err)
			return
		}
		updates["skill_type"] = *req.SkillType
	}
	if len(updates) == 0 {
		c.JSON(http.StatusOK, newSkillResponse(*row))
		return
	}

	ctx := c.Request.Context()
	if err := h.db.WithContext(ctx).Model(row).Updates(updates).Error; err != nil {
		Internal(c, "failed to update skill")
		return
	}
	if err := h.db.WithContext(ctx).First(row, row.ID).Error; err != nil {
		Internal(c, "failed to reload skill")
		return
	}
	c.JSON(http.StatusOK, newSkillResponse(*row))
}

// DeleteSkill 删除一条技能。
func (h *SkillHandler) DeleteSkill(c *gin.Context) {
	userID, ok := userIDFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return
	}

	row, err := h.getSkillForUser(c, userID)
	if err != nil {
		return
	}

	if err := h.db.WithContext(c.Request.Context()).Delete(&database.UserSkill{}, row.ID).Error; err != nil {
		Internal(c, "failed to delete skill")
		return
	}
	c.Status(http.StatusNoContent)
}

// getSkillForUser 解析 :id 并校验归属；失败时直接写入响应并返回 error。
func (h *SkillHandler) getSkillForUser(c *gin.Context, userID uint) (*database.UserSkill, error) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || id == 0 {
		BadRequest(c, "invalid skill id")
		return nil, err
	}

	var row database.UserSkill
	if err := h.db.WithContext(c.Request.Context()).
		Where("id = ? AND user_id = ?", uint(id), userID).
		First(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			NotFound(c, "skill not found")
		} else {
			Internal(c, "failed to query skill")
		}
		return nil, err
	}
	return &row, nil
}

func newSkillResponse(row database.UserSkill) skillResponse {
	return skillResponse{
		ID:        row.ID,
		SkillText: row.SkillText,
		SkillType: row.SkillType,
		Source:    row.Source,
		CreatedAt: row.CreatedAt,
	}
}

func toSkillResponses(rows []database.UserSkill) []skillResponse {
	items := make([]skillResponse, 0, len(rows))
	for _, row := range rows {
		items = append(items, newSkillResponse(row))
	}
	return items
}
