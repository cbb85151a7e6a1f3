package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"cvforge/internal/database"
)

// TemplateHandler 负责文档模板的查询与创建。
type TemplateHandler struct {
	db *gorm.DB
}

func NewTemplateHandler(db *gorm.DB) *TemplateHandler {
	return &TemplateHandler{db: db}
}

type createTemplateRequest struct {
	Name            string `json:"name" binding:"required,max=255"`
	Description     string `json:"description"`
	TemplateType    string `json:"template_type" binding:"required,max=50"`
	TemplateContent string `json:"template_content" binding:"required"`
	Style           string `json:"style" binding:"max=100"`
}

type templateListItem struct {
	ID           uint   `json:"id"`
	Name         string `json:"name"`
	Description  string `json:"description,omitempty"`
	TemplateType string `json:"template_type"`
	Style        string `json:"style,omitempty"`
}

type templateDetailResponse struct {
	ID              uint   `json:"id"`
	Name            string `json:"name"`
	Description     string `json:"description,omitempty"`
	TemplateType    string `json:"template_type"`
	TemplateContent string `json:"template_content"`
	Style           string `json:"style,omitempty"`
}

// POST /v1/templates
// 创建模板；名称全局唯一。
func (h *TemplateHandler) CreateTemplate(c *gin.Context) {
	var req createTemplateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, err.Error())
		return
	}

	ctx := c.Request.Context()
	var existing database.Template
	if err := h.db.WithContext(ctx).Where("name = ?", req.Name).First(&existing).Error; err == nil {
		Conflict(c, "template name already exists")
		return
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		Internal(c, "failed to query template")
		return
	}

	model := database.Template{
		Name:            req.Name,
		Description:     req.Description,
		TemplateType:    req.TemplateType,
		TemplateContent: req.TemplateContent,
		Style:           req.Style,
	}
	if err := h.db.WithContext(ctx).Create(&model).Error; err != nil {
		Internal(c, "failed to create template")
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"id":   model.ID,
		"name": model.Name,
	})
}

// GET /v1/templates
func (h *TemplateHandler) ListTemplates(c *gin.Context) {
	var templates []database.Template
	if err := h.db.WithContext(c.Request.Context()).
		Order("id").
		Find(&templates).Error; err != nil {
		Internal(c, "failed to list templates")
		return
	}

	items := make([]templateListItem, 0, len(templates))
	for _, t := range templates {
		items = append(items, templateListItem{
			ID:           t.ID,
			Name:         t.Name,
			Description:  t.Description,
			TemplateType: t.TemplateType,
			Style:        t.Style,
		})
	}
	c.JSON(http.StatusOK, items)
}

// GET /v1/templates/:id
func (h *TemplateHandler) GetTemplate(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || id == 0 {
		BadRequest(c, "invalid template id")
		return
	}

	var model database.Template
	if err := h.db.WithContext(c.Request.Context()).
		First(&model, uint(id)).Error; err != nil {
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			NotFound(c, "template not found")
		default:
			Internal(c, "failed to query template")
		}
		return
	}

	c.JSON(http.StatusOK, templateDetailResponse{
		ID:              model.ID,
		Name:            model.Name,
		Description:     model.Description,
		TemplateType:    model.TemplateType,
		TemplateContent: model.TemplateContent,
		Style:           model.Style,
	})
}
