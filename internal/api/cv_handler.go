package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"cvforge/internal/api/middleware"
	"cvforge/internal/cv"
	"cvforge/internal/database"
	"cvforge/internal/prompt"
	"cvforge/internal/storage"
)

// CVHandler 负责 CV 生命周期相关的 API 请求。
type CVHandler struct {
	db      *gorm.DB
	service *cv.Service
	storage *storage.Client
}

// NewCVHandler 构造 CVHandler。storageClient 可为 nil（测试场景）。
func NewCVHandler(db *gorm.DB, service *cv.Service, storageClient *storage.Client) *CVHandler {
	return &CVHandler{
		db:      db,
		service: service,
		storage: storageClient,
	}
}

type createCVRequest struct {
	TemplateID uint             `json:"template_id" binding:"required"`
	BaseCVID   *uint            `json:"base_cv_id"`
	Messages   []prompt.Message `json:"messages"`
}

type cvResponse struct {
	ID                  uint           `json:"id"`
	ProjectID           uint           `json:"project_id"`
	TemplateID          uint           `json:"template_id"`
	BaseCVID            *uint          `json:"base_cv_id,omitempty"`
	Content             datatypes.JSON `json:"content"`
	RenderedContent     string         `json:"rendered_content"`
	CompiledPath        string         `json:"compiled_path,omitempty"`
	ConversationHistory datatypes.JSON `json:"conversation_history"`
	CreatedAt           time.Time      `json:"created_at"`
	UpdatedAt           time.Time      `json:"updated_at"`
}

type cvListItem struct {
	ID         uint      `json:"id"`
	TemplateID uint      `json:"template_id"`
	BaseCVID   *uint     `json:"base_cv_id,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// CreateCV 在项目下触发一次完整的生成流水线。
func (h *CVHandler) CreateCV(c *gin.Context) {
	userID, ok := userIDFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return
	}

	project, err := getProjectForUser(c, h.db, userID)
	if err != nil {
		return
	}

	var req createCVRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, err.Error())
		return
	}

	// 基底 CV 必须属于当前用户。
	if req.BaseCVID != nil {
		if _, err := h.getCVForUser(c, *req.BaseCVID, userID); err != nil {
			return
		}
	}

	record, err := h.service.Create(c.Request.Context(), cv.CreateInput{
		ProjectID:     project.ID,
		TemplateID:    req.TemplateID,
		BaseCVID:      req.BaseCVID,
		Messages:      req.Messages,
		CorrelationID: middleware.GetCorrelationID(c),
	})
	if err != nil {
		FromError(c, err)
		return
	}

	c.JSON(http.StatusCreated, newCVResponse(*record))
}

// ListCVs 列出项目下的全部 CV。
func (h *CVHandler) ListCVs(c *gin.Context) {
	userID, ok := userIDFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return
	}

	project, err := getProjectForUser(c, h.db, userID)
	if err != nil {
		return
	}

	records, err := h.service.ListByProject(c.Request.Context(), project.ID)
	if err != nil {
		FromError(c, err)
		return
	}

	items := make([]cvListItem, 0, len(records))
	for _, record := range records {
		items = append(items, cvListItem{
			ID:         record.ID,
			TemplateID: record.TemplateID,
			BaseCVID:   record.BaseCVID,
			CreatedAt:  record.CreatedAt,
			UpdatedAt:  record.UpdatedAt,
		})
	}
	c.JSON(http.StatusOK, items)
}

// GetCV 返回指定 CV 的完整内容。
func (h *CVHandler) GetCV(c *gin.Context) {
	userID, ok := userIDFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return
	}

	id, ok := parseCVID(c)
	if !ok {
		return
	}

	record, err := h.getCVForUser(c, id, userID)
	if err != nil {
		return
	}
	c.JSON(http.StatusOK, newCVResponse(*record))
}

type updateCVRequest struct {
	Content  datatypes.JSON   `json:"content"`
	Messages []prompt.Message `json:"messages"`
}

// UpdateCV 手工覆盖内容或追加对话消息，不触发生成。
func (h *CVHandler) UpdateCV(c *gin.Context) {
	userID, ok := userIDFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return
	}

	id, ok := parseCVID(c)
	if !ok {
		return
	}
	if _, err := h.getCVForUser(c, id, userID); err != nil {
		return
	}

	var req updateCVRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, err.Error())
		return
	}

	record, err := h.service.Update(c.Request.Context(), id, cv.UpdateInput{
		Content:  req.Content,
		Messages: req.Messages,
	})
	if err != nil {
		FromError(c, err)
		return
	}
	c.JSON(http.StatusOK, newCVResponse(*record))
}

type regenerateCVRequest struct {
	Messages []prompt.Message `json:"messages"`
}

// RegenerateCV 追加消息后重跑生成流水线。
func (h *CVHandler) RegenerateCV(c *gin.Context) {
	userID, ok := userIDFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return
	}

	id, ok := parseCVID(c)
	if !ok {
		return
	}
	if _, err := h.getCVForUser(c, id, userID); err != nil {
		return
	}

	var req regenerateCVRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, err.Error())
		return
	}

	record, err := h.service.Regenerate(c.Request.Context(), id, req.Messages, middleware.GetCorrelationID(c))
	if err != nil {
		FromError(c, err)
		return
	}
	c.JSON(http.StatusOK, newCVResponse(*record))
}

// DeleteCV 删除 CV 及其派生链，并清理对象存储中的产物。
func (h *CVHandler) DeleteCV(c *gin.Context) {
	userID, ok := userIDFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return
	}

	id, ok := parseCVID(c)
	if !ok {
		return
	}
	if _, err := h.getCVForUser(c, id, userID); err != nil {
		return
	}

	ctx := c.Request.Context()
	compiledPaths, err := h.service.Delete(ctx, id)
	if err != nil {
		FromError(c, err)
		return
	}

	// 产物清理失败不影响删除结果，留给对象存储的生命周期策略兜底。
	if h.storage != nil {
		logger := middleware.LoggerFromContext(c)
		for _, path := range compiledPaths {
			if err := h.storage.DeleteObject(ctx, path); err != nil {
				logger.Warn("delete compiled artifact failed", "path", path, "error", err)
			}
		}
	}

	c.Status(http.StatusNoContent)
}

// GetDownloadLink 生成编译产物的预签名下载链接。
func (h *CVHandler) GetDownloadLink(c *gin.Context) {
	userID, ok := userIDFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return
	}

	id, ok := parseCVID(c)
	if !ok {
		return
	}

	record, err := h.getCVForUser(c, id, userID)
	if err != nil {
		return
	}

	if record.CompiledPath == "" {
		Conflict(c, "compiled artifact not ready")
		return
	}
	if h.storage == nil {
		Internal(c, "artifact storage is not configured")
		return
	}

	signedURL, err := h.storage.GeneratePresignedURL(c.Request.Context(), record.CompiledPath, 5*time.Minute)
	if err != nil {
		Internal(c, "failed to generate download link")
		return
	}
	c.JSON(http.StatusOK, gin.H{"url": signedURL})
}

// getCVForUser 加载 CV 并校验其所属项目归当前用户；失败时直接写入响应。
func (h *CVHandler) getCVForUser(c *gin.Context, id uint, userID uint) (*database.CV, error) {
	var record database.CV
	err := h.db.WithContext(c.Request.Context()).
		Joins("JOIN projects ON projects.id = cvs.project_id").
		Where("cvs.id = ? AND projects.user_id = ?", id, userID).
		First(&record).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			NotFound(c, "cv not found")
		} else {
			Internal(c, "failed to query cv")
		}
		return nil, err
	}
	return &record, nil
}

func parseCVID(c *gin.Context) (uint, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || id == 0 {
		BadRequest(c, "invalid cv id")
		return 0, false
	}
	return uint(id), true
}

func newCVResponse(record database.CV) cvResponse {
	return cvResponse{
		ID:                  record.ID,
		ProjectID:           record.ProjectID,
		TemplateID:          record.TemplateID,
		BaseCVID:            record.BaseCVID,
		Content:             record.Content,
		RenderedContent:     record.RenderedContent,
		CompiledPath:        record.CompiledPath,
		ConversationHistory: record.ConversationHistory,
		CreatedAt:           record.CreatedAt,
		UpdatedAt:           record.UpdatedAt,
	}
}
