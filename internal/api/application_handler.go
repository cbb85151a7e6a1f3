package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"cvforge/internal/database"
)

// 申请状态流转是一个简单的闭集。
var applicationStatuses = map[string]struct{}{
	"draft":     {},
	"applied":   {},
	"interview": {},
	"offer":     {},
	"rejected":  {},
}

// ApplicationHandler 负责职位申请记录的增删改查。
type ApplicationHandler struct {
	db *gorm.DB
}

func NewApplicationHandler(db *gorm.DB) *ApplicationHandler {
	return &ApplicationHandler{db: db}
}

type applicationResponse struct {
	ID            uint      `json:"id"`
	JobOfferingID string    `json:"job_offering_id"`
	CVID          *uint     `json:"cv_id,omitempty"`
	Status        string    `json:"status"`
	Notes         string    `json:"notes,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

type createApplicationRequest struct {
	JobOfferingID string `json:"job_offering_id" binding:"required,max=255"`
	CVID          *uint  `json:"cv_id"`
	Status        string `json:"status" binding:"max=50"`
	Notes         string `json:"notes"`
}

// ListApplications 列出当前用户的申请记录，可按状态过滤。
func (h *ApplicationHandler) ListApplications(c *gin.Context) {
	userID, ok := userIDFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return
	}

	query := h.db.WithContext(c.Request.Context()).
		Where("user_id = ?", userID).
		Order("created_at DESC")

	if status := c.Query("status"); status != "" {
		if _, ok := applicationStatuses[status]; !ok {
			BadRequest(c, "invalid status filter")
			return
		}
		query = query.Where("status = ?", status)
	}

	var rows []database.Application
	if err := query.Find(&rows).Error; err != nil {
		Internal(c, "failed to list applications")
		return
	}

	items := make([]applicationResponse, 0, len(rows))
	for _, row := range rows {
		items = append(items, newApplicationResponse(row))
	}
	c.JSON(http.StatusOK, items)
}

// CreateApplication 创建一条申请记录；职位必须已存在。
func (h *ApplicationHandler) CreateApplication(c *gin.Context) {
	userID, ok := userIDFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return
	}

	var req createApplicationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, err.Error())
		return
	}

	status := req.Status
	if status == "" {
		status = "draft"
	}
	if _, ok := applicationStatuses[status]; !ok {
		BadRequest(c, "invalid status")
		return
	}

	ctx := c.Request.Context()
	var offering database.JobOffering
	if err := h.db.WithContext(ctx).First(&offering, "id = ?", req.JobOfferingID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			NotFound(c, "job offering not found")
		} else {
			Internal(c, "failed to query job offering")
		}
		return
	}

	row := database.Application{
		UserID:        userID,
		JobOfferingID: req.JobOfferingID,
		CVID:          req.CVID,
		Status:        status,
		Notes:         req.Notes,
	}
	if err := h.db.WithContext(ctx).Create(&row).Error; err != nil {
		Internal(c, "failed to create application")
		return
	}
	c.JSON(http.StatusCreated, newApplicationResponse(row))
}

// GetApplication 返回指定申请记录。
func (h *ApplicationHandler) GetApplication(c *gin.Context) {
	userID, ok := userIDFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return
	}

	row, err := h.getApplicationForUser(c, userID)
	if err != nil {
		return
	}
	c.JSON(http.StatusOK, newApplicationResponse(*row))
}

type updateApplicationRequest struct {
	CVID   *uint   `json:"cv_id"`
	Status *string `json:"status"`
	Notes  *string `json:"notes"`
}

// UpdateApplication 更新申请状态、备注或关联的 CV。
func (h *ApplicationHandler) UpdateApplication(c *gin.Context) {
	userID, ok := userIDFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return
	}

	row, err := h.getApplicationForUser(c, userID)
	if err != nil {
		return
	}

	var req updateApplicationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, err.Error())
		return
	}

	updates := map[string]any{}
	if req.Status != nil {
		if _, ok := applicationStatuses[*req.Status]; !ok {
			BadRequest(c, "invalid status")
			return
		}
		updates["status"] = *req.Status
	}
	if req.Notes != nil {
		updates["notes"] = *req.Notes
	}
	if req.CVID != nil {
		updates["cv_id"] = *req.CVID
	}
	if len(updates) == 0 {
		c.JSON(http.StatusOK, newApplicationResponse(*row))
		return
	}

	ctx := c.Request.Context()
	if err := h.db.WithContext(ctx).Model(row).Updates(updates).Error; err != nil {
		Internal(c, "failed to update application")
		return
	}
	if err := h.db.WithContext(ctx).First(row, row.ID).Error; err != nil {
		Internal(c, "failed to reload application")
		return
	}
	c.JSON(http.StatusOK, newApplicationResponse(*row))
}

// DeleteApplication 删除申请记录。
func (h *ApplicationHandler) DeleteApplication(c *gin.Context) {
	userID, ok := userIDFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return
	}

	row, err := h.getApplicationForUser(c, userID)
	if err != nil {
		return
	}

	if err := h.db.WithContext(c.Request.Context()).Delete(&database.Application{}, row.ID).Error; err != nil {
		Internal(c, "failed to delete application")
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *ApplicationHandler) getApplicationForUser(c *gin.Context, userID uint) (*database.Application, error) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || id == 0 {
		BadRequest(c, "invalid application id")
		return nil, errors.New("invalid application id")
	}

	var row database.Application
	if err := h.db.WithContext(c.Request.Context()).
		Where("id = ? AND user_id = ?", uint(id), userID).
		First(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			NotFound(c, "application not found")
		} else {
			Internal(c, "failed to query application")
		}
		return nil, err
	}
	return &row, nil
}

func newApplicationResponse(row database.Application) applicationResponse {
	return applicationResponse{
		ID:            row.ID,
		JobOfferingID: row.JobOfferingID,
		CVID:          row.CVID,
		Status:        row.Status,
		Notes:         row.Notes,
		CreatedAt:     row.CreatedAt,
		UpdatedAt:     row.UpdatedAt,
	}
}
