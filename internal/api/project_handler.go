package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"cvforge/internal/database"
)

// ProjectHandler 负责求职项目的增删改查。
type ProjectHandler struct {
	db *gorm.DB
}

func NewProjectHandler(db *gorm.DB) *ProjectHandler {
	return &ProjectHandler{db: db}
}

type projectResponse struct {
	ID          uint              `json:"id"`
	Name        string            `json:"name"`
	TargetRole  string            `json:"target_role"`
	CVStyle     string            `json:"cv_style"`
	Preferences datatypes.JSONMap `json:"preferences"`
	CreatedAt   time.Time         `json:"created_at"`
	UpdatedAt   time.Time         `json:"updated_at"`
}

type createProjectRequest struct {
	Name        string            `json:"name" binding:"required,max=255"`
	TargetRole  string            `json:"target_role" binding:"max=255"`
	CVStyle     string            `json:"cv_style" binding:"max=100"`
	Preferences datatypes.JSONMap `json:"preferences"`
}

// ListProjects 列出当前用户的项目。
func (h *ProjectHandler) ListProjects(c *gin.Context) {
	userID, ok := userIDFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return
	}

	var rows []database.Project
	if err := h.db.WithContext(c.Request.Context()).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Find(&rows).Error; err != nil {
		Internal(c, "failed to list projects")
		return
	}

	items := make([]projectResponse, 0, len(rows))
	for _, row := range rows {
		items = append(items, newProjectResponse(row))
	}
	c.JSON(http.StatusOK, items)
}

// CreateProject 创建一个新项目。
func (h *ProjectHandler) CreateProject(c *gin.Context) {
	userID, ok := userIDFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return
	}

	var req createProjectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, err.Error())
		return
	}

	row := database.Project{
		UserID:      userID,
		Name:        req.Name,
		TargetRole:  req.TargetRole,
		CVStyle:     req.CVStyle,
		Preferences: req.Preferences,
	}
	if err := h.db.WithContext(c.Request.Context()).Create(&row).Error; err != nil {
		Internal(c, "failed to create project")
		return
	}
	c.JSON(http.StatusCreated, newProjectResponse(row))
}

// GetProject 返回指定项目。
func (h *ProjectHandler) GetProject(c *gin.Context) {
	userID, ok := userIDFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return
	}

	row, err := getProjectForUser(c, h.db, userID)
	if err != nil {
		return
	}
	c.JSON(http.StatusOK, newProjectResponse(*row))
}

type updateProjectRequest struct {
	Name        *string            `json:"name"`
	TargetRole  *string            `json:"target_role"`
	CVStyle     *string            `json:"cv_style"`
	Preferences *datatypes.JSONMap `json:"preferences"`
}

// UpdateProject 更新项目字段；Preferences 整体覆盖。
func (h *ProjectHandler) UpdateProject(c *gin.Context) {
	userID, ok := userIDFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return
	}

	row, err := getProjectForUser(c, h.db, userID)
	if err != nil {
		return
	}

	var req updateProjectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, err.Error())
		return
	}

	updates := map[string]any{}
	if req.Name != nil {
		if *req.Name == "" {
			BadRequest(c, "name must not be empty")
			return
		}
		updates["name"] = *req.Name
	}
	if req.TargetRole != nil {
		updates["target_role"] = *req.TargetRole
	}
	if req.CVStyle != nil {
		updates["cv_style"] = *req.CVStyle
	}
	if req.Preferences != nil {
		updates["preferences"] = *req.Preferences
	}
	if len(updates) == 0 {
		c.JSON(http.StatusOK, newProjectResponse(*row))
		return
	}

	ctx := c.Request.Context()
	if err := h.db.WithContext(ctx).Model(row).Updates(updates).Error; err != nil {
		Internal(c, "failed to update project")
		return
	}
	if err := h.db.WithContext(ctx).First(row, row.ID).Error; err != nil {
		Internal(c, "failed to reload project")
		return
	}
	c.JSON(http.StatusOK, newProjectResponse(*row))
}

// DeleteProject 删除项目及其级联的 CV。
func (h *ProjectHandler) DeleteProject(c *gin.Context) {
	userID, ok := userIDFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return
	}

	row, err := getProjectForUser(c, h.db, userID)
	if err != nil {
		return
	}

	ctx := c.Request.Context()
	if err := h.db.WithContext(ctx).Where("project_id = ?", row.ID).Delete(&database.CV{}).Error; err != nil {
		Internal(c, "failed to delete project cvs")
		return
	}
	if err := h.db.WithContext(ctx).Delete(&database.Project{}, row.ID).Error; err != nil {
		Internal(c, "failed to delete project")
		return
	}
	c.Status(http.StatusNoContent)
}

// getProjectForUser 解析 :id 并校验归属；失败时直接写入响应并返回 error。
func getProjectForUser(c *gin.Context, db *gorm.DB, userID uint) (*database.Project, error) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || id == 0 {
		BadRequest(c, "invalid project id")
		return nil, errors.New("invalid project id")
	}

	var row database.Project
	if err := db.WithContext(c.Request.Context()).
		Where("id = ? AND user_id = ?", uint(id), userID).
		First(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			NotFound(c, "project not found")
		} else {
			Internal(c, "failed to query project")
		}
		return nil, err
	}
	return &row, nil
}

func newProjectResponse(row database.Project) projectResponse {
	prefs := row.Preferences
	if prefs == nil {
		prefs = datatypes.JSONMap{}
	}
	return projectResponse{
		ID:          row.ID,
		Name:        row.Name,
		TargetRole:  row.TargetRole,
		CVStyle:     row.CVStyle,
		Preferences: prefs,
		CreatedAt:   row.CreatedAt,
		UpdatedAt:   row.UpdatedAt,
	}
}
