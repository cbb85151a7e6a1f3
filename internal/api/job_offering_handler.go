package api

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"cvforge/internal/database"
)

// JobOfferingHandler 负责职位信息的查询与写入。
// 职位由外部抓取流程灌入，这里提供检索与幂等 upsert。
type JobOfferingHandler struct {
	db *gorm.DB
}

func NewJobOfferingHandler(db *gorm.DB) *JobOfferingHandler {
	return &JobOfferingHandler{db: db}
}

type jobOfferingResponse struct {
	ID          string            `json:"id"`
	Keyword     string            `json:"keyword,omitempty"`
	CompanyName string            `json:"company_name"`
	Description string            `json:"description,omitempty"`
	URL         string            `json:"url,omitempty"`
	Salary      string            `json:"salary,omitempty"`
	RoleName    string            `json:"role_name"`
	Location    string            `json:"location,omitempty"`
	WorkMode    string            `json:"work_mode,omitempty"`
	Type        string            `json:"type,omitempty"`
	PostDate    *time.Time        `json:"post_date,omitempty"`
	Sectors     string            `json:"sectors,omitempty"`
	ExtraData   datatypes.JSONMap `json:"extra_data,omitempty"`
}

// ListJobOfferings 检索职位：keyword 精确匹配，search 对公司/职位名做 ilike。
func (h *JobOfferingHandler) ListJobOfferings(c *gin.Context) {
	query := h.db.WithContext(c.Request.Context()).Model(&database.JobOffering{})

	if keyword := strings.TrimSpace(c.Query("keyword")); keyword != "" {
		query = query.Where("keyword = ?", keyword)
	}
	if search := strings.TrimSpace(c.Query("search")); search != "" {
		pattern := "%" + search + "%"
		query = query.Where("company_name ILIKE ? OR role_name ILIKE ?", pattern, pattern)
	}

	limit := 50
	if raw := c.Query("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 && parsed <= 200 {
			limit = parsed
		}
	}

	var rows []database.JobOffering
	if err := query.Order("created_at DESC").Limit(limit).Find(&rows).Error; err != nil {
		Internal(c, "failed to list job offerings")
		return
	}

	items := make([]jobOfferingResponse, 0, len(rows))
	for _, row := range rows {
		items = append(items, newJobOfferingResponse(row))
	}
	c.JSON(http.StatusOK, items)
}

// GetJobOffering 返回指定职位。
func (h *JobOfferingHandler) GetJobOffering(c *gin.Context) {
	id := strings.TrimSpace(c.Param("id"))
	if id == "" {
		BadRequest(c, "invalid job offering id")
		return
	}

	var row database.JobOffering
	if err := h.db.WithContext(c.Request.Context()).
		First(&row, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			NotFound(c, "job offering not found")
		} else {
			Internal(c, "failed to query job offering")
		}
		return
	}
	c.JSON(http.StatusOK, newJobOfferingResponse(row))
}

type upsertJobOfferingRequest struct {
	Keyword     string            `json:"keyword" binding:"max=255"`
	CompanyName string            `json:"company_name" binding:"required,max=500"`
	Description string            `json:"description"`
	URL         string            `json:"url" binding:"max=1000"`
	Salary      string            `json:"salary" binding:"max=255"`
	RoleName    string            `json:"role_name" binding:"required,max=500"`
	Location    string            `json:"location" binding:"max=255"`
	WorkMode    string            `json:"work_mode" binding:"max=100"`
	Type        string            `json:"type" binding:"max=100"`
	PostDate    *time.Time        `json:"post_date"`
	Sectors     string            `json:"sectors" binding:"max=500"`
	ExtraData   datatypes.JSONMap `json:"extra_data"`
}

// UpsertJobOffering 按来源侧 ID 幂等写入职位信息。
func (h *JobOfferingHandler) UpsertJobOffering(c *gin.Context) {
	id := strings.TrimSpace(c.Param("id"))
	if id == "" {
		BadRequest(c, "invalid job offering id")
		return
	}

	var req upsertJobOfferingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, err.Error())
		return
	}

	row := database.JobOffering{
		ID:          id,
		Keyword:     req.Keyword,
		CompanyName: req.CompanyName,
		Description: req.Description,
		URL:         req.URL,
		Salary:      req.Salary,
		RoleName:    req.RoleName,
		Location:    req.Location,
		WorkMode:    req.WorkMode,
		Type:        req.Type,
		PostDate:    req.PostDate,
		Sectors:     req.Sectors,
		ExtraData:   req.ExtraData,
	}

	if err := h.db.WithContext(c.Request.Context()).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			UpdateAll: true,
		}).
		Create(&row).Error; err != nil {
		Internal(c, "failed to upsert job offering")
		return
	}

	c.JSON(http.StatusOK, newJobOfferingResponse(row))
}

func newJobOfferingResponse(row database.JobOffering) jobOfferingResponse {
	return jobOfferingResponse{
		ID:          row.ID,
		Keyword:     row.Keyword,
		CompanyName: row.CompanyName,
		Description: row.Description,
		URL:         row.URL,
		Salary:      row.Salary,
		RoleName:    row.RoleName,
		Location:    row.Location,
		WorkMode:    row.WorkMode,
		Type:        row.Type,
		PostDate:    row.PostDate,
		Sectors:     row.Sectors,
		ExtraData:   row.ExtraData,
	}
}
