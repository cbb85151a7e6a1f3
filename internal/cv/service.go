// Package cv 编排 CV 的创建、更新、再生成与删除：
// 组装提示词 → 生成结构化内容 → 渲染模板 → 持久化。
package cv

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"cvforge/internal/cvcontent"
	"cvforge/internal/database"
	"cvforge/internal/errs"
	"cvforge/internal/llm"
	"cvforge/internal/prompt"
	"cvforge/internal/render"
	"cvforge/internal/skills"
	"cvforge/internal/tasks"
)

// preferenceJobOfferingKey 是项目偏好中指向目标职位的键。
const preferenceJobOfferingKey = "job_offering_id"

// Service 是 CV 生命周期的唯一入口；持久化行只通过这里的操作变更。
type Service struct {
	db          *gorm.DB
	generator   llm.Generator
	asynqClient *asynq.Client
	logger      *slog.Logger
	locks       *idLocks
}

// NewService 构造生命周期服务。asynqClient 可为 nil，此时跳过产物编译入队。
func NewService(db *gorm.DB, generator llm.Generator, asynqClient *asynq.Client, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		db:          db,
		generator:   generator,
		asynqClient: asynqClient,
		logger:      logger,
		locks:       newIDLocks(),
	}
}

// CreateInput 描述一次创建请求。
type CreateInput struct {
	ProjectID     uint
	TemplateID    uint
	BaseCVID      *uint
	Messages      []prompt.Message
	CorrelationID string
}

// UpdateInput 描述一次手工更新。Content 与 Messages 均可为空；
// 两者都为空时操作是幂等的空操作。
type UpdateInput struct {
	Content  datatypes.JSON
	Messages []prompt.Message
}

// Create 执行完整的生成流水线并持久化一条新 CV。
// 任何引用缺失都会在外呼之前失败；生成或渲染失败时不会留下半写的行。
func (s *Service) Create(ctx context.Context, in CreateInput) (*database.CV, error) {
	var template database.Template
	if err := s.db.WithContext(ctx).First(&template, in.TemplateID).Error; err != nil {
		return nil, lookupError(err, "template %d", in.TemplateID)
	}

	var project database.Project
	if err := s.db.WithContext(ctx).First(&project, in.ProjectID).Error; err != nil {
		return nil, lookupError(err, "project %d", in.ProjectID)
	}

	var user database.User
	if err := s.db.WithContext(ctx).First(&user, project.UserID).Error; err != nil {
		return nil, lookupError(err, "user %d", project.UserID)
	}

	var baseContent string
	if in.BaseCVID != nil {
		var baseCV database.CV
		if err := s.db.WithContext(ctx).First(&baseCV, *in.BaseCVID).Error; err != nil {
			return nil, lookupError(err, "base cv %d", *in.BaseCVID)
		}
		baseContent = string(baseCV.Content)
	}

	history, err := normalizeHistory(in.Messages, time.Now())
	if err != nil {
		return nil, err
	}
	// 空历史以一条合成的"生成专业 CV"指令作为种子。
	if len(history) == 0 {
		history = prompt.DefaultHistory(time.Now())
	}

	assembled, err := s.assemblePrompt(ctx, user, project, baseContent, history)
	if err != nil {
		return nil, err
	}

	content, rendered, err := s.generateAndRender(ctx, assembled, template)
	if err != nil {
		return nil, err
	}

	contentBlob, err := content.ToJSON()
	if err != nil {
		return nil, err
	}
	historyBlob, err := encodeHistory(history)
	if err != nil {
		return nil, err
	}

	record := database.CV{
		ProjectID:           in.ProjectID,
		TemplateID:          in.TemplateID,
		BaseCVID:            in.BaseCVID,
		Content:             contentBlob,
		RenderedContent:     rendered,
		ConversationHistory: historyBlob,
	}
	if err := s.db.WithContext(ctx).Create(&record).Error; err != nil {
		return nil, fmt.Errorf("create cv: %w", err)
	}

	s.enqueueCompile(record.ID, in.CorrelationID)
	return &record, nil
}

// Get 返回指定 CV；不存在时返回 ErrNotFound。
func (s *Service) Get(ctx context.Context, id uint) (*database.CV, error) {
	var record database.CV
	if err := s.db.WithContext(ctx).First(&record, id).Error; err != nil {
		return nil, lookupError(err, "cv %d", id)
	}
	return &record, nil
}

// ListByProject 返回项目下的全部 CV。
func (s *Service) ListByProject(ctx context.Context, projectID uint) ([]database.CV, error) {
	var records []database.CV
	if err := s.db.WithContext(ctx).
		Where("project_id = ?", projectID).
		Order("created_at").
		Find(&records).Error; err != nil {
		return nil, fmt.Errorf("list cvs for project %d: %w", projectID, err)
	}
	return records, nil
}

// Update 直接覆盖 content 和/或向历史追加消息，不触发生成。
// content 变更时用既有模板重新渲染；渲染失败会中止整个更新。
func (s *Service) Update(ctx context.Context, id uint, in UpdateInput) (*database.CV, error) {
	record, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	updates := map[string]any{}

	if in.Content != nil {
		data, err := cvcontent.MapFromJSON(in.Content)
		if err != nil {
			return nil, errs.Validationf("content is not a valid object: %v", err)
		}

		var template database.Template
		if err := s.db.WithContext(ctx).First(&template, record.TemplateID).Error; err != nil {
			return nil, lookupError(err, "template %d", record.TemplateID)
		}
		rendered, err := render.Render(template.TemplateContent, data)
		if err != nil {
			return nil, err
		}

		updates["content"] = in.Content
		updates["rendered_content"] = rendered
	}

	if len(in.Messages) > 0 {
		appended, err := normalizeHistory(in.Messages, time.Now())
		if err != nil {
			return nil, err
		}
		history, err := decodeHistory(record.ConversationHistory)
		if err != nil {
			return nil, err
		}
		historyBlob, err := encodeHistory(append(history, appended...))
		if err != nil {
			return nil, err
		}
		updates["conversation_history"] = historyBlob
	}

	if len(updates) == 0 {
		return record, nil
	}

	if err := s.db.WithContext(ctx).Model(record).Updates(updates).Error; err != nil {
		return nil, fmt.Errorf("update cv %d: %w", id, err)
	}
	if err := s.db.WithContext(ctx).First(record, id).Error; err != nil {
		return nil, fmt.Errorf("reload cv %d: %w", id, err)
	}
	return record, nil
}

// Regenerate 追加新消息后以累计历史重跑生成流水线。
// 同一 CV 的再生成按 id 串行，避免交错的历史追加。
func (s *Service) Regenerate(ctx context.Context, id uint, messages []prompt.Message, correlationID string) (*database.CV, error) {
	release := s.locks.acquire(id)
	defer release()

	record, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	var template database.Template
	if err := s.db.WithContext(ctx).First(&template, record.TemplateID).Error; err != nil {
		return nil, lookupError(err, "template %d", record.TemplateID)
	}
	var project database.Project
	if err := s.db.WithContext(ctx).First(&project, record.ProjectID).Error; err != nil {
		return nil, lookupError(err, "project %d", record.ProjectID)
	}
	var user database.User
	if err := s.db.WithContext(ctx).First(&user, project.UserID).Error; err != nil {
		return nil, lookupError(err, "user %d", project.UserID)
	}

	appended, err := normalizeHistory(messages, time.Now())
	if err != nil {
		return nil, err
	}
	prior, err := decodeHistory(record.ConversationHistory)
	if err != nil {
		return nil, err
	}
	history := append(prior, appended...)

	// 再生成时 CV 以自身内容作为基底上下文。
	assembled, err := s.assemblePrompt(ctx, user, project, string(record.Content), history)
	if err != nil {
		return nil, err
	}

	content, rendered, err := s.generateAndRender(ctx, assembled, template)
	if err != nil {
		return nil, err
	}

	contentBlob, err := content.ToJSON()
	if err != nil {
		return nil, err
	}
	historyBlob, err := encodeHistory(history)
	if err != nil {
		return nil, err
	}

	updates := map[string]any{
		"content":              contentBlob,
		"rendered_content":     rendered,
		"conversation_history": historyBlob,
	}
	if err := s.db.WithContext(ctx).Model(record).Updates(updates).Error; err != nil {
		return nil, fmt.Errorf("update cv %d: %w", id, err)
	}
	if err := s.db.WithContext(ctx).First(record, id).Error; err != nil {
		return nil, fmt.Errorf("reload cv %d: %w", id, err)
	}

	s.enqueueCompile(record.ID, correlationID)
	return record, nil
}

// Delete 删除指定 CV，并级联删除所有以它为基底派生出的 CV。
// 返回被删行的产物路径，便于调用方清理对象存储。
func (s *Service) Delete(ctx context.Context, id uint) ([]string, error) {
	if _, err := s.Get(ctx, id); err != nil {
		return nil, err
	}

	// 派生链是单向无环的，迭代展开避免深链上的递归。
	doomed := []uint{id}
	frontier := []uint{id}
	for len(frontier) > 0 {
		var children []uint
		if err := s.db.WithContext(ctx).
			Model(&database.CV{}).
			Where("base_cv_id IN ?", frontier).
			Pluck("id", &children).Error; err != nil {
			return nil, fmt.Errorf("collect derived cvs: %w", err)
		}
		doomed = append(doomed, children...)
		frontier = children
	}

	var compiledPaths []string
	if err := s.db.WithContext(ctx).
		Model(&database.CV{}).
		Where("id IN ? AND compiled_path <> ''", doomed).
		Pluck("compiled_path", &compiledPaths).Error; err != nil {
		return nil, fmt.Errorf("collect compiled paths: %w", err)
	}

	if err := s.db.WithContext(ctx).Delete(&database.CV{}, doomed).Error; err != nil {
		return nil, fmt.Errorf("delete cvs %v: %w", doomed, err)
	}
	return compiledPaths, nil
}

// assemblePrompt 汇集提示词输入。所有查找都在外呼生成服务之前完成。
func (s *Service) assemblePrompt(ctx context.Context, user database.User, project database.Project, baseContent string, history []prompt.Message) (string, error) {
	var skillRows []database.UserSkill
	if err := s.db.WithContext(ctx).
		Where("user_id = ?", user.ID).
		Order("id").
		Find(&skillRows).Error; err != nil {
		return "", fmt.Errorf("load skills for user %d: %w", user.ID, err)
	}
	grouped, err := skills.Group(skillRows)
	if err != nil {
		return "", err
	}

	var profile *database.UserProfile
	var profileRow database.UserProfile
	switch err := s.db.WithContext(ctx).Where("user_id = ?", user.ID).First(&profileRow).Error; {
	case err == nil:
		profile = &profileRow
	case errors.Is(err, gorm.ErrRecordNotFound):
	default:
		return "", fmt.Errorf("load profile for user %d: %w", user.ID, err)
	}

	var offering *database.JobOffering
	if raw, ok := project.Preferences[preferenceJobOfferingKey]; ok {
		offeringID, ok := raw.(string)
		if !ok || offeringID == "" {
			return "", errs.Validationf("project preference %q must be a non-empty string", preferenceJobOfferingKey)
		}
		var row database.JobOffering
		if err := s.db.WithContext(ctx).First(&row, "id = ?", offeringID).Error; err != nil {
			return "", lookupError(err, "job offering %q", offeringID)
		}
		offering = &row
	}

	return prompt.Build(prompt.Input{
		User:          user,
		Profile:       profile,
		Skills:        grouped,
		Project:       project,
		BaseCVContent: baseContent,
		JobOffering:   offering,
		History:       history,
	}), nil
}

// generateAndRender 执行一次生成外呼并渲染结果。
// 每个逻辑请求恰好调用生成服务一次。
func (s *Service) generateAndRender(ctx context.Context, assembled string, template database.Template) (*cvcontent.Content, string, error) {
	content, err := s.generator.GenerateCVContent(ctx, assembled)
	if err != nil {
		return nil, "", err
	}

	data, err := content.ToMap()
	if err != nil {
		return nil, "", err
	}
	rendered, err := render.Render(template.TemplateContent, data)
	if err != nil {
		return nil, "", err
	}
	return content, rendered, nil
}

// enqueueCompile 把产物编译任务入队；入队失败只记录日志，不影响主流程。
func (s *Service) enqueueCompile(cvID uint, correlationID string) {
	if s.asynqClient == nil {
		return
	}
	task, err := tasks.NewCVCompileTask(cvID, correlationID)
	if err != nil {
		s.logger.Error("build compile task failed", slog.Any("error", err), slog.Uint64("cv_id", uint64(cvID)))
		return
	}
	if _, err := s.asynqClient.Enqueue(task, asynq.MaxRetry(5)); err != nil {
		s.logger.Error("enqueue compile task failed", slog.Any("error", err), slog.Uint64("cv_id", uint64(cvID)))
	}
}

func normalizeHistory(messages []prompt.Message, now time.Time) ([]prompt.Message, error) {
	normalized := make([]prompt.Message, 0, len(messages))
	for i, msg := range messages {
		if msg.Role != "user" && msg.Role != "assistant" {
			return nil, errs.Validationf("message %d has invalid role %q", i, msg.Role)
		}
		if msg.Content == "" {
			return nil, errs.Validationf("message %d has empty content", i)
		}
		if msg.Timestamp == "" {
			msg.Timestamp = now.UTC().Format(time.RFC3339)
		}
		normalized = append(normalized, msg)
	}
	return normalized, nil
}

// decodeHistory 解码存储的对话历史。损坏的 blob 是数据缺陷，
// 必须报错而不是静默丢弃已有轮次。
func decodeHistory(blob datatypes.JSON) ([]prompt.Message, error) {
	if len(blob) == 0 {
		return nil, nil
	}
	var history []prompt.Message
	if err := json.Unmarshal(blob, &history); err != nil {
		return nil, fmt.Errorf("decode conversation history: %w", err)
	}
	return history, nil
}

func encodeHistory(history []prompt.Message) (datatypes.JSON, error) {
	data, err := json.Marshal(history)
	if err != nil {
		return nil, fmt.Errorf("marshal conversation history: %w", err)
	}
	return datatypes.JSON(data), nil
}

func lookupError(err error, format string, args ...any) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return errs.NotFoundf(format+" not found", args...)
	}
	return fmt.Errorf("query "+format+": %w", append(args, err)...)
}
