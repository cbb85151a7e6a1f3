package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"cvforge/internal/database"
	"cvforge/internal/pdf"
	"cvforge/internal/storage"
	"cvforge/internal/tasks"
)

// CompileTaskHandler 消费 cv:compile 任务：把渲染好的文档
// 编译成可下载的产物并上传到对象存储。
type CompileTaskHandler struct {
	db          *gorm.DB
	storage     *storage.Client
	redisClient *redis.Client
	logger      *slog.Logger
}

// NewCompileTaskHandler 创建任务处理器。
func NewCompileTaskHandler(db *gorm.DB, storageClient *storage.Client, redisClient *redis.Client, logger *slog.Logger) *CompileTaskHandler {
	return &CompileTaskHandler{
		db:          db,
		storage:     storageClient,
		redisClient: redisClient,
		logger:      logger,
	}
}

// ProcessTask 实现 asynq.Handler。
func (h *CompileTaskHandler) ProcessTask(ctx context.Context, t *asynq.Task) (retErr error) {
	log := h.logger

	var payload tasks.CVCompilePayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		log.Error("unmarshal task payload failed", slog.Any("error", err))
		return err
	}

	log = log.With(
		slog.String("correlation_id", payload.CorrelationID),
		slog.Uint64("cv_id", uint64(payload.CVID)),
	)
	log.Info("starting cv compile task")

	var record database.CV
	if err := h.db.WithContext(ctx).First(&record, payload.CVID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			// CV 在入队后被删除属正常情况，任务直接完结。
			log.Warn("cv not found, skipping task")
			return nil
		}
		log.Error("query cv failed", slog.Any("error", err))
		return err
	}

	var project database.Project
	if err := h.db.WithContext(ctx).First(&project, record.ProjectID).Error; err != nil {
		log.Error("query project failed", slog.Any("error", err))
		return err
	}
	log = log.With(slog.Uint64("user_id", uint64(project.UserID)))

	defer func() {
		if retErr == nil {
			return
		}
		if !isFinalAsynqAttempt(ctx) {
			return
		}

		notify := CVCompileNotifyMessage{
			Status:        "error",
			CVID:          record.ID,
			CorrelationID: payload.CorrelationID,
			ErrorMessage:  strings.TrimSpace(retErr.Error()),
		}
		if err := h.publishCompileNotify(ctx, project.UserID, notify); err != nil {
			log.Error("publish compile error notification failed", slog.Any("error", err))
		}
	}()

	var template database.Template
	if err := h.db.WithContext(ctx).First(&template, record.TemplateID).Error; err != nil {
		log.Error("query template failed", slog.Any("error", err))
		return err
	}

	artifact, objectName, contentType, err := h.compileArtifact(record, template, project.UserID)
	if err != nil {
		log.Error("compile artifact failed", slog.Any("error", err))
		return err
	}

	reader := bytes.NewReader(artifact)
	if _, err := h.storage.UploadFile(ctx, objectName, reader, int64(len(artifact)), contentType); err != nil {
		log.Error("upload artifact to minio failed", slog.Any("error", err))
		return err
	}

	if err := h.db.WithContext(ctx).Model(&record).Update("compiled_path", objectName).Error; err != nil {
		log.Error("update cv compiled path failed", slog.Any("error", err))
		return err
	}

	notify := CVCompileNotifyMessage{
		Status:        "completed",
		CVID:          record.ID,
		CompiledPath:  objectName,
		CorrelationID: payload.CorrelationID,
	}
	if err := h.publishCompileNotify(ctx, project.UserID, notify); err != nil {
		log.Error("publish redis notification failed", slog.Any("error", err))
		return err
	}

	log.Info("cv compile task completed", slog.String("object", objectName))
	return nil
}

// compileArtifact 按模板类型产出最终文件。
// html 模板走无头浏览器打印成 PDF；typst 等其余类型直接上传渲染后的源文件，
// 由下游工具链编译。
func (h *CompileTaskHandler) compileArtifact(record database.CV, template database.Template, userID uint) (data []byte, objectName, contentType string, err error) {
	switch strings.ToLower(strings.TrimSpace(template.TemplateType)) {
	case "html":
		pdfBytes, err := pdf.GeneratePDFFromHTML(record.RenderedContent)
		if err != nil {
			return nil, "", "", fmt.Errorf("print html to pdf: %w", err)
		}
		objectName = fmt.Sprintf("compiled-cvs/%d/%s.pdf", userID, uuid.NewString())
		return pdfBytes, objectName, "application/pdf", nil
	case "typst":
		objectName = fmt.Sprintf("compiled-cvs/%d/%s.typ", userID, uuid.NewString())
		return []byte(record.RenderedContent), objectName, "text/plain; charset=utf-8", nil
	default:
		objectName = fmt.Sprintf("compiled-cvs/%d/%s.txt", userID, uuid.NewString())
		return []byte(record.RenderedContent), objectName, "text/plain; charset=utf-8", nil
	}
}

func (h *CompileTaskHandler) publishCompileNotify(ctx context.Context, userID uint, notify CVCompileNotifyMessage) error {
	data, err := json.Marshal(notify)
	if err != nil {
		return fmt.Errorf("marshal notification payload: %w", err)
	}
	channel := fmt.Sprintf("user_notify:%d", userID)
	if err := h.redisClient.Publish(ctx, channel, data).Err(); err != nil {
		return fmt.Errorf("publish redis notification to %q: %w", channel, err)
	}
	return nil
}

func isFinalAsynqAttempt(ctx context.Context) bool {
	retryCount, ok1 := asynq.GetRetryCount(ctx)
	maxRetry, ok2 := asynq.GetMaxRetry(ctx)
	if !ok1 || !ok2 {
		return false
	}
	return retryCount >= maxRetry
}
