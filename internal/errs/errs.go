package errs

import (
	"errors"
	"fmt"
)

// 领域错误分类。Handler 层据此映射 HTTP 状态码：
// - ErrNotFound → 404
// - ErrValidation → 400
// - ErrGeneration / ErrTemplateRender → 500
var (
	ErrNotFound       = errors.New("not found")
	ErrValidation     = errors.New("validation failed")
	ErrGeneration     = errors.New("generation failed")
	ErrTemplateRender = errors.New("template render failed")
)

// NotFoundf 构造带上下文的 ErrNotFound。
func NotFoundf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrNotFound, fmt.Sprintf(format, args...))
}

// Validationf 构造带上下文的 ErrValidation。
func Validationf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// Generationf 构造带上下文的 ErrGeneration。
func Generationf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrGeneration, fmt.Sprintf(format, args...))
}

// TemplateRenderf 构造带上下文的 ErrTemplateRender。
func TemplateRenderf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrTemplateRender, fmt.Sprintf(format, args...))
}
