package llm

import (
	"context"

	"cvforge/internal/cvcontent"
)

// Generator 抽象 CV 内容生成调用，便于测试注入。
// 返回值要么完整满足 cvcontent 契约，要么报错；没有部分结果。
type Generator interface {
	GenerateCVContent(ctx context.Context, prompt string) (*cvcontent.Content, error)
}

// Completer 抽象一次自由文本补全调用（画像抽取等场景使用）。
type Completer interface {
	Complete(ctx context.Context, prompt string) (string, error)
}
