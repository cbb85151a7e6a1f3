package prompt

import (
	"encoding/json"
	"html"
	"regexp"
	"strings"

	"github.com/microcosm-cc/bluemonday"
	"gorm.io/datatypes"
)

var (
	stripPolicy      = bluemonday.StrictPolicy()
	// \s 只覆盖 ASCII 空白，&nbsp; 解码出的 U+00A0 需要单独列出。
	whitespaceRegexp = regexp.MustCompile(`[\s\x{00A0}]+`)
)

// StripHTML 清洗职位描述中的 HTML：去标签、解码实体、折叠空白。
// 抓取来源的描述常带完整页面标记，直接拼进提示词会干扰模型。
func StripHTML(raw string) string {
	if raw == "" {
		return ""
	}
	text := stripPolicy.Sanitize(raw)
	text = html.UnescapeString(text)
	text = whitespaceRegexp.ReplaceAllString(text, " ")
	return strings.TrimSpace(text)
}

func decodeLanguages(blob datatypes.JSON) []string {
	if len(blob) == 0 {
		return nil
	}
	var languages []string
	if err := json.Unmarshal(blob, &languages); err != nil {
		return nil
	}
	return languages
}
