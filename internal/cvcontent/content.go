package cvcontent

import (
	"encoding/json"
	"fmt"

	"gorm.io/datatypes"

	"cvforge/internal/errs"
)

// Content 是生成步骤必须满足的结构化输出契约。
// 校验是全有或全无的：任何必填字段缺失都会拒绝整个结果。
type Content struct {
	Firstname    string       `json:"firstname"`
	Lastname     string       `json:"lastname"`
	Email        string       `json:"email"`
	Phone        string       `json:"phone"`
	// 可选字段不加 omitempty：渲染映射里必须始终有这两个键，
	// 否则引用它们的模板会因数据差异时有时无地失败。
	Github       string       `json:"github"`
	Linkedin     string       `json:"linkedin"`
	Address      string       `json:"address"`
	Summary      string       `json:"summary"`
	Experiences  []Experience `json:"experiences"`
	Education    []Education  `json:"education"`
	Skills       []SkillGroup `json:"skills"`
	ChatResponse string       `json:"chat_response"`
}

// Experience 是一条工作经历。
type Experience struct {
	Title       string `json:"title"`
	Company     string `json:"company"`
	Date        string `json:"date"`
	Description string `json:"description"`
}

// Education 是一条教育经历。
type Education struct {
	Degree      string `json:"degree"`
	Institution string `json:"institution"`
	Date        string `json:"date"`
	Description string `json:"description"`
}

// SkillGroup 是一个技能分组，SkillList 为逗号连接的技能文本。
type SkillGroup struct {
	Category  string `json:"category"`
	SkillList string `json:"skill_list"`
}

// Validate 检查契约的必填字段。
func (c *Content) Validate() error {
	required := map[string]string{
		"firstname":     c.Firstname,
		"lastname":      c.Lastname,
		"email":         c.Email,
		"phone":         c.Phone,
		"address":       c.Address,
		"summary":       c.Summary,
		"chat_response": c.ChatResponse,
	}
	for field, value := range required {
		if value == "" {
			return errs.Generationf("content missing required field %q", field)
		}
	}
	if len(c.Experiences) == 0 {
		return errs.Generationf("content has no experience entries")
	}
	for i, exp := range c.Experiences {
		if exp.Title == "" || exp.Company == "" {
			return errs.Generationf("experience entry %d is incomplete", i)
		}
	}
	if len(c.Education) == 0 {
		return errs.Generationf("content has no education entries")
	}
	for i, edu := range c.Education {
		if edu.Degree == "" || edu.Institution == "" {
			return errs.Generationf("education entry %d is incomplete", i)
		}
	}
	if len(c.Skills) == 0 {
		return errs.Generationf("content has no skill groups")
	}
	for i, group := range c.Skills {
		if group.Category == "" {
			return errs.Generationf("skill group %d has no category", i)
		}
	}
	return nil
}

// ToJSON 序列化为数据库可存储的 JSON blob。
func (c *Content) ToJSON() (datatypes.JSON, error) {
	data, err := json.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("marshal cv content: %w", err)
	}
	return datatypes.JSON(data), nil
}

// ToMap 转换为模板渲染所需的通用映射。
func (c *Content) ToMap() (map[string]any, error) {
	data, err := json.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("marshal cv content: %w", err)
	}
	return MapFromJSON(datatypes.JSON(data))
}

// FromJSON 反序列化存储的 content blob。
func FromJSON(blob datatypes.JSON) (*Content, error) {
	var c Content
	if err := json.Unmarshal(blob, &c); err != nil {
		return nil, fmt.Errorf("unmarshal cv content: %w", err)
	}
	return &c, nil
}

// MapFromJSON 把 content blob 解码为渲染映射。
// 手工编辑过的 content 不一定满足完整契约，这里只要求合法 JSON 对象。
func MapFromJSON(blob datatypes.JSON) (map[string]any, error) {
	var m map[string]any
	if err := json.Unmarshal(blob, &m); err != nil {
		return nil, fmt.Errorf("unmarshal cv content map: %w", err)
	}
	return m, nil
}
