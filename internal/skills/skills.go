package skills

import (
	"cvforge/internal/database"
	"cvforge/internal/errs"
)

// Category 是技能条目的封闭分类。
type Category string

const (
	CategoryExperience  Category = "experience"
	CategoryDevSkill    Category = "dev-skill"
	CategoryCertificate Category = "certificate"
	CategoryExtra       Category = "extra"
)

// Categories 按固定顺序列出全部分类。
func Categories() []Category {
	return []Category{CategoryExperience, CategoryDevSkill, CategoryCertificate, CategoryExtra}
}

// Parse 校验并转换自由文本的分类取值。
func Parse(s string) (Category, error) {
	c := Category(s)
	switch c {
	case CategoryExperience, CategoryDevSkill, CategoryCertificate, CategoryExtra:
		return c, nil
	default:
		return "", errs.Validationf("unknown skill category %q", s)
	}
}

// Grouped 将用户技能按分类分组，保持原有顺序。
type Grouped struct {
	Experience   []database.UserSkill
	DevSkills    []database.UserSkill
	Certificates []database.UserSkill
	Extra        []database.UserSkill
}

// Empty 报告是否没有任何技能条目。
func (g Grouped) Empty() bool {
	return len(g.Experience) == 0 && len(g.DevSkills) == 0 &&
		len(g.Certificates) == 0 && len(g.Extra) == 0
}

// Group 按分类拆分技能列表。遇到未知分类直接报错，
// 不做静默丢弃。
func Group(list []database.UserSkill) (Grouped, error) {
	var g Grouped
	for _, skill := range list {
		category, err := Parse(skill.SkillType)
		if err != nil {
			return Grouped{}, err
		}
		switch category {
		case CategoryExperience:
			g.Experience = append(g.Experience, skill)
		case CategoryDevSkill:
			g.DevSkills = append(g.DevSkills, skill)
		case CategoryCertificate:
			g.Certificates = append(g.Certificates, skill)
		case CategoryExtra:
			g.Extra = append(g.Extra, skill)
		}
	}
	return g, nil
}
