package database

import (
	"errors"
	"fmt"

	"gorm.io/gorm"
)

// 内置的 Typst 简版模板。占位符使用 << >> 与 <% %>，
// 避免与 Typst 的 #/{} 语法冲突。
const simpleCVTemplate = `#set page(margin: 2cm)
#set text(font: "Linux Libertine", size: 10pt)

#align(center)[
  #text(size: 22pt, weight: "bold")[<< firstname >> << lastname >>]

  << email >> | << phone >> | << address >>
]

#line(length: 100%)

== Perfil

<< summary >>

== Experiencia

<% for exp in experiences %>
*<< exp.title >>* — << exp.company >> (<< exp.date >>)

<< exp.description >>
<% endfor %>

== Educación

<% for edu in education %>
*<< edu.degree >>* — << edu.institution >> (<< edu.date >>)

<< edu.description >>
<% endfor %>

== Habilidades

<% for group in skills %>
- *<< group.category >>*: << group.skill_list >>
<% endfor %>
`

// SeedTemplates 保证内置模板存在；已存在时刷新其内容。
func SeedTemplates(db *gorm.DB) error {
	seed := Template{
		Name:            "Simple CV",
		Description:     "Clean and simple CV template",
		TemplateType:    "typst",
		TemplateContent: simpleCVTemplate,
		Style:           "simple",
	}

	var existing Template
	switch err := db.Where("name = ?", seed.Name).First(&existing).Error; {
	case err == nil:
		updates := map[string]any{
			"description":      seed.Description,
			"template_type":    seed.TemplateType,
			"template_content": seed.TemplateContent,
			"style":            seed.Style,
		}
		if err := db.Model(&existing).Updates(updates).Error; err != nil {
			return fmt.Errorf("refresh template %q: %w", seed.Name, err)
		}
		return nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		if err := db.Create(&seed).Error; err != nil {
			return fmt.Errorf("seed template %q: %w", seed.Name, err)
		}
		return nil
	default:
		return fmt.Errorf("query template %q: %w", seed.Name, err)
	}
}
