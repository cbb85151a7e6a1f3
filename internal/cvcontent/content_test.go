package cvcontent

import (
	"errors"
	"strings"
	"testing"

	"gorm.io/datatypes"

	"cvforge/internal/errs"
	"cvforge/internal/render"
)

func fullContent() *Content {
	return &Content{
		Firstname: "Ana",
		Lastname:  "García",
		Email:     "ana@example.com",
		Phone:     "+34 600 000 000",
		Address:   "Madrid, España",
		Summary:   "Backend developer.",
		Experiences: []Experience{
			{Title: "Backend Developer", Company: "Acme", Date: "2020-2024", Description: "APIs"},
		},
		Education: []Education{
			{Degree: "Ingeniería Informática", Institution: "UCM", Date: "2014-2018"},
		},
		Skills: []SkillGroup{
			{Category: "dev-skill", SkillList: "Go, PostgreSQL"},
		},
		ChatResponse: "Listo.",
	}
}

func TestValidateAccepts(t *testing.T) {
	if err := fullContent().Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
}

func TestValidateRejects(t *testing.T) {
	cases := []struct {
		name     string
		mutate   func(*Content)
		wantPart string
	}{
		{"missing firstname", func(c *Content) { c.Firstname = "" }, "firstname"},
		{"missing summary", func(c *Content) { c.Summary = "" }, "summary"},
		{"missing chat response", func(c *Content) { c.ChatResponse = "" }, "chat_response"},
		{"no experiences", func(c *Content) { c.Experiences = nil }, "no experience entries"},
		{"experience without company", func(c *Content) { c.Experiences[0].Company = "" }, "incomplete"},
		{"no education", func(c *Content) { c.Education = nil }, "no education entries"},
		{"education without degree", func(c *Content) { c.Education[0].Degree = "" }, "incomplete"},
		{"no skills", func(c *Content) { c.Skills = nil }, "no skill groups"},
		{"skill group without category", func(c *Content) { c.Skills[0].Category = "" }, "no category"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c := fullContent()
			tc.mutate(c)
			err := c.Validate()
			if err == nil {
				t.Fatalf("expected validation failure")
			}
			if !errors.Is(err, errs.ErrGeneration) {
				t.Fatalf("error %v does not wrap ErrGeneration", err)
			}
			if !strings.Contains(err.Error(), tc.wantPart) {
				t.Fatalf("error %q does not mention %q", err.Error(), tc.wantPart)
			}
		})
	}
}

func TestToMapExposesTemplateNames(t *testing.T) {
	m, err := fullContent().ToMap()
	if err != nil {
		t.Fatalf("tomap: %v", err)
	}
	if m["firstname"] != "Ana" {
		t.Fatalf("missing firstname key: %v", m)
	}
	groups, ok := m["skills"].([]any)
	if !ok || len(groups) != 1 {
		t.Fatalf("skills not exposed as list: %T", m["skills"])
	}
	group, ok := groups[0].(map[string]any)
	if !ok || group["skill_list"] != "Go, PostgreSQL" {
		t.Fatalf("skill group shape wrong: %v", groups[0])
	}
}

func TestToMapKeepsOptionalContactKeys(t *testing.T) {
	c := fullContent()
	c.Github = ""
	c.Linkedin = ""

	m, err := c.ToMap()
	if err != nil {
		t.Fatalf("tomap: %v", err)
	}
	for _, key := range []string{"github", "linkedin"} {
		value, ok := m[key]
		if !ok {
			t.Fatalf("optional key %q missing from render mapping", key)
		}
		if value != "" {
			t.Fatalf("empty optional key %q has value %v", key, value)
		}
	}

	// 模板引用可选字段时，空值渲染为空串而不是报错。
	out, err := render.Render("GitHub: << github >>", m)
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if out != "GitHub: " {
		t.Fatalf("unexpected output: %q", out)
	}

	c.Github = "github.com/ana"
	m, err = c.ToMap()
	if err != nil {
		t.Fatalf("tomap: %v", err)
	}
	out, err = render.Render("GitHub: << github >>", m)
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if out != "GitHub: github.com/ana" {
		t.Fatalf("unexpected output: %q", out)
	}
}

func TestFromJSONRoundTrip(t *testing.T) {
	blob, err := fullContent().ToJSON()
	if err != nil {
		t.Fatalf("tojson: %v", err)
	}
	decoded, err := FromJSON(blob)
	if err != nil {
		t.Fatalf("fromjson: %v", err)
	}
	if decoded.Email != "ana@example.com" || len(decoded.Experiences) != 1 {
		t.Fatalf("round trip lost data: %+v", decoded)
	}
}

func TestMapFromJSONRejectsNonObject(t *testing.T) {
	if _, err := MapFromJSON(datatypes.JSON([]byte(`[1,2,3]`))); err == nil {
		t.Fatalf("expected error for non-object blob")
	}
}
