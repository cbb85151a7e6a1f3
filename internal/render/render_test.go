package render

import (
	"errors"
	"strings"
	"testing"

	"cvforge/internal/errs"
)

func TestRenderInterpolation(t *testing.T) {
	out, err := Render("Hola << firstname >> << lastname >>!", map[string]any{
		"firstname": "Ana",
		"lastname":  "García",
	})
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if out != "Hola Ana García!" {
		t.Fatalf("unexpected output: %q", out)
	}
}

func TestRenderDotPath(t *testing.T) {
	out, err := Render("<< contact.email >>", map[string]any{
		"contact": map[string]any{"email": "ana@example.com"},
	})
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if out != "ana@example.com" {
		t.Fatalf("unexpected output: %q", out)
	}
}

func TestRenderForLoop(t *testing.T) {
	template := "<% for group in skills %>= << group.category >>: << group.skill_list >>\n<% endfor %>"
	data := map[string]any{
		"skills": []any{
			map[string]any{"category": "dev-skill", "skill_list": "Go, SQL"},
			map[string]any{"category": "extra", "skill_list": "Inglés"},
		},
	}
	out, err := Render(template, data)
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	want := "= dev-skill: Go, SQL\n= extra: Inglés\n"
	if out != want {
		t.Fatalf("unexpected output:\n got %q\nwant %q", out, want)
	}
}

func TestRenderNestedLoops(t *testing.T) {
	template := "<% for exp in experiences %><< exp.title >>|<% for tag in tags %><< tag >>;<% endfor %><% endfor %>"
	data := map[string]any{
		"experiences": []map[string]any{
			{"title": "Backend"},
			{"title": "SRE"},
		},
		"tags": []string{"go", "sql"},
	}
	out, err := Render(template, data)
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if out != "Backend|go;sql;SRE|go;sql;" {
		t.Fatalf("unexpected output: %q", out)
	}
}

func TestRenderEmptyListProducesNothing(t *testing.T) {
	out, err := Render("a<% for x in items %><< x >><% endfor %>b", map[string]any{
		"items": []any{},
	})
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if out != "ab" {
		t.Fatalf("unexpected output: %q", out)
	}
}

func TestRenderValueFormatting(t *testing.T) {
	out, err := Render("<< years >>/<< active >>/<< note >>", map[string]any{
		"years":  float64(5),
		"active": true,
		"note":   nil,
	})
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if out != "5/true/" {
		t.Fatalf("unexpected output: %q", out)
	}
}

func TestRenderDeterministic(t *testing.T) {
	template := "<< a >> <% for x in xs %><< x >><% endfor %>"
	data := map[string]any{"a": "v", "xs": []string{"1", "2"}}
	first, err := Render(template, data)
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	for i := 0; i < 10; i++ {
		again, err := Render(template, data)
		if err != nil {
			t.Fatalf("render: %v", err)
		}
		if again != first {
			t.Fatalf("output changed between runs: %q vs %q", first, again)
		}
	}
}

func TestRenderErrors(t *testing.T) {
	cases := []struct {
		name     string
		template string
		data     map[string]any
		wantPart string
	}{
		{"unknown name", "<< missing >>", map[string]any{}, "unknown name"},
		{"unknown nested", "<< a.b >>", map[string]any{"a": map[string]any{}}, "unknown name"},
		{"not an object", "<< a.b >>", map[string]any{"a": "texto"}, "not an object"},
		{"unterminated var", "<< name", map[string]any{"name": "x"}, "unterminated"},
		{"unterminated ctrl", "<% for x in xs %>", map[string]any{"xs": []any{}}, "missing endfor"},
		{"stray endfor", "<% endfor %>", map[string]any{}, "without matching for"},
		{"malformed ctrl", "<% while true %>", map[string]any{}, "malformed control tag"},
		{"bad loop target", "<% for x in n %><% endfor %>", map[string]any{"n": 3.0}, "not a list"},
		{"bad expression", "<< 1abc >>", map[string]any{}, "invalid expression"},
		{"unsupported value", "<< m >>", map[string]any{"m": map[string]any{}}, "unsupported value type"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Render(tc.template, tc.data)
			if err == nil {
				t.Fatalf("expected error")
			}
			if !errors.Is(err, errs.ErrTemplateRender) {
				t.Fatalf("error %v does not wrap ErrTemplateRender", err)
			}
			if !strings.Contains(err.Error(), tc.wantPart) {
				t.Fatalf("error %q does not mention %q", err.Error(), tc.wantPart)
			}
		})
	}
}
