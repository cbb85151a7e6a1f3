// Package render 实现 CV 模板的占位符替换。
//
// 模板语法刻意避开目标文档格式（Typst 使用 # 与 {}）的控制字符：
//
//	<< name >>                  取值插入，支持 a.b.c 点路径
//	<% for x in list %> ... <% endfor %>   列表迭代，绑定循环变量 x
//
// 渲染是纯函数：同样的模板与数据总是产生字节一致的输出，
// 过程中不访问文件系统或网络。
package render

import (
	"strconv"
	"strings"

	"cvforge/internal/errs"
)

const (
	varOpen   = "<<"
	varClose  = ">>"
	ctrlOpen  = "<%"
	ctrlClose = "%>"
)

// Render 以 data 为绑定渲染模板文本。
// 模板引用不存在的名字或控制语法不合法时返回 errs.ErrTemplateRender。
func Render(template string, data map[string]any) (string, error) {
	nodes, err := parse(template)
	if err != nil {
		return "", err
	}

	var b strings.Builder
	sc := &scope{root: data}
	if err := renderNodes(&b, nodes, sc); err != nil {
		return "", err
	}
	return b.String(), nil
}

type node interface{}

type textNode string

type varNode struct {
	path []string
}

type forNode struct {
	loopVar  string
	listPath []string
	body     []node
}

type token struct {
	kind string // "text", "var", "ctrl"
	text string
}

func tokenize(template string) ([]token, error) {
	var tokens []token
	rest := template
	for {
		varIdx := strings.Index(rest, varOpen)
		ctrlIdx := strings.Index(rest, ctrlOpen)
		if varIdx < 0 && ctrlIdx < 0 {
			if rest != "" {
				tokens = append(tokens, token{kind: "text", text: rest})
			}
			return tokens, nil
		}

		open, closing, kind := varOpen, varClose, "var"
		idx := varIdx
		if varIdx < 0 || (ctrlIdx >= 0 && ctrlIdx < varIdx) {
			open, closing, kind = ctrlOpen, ctrlClose, "ctrl"
			idx = ctrlIdx
		}

		if idx > 0 {
			tokens = append(tokens, token{kind: "text", text: rest[:idx]})
		}
		rest = rest[idx+len(open):]

		end := strings.Index(rest, closing)
		if end < 0 {
			return nil, errs.TemplateRenderf("unterminated %s tag", open)
		}
		tokens = append(tokens, token{kind: kind, text: strings.TrimSpace(rest[:end])})
		rest = rest[end+len(closing):]
	}
}

func parse(template string) ([]node, error) {
	tokens, err := tokenize(template)
	if err != nil {
		return nil, err
	}
	nodes, remaining, err := parseBlock(tokens, false)
	if err != nil {
		return nil, err
	}
	if len(remaining) != 0 {
		return nil, errs.TemplateRenderf("unexpected %q without matching for", "endfor")
	}
	return nodes, nil
}

// parseBlock 消费 token 直到输入耗尽；inLoop 为真时在 endfor 处停下，
// 并把 endfor 之后的 token 返回给上层。
func parseBlock(tokens []token, inLoop bool) ([]node, []token, error) {
	var nodes []node
	for len(tokens) > 0 {
		tok := tokens[0]
		tokens = tokens[1:]

		switch tok.kind {
		case "text":
			nodes = append(nodes, textNode(tok.text))
		case "var":
			path, err := parsePath(tok.text)
			if err != nil {
				return nil, nil, err
			}
			nodes = append(nodes, varNode{path: path})
		case "ctrl":
			fields := strings.Fields(tok.text)
			switch {
			case len(fields) == 1 && fields[0] == "endfor":
				if !inLoop {
					return nil, nil, errs.TemplateRenderf("unexpected %q without matching for", "endfor")
				}
				return nodes, tokens, nil
			case len(fields) == 4 && fields[0] == "for" && fields[2] == "in":
				listPath, err := parsePath(fields[3])
				if err != nil {
					return nil, nil, err
				}
				if !isIdent(fields[1]) {
					return nil, nil, errs.TemplateRenderf("invalid loop variable %q", fields[1])
				}
				body, rest, err := parseBlock(tokens, true)
				if err != nil {
					return nil, nil, err
				}
				nodes = append(nodes, forNode{loopVar: fields[1], listPath: listPath, body: body})
				tokens = rest
			default:
				return nil, nil, errs.TemplateRenderf("malformed control tag %q", tok.text)
			}
		}
	}
	if inLoop {
		return nil, nil, errs.TemplateRenderf("for block is missing endfor")
	}
	return nodes, nil, nil
}

func parsePath(expr string) ([]string, error) {
	if expr == "" {
		return nil, errs.TemplateRenderf("empty expression")
	}
	parts := strings.Split(expr, ".")
	for _, part := range parts {
		if !isIdent(part) {
			return nil, errs.TemplateRenderf("invalid expression %q", expr)
		}
	}
	return parts, nil
}

func isIdent(s string) bool {
	if s == "" {
		return false
	}
	for i, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r == '_':
		case r >= '0' && r <= '9':
			if i == 0 {
				return false
			}
		default:
			return false
		}
	}
	return true
}

// scope 持有根数据与循环变量绑定；循环变量优先于根绑定。
type scope struct {
	root     map[string]any
	bindings []binding
}

type binding struct {
	name  string
	value any
}

func (s *scope) lookup(name string) (any, bool) {
	for i := len(s.bindings) - 1; i >= 0; i-- {
		if s.bindings[i].name == name {
			return s.bindings[i].value, true
		}
	}
	value, ok := s.root[name]
	return value, ok
}

func (s *scope) resolve(path []string) (any, error) {
	value, ok := s.lookup(path[0])
	if !ok {
		return nil, errs.TemplateRenderf("unknown name %q", path[0])
	}
	for _, part := range path[1:] {
		m, ok := value.(map[string]any)
		if !ok {
			return nil, errs.TemplateRenderf("cannot access %q: %q is not an object", part, strings.Join(path, "."))
		}
		value, ok = m[part]
		if !ok {
			return nil, errs.TemplateRenderf("unknown name %q", strings.Join(path, "."))
		}
	}
	return value, nil
}

func renderNodes(b *strings.Builder, nodes []node, sc *scope) error {
	for _, n := range nodes {
		switch n := n.(type) {
		case textNode:
			b.WriteString(string(n))
		case varNode:
			value, err := sc.resolve(n.path)
			if err != nil {
				return err
			}
			text, err := formatValue(value, n.path)
			if err != nil {
				return err
			}
			b.WriteString(text)
		case forNode:
			value, err := sc.resolve(n.listPath)
			if err != nil {
				return err
			}
			items, err := asList(value, n.listPath)
			if err != nil {
				return err
			}
			for _, item := range items {
				sc.bindings = append(sc.bindings, binding{name: n.loopVar, value: item})
				err := renderNodes(b, n.body, sc)
				sc.bindings = sc.bindings[:len(sc.bindings)-1]
				if err != nil {
					return err
				}
			}
		}
	}
	return nil
}

func formatValue(value any, path []string) (string, error) {
	switch v := value.(type) {
	case nil:
		return "", nil
	case string:
		return v, nil
	case bool:
		return strconv.FormatBool(v), nil
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64), nil
	case int:
		return strconv.Itoa(v), nil
	case int64:
		return strconv.FormatInt(v, 10), nil
	default:
		return "", errs.TemplateRenderf("cannot interpolate %q: unsupported value type %T", strings.Join(path, "."), value)
	}
}

func asList(value any, path []string) ([]any, error) {
	switch v := value.(type) {
	case []any:
		return v, nil
	case []string:
		items := make([]any, len(v))
		for i, s := range v {
			items[i] = s
		}
		return items, nil
	case []map[string]any:
		items := make([]any, len(v))
		for i, m := range v {
			items[i] = m
		}
		return items, nil
	default:
		return nil, errs.TemplateRenderf("cannot iterate %q: value type %T is not a list", strings.Join(path, "."), value)
	}
}
