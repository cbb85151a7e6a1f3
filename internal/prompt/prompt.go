// Package prompt 把用户画像、技能、项目偏好、基底 CV、职位上下文
// 与对话历史组装为单条生成提示词。组装是纯函数，不做任何 IO。
package prompt

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"cvforge/internal/database"
	"cvforge/internal/skills"
)

// Message 是对话历史中的一条角色标注消息。
type Message struct {
	Role      string `json:"role"`
	Content   string `json:"content"`
	Timestamp string `json:"timestamp"`
}

// DefaultHistory 返回空历史的合成种子消息。
func DefaultHistory(now time.Time) []Message {
	return []Message{{
		Role:      "user",
		Content:   "Generar CV profesional",
		Timestamp: now.UTC().Format(time.RFC3339),
	}}
}

// Input 聚合组装提示词所需的全部来源数据。
type Input struct {
	User          database.User
	Profile       *database.UserProfile
	Skills        skills.Grouped
	Project       database.Project
	BaseCVContent string
	JobOffering   *database.JobOffering
	History       []Message
}

// Build 以确定顺序拼接提示词。相同输入总是产生相同输出。
func Build(in Input) string {
	parts := []string{
		"Eres un experto en la creación de CVs profesionales.",
		"Tu tarea es generar un CV completo y atractivo basado en la información proporcionada.",
		"",
		"INFORMACIÓN DEL USUARIO:",
		fmt.Sprintf("- Nombre: %s", in.User.FullName),
		fmt.Sprintf("- Email: %s", in.User.Email),
	}

	if in.Profile != nil {
		parts = append(parts, "", "PERFIL PROFESIONAL:")
		parts = append(parts, fmt.Sprintf("- Rol actual: %s", orUnspecified(in.Profile.CurrentRole)))
		if in.Profile.YearsOfExperience != nil {
			parts = append(parts, fmt.Sprintf("- Años de experiencia: %d", *in.Profile.YearsOfExperience))
		}
		if in.Profile.SalaryRange != "" {
			parts = append(parts, fmt.Sprintf("- Rango salarial: %s", in.Profile.SalaryRange))
		}
		if languages := decodeLanguages(in.Profile.SpokenLanguages); len(languages) > 0 {
			parts = append(parts, fmt.Sprintf("- Idiomas: %s", strings.Join(languages, ", ")))
		}
	}

	// 没有技能时整段省略，不输出空标题。
	if !in.Skills.Empty() {
		parts = append(parts, "", "INFORMACIÓN DE HABILIDADES Y EXPERIENCIA:")
		parts = appendSkillSection(parts, "EXPERIENCIA:", in.Skills.Experience)
		parts = appendSkillSection(parts, "HABILIDADES TÉCNICAS:", in.Skills.DevSkills)
		parts = appendSkillSection(parts, "CERTIFICADOS:", in.Skills.Certificates)
		parts = appendSkillSection(parts, "INFORMACIÓN ADICIONAL:", in.Skills.Extra)
	}

	parts = append(parts,
		"",
		"PREFERENCIAS DEL PROYECTO:",
		fmt.Sprintf("- Nombre del proyecto: %s", in.Project.Name),
		fmt.Sprintf("- Rol objetivo: %s", orUnspecified(in.Project.TargetRole)),
		fmt.Sprintf("- Estilo deseado: %s", orDefault(in.Project.CVStyle, "Profesional")),
	)
	if len(in.Project.Preferences) > 0 {
		parts = append(parts, fmt.Sprintf("- Preferencias adicionales: %s", formatPreferences(in.Project.Preferences)))
	}

	if in.BaseCVContent != "" {
		parts = append(parts,
			"",
			"CV BASE (partir de aquí y mejorar):",
			in.BaseCVContent,
			"",
			"IMPORTANTE: Usa el CV base como punto de partida y mejóralo/adáptalo según las nuevas instrucciones.",
		)
	}

	if in.JobOffering != nil {
		parts = append(parts, "", "INFORMACIÓN DE LA EMPRESA/OFERTA:")
		if in.JobOffering.CompanyName != "" {
			parts = append(parts, fmt.Sprintf("- Empresa: %s", in.JobOffering.CompanyName))
		}
		if in.JobOffering.RoleName != "" {
			parts = append(parts, fmt.Sprintf("- Puesto: %s", in.JobOffering.RoleName))
		}
		if in.JobOffering.Location != "" {
			parts = append(parts, fmt.Sprintf("- Ubicación: %s", in.JobOffering.Location))
		}
		if in.JobOffering.WorkMode != "" {
			parts = append(parts, fmt.Sprintf("- Modalidad: %s", in.JobOffering.WorkMode))
		}
		if in.JobOffering.Salary != "" {
			parts = append(parts, fmt.Sprintf("- Salario: %s", in.JobOffering.Salary))
		}
		if description := StripHTML(in.JobOffering.Description); description != "" {
			parts = append(parts, fmt.Sprintf("- Descripción: %s", description))
		}
		parts = append(parts, "", "Adapta el CV específicamente para esta empresa y posición.")
	} else {
		parts = append(parts,
			"",
			"NOTA: No hay información específica de empresa. Genera un CV genérico pero profesional.",
		)
	}

	if len(in.History) > 0 {
		parts = append(parts, "", "CONVERSACIÓN CON EL USUARIO:")
		for _, msg := range in.History {
			label := "Asistente"
			if msg.Role == "user" {
				label = "Usuario"
			}
			parts = append(parts, fmt.Sprintf("%s: %s", label, msg.Content))
		}
	}

	parts = append(parts,
		"",
		"FORMATO REQUERIDO:",
		"- Genera experiencias laborales realistas y relevantes (al menos 2)",
		"- Incluye educación apropiada al perfil (al menos 1)",
		"- Organiza habilidades por categorías (al menos 3 categorías)",
		"- Escribe todo en ESPAÑOL",
		"- El resumen debe ser conciso (2-3 líneas)",
		"- Las descripciones deben ser claras y orientadas a resultados",
		"- Divide el nombre completo del usuario en firstname y lastname sin alterarlo",
		"- En chat_response resume en máximo 2 líneas qué cambiaste, separado del contenido del CV",
		"- Si no tienes información específica, inventa datos profesionales coherentes",
	)

	return strings.Join(parts, "\n")
}

func appendSkillSection(parts []string, header string, entries []database.UserSkill) []string {
	if len(entries) == 0 {
		return parts
	}
	parts = append(parts, "", header)
	for _, entry := range entries {
		line := fmt.Sprintf("  - %s", entry.SkillText)
		if entry.Source != "" {
			line += fmt.Sprintf(" [Fuente: %s]", entry.Source)
		}
		parts = append(parts, line)
	}
	return parts
}

func formatPreferences(prefs map[string]any) string {
	keys := make([]string, 0, len(prefs))
	for k := range prefs {
		keys = append(keys, k)
	}
	// map 遍历顺序不稳定，排序保证提示词可复现。
	sort.Strings(keys)
	pairs := make([]string, 0, len(keys))
	for _, k := range keys {
		pairs = append(pairs, fmt.Sprintf("%s=%v", k, prefs[k]))
	}
	return strings.Join(pairs, ", ")
}

func orUnspecified(s string) string {
	return orDefault(s, "No especificado")
}

func orDefault(s, fallback string) string {
	if strings.TrimSpace(s) == "" {
		return fallback
	}
	return s
}
