// Package extract 从自由文本中抽取用户画像与技能条目，
// 参考用户已有信息避免重复录入。
package extract

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	"cvforge/internal/database"
	"cvforge/internal/errs"
	"cvforge/internal/llm"
	"cvforge/internal/skills"
)

// ExtractedProfile 是从文本中识别出的画像更新。
type ExtractedProfile struct {
	CurrentRole       string   `json:"current_role"`
	YearsOfExperience *int     `json:"years_of_experience"`
	SalaryRange       string   `json:"salary_range"`
	SpokenLanguages   []string `json:"spoken_languages"`
}

// ExtractedSkill 是从文本中识别出的单条技能。
type ExtractedSkill struct {
	SkillText string `json:"skill_text"`
	SkillType string `json:"skill_type"`
	Source    string `json:"source"`
}

// Result 是一次抽取的完整结果。
type Result struct {
	Profile *ExtractedProfile `json:"profile"`
	Skills  []ExtractedSkill  `json:"skills"`
}

// Service 执行抽取并持久化结果。
type Service struct {
	db     *gorm.DB
	llm    llm.Completer
	logger *slog.Logger
}

// NewService 构造抽取服务。
func NewService(db *gorm.DB, completer llm.Completer, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{db: db, llm: completer, logger: logger}
}

// ExtractProfileData 抽取画像与技能并写入数据库。
// 只保留新信息；未知分类的技能条目会让整次抽取失败。
func (s *Service) ExtractProfileData(ctx context.Context, userID uint, text string) (*Result, error) {
	if strings.TrimSpace(text) == "" {
		return nil, errs.Validationf("extraction text is empty")
	}

	var user database.User
	if err := s.db.WithContext(ctx).First(&user, userID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errs.NotFoundf("user %d not found", userID)
		}
		return nil, fmt.Errorf("query user %d: %w", userID, err)
	}

	var profile *database.UserProfile
	var profileRow database.UserProfile
	switch err := s.db.WithContext(ctx).Where("user_id = ?", userID).First(&profileRow).Error; {
	case err == nil:
		profile = &profileRow
	case errors.Is(err, gorm.ErrRecordNotFound):
	default:
		return nil, fmt.Errorf("query profile for user %d: %w", userID, err)
	}

	var currentSkills []database.UserSkill
	if err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("id").
		Find(&currentSkills).Error; err != nil {
		return nil, fmt.Errorf("load skills for user %d: %w", userID, err)
	}

	assembled := buildExtractionPrompt(profile, currentSkills, text)

	raw, err := s.llm.Complete(ctx, assembled)
	if err != nil {
		return nil, err
	}

	var result Result
	if err := json.Unmarshal([]byte(stripFences(raw)), &result); err != nil {
		return nil, errs.Generationf("decode extraction response: %v", err)
	}
	for i, skill := range result.Skills {
		if _, err := skills.Parse(skill.SkillType); err != nil {
			return nil, errs.Generationf("extracted skill %d has invalid category %q", i, skill.SkillType)
		}
	}

	if err := s.persist(ctx, userID, profile, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

func (s *Service) persist(ctx context.Context, userID uint, existing *database.UserProfile, result *Result) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, skill := range result.Skills {
			source := skill.Source
			if source == "" {
				source = "text_extraction"
			}
			row := database.UserSkill{
				UserID:    userID,
				SkillText: skill.SkillText,
				SkillType: skill.SkillType,
				Source:    source,
			}
			if err := tx.Create(&row).Error; err != nil {
				return fmt.Errorf("create extracted skill: %w", err)
			}
		}

		if result.Profile == nil {
			return nil
		}

		languages, err := json.Marshal(result.Profile.SpokenLanguages)
		if err != nil {
			return fmt.Errorf("marshal languages: %w", err)
		}

		if existing == nil {
			row := database.UserProfile{
				UserID:            userID,
				CurrentRole:       result.Profile.CurrentRole,
				YearsOfExperience: result.Profile.YearsOfExperience,
				SalaryRange:       result.Profile.SalaryRange,
				SpokenLanguages:   datatypes.JSON(languages),
			}
			if err := tx.Create(&row).Error; err != nil {
				return fmt.Errorf("create extracted profile: %w", err)
			}
			return nil
		}

		updates := map[string]any{}
		if result.Profile.CurrentRole != "" {
			updates["current_role"] = result.Profile.CurrentRole
		}
		if result.Profile.YearsOfExperience != nil {
			updates["years_of_experience"] = *result.Profile.YearsOfExperience
		}
		if result.Profile.SalaryRange != "" {
			updates["salary_range"] = result.Profile.SalaryRange
		}
		if len(result.Profile.SpokenLanguages) > 0 {
			updates["spoken_languages"] = datatypes.JSON(languages)
		}
		if len(updates) == 0 {
			return nil
		}
		if err := tx.Model(existing).Updates(updates).Error; err != nil {
			return fmt.Errorf("update extracted profile: %w", err)
		}
		return nil
	})
}

func buildExtractionPrompt(profile *database.UserProfile, currentSkills []database.UserSkill, text string) string {
	parts := []string{
		"Eres un experto en análisis de perfiles profesionales.",
		"Tu tarea es extraer información estructurada del siguiente texto.",
		"",
		"INFORMACIÓN ACTUAL DEL USUARIO:",
	}

	if profile != nil {
		parts = append(parts, fmt.Sprintf("- Rol actual: %s", fallback(profile.CurrentRole, "No especificado")))
		if profile.YearsOfExperience != nil {
			parts = append(parts, fmt.Sprintf("- Años de experiencia: %d", *profile.YearsOfExperience))
		}
		parts = append(parts, fmt.Sprintf("- Rango salarial: %s", fallback(profile.SalaryRange, "No especificado")))
	} else {
		parts = append(parts, "- No tiene perfil creado aún")
	}

	if len(currentSkills) > 0 {
		parts = append(parts, "", "SKILLS ACTUALES QUE YA TIENE:")
		// 只展示前十条，避免提示词被历史数据淹没。
		limit := len(currentSkills)
		if limit > 10 {
			limit = 10
		}
		for _, skill := range currentSkills[:limit] {
			parts = append(parts, fmt.Sprintf("  - [%s] %s", skill.SkillType, truncate(skill.SkillText, 100)))
		}
		if len(currentSkills) > 10 {
			parts = append(parts, fmt.Sprintf("  ... y %d más", len(currentSkills)-10))
		}
	} else {
		parts = append(parts, "", "No tiene skills registrados aún.")
	}

	parts = append(parts,
		"",
		"TEXTO DEL USUARIO PARA ANALIZAR:",
		text,
		"",
		"INSTRUCCIONES:",
		"1. Extrae SOLO información NUEVA o que actualice/mejore la existente",
		"2. NO repitas skills que ya están registrados con la misma información",
		"3. Clasifica los skills: 'experience', 'dev-skill', 'certificate' o 'extra'",
		"4. Los idiomas extraídos agrégalos también a spoken_languages del perfil",
		"",
		"RESPONDE ÚNICAMENTE con JSON válido, sin bloques markdown:",
		`{"profile": {"current_role": "string", "years_of_experience": 0, "salary_range": "string", "spoken_languages": ["string"]}, "skills": [{"skill_text": "string", "skill_type": "string", "source": "text_extraction"}]}`,
		"Si no encuentras información nueva relevante, devuelve listas vacías.",
	)

	return strings.Join(parts, "\n")
}

func fallback(s, alt string) string {
	if strings.TrimSpace(s) == "" {
		return alt
	}
	return s
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}

func stripFences(text string) string {
	trimmed := strings.TrimSpace(text)
	if !strings.HasPrefix(trimmed, "```") {
		return trimmed
	}
	trimmed = strings.TrimPrefix(trimmed, "```json")
	trimmed = strings.TrimPrefix(trimmed, "```")
	trimmed = strings.TrimSuffix(strings.TrimSpace(trimmed), "```")
	return strings.TrimSpace(trimmed)
}
