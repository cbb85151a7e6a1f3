package database

import (
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// User 表示系统中的账号信息。
type User struct {
	gorm.Model
	Email        string `gorm:"uniqueIndex;size:255"`
	PasswordHash string `gorm:"size:255"`
	FullName     string `gorm:"size:255"`

	Profile      *UserProfile  `gorm:"constraint:OnDelete:CASCADE"`
	Skills       []UserSkill   `gorm:"constraint:OnDelete:CASCADE"`
	Projects     []Project     `gorm:"constraint:OnDelete:CASCADE"`
	Applications []Application `gorm:"constraint:OnDelete:CASCADE"`
}

// UserProfile 表示用户的求职画像，与 User 一一对应。
// SpokenLanguages 以 JSON 数组存储，保持录入顺序。
type UserProfile struct {
	gorm.Model
	UserID            uint           `gorm:"uniqueIndex"`
	CurrentRole       string         `gorm:"size:255"`
	YearsOfExperience *int           ``
	SalaryRange       string         `gorm:"size:100"`
	SpokenLanguages   datatypes.JSON `gorm:"type:jsonb"`
}

// UserSkill 表示一条自由文本的技能/经历/证书/附加信息。
// SkillType 取值见 internal/skills 的 Category。
type UserSkill struct {
	gorm.Model
	UserID    uint   `gorm:"index"`
	SkillText string `gorm:"type:text"`
	SkillType string `gorm:"size:32;index"`
	RawInput  string `gorm:"type:text"`
	Source    string `gorm:"size:100"`
}

// Project 表示一次求职上下文：目标职位、CV 风格与偏好。
type Project struct {
	gorm.Model
	UserID      uint              `gorm:"index"`
	Name        string            `gorm:"size:255"`
	TargetRole  string            `gorm:"size:255"`
	CVStyle     string            `gorm:"size:100"`
	Preferences datatypes.JSONMap `gorm:"type:jsonb"`

	CVs []CV `gorm:"constraint:OnDelete:CASCADE"`
}

// Template 表示文档模板。占位符使用 << >> / <% %> 语法，
// 与 Typst 自身的 # 和 {} 控制字符错开。
type Template struct {
	gorm.Model
	Name            string `gorm:"uniqueIndex;size:255"`
	Description     string `gorm:"type:text"`
	TemplateType    string `gorm:"size:50"`
	TemplateContent string `gorm:"type:text"`
	Style           string `gorm:"size:100"`
}

// CV 表示一次生成结果：结构化内容、渲染文本与对话历史。
// BaseCVID 指向派生来源，构成单向派生链（非环）。
type CV struct {
	gorm.Model
	ProjectID           uint           `gorm:"index"`
	TemplateID          uint           `gorm:"index"`
	BaseCVID            *uint          `gorm:"index"`
	Content             datatypes.JSON `gorm:"type:jsonb"`
	RenderedContent     string         `gorm:"type:text"`
	CompiledPath        string         `gorm:"size:500"`
	ConversationHistory datatypes.JSON `gorm:"type:jsonb"`

	Project  Project  `gorm:"constraint:OnDelete:CASCADE"`
	Template Template ``
}

// TableName 固定表名，避免命名策略把 CV 展开成别的形式。
func (CV) TableName() string { return "cvs" }

// JobOffering 表示外部抓取的职位信息，主键为来源侧的字符串 ID。
type JobOffering struct {
	ID          string            `gorm:"primaryKey;size:255"`
	Keyword     string            `gorm:"size:255;index"`
	CompanyName string            `gorm:"size:500"`
	Description string            `gorm:"type:text"`
	URL         string            `gorm:"size:1000"`
	Salary      string            `gorm:"size:255"`
	RoleName    string            `gorm:"size:500"`
	Location    string            `gorm:"size:255"`
	WorkMode    string            `gorm:"size:100"`
	Type        string            `gorm:"size:100"`
	PostDate    *time.Time        ``
	Sectors     string            `gorm:"size:500"`
	ExtraData   datatypes.JSONMap `gorm:"type:jsonb"`
	CreatedAt   time.Time         ``
	UpdatedAt   time.Time         ``
}

// Application 表示用户对某职位的申请记录。
type Application struct {
	gorm.Model
	UserID        uint   `gorm:"index"`
	JobOfferingID string `gorm:"size:255;index"`
	CVID          *uint  `gorm:"index"`
	Status        string `gorm:"size:50;default:draft"`
	Notes         string `gorm:"type:text"`

	JobOffering JobOffering `gorm:"foreignKey:JobOfferingID"`
}

// AllModels 返回 AutoMigrate 所需的全部模型。
func AllModels() []any {
	return []any{
		&User{},
		&UserProfile{},
		&UserSkill{},
		&Project{},
		&Template{},
		&CV{},
		&JobOffering{},
		&Application{},
	}
}
