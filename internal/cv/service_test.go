package cv

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"

	"gorm.io/datatypes"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"cvforge/internal/cvcontent"
	"cvforge/internal/database"
	"cvforge/internal/errs"
	"cvforge/internal/prompt"
)

type fakeGenerator struct {
	calls   int
	prompts []string
	content *cvcontent.Content
	err     error
}

func (f *fakeGenerator) GenerateCVContent(_ context.Context, assembled string) (*cvcontent.Content, error) {
	f.calls++
	f.prompts = append(f.prompts, assembled)
	if f.err != nil {
		return nil, f.err
	}
	clone := *f.content
	return &clone, nil
}

func validContent() *cvcontent.Content {
	return &cvcontent.Content{
		Firstname: "Ana",
		Lastname:  "García",
		Email:     "ana@example.com",
		Phone:     "+34 600 000 000",
		Address:   "Madrid, España",
		Summary:   "Backend developer con 6 años de experiencia.",
		Experiences: []cvcontent.Experience{
			{Title: "Backend Developer", Company: "Acme", Date: "2020-2024", Description: "APIs en Go"},
			{Title: "SRE", Company: "Beta", Date: "2018-2020", Description: "Infra"},
		},
		Education: []cvcontent.Education{
			{Degree: "Ingeniería Informática", Institution: "UCM", Date: "2014-2018"},
		},
		Skills: []cvcontent.SkillGroup{
			{Category: "dev-skill", SkillList: "Go, PostgreSQL"},
			{Category: "extra", SkillList: "Inglés"},
			{Category: "experience", SkillList: "Liderazgo"},
		},
		ChatResponse: "CV generado.",
	}
}

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(database.AllModels()...); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

type fixture struct {
	user     database.User
	project  database.Project
	template database.Template
}

func seedFixture(t *testing.T, db *gorm.DB) fixture {
	t.Helper()
	user := database.User{Email: "ana@example.com", FullName: "Ana García", PasswordHash: "x"}
	if err := db.Create(&user).Error; err != nil {
		t.Fatalf("seed user: %v", err)
	}
	project := database.Project{UserID: user.ID, Name: "Backend remoto", TargetRole: "Backend Developer"}
	if err := db.Create(&project).Error; err != nil {
		t.Fatalf("seed project: %v", err)
	}
	template := database.Template{
		Name:            "plain",
		TemplateType:    "typst",
		TemplateContent: "Hola << firstname >> << lastname >>",
	}
	if err := db.Create(&template).Error; err != nil {
		t.Fatalf("seed template: %v", err)
	}
	return fixture{user: user, project: project, template: template}
}

func TestCreateHappyPath(t *testing.T) {
	db := newTestDB(t)
	fx := seedFixture(t, db)
	gen := &fakeGenerator{content: validContent()}
	svc := NewService(db, gen, nil, nil)

	record, err := svc.Create(context.Background(), CreateInput{
		ProjectID:  fx.project.ID,
		TemplateID: fx.template.ID,
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	if gen.calls != 1 {
		t.Fatalf("expected exactly 1 generation call, got %d", gen.calls)
	}
	if record.RenderedContent != "Hola Ana García" {
		t.Fatalf("unexpected rendered content: %q", record.RenderedContent)
	}

	var history []prompt.Message
	if err := json.Unmarshal(record.ConversationHistory, &history); err != nil {
		t.Fatalf("decode history: %v", err)
	}
	if len(history) != 1 || history[0].Content != "Generar CV profesional" {
		t.Fatalf("empty history not seeded with default message: %+v", history)
	}

	var count int64
	if err := db.Model(&database.CV{}).Count(&count).Error; err != nil {
		t.Fatalf("count cvs: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected 1 persisted cv, got %d", count)
	}
}

func TestCreateMissingTemplateFailsBeforeGeneration(t *testing.T) {
	db := newTestDB(t)
	fx := seedFixture(t, db)
	gen := &fakeGenerator{content: validContent()}
	svc := NewService(db, gen, nil, nil)

	_, err := svc.Create(context.Background(), CreateInput{
		ProjectID:  fx.project.ID,
		TemplateID: 9999,
	})
	if !errors.Is(err, errs.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if gen.calls != 0 {
		t.Fatalf("lookup failure must not reach the generator")
	}

	var count int64
	db.Model(&database.CV{}).Count(&count)
	if count != 0 {
		t.Fatalf("no cv row must be persisted, got %d", count)
	}
}

func TestCreateRenderFailureLeavesNoRow(t *testing.T) {
	db := newTestDB(t)
	fx := seedFixture(t, db)

	broken := database.Template{
		Name:            "broken",
		TemplateType:    "typst",
		TemplateContent: "<< nombre_inexistente >>",
	}
	if err := db.Create(&broken).Error; err != nil {
		t.Fatalf("seed template: %v", err)
	}

	gen := &fakeGenerator{content: validContent()}
	svc := NewService(db, gen, nil, nil)

	_, err := svc.Create(context.Background(), CreateInput{
		ProjectID:  fx.project.ID,
		TemplateID: broken.ID,
	})
	if !errors.Is(err, errs.ErrTemplateRender) {
		t.Fatalf("expected ErrTemplateRender, got %v", err)
	}

	var count int64
	db.Model(&database.CV{}).Count(&count)
	if count != 0 {
		t.Fatalf("failed render must not persist a row, got %d", count)
	}
}

func TestCreateInvalidMessageRole(t *testing.T) {
	db := newTestDB(t)
	fx := seedFixture(t, db)
	gen := &fakeGenerator{content: validContent()}
	svc := NewService(db, gen, nil, nil)

	_, err := svc.Create(context.Background(), CreateInput{
		ProjectID:  fx.project.ID,
		TemplateID: fx.template.ID,
		Messages:   []prompt.Message{{Role: "system", Content: "hola"}},
	})
	if !errors.Is(err, errs.ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
	if gen.calls != 0 {
		t.Fatalf("invalid history must not reach the generator")
	}
}

func TestCreateWithBaseCVIncludesBaseContent(t *testing.T) {
	db := newTestDB(t)
	fx := seedFixture(t, db)
	gen := &fakeGenerator{content: validContent()}
	svc := NewService(db, gen, nil, nil)

	base, err := svc.Create(context.Background(), CreateInput{
		ProjectID:  fx.project.ID,
		TemplateID: fx.template.ID,
	})
	if err != nil {
		t.Fatalf("create base: %v", err)
	}

	derived, err := svc.Create(context.Background(), CreateInput{
		ProjectID:  fx.project.ID,
		TemplateID: fx.template.ID,
		BaseCVID:   &base.ID,
	})
	if err != nil {
		t.Fatalf("create derived: %v", err)
	}
	if derived.BaseCVID == nil || *derived.BaseCVID != base.ID {
		t.Fatalf("derived cv does not reference base")
	}
	if !strings.Contains(gen.prompts[1], "CV BASE") {
		t.Fatalf("derived prompt missing base cv section")
	}
}

func TestRegenerateAppendsHistory(t *testing.T) {
	db := newTestDB(t)
	fx := seedFixture(t, db)
	gen := &fakeGenerator{content: validContent()}
	svc := NewService(db, gen, nil, nil)

	record, err := svc.Create(context.Background(), CreateInput{
		ProjectID:  fx.project.ID,
		TemplateID: fx.template.ID,
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	updated, err := svc.Regenerate(context.Background(), record.ID, []prompt.Message{
		{Role: "user", Content: "Hazlo más corto"},
	}, "corr-1")
	if err != nil {
		t.Fatalf("regenerate: %v", err)
	}
	if gen.calls != 2 {
		t.Fatalf("expected 2 generation calls, got %d", gen.calls)
	}

	var history []prompt.Message
	if err := json.Unmarshal(updated.ConversationHistory, &history); err != nil {
		t.Fatalf("decode history: %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("expected 2 history entries, got %d", len(history))
	}
	if history[1].Content != "Hazlo más corto" {
		t.Fatalf("appended message missing: %+v", history)
	}
	if !strings.Contains(gen.prompts[1], "Hazlo más corto") {
		t.Fatalf("regenerate prompt missing appended message")
	}
}

func TestUpdateContentRerenders(t *testing.T) {
	db := newTestDB(t)
	fx := seedFixture(t, db)
	gen := &fakeGenerator{content: validContent()}
	svc := NewService(db, gen, nil, nil)

	record, err := svc.Create(context.Background(), CreateInput{
		ProjectID:  fx.project.ID,
		TemplateID: fx.template.ID,
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	edited := validContent()
	edited.Firstname = "Lucía"
	blob, err := edited.ToJSON()
	if err != nil {
		t.Fatalf("marshal edited content: %v", err)
	}

	updated, err := svc.Update(context.Background(), record.ID, UpdateInput{Content: blob})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated.RenderedContent != "Hola Lucía García" {
		t.Fatalf("content update did not re-render: %q", updated.RenderedContent)
	}
	if gen.calls != 1 {
		t.Fatalf("manual update must not call the generator")
	}
}

func TestUpdateEmptyInputIsNoOp(t *testing.T) {
	db := newTestDB(t)
	fx := seedFixture(t, db)
	gen := &fakeGenerator{content: validContent()}
	svc := NewService(db, gen, nil, nil)

	record, err := svc.Create(context.Background(), CreateInput{
		ProjectID:  fx.project.ID,
		TemplateID: fx.template.ID,
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	updated, err := svc.Update(context.Background(), record.ID, UpdateInput{})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated.UpdatedAt != record.UpdatedAt {
		t.Fatalf("empty update must not touch the row")
	}
}

func TestUpdateInvalidContentRejected(t *testing.T) {
	db := newTestDB(t)
	fx := seedFixture(t, db)
	gen := &fakeGenerator{content: validContent()}
	svc := NewService(db, gen, nil, nil)

	record, err := svc.Create(context.Background(), CreateInput{
		ProjectID:  fx.project.ID,
		TemplateID: fx.template.ID,
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	_, err = svc.Update(context.Background(), record.ID, UpdateInput{
		Content: datatypes.JSON([]byte(`"no es un objeto"`)),
	})
	if !errors.Is(err, errs.ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
}

func TestUpdateCorruptHistoryRejected(t *testing.T) {
	db := newTestDB(t)
	fx := seedFixture(t, db)
	gen := &fakeGenerator{content: validContent()}
	svc := NewService(db, gen, nil, nil)

	record, err := svc.Create(context.Background(), CreateInput{
		ProjectID:  fx.project.ID,
		TemplateID: fx.template.ID,
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := db.Model(&database.CV{}).Where("id = ?", record.ID).
		Update("conversation_history", datatypes.JSON([]byte("{broken"))).Error; err != nil {
		t.Fatalf("corrupt history: %v", err)
	}

	_, err = svc.Update(context.Background(), record.ID, UpdateInput{
		Messages: []prompt.Message{{Role: "user", Content: "hola"}},
	})
	if err == nil || !strings.Contains(err.Error(), "conversation history") {
		t.Fatalf("corrupt history must fail the update, got %v", err)
	}

	// 失败的更新不能把损坏前的轮次整体丢掉。
	var stored database.CV
	if err := db.First(&stored, record.ID).Error; err != nil {
		t.Fatalf("reload: %v", err)
	}
	if string(stored.ConversationHistory) != "{broken" {
		t.Fatalf("stored history was rewritten: %q", stored.ConversationHistory)
	}
}

func TestRegenerateCorruptHistoryRejected(t *testing.T) {
	db := newTestDB(t)
	fx := seedFixture(t, db)
	gen := &fakeGenerator{content: validContent()}
	svc := NewService(db, gen, nil, nil)

	record, err := svc.Create(context.Background(), CreateInput{
		ProjectID:  fx.project.ID,
		TemplateID: fx.template.ID,
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := db.Model(&database.CV{}).Where("id = ?", record.ID).
		Update("conversation_history", datatypes.JSON([]byte("not json"))).Error; err != nil {
		t.Fatalf("corrupt history: %v", err)
	}

	_, err = svc.Regenerate(context.Background(), record.ID, []prompt.Message{
		{Role: "user", Content: "otra vez"},
	}, "corr-1")
	if err == nil || !strings.Contains(err.Error(), "conversation history") {
		t.Fatalf("corrupt history must fail regeneration, got %v", err)
	}
	if gen.calls != 1 {
		t.Fatalf("corrupt history must fail before a new generation call, got %d calls", gen.calls)
	}
}

func TestDeleteCascadesDerivedCVs(t *testing.T) {
	db := newTestDB(t)
	fx := seedFixture(t, db)
	gen := &fakeGenerator{content: validContent()}
	svc := NewService(db, gen, nil, nil)

	base, err := svc.Create(context.Background(), CreateInput{ProjectID: fx.project.ID, TemplateID: fx.template.ID})
	if err != nil {
		t.Fatalf("create base: %v", err)
	}
	child, err := svc.Create(context.Background(), CreateInput{ProjectID: fx.project.ID, TemplateID: fx.template.ID, BaseCVID: &base.ID})
	if err != nil {
		t.Fatalf("create child: %v", err)
	}
	grandchild, err := svc.Create(context.Background(), CreateInput{ProjectID: fx.project.ID, TemplateID: fx.template.ID, BaseCVID: &child.ID})
	if err != nil {
		t.Fatalf("create grandchild: %v", err)
	}
	unrelated, err := svc.Create(context.Background(), CreateInput{ProjectID: fx.project.ID, TemplateID: fx.template.ID})
	if err != nil {
		t.Fatalf("create unrelated: %v", err)
	}

	if err := db.Model(&database.CV{}).Where("id = ?", grandchild.ID).
		Update("compiled_path", "compiled-cvs/1/artifact.typ").Error; err != nil {
		t.Fatalf("set compiled path: %v", err)
	}

	paths, err := svc.Delete(context.Background(), base.ID)
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	if len(paths) != 1 || paths[0] != "compiled-cvs/1/artifact.typ" {
		t.Fatalf("unexpected compiled paths: %v", paths)
	}

	var remaining []uint
	if err := db.Model(&database.CV{}).Pluck("id", &remaining).Error; err != nil {
		t.Fatalf("pluck remaining: %v", err)
	}
	if len(remaining) != 1 || remaining[0] != unrelated.ID {
		t.Fatalf("cascade delete wrong rows remain: %v", remaining)
	}
}

func TestDeleteMissingCV(t *testing.T) {
	db := newTestDB(t)
	seedFixture(t, db)
	svc := NewService(db, &fakeGenerator{content: validContent()}, nil, nil)

	_, err := svc.Delete(context.Background(), 12345)
	if !errors.Is(err, errs.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestJobOfferingPreferenceWiredIntoPrompt(t *testing.T) {
	db := newTestDB(t)
	fx := seedFixture(t, db)

	offering := database.JobOffering{
		ID:          "offer-1",
		CompanyName: "Acme",
		RoleName:    "Backend Developer",
		Description: "<p>Buscamos Go developer</p>",
	}
	if err := db.Create(&offering).Error; err != nil {
		t.Fatalf("seed offering: %v", err)
	}
	if err := db.Model(&database.Project{}).Where("id = ?", fx.project.ID).
		Update("preferences", datatypes.JSONMap{"job_offering_id": "offer-1"}).Error; err != nil {
		t.Fatalf("set preference: %v", err)
	}

	gen := &fakeGenerator{content: validContent()}
	svc := NewService(db, gen, nil, nil)

	if _, err := svc.Create(context.Background(), CreateInput{
		ProjectID:  fx.project.ID,
		TemplateID: fx.template.ID,
	}); err != nil {
		t.Fatalf("create: %v", err)
	}

	assembled := gen.prompts[0]
	if !strings.Contains(assembled, "INFORMACIÓN DE LA EMPRESA/OFERTA:") {
		t.Fatalf("prompt missing offering section")
	}
	if !strings.Contains(assembled, "- Empresa: Acme") {
		t.Fatalf("prompt missing company")
	}
	if strings.Contains(assembled, "<p>") {
		t.Fatalf("offering description html not stripped")
	}
}

func TestJobOfferingPreferenceMissingRow(t *testing.T) {
	db := newTestDB(t)
	fx := seedFixture(t, db)
	if err := db.Model(&database.Project{}).Where("id = ?", fx.project.ID).
		Update("preferences", datatypes.JSONMap{"job_offering_id": "ghost"}).Error; err != nil {
		t.Fatalf("set preference: %v", err)
	}

	gen := &fakeGenerator{content: validContent()}
	svc := NewService(db, gen, nil, nil)

	_, err := svc.Create(context.Background(), CreateInput{ProjectID: fx.project.ID, TemplateID: fx.template.ID})
	if !errors.Is(err, errs.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if gen.calls != 0 {
		t.Fatalf("missing offering must fail before generation")
	}
}

func TestJobOfferingPreferenceWrongType(t *testing.T) {
	db := newTestDB(t)
	fx := seedFixture(t, db)
	if err := db.Model(&database.Project{}).Where("id = ?", fx.project.ID).
		Update("preferences", datatypes.JSONMap{"job_offering_id": 42}).Error; err != nil {
		t.Fatalf("set preference: %v", err)
	}

	gen := &fakeGenerator{content: validContent()}
	svc := NewService(db, gen, nil, nil)

	_, err := svc.Create(context.Background(), CreateInput{ProjectID: fx.project.ID, TemplateID: fx.template.ID})
	if !errors.Is(err, errs.ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
}

func TestGenerationFailurePropagates(t *testing.T) {
	db := newTestDB(t)
	fx := seedFixture(t, db)
	gen := &fakeGenerator{err: errs.Generationf("upstream down")}
	svc := NewService(db, gen, nil, nil)

	_, err := svc.Create(context.Background(), CreateInput{ProjectID: fx.project.ID, TemplateID: fx.template.ID})
	if !errors.Is(err, errs.ErrGeneration) {
		t.Fatalf("expected ErrGeneration, got %v", err)
	}

	var count int64
	db.Model(&database.CV{}).Count(&count)
	if count != 0 {
		t.Fatalf("failed generation must not persist a row")
	}
}
