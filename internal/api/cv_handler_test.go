package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"cvforge/internal/cv"
	"cvforge/internal/cvcontent"
	"cvforge/internal/database"
	"cvforge/internal/errs"
)

type stubGenerator struct {
	calls   int
	content *cvcontent.Content
	err     error
}

func (s *stubGenerator) GenerateCVContent(_ context.Context, _ string) (*cvcontent.Content, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	clone := *s.content
	return &clone, nil
}

func stubContent() *cvcontent.Content {
	return &cvcontent.Content{
		Firstname: "Ana",
		Lastname:  "García",
		Email:     "ana@example.com",
		Phone:     "+34 600 000 000",
		Address:   "Madrid, España",
		Summary:   "Backend developer.",
		Experiences: []cvcontent.Experience{
			{Title: "Backend Developer", Company: "Acme", Date: "2020-2024", Description: "APIs"},
		},
		Education: []cvcontent.Education{
			{Degree: "Ingeniería Informática", Institution: "UCM", Date: "2014-2018"},
		},
		Skills: []cvcontent.SkillGroup{
			{Category: "dev-skill", SkillList: "Go, PostgreSQL"},
		},
		ChatResponse: "Listo.",
	}
}

type handlerFixture struct {
	router   *gin.Engine
	db       *gorm.DB
	user     database.User
	project  database.Project
	template database.Template
}

func newHandlerFixture(t *testing.T, gen *stubGenerator) *handlerFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(database.AllModels()...); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	user := database.User{Email: "ana@example.com", FullName: "Ana García", PasswordHash: "x"}
	if err := db.Create(&user).Error; err != nil {
		t.Fatalf("seed user: %v", err)
	}
	project := database.Project{UserID: user.ID, Name: "Backend remoto", TargetRole: "Backend Developer"}
	if err := db.Create(&project).Error; err != nil {
		t.Fatalf("seed project: %v", err)
	}
	template := database.Template{Name: "plain", TemplateType: "typst", TemplateContent: "Hola << firstname >> << lastname >>"}
	if err := db.Create(&template).Error; err != nil {
		t.Fatalf("seed template: %v", err)
	}

	service := cv.NewService(db, gen, nil, nil)
	handler := NewCVHandler(db, service, nil)

	router := gin.New()
	router.Use(func(c *gin.Context) { c.Set("userID", user.ID) })
	router.POST("/v1/projects/:id/cvs", handler.CreateCV)
	router.GET("/v1/cvs/:id", handler.GetCV)
	router.PATCH("/v1/cvs/:id", handler.UpdateCV)

	return &handlerFixture{router: router, db: db, user: user, project: project, template: template}
}

func (f *handlerFixture) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("")
	} else {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func errorBody(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var payload map[string]string
	if err := json.Unmarshal(w.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode error body %q: %v", w.Body.String(), err)
	}
	return payload["error"]
}

func TestCreateCVHappyPath(t *testing.T) {
	gen := &stubGenerator{content: stubContent()}
	fx := newHandlerFixture(t, gen)

	body := fmt.Sprintf(`{"template_id": %d}`, fx.template.ID)
	w := fx.do(t, http.MethodPost, fmt.Sprintf("/v1/projects/%d/cvs", fx.project.ID), body)

	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}
	var resp struct {
		RenderedContent string `json:"rendered_content"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.RenderedContent != "Hola Ana García" {
		t.Fatalf("unexpected rendered content: %q", resp.RenderedContent)
	}
}

func TestCreateCVMissingTemplateReturns404(t *testing.T) {
	gen := &stubGenerator{content: stubContent()}
	fx := newHandlerFixture(t, gen)

	w := fx.do(t, http.MethodPost, fmt.Sprintf("/v1/projects/%d/cvs", fx.project.ID), `{"template_id": 9999}`)
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d: %s", w.Code, w.Body.String())
	}
	if !strings.Contains(errorBody(t, w), "not found") {
		t.Fatalf("unexpected error body: %s", w.Body.String())
	}
	if gen.calls != 0 {
		t.Fatalf("lookup failure must not reach the generator")
	}
}

func TestCreateCVInvalidRoleReturns400(t *testing.T) {
	gen := &stubGenerator{content: stubContent()}
	fx := newHandlerFixture(t, gen)

	body := fmt.Sprintf(`{"template_id": %d, "messages": [{"role": "system", "content": "hola"}]}`, fx.template.ID)
	w := fx.do(t, http.MethodPost, fmt.Sprintf("/v1/projects/%d/cvs", fx.project.ID), body)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", w.Code, w.Body.String())
	}
}

func TestCreateCVGenerationFailureReturns500(t *testing.T) {
	gen := &stubGenerator{err: errs.Generationf("upstream exploded with secret detail")}
	fx := newHandlerFixture(t, gen)

	body := fmt.Sprintf(`{"template_id": %d}`, fx.template.ID)
	w := fx.do(t, http.MethodPost, fmt.Sprintf("/v1/projects/%d/cvs", fx.project.ID), body)
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d: %s", w.Code, w.Body.String())
	}
	// 生成失败只透出固定文案，不泄露上游细节。
	if got := errorBody(t, w); got != "cv generation failed" {
		t.Fatalf("unexpected error body: %q", got)
	}
}

func TestUpdateCVInvalidContentReturns400(t *testing.T) {
	gen := &stubGenerator{content: stubContent()}
	fx := newHandlerFixture(t, gen)

	created := fx.do(t, http.MethodPost, fmt.Sprintf("/v1/projects/%d/cvs", fx.project.ID), fmt.Sprintf(`{"template_id": %d}`, fx.template.ID))
	if created.Code != http.StatusCreated {
		t.Fatalf("create: %d: %s", created.Code, created.Body.String())
	}
	var resp struct {
		ID uint `json:"id"`
	}
	if err := json.Unmarshal(created.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode create response: %v", err)
	}

	w := fx.do(t, http.MethodPatch, fmt.Sprintf("/v1/cvs/%d", resp.ID), `{"content": "no es un objeto"}`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", w.Code, w.Body.String())
	}
}

func TestGetCVUnknownReturns404(t *testing.T) {
	fx := newHandlerFixture(t, &stubGenerator{content: stubContent()})

	w := fx.do(t, http.MethodGet, "/v1/cvs/9999", "")
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d: %s", w.Code, w.Body.String())
	}
}

func TestGetCVOtherUsersReturns404(t *testing.T) {
	gen := &stubGenerator{content: stubContent()}
	fx := newHandlerFixture(t, gen)

	created := fx.do(t, http.MethodPost, fmt.Sprintf("/v1/projects/%d/cvs", fx.project.ID), fmt.Sprintf(`{"template_id": %d}`, fx.template.ID))
	if created.Code != http.StatusCreated {
		t.Fatalf("create: %d: %s", created.Code, created.Body.String())
	}
	var resp struct {
		ID uint `json:"id"`
	}
	if err := json.Unmarshal(created.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode create response: %v", err)
	}

	other := database.User{Email: "otro@example.com", FullName: "Otro", PasswordHash: "x"}
	if err := fx.db.Create(&other).Error; err != nil {
		t.Fatalf("seed other user: %v", err)
	}
	service := cv.NewService(fx.db, gen, nil, nil)
	handler := NewCVHandler(fx.db, service, nil)
	router := gin.New()
	router.Use(func(c *gin.Context) { c.Set("userID", other.ID) })
	router.GET("/v1/cvs/:id", handler.GetCV)

	req := httptest.NewRequest(http.MethodGet, fmt.Sprintf("/v1/cvs/%d", resp.ID), nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusNotFound {
		t.Fatalf("foreign cv must look absent, got %d: %s", w.Code, w.Body.String())
	}
}
