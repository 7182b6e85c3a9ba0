package router

import (
	"bytes"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-participant/internal/config"
	"github.com/stemsi/exstem-participant/internal/handler"
	"github.com/stemsi/exstem-participant/internal/model"
	"github.com/stemsi/exstem-participant/internal/response"
	"github.com/stemsi/exstem-participant/internal/service"
	"github.com/stemsi/exstem-participant/internal/validator"
	"golang.org/x/crypto/bcrypt"
)

type envelope struct {
	Data  json.RawMessage     `json:"data"`
	Error *response.ErrorBody `json:"error"`
}

type testServer struct {
	router *gin.Engine
	mr     *miniredis.Miniredis
	cfg    *config.Config
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)
	validator.Setup()

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	cfg := &config.Config{
		GinMode:        gin.TestMode,
		JWTSecret:      "test-secret",
		JWTExpiry:      time.Hour,
		BcryptCost:     bcrypt.MinCost,
		UploadDir:      t.TempDir(),
		MaxUploadBytes: 1 << 20,
	}
	log := zerolog.Nop()

	exams, err := service.NewExamService([]model.StubExam{{
		ExamDefinition: model.ExamDefinition{
			ID:              "e1",
			Title:           "Ujian Uji",
			StartDate:       "2026-01-01",
			EndDate:         "2030-12-31",
			DurationMinutes: 60,
			Questions: []model.Question{
				{ID: "q1", Type: model.QuestionTypeMultipleChoice, Prompt: "Pilih", Options: []model.Option{{ID: "a", Text: "A"}, {ID: "b", Text: "B"}}},
				{ID: "q2", Type: model.QuestionTypeDocumentUpload, Prompt: "Unggah", Document: &model.DocumentConstraints{AllowedTypes: []string{"pdf"}, MaxSizeMB: 0.001}},
			},
		},
		Invitations: []model.Invitation{
			{ParticipantID: "p1", Name: "Peserta Satu", LoginCode: "CODE-1111"},
			{ParticipantID: "p2", Name: "Peserta Dua", LoginCode: "CODE-2222"},
		},
	}}, bcrypt.MinCost, log)
	if err != nil {
		t.Fatalf("exam service: %v", err)
	}

	authService := service.NewAuthService(cfg, rdb, exams, log)
	handlers := &Handlers{
		Auth:    handler.NewAuthHandler(authService),
		Exam:    handler.NewExamHandler(exams),
		Attempt: handler.NewAttemptHandler(service.NewAttemptService(rdb, exams, log)),
		Media:   handler.NewMediaHandler(service.NewMediaService(cfg, exams, log)),
	}

	return &testServer{
		router: SetupRouter(authService, handlers, nil, cfg),
		mr:     mr,
		cfg:    cfg,
	}
}

func (s *testServer) do(t *testing.T, method, path string, body interface{}, token string) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return s.serve(t, req)
}

func (s *testServer) serve(t *testing.T, req *http.Request) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)

	var env envelope
	if strings.HasPrefix(w.Header().Get("Content-Type"), "application/json") {
		if err := json.Unmarshal(w.Body.Bytes(), &env); err != nil {
			t.Fatalf("decode %s: %v", w.Body.String(), err)
		}
	}
	return w, env
}

func (s *testServer) login(t *testing.T, code string) model.Identity {
	t.Helper()
	w, env := s.do(t, http.MethodPost, "/api/v1/auth/login", map[string]string{"login_code": code}, "")
	if w.Code != http.StatusOK {
		t.Fatalf("login status %d: %s", w.Code, w.Body.String())
	}
	var identity model.Identity
	if err := json.Unmarshal(env.Data, &identity); err != nil {
		t.Fatalf("decode identity: %v", err)
	}
	return identity
}

func expectError(t *testing.T, w *httptest.ResponseRecorder, env envelope, status int, code response.ErrCode) {
	t.Helper()
	if w.Code != status {
		t.Fatalf("status = %d, want %d: %s", w.Code, status, w.Body.String())
	}
	if env.Error == nil || env.Error.Code != code {
		t.Fatalf("error = %+v, want %s", env.Error, code)
	}
}

func TestHealth(t *testing.T) {
	s := newTestServer(t)
	w, _ := s.do(t, http.MethodGet, "/health", nil, "")
	if w.Code != http.StatusOK {
		t.Fatalf("status %d", w.Code)
	}
	if w.Header().Get("X-Request-ID") == "" {
		t.Error("expected request id header")
	}
}

func TestLoginCodeIsSingleUse(t *testing.T) {
	s := newTestServer(t)

	identity := s.login(t, "CODE-1111")
	if identity.ParticipantID != "p1" || identity.ExamID != "e1" || identity.Name != "Peserta Satu" || identity.Token == "" {
		t.Fatalf("unexpected identity %+v", identity)
	}

	w, env := s.do(t, http.MethodPost, "/api/v1/auth/login", map[string]string{"login_code": "CODE-1111"}, "")
	expectError(t, w, env, http.StatusConflict, response.ErrLoginCodeUsed)

	w, env = s.do(t, http.MethodPost, "/api/v1/auth/login", map[string]string{"login_code": "WRONG-0000"}, "")
	expectError(t, w, env, http.StatusUnauthorized, response.ErrInvalidLoginCode)

	w, env = s.do(t, http.MethodPost, "/api/v1/auth/login", map[string]string{}, "")
	expectError(t, w, env, http.StatusBadRequest, response.ErrValidation)
	if env.Error.Fields["login_code"] == "" {
		t.Errorf("expected login_code field error, got %v", env.Error.Fields)
	}

	// Another invitation is unaffected.
	s.login(t, "CODE-2222")
}

func TestExamRequiresMatchingToken(t *testing.T) {
	s := newTestServer(t)

	w, env := s.do(t, http.MethodGet, "/api/v1/exam/e1", nil, "")
	expectError(t, w, env, http.StatusUnauthorized, response.ErrTokenRequired)

	w, env = s.do(t, http.MethodGet, "/api/v1/exam/e1", nil, "not-a-jwt")
	expectError(t, w, env, http.StatusUnauthorized, response.ErrTokenInvalid)

	identity := s.login(t, "CODE-1111")

	w, env = s.do(t, http.MethodGet, "/api/v1/exam/e1", nil, identity.Token)
	if w.Code != http.StatusOK {
		t.Fatalf("status %d: %s", w.Code, w.Body.String())
	}
	var exam model.ExamDefinition
	if err := json.Unmarshal(env.Data, &exam); err != nil {
		t.Fatalf("decode exam: %v", err)
	}
	if exam.ID != "e1" || len(exam.Questions) != 2 || exam.DurationMinutes != 60 {
		t.Fatalf("unexpected exam %+v", exam)
	}

	w, env = s.do(t, http.MethodGet, "/api/v1/exam/e2", nil, identity.Token)
	expectError(t, w, env, http.StatusForbidden, response.ErrForbidden)
}

func TestDraftThenSubmit(t *testing.T) {
	s := newTestServer(t)
	identity := s.login(t, "CODE-1111")

	sub := model.AnswerSubmission{
		ParticipantID: "p1",
		ExamID:        "e1",
		Answers: []model.DraftAnswer{
			{QuestionID: "q1", QuestionType: model.QuestionTypeMultipleChoice, Text: "a"},
			{QuestionID: "q2", QuestionType: model.QuestionTypeDocumentUpload, Text: "[]"},
		},
	}
	answersKey := config.CacheKey.DraftAnswersKey("p1", "e1")

	w, _ := s.do(t, http.MethodPost, "/api/v1/draft", sub, identity.Token)
	if w.Code != http.StatusOK {
		t.Fatalf("draft status %d: %s", w.Code, w.Body.String())
	}
	if got := s.mr.HGet(answersKey, "q1"); got != "a" {
		t.Errorf("draft q1 = %q, want a", got)
	}

	t.Run("OtherParticipant", func(t *testing.T) {
		other := sub
		other.ParticipantID = "p2"
		w, env := s.do(t, http.MethodPost, "/api/v1/draft", other, identity.Token)
		expectError(t, w, env, http.StatusForbidden, response.ErrForbidden)
	})

	t.Run("UnknownQuestion", func(t *testing.T) {
		bad := sub
		bad.Answers = []model.DraftAnswer{{QuestionID: "q9", QuestionType: model.QuestionTypeEssay, Text: "x"}}
		w, env := s.do(t, http.MethodPost, "/api/v1/draft", bad, identity.Token)
		expectError(t, w, env, http.StatusBadRequest, response.ErrUnknownQuestion)
	})

	t.Run("WrongType", func(t *testing.T) {
		bad := sub
		bad.Answers = []model.DraftAnswer{{QuestionID: "q1", QuestionType: model.QuestionTypeEssay, Text: "x"}}
		w, env := s.do(t, http.MethodPost, "/api/v1/draft", bad, identity.Token)
		expectError(t, w, env, http.StatusBadRequest, response.ErrUnknownQuestion)
	})

	t.Run("InvalidType", func(t *testing.T) {
		bad := sub
		bad.Answers = []model.DraftAnswer{{QuestionID: "q1", QuestionType: "trueFalse", Text: "x"}}
		w, env := s.do(t, http.MethodPost, "/api/v1/draft", bad, identity.Token)
		expectError(t, w, env, http.StatusBadRequest, response.ErrValidation)
	})

	sub.Answers[0].Text = "b"
	w, _ = s.do(t, http.MethodPost, "/api/v1/submit", sub, identity.Token)
	if w.Code != http.StatusOK {
		t.Fatalf("submit status %d: %s", w.Code, w.Body.String())
	}
	if got := s.mr.HGet(answersKey, "q1"); got != "b" {
		t.Errorf("submitted q1 = %q, want b", got)
	}
	if !s.mr.Exists(config.CacheKey.AttemptClosedKey("p1", "e1")) {
		t.Error("attempt should be marked closed")
	}

	w, env := s.do(t, http.MethodPost, "/api/v1/submit", sub, identity.Token)
	expectError(t, w, env, http.StatusConflict, response.ErrAttemptClosed)

	w, env = s.do(t, http.MethodPost, "/api/v1/draft", sub, identity.Token)
	expectError(t, w, env, http.StatusConflict, response.ErrAttemptClosed)
}

func TestUploadDocument(t *testing.T) {
	s := newTestServer(t)
	identity := s.login(t, "CODE-1111")

	upload := func(questionID, filename string, content []byte) (*httptest.ResponseRecorder, envelope) {
		var buf bytes.Buffer
		mw := multipart.NewWriter(&buf)
		if questionID != "" {
			_ = mw.WriteField("question_id", questionID)
		}
		if filename != "" {
			fw, err := mw.CreateFormFile("file", filename)
			if err != nil {
				t.Fatalf("form file: %v", err)
			}
			fw.Write(content)
		}
		mw.Close()

		req := httptest.NewRequest(http.MethodPost, "/api/v1/upload", &buf)
		req.Header.Set("Content-Type", mw.FormDataContentType())
		req.Header.Set("Authorization", "Bearer "+identity.Token)
		return s.serve(t, req)
	}

	w, env := upload("q2", "Laporan.PDF", []byte("%PDF-1.4"))
	if w.Code != http.StatusOK {
		t.Fatalf("upload status %d: %s", w.Code, w.Body.String())
	}
	var result model.UploadResult
	if err := json.Unmarshal(env.Data, &result); err != nil {
		t.Fatalf("decode result: %v", err)
	}
	if result.FileName != "Laporan.PDF" || !strings.HasPrefix(result.FilePath, "/uploads/p1/") || !strings.HasSuffix(result.FilePath, ".pdf") {
		t.Fatalf("unexpected result %+v", result)
	}
	stored := filepath.Join(s.cfg.UploadDir, strings.TrimPrefix(result.FilePath, "/uploads/"))
	if raw, err := os.ReadFile(stored); err != nil || string(raw) != "%PDF-1.4" {
		t.Fatalf("stored file = %q, %v", raw, err)
	}

	t.Run("Served", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, result.FilePath, nil)
		w := httptest.NewRecorder()
		s.router.ServeHTTP(w, req)
		if w.Code != http.StatusOK || w.Body.String() != "%PDF-1.4" {
			t.Fatalf("GET %s = %d %q", result.FilePath, w.Code, w.Body.String())
		}
		if cc := w.Header().Get("Cache-Control"); !strings.Contains(cc, "private") {
			t.Errorf("Cache-Control = %q", cc)
		}
	})

	t.Run("UnsupportedType", func(t *testing.T) {
		w, env := upload("q2", "virus.exe", []byte("MZ"))
		expectError(t, w, env, http.StatusBadRequest, response.ErrUnsupportedFile)
	})

	t.Run("TooLarge", func(t *testing.T) {
		w, env := upload("q2", "besar.pdf", bytes.Repeat([]byte("x"), 4096))
		expectError(t, w, env, http.StatusBadRequest, response.ErrFileTooLarge)
	})

	t.Run("NotDocumentQuestion", func(t *testing.T) {
		w, env := upload("q1", "a.pdf", []byte("%PDF"))
		expectError(t, w, env, http.StatusBadRequest, response.ErrUnknownQuestion)
	})

	t.Run("MissingFile", func(t *testing.T) {
		w, env := upload("q2", "", nil)
		expectError(t, w, env, http.StatusBadRequest, response.ErrFileRequired)
	})

	t.Run("MissingQuestion", func(t *testing.T) {
		w, env := upload("", "a.pdf", []byte("%PDF"))
		expectError(t, w, env, http.StatusBadRequest, response.ErrValidation)
	})
}
