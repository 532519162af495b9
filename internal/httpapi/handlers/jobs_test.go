package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/glebarez/sqlite"
	"gorm.io/gorm"

	"github.com/Ale866/malta-photogramme3d/internal/auth"
	"github.com/Ale866/malta-photogramme3d/internal/config"
	"github.com/Ale866/malta-photogramme3d/internal/httpapi/middleware"
	"github.com/Ale866/malta-photogramme3d/internal/job"
	"github.com/Ale866/malta-photogramme3d/internal/model"
	"github.com/Ale866/malta-photogramme3d/internal/upload"
)

type fakeQueue struct {
	published []string
	err       error
}

func (q *fakeQueue) PublishJob(_ context.Context, jobID string) error {
	if q.err != nil {
		return q.err
	}
	q.published = append(q.published, jobID)
	return nil
}

const testSecret = "test-secret"

func newTestHandler(t *testing.T, queue JobQueue) *Handler {
	t.Helper()

	gdb, err := gorm.Open(sqlite.Open("file::memory:?cache=shared"), &gorm.Config{})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := gdb.AutoMigrate(&job.Job{}, &model.Model{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	cfg := config.Config{
		JWTSecret:      testSecret,
		UploadDir:      t.TempDir(),
		OutputDir:      t.TempDir(),
		JobLogTailSize: 200,
	}

	return &Handler{
		Cfg:    cfg,
		DB:     gdb,
		Queue:  queue,
		Jobs:   job.NewLifecycle(job.NewRepo(gdb), cfg.JobLogTailSize),
		Models: model.NewService(model.NewRepo(gdb)),
		Stager: upload.NewStager(cfg.UploadDir, cfg.OutputDir),
	}
}

func newTestRouter(h *Handler) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	authGroup := r.Group("/")
	authGroup.Use(middleware.AuthRequired(testSecret))
	authGroup.POST("/upload", h.Upload)
	authGroup.GET("/jobs/:job_id", h.GetJobStatus)
	return r
}

func tokenFor(t *testing.T, userID uint64) string {
	t.Helper()
	tok, err := auth.SignJWT(userID, testSecret, time.Hour)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return tok
}

func uploadRequest(t *testing.T, title string, imageCount int) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	if title != "" {
		if err := w.WriteField("title", title); err != nil {
			t.Fatalf("write field: %v", err)
		}
	}
	for i := 0; i < imageCount; i++ {
		fw, err := w.CreateFormFile("images", "img.jpg")
		if err != nil {
			t.Fatalf("create form file: %v", err)
		}
		if _, err := fw.Write([]byte("jpegdata")); err != nil {
			t.Fatalf("write file: %v", err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close writer: %v", err)
	}
	return &buf, w.FormDataContentType()
}

type envelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func doRequest(r *gin.Engine, req *http.Request) (*httptest.ResponseRecorder, envelope) {
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	var env envelope
	_ = json.Unmarshal(rec.Body.Bytes(), &env)
	return rec, env
}

func TestUploadCreatesAndEnqueuesJob(t *testing.T) {
	q := &fakeQueue{}
	h := newTestHandler(t, q)
	r := newTestRouter(h)

	body, ctype := uploadRequest(t, "Garden Statue", 3)
	req := httptest.NewRequest(http.MethodPost, "/upload", body)
	req.Header.Set("Content-Type", ctype)
	req.Header.Set("Authorization", "Bearer "+tokenFor(t, 7))

	rec, env := doRequest(r, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200, body=%s", rec.Code, rec.Body.String())
	}

	var data struct {
		JobID string `json:"job_id"`
	}
	if err := json.Unmarshal(env.Data, &data); err != nil || data.JobID == "" {
		t.Fatalf("expected job_id in response, got %s", rec.Body.String())
	}
	if len(q.published) != 1 || q.published[0] != data.JobID {
		t.Fatalf("published = %v, want [%s]", q.published, data.JobID)
	}

	j, err := h.Jobs.Get(context.Background(), data.JobID)
	if err != nil {
		t.Fatalf("get job: %v", err)
	}
	if j.Status != job.StatusQueued || j.OwnerID != 7 {
		t.Fatalf("job = %+v, want queued owned by 7", j)
	}
}

func TestUploadRejectsMissingImages(t *testing.T) {
	h := newTestHandler(t, &fakeQueue{})
	r := newTestRouter(h)

	body, ctype := uploadRequest(t, "No Images", 0)
	req := httptest.NewRequest(http.MethodPost, "/upload", body)
	req.Header.Set("Content-Type", ctype)
	req.Header.Set("Authorization", "Bearer "+tokenFor(t, 7))

	rec, _ := doRequest(r, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestUploadRequiresAuth(t *testing.T) {
	h := newTestHandler(t, &fakeQueue{})
	r := newTestRouter(h)

	body, ctype := uploadRequest(t, "Anon", 1)
	req := httptest.NewRequest(http.MethodPost, "/upload", body)
	req.Header.Set("Content-Type", ctype)

	rec, _ := doRequest(r, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
}

func TestGetJobStatus(t *testing.T) {
	h := newTestHandler(t, &fakeQueue{})
	r := newTestRouter(h)

	j, err := h.Jobs.Create(context.Background(), job.CreateInput{
		OwnerID:    7,
		Title:      "statue",
		ImagePaths: []string{"a.jpg"},
	})
	if err != nil {
		t.Fatalf("create job: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/jobs/"+j.ID, nil)
	req.Header.Set("Authorization", "Bearer "+tokenFor(t, 7))
	rec, env := doRequest(r, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200, body=%s", rec.Code, rec.Body.String())
	}

	var snap job.StatusDTO
	if err := json.Unmarshal(env.Data, &snap); err != nil {
		t.Fatalf("decode snapshot: %v", err)
	}
	if snap.JobID != j.ID || snap.Status != job.StatusQueued || snap.Stage != job.StageStarting {
		t.Fatalf("snapshot = %+v", snap)
	}
}

func TestGetJobStatusHidesOtherOwners(t *testing.T) {
	h := newTestHandler(t, &fakeQueue{})
	r := newTestRouter(h)

	j, err := h.Jobs.Create(context.Background(), job.CreateInput{
		OwnerID:    7,
		Title:      "statue",
		ImagePaths: []string{"a.jpg"},
	})
	if err != nil {
		t.Fatalf("create job: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/jobs/"+j.ID, nil)
	req.Header.Set("Authorization", "Bearer "+tokenFor(t, 8))
	rec, _ := doRequest(r, req)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", rec.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/jobs/01JUNKJUNKJUNKJUNKJUNKJUNK", nil)
	req.Header.Set("Authorization", "Bearer "+tokenFor(t, 7))
	rec, _ = doRequest(r, req)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}
