package adminapi_test

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/sirupsen/logrus"

	"github.com/fdominguez1972/thumper-counter-sub002/internal/admin"
	"github.com/fdominguez1972/thumper-counter-sub002/internal/adminapi"
	"github.com/fdominguez1972/thumper-counter-sub002/internal/config"
	"github.com/fdominguez1972/thumper-counter-sub002/internal/database"
	"github.com/fdominguez1972/thumper-counter-sub002/internal/queue"
)

func newTestServer(t *testing.T) (*httptest.Server, sqlmock.Sqlmock) {
	t.Helper()
	mockDB, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	db := sqlx.NewDb(mockDB, "sqlmock")
	t.Cleanup(func() { db.Close() })

	logger := logrus.New()
	logger.SetLevel(logrus.FatalLevel)

	cfg := config.DefaultConfig()
	srv := &adminapi.Server{
		DB:     db,
		Config: config.NewLiveConfig(cfg),
		Jobs: &admin.Jobs{
			Images:     database.NewImageRepository(db),
			Detections: database.NewDetectionRepository(db),
			Deer:       database.NewDeerRepository(db),
			Queue:      queue.NewMemoryQueue(cfg.MaxRetries),
			Logger:     logger,
		},
		Logger: logger,
	}
	return httptest.NewServer(srv.Router()), mock
}

func TestHealthzAlwaysReportsOK(t *testing.T) {
	ts, _ := newTestServer(t)
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/healthz")
	if err != nil {
		t.Fatalf("GET /healthz: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
}

func TestReadyzReportsUnavailableWhenDatabaseUnreachable(t *testing.T) {
	ts, mock := newTestServer(t)
	defer ts.Close()

	mock.ExpectPing().WillReturnError(errors.New("connection refused"))

	resp, err := http.Get(ts.URL + "/readyz")
	if err != nil {
		t.Fatalf("GET /readyz: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", resp.StatusCode)
	}
}

func TestReadyzReportsOKWhenDatabaseReachable(t *testing.T) {
	ts, mock := newTestServer(t)
	defer ts.Close()

	mock.ExpectPing()

	resp, err := http.Get(ts.URL + "/readyz")
	if err != nil {
		t.Fatalf("GET /readyz: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
}

func TestAdminConfigReturnsEffectiveConfig(t *testing.T) {
	ts, _ := newTestServer(t)
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/admin/config")
	if err != nil {
		t.Fatalf("GET /admin/config: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
}

func TestAdminReembedRequiresVersionParameter(t *testing.T) {
	ts, _ := newTestServer(t)
	defer ts.Close()

	resp, err := http.Post(ts.URL+"/admin/reembed", "application/json", nil)
	if err != nil {
		t.Fatalf("POST /admin/reembed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
}

func TestAdminBackfillEnqueuesPendingImages(t *testing.T) {
	ts, mock := newTestServer(t)
	defer ts.Close()

	rows := sqlmock.NewRows([]string{"id"}).AddRow("img-1")
	mock.ExpectQuery(`SELECT id FROM images WHERE processing_status = 'pending'`).WillReturnRows(rows)

	resp, err := http.Post(ts.URL+"/admin/backfill", "application/json", nil)
	if err != nil {
		t.Fatalf("POST /admin/backfill: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
}
