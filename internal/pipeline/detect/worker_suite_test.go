package detect_test

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/sirupsen/logrus"

	"github.com/fdominguez1972/thumper-counter-sub002/internal/apperrors"
	"github.com/fdominguez1972/thumper-counter-sub002/internal/database"
	"github.com/fdominguez1972/thumper-counter-sub002/internal/inference"
	"github.com/fdominguez1972/thumper-counter-sub002/internal/pipeline/detect"
	"github.com/fdominguez1972/thumper-counter-sub002/internal/queue"
)

func TestDetectWorker(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Detect Worker Suite")
}

var _ = Describe("Worker.Handle", func() {
	var (
		ctx    context.Context
		db     *sqlx.DB
		mock   sqlmock.Sqlmock
		w      *detect.Worker
		reidQ  *queue.MemoryQueue
		logger *logrus.Logger
	)

	BeforeEach(func() {
		ctx = context.Background()
		logger = logrus.New()
		logger.SetLevel(logrus.FatalLevel)

		mockDB, mockSQL, err := sqlmock.New()
		Expect(err).ToNot(HaveOccurred())
		db = sqlx.NewDb(mockDB, "sqlmock")
		mock = mockSQL

		reidQ = queue.NewMemoryQueue(5)
		w = &detect.Worker{
			Images:            database.NewImageRepository(db),
			Detections:        database.NewDetectionRepository(db),
			DB:                db,
			ReIDQueue:         reidQ,
			Logger:            logger,
			ConfidenceFloor:   0.5,
			IoUDedupThreshold: 0.5,
			RecordNonDeer:     true,
		}
	})

	AfterEach(func() {
		Expect(mock.ExpectationsWereMet()).To(Succeed())
	})

	It("claims, infers, persists and hands off to re-id on the happy path", func() {
		imgRows := sqlmock.NewRows([]string{"id", "location_id", "path", "filename", "timestamp", "processing_status", "error_message"}).
			AddRow("img-1", "loc-1", "/images/a.jpg", "a.jpg", time.Now(), "pending", "")
		mock.ExpectQuery(`SELECT id, location_id, path, filename, timestamp, processing_status, error_message`).
			WithArgs("img-1").WillReturnRows(imgRows)

		mock.ExpectExec(`UPDATE images SET processing_status = \$1 WHERE id = \$2 AND processing_status = \$3`).
			WithArgs("processing", "img-1", "pending").
			WillReturnResult(sqlmock.NewResult(0, 1))

		mock.ExpectBegin()
		mock.ExpectExec(`INSERT INTO detections`).WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectExec(`UPDATE images SET processing_status = \$1 WHERE id = \$2 AND processing_status = \$3`).
			WithArgs("completed", "img-1", "processing").
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		w.Engine = &inference.FakeEngine{
			DetectFunc: func(ctx context.Context, imagePath string) ([]inference.RawDetection, error) {
				Expect(imagePath).To(Equal("/images/a.jpg"))
				return []inference.RawDetection{{X0: 0, Y0: 0, X1: 20, Y1: 20, Confidence: 0.9, Class: "doe"}}, nil
			},
		}

		err := w.Handle(ctx, "img-1")
		Expect(err).ToNot(HaveOccurred())

		depth, _ := reidQ.Depth(ctx, queue.ReID)
		Expect(depth).To(Equal(1))
	})

	It("skips an image that is not pending without touching inference", func() {
		imgRows := sqlmock.NewRows([]string{"id", "location_id", "path", "filename", "timestamp", "processing_status", "error_message"}).
			AddRow("img-1", "loc-1", "/images/a.jpg", "a.jpg", time.Now(), "pending", "")
		mock.ExpectQuery(`SELECT id, location_id, path, filename, timestamp, processing_status, error_message`).
			WithArgs("img-1").WillReturnRows(imgRows)

		mock.ExpectExec(`UPDATE images SET processing_status = \$1 WHERE id = \$2 AND processing_status = \$3`).
			WithArgs("processing", "img-1", "pending").
			WillReturnResult(sqlmock.NewResult(0, 0)) // CAS fails: 0 rows affected

		called := false
		w.Engine = &inference.FakeEngine{
			DetectFunc: func(ctx context.Context, imagePath string) ([]inference.RawDetection, error) {
				called = true
				return nil, nil
			},
		}

		err := w.Handle(ctx, "img-1")
		Expect(err).ToNot(HaveOccurred())
		Expect(called).To(BeFalse())
	})

	It("releases the image back to pending without a terminal failure on a retryable error", func() {
		imgRows := sqlmock.NewRows([]string{"id", "location_id", "path", "filename", "timestamp", "processing_status", "error_message"}).
			AddRow("img-1", "loc-1", "/images/a.jpg", "a.jpg", time.Now(), "pending", "")
		mock.ExpectQuery(`SELECT id, location_id, path, filename, timestamp, processing_status, error_message`).
			WithArgs("img-1").WillReturnRows(imgRows)

		mock.ExpectExec(`UPDATE images SET processing_status = \$1 WHERE id = \$2 AND processing_status = \$3`).
			WithArgs("processing", "img-1", "pending").
			WillReturnResult(sqlmock.NewResult(0, 1))

		mock.ExpectExec(`UPDATE images SET processing_status = \$1 WHERE id = \$2 AND processing_status = \$3`).
			WithArgs("pending", "img-1", "processing").
			WillReturnResult(sqlmock.NewResult(0, 1))

		w.Engine = &inference.FakeEngine{
			DetectFunc: func(ctx context.Context, imagePath string) ([]inference.RawDetection, error) {
				return nil, apperrors.NewInferenceTimeout("detect")
			},
		}

		err := w.Handle(ctx, "img-1")
		Expect(err).To(HaveOccurred())
		Expect(apperrors.ShouldRetry(err)).To(BeTrue())
	})

	It("terminally fails the image on a non-retryable error", func() {
		imgRows := sqlmock.NewRows([]string{"id", "location_id", "path", "filename", "timestamp", "processing_status", "error_message"}).
			AddRow("img-1", "loc-1", "/images/a.jpg", "a.jpg", time.Now(), "pending", "")
		mock.ExpectQuery(`SELECT id, location_id, path, filename, timestamp, processing_status, error_message`).
			WithArgs("img-1").WillReturnRows(imgRows)

		mock.ExpectExec(`UPDATE images SET processing_status = \$1 WHERE id = \$2 AND processing_status = \$3`).
			WithArgs("processing", "img-1", "pending").
			WillReturnResult(sqlmock.NewResult(0, 1))

		mock.ExpectExec(`UPDATE images SET processing_status = 'failed'`).
			WillReturnResult(sqlmock.NewResult(0, 1))

		w.Engine = &inference.FakeEngine{
			DetectFunc: func(ctx context.Context, imagePath string) ([]inference.RawDetection, error) {
				return nil, apperrors.NewInputCorrupt("unreadable jpeg")
			},
		}

		err := w.Handle(ctx, "img-1")
		Expect(err).To(HaveOccurred())
		Expect(apperrors.ShouldRetry(err)).To(BeFalse())
	})
})
