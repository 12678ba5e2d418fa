package queue_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/sirupsen/logrus"

	"github.com/fdominguez1972/thumper-counter-sub002/internal/apperrors"
	"github.com/fdominguez1972/thumper-counter-sub002/internal/queue"
)

func TestQueue(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Queue Dispatcher Suite")
}

var _ = Describe("Dispatcher", func() {
	var (
		q      *queue.MemoryQueue
		logger *logrus.Logger
		ctx    context.Context
		cancel context.CancelFunc
	)

	BeforeEach(func() {
		q = queue.NewMemoryQueue(5)
		logger = logrus.New()
		logger.SetLevel(logrus.FatalLevel)
		ctx, cancel = context.WithTimeout(context.Background(), 2*time.Second)
	})

	AfterEach(func() {
		cancel()
	})

	It("acks items whose handler succeeds", func() {
		var processed atomic.Int32
		q.Enqueue(ctx, queue.Detect, "img-1")

		d := &queue.Dispatcher{
			Queue: q, QueueName: queue.Detect, Concurrency: 1,
			VisibilityTimeout: time.Second, Handler: func(ctx context.Context, itemID string) error {
				processed.Add(1)
				return nil
			},
			Logger: logger, PollInterval: 10 * time.Millisecond,
		}
		go d.Run(ctx)

		Eventually(func() int32 { return processed.Load() }, time.Second).Should(Equal(int32(1)))
		Eventually(func() int { n, _ := q.Depth(context.Background(), queue.Detect); return n }, time.Second).Should(Equal(0))
	})

	It("nacks items whose handler returns a retryable error, and they are redelivered", func() {
		var attempts atomic.Int32
		q.Enqueue(ctx, queue.Detect, "img-1")

		d := &queue.Dispatcher{
			Queue: q, QueueName: queue.Detect, Concurrency: 1,
			VisibilityTimeout: 10 * time.Millisecond, Handler: func(ctx context.Context, itemID string) error {
				n := attempts.Add(1)
				if n < 2 {
					return apperrors.NewTransientIO("flaky", nil)
				}
				return nil
			},
			Logger: logger, PollInterval: 10 * time.Millisecond,
		}
		go d.Run(ctx)

		Eventually(func() int32 { return attempts.Load() }, time.Second).Should(BeNumerically(">=", 2))
	})

	It("acks items whose handler returns a terminal, non-retryable error", func() {
		var calls atomic.Int32
		q.Enqueue(ctx, queue.Detect, "img-1")

		d := &queue.Dispatcher{
			Queue: q, QueueName: queue.Detect, Concurrency: 1,
			VisibilityTimeout: time.Second, Handler: func(ctx context.Context, itemID string) error {
				calls.Add(1)
				return apperrors.NewInputCorrupt("bad magic bytes")
			},
			Logger: logger, PollInterval: 10 * time.Millisecond,
		}
		go d.Run(ctx)

		Eventually(func() int { n, _ := q.Depth(context.Background(), queue.Detect); return n }, time.Second).Should(Equal(0))
		Consistently(func() int32 { return calls.Load() }, 200*time.Millisecond).Should(Equal(int32(1)))
	})

	It("never runs more than Concurrency handlers at once", func() {
		q.Enqueue(ctx, queue.Detect, "img-1")
		q.Enqueue(ctx, queue.Detect, "img-2")
		q.Enqueue(ctx, queue.Detect, "img-3")

		var mu sync.Mutex
		var inFlight, maxInFlight int32
		release := make(chan struct{})

		d := &queue.Dispatcher{
			Queue: q, QueueName: queue.Detect, Concurrency: 1,
			VisibilityTimeout: time.Second, Handler: func(ctx context.Context, itemID string) error {
				mu.Lock()
				inFlight++
				if inFlight > maxInFlight {
					maxInFlight = inFlight
				}
				mu.Unlock()
				<-release
				mu.Lock()
				inFlight--
				mu.Unlock()
				return nil
			},
			Logger: logger, PollInterval: 10 * time.Millisecond,
		}
		go d.Run(ctx)

		time.Sleep(100 * time.Millisecond)
		close(release)

		Eventually(func() int { n, _ := q.Depth(context.Background(), queue.Detect); return n }, time.Second).Should(Equal(0))
		mu.Lock()
		defer mu.Unlock()
		Expect(maxInFlight).To(Equal(int32(1)))
	})
})
