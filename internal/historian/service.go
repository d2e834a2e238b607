package historian

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"
)

// Batch is one submitted publish batch with its correlation token.
type Batch struct {
	Token   string
	Records []Record
}

// Service runs the publish execution context: a single goroutine that
// drains submitted batches through PublishBatch in FIFO order. Submitters
// may call Submit from any goroutine; all store writes happen in the Run
// loop, which preserves the catalog cache's single-writer discipline.
type Service struct {
	hist   *Historian
	queue  *batchQueue
	logger *slog.Logger
}

// NewService wraps a Historian in an ingest service.
func NewService(h *Historian) *Service {
	return &Service{
		hist:   h,
		queue:  newBatchQueue(),
		logger: slog.Default().With("component", "ingest"),
	}
}

// Submit enqueues a batch for publishing and returns its correlation token.
// UUIDv7 tokens are time-sortable, which keeps log lines for concurrent
// submissions in submission order. Returns ok=false once the service has
// been stopped.
func (s *Service) Submit(records []Record) (token string, ok bool) {
	token = uuid.Must(uuid.NewV7()).String()
	ok = s.queue.enqueue(Batch{Token: token, Records: records})
	return token, ok
}

// Run starts the single-writer publish loop. Blocks until the context is
// cancelled or Stop is called and the queue has drained.
//
// A failed batch is logged with its token and dropped; redelivery is the
// submitter's concern, and the error carries enough context for a manual
// replay. Retrying here would reorder batches.
func (s *Service) Run(ctx context.Context) error {
	s.logger.Info("ingest service starting")
	for {
		batch, ok := s.queue.tryDequeue()
		if ok {
			published, err := s.hist.PublishBatch(ctx, batch.Records)
			if err != nil {
				s.logger.Error("publish batch failed",
					"batch", batch.Token,
					"records", len(batch.Records),
					"error", err,
				)
				continue
			}
			s.logger.Debug("publish batch handled",
				"batch", batch.Token,
				"published", published,
			)
			continue
		}

		select {
		case <-ctx.Done():
			s.logger.Info("ingest service stopping: context cancelled")
			s.queue.close()
			return ctx.Err()
		case <-s.queue.wait():
			if s.queue.closed() && s.queue.len() == 0 {
				s.logger.Info("ingest service stopping: queue closed")
				return nil
			}
		}
	}
}

// Stop closes the queue; Run returns after draining what was submitted.
func (s *Service) Stop() {
	s.queue.close()
}

// Pending returns the number of batches waiting to be published.
func (s *Service) Pending() int {
	return s.queue.len()
}

// batchQueue is a thread-safe FIFO for publish batches. Unbounded, so a
// burst of submissions never blocks the submitter; the signal channel has a
// buffer of one so multiple enqueues coalesce into a single wakeup.
type batchQueue struct {
	mu       sync.Mutex
	batches  []Batch
	isClosed bool
	signal   chan struct{}
}

func newBatchQueue() *batchQueue {
	return &batchQueue{
		batches: make([]Batch, 0, 16),
		signal:  make(chan struct{}, 1),
	}
}

func (q *batchQueue) enqueue(b Batch) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.isClosed {
		return false
	}
	q.batches = append(q.batches, b)
	select {
	case q.signal <- struct{}{}:
	default:
	}
	return true
}

func (q *batchQueue) tryDequeue() (Batch, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.batches) == 0 {
		return Batch{}, false
	}
	b := q.batches[0]
	// Nil out the slot so the backing array does not retain record slices.
	q.batches[0] = Batch{}
	if len(q.batches) == 1 {
		q.batches = q.batches[:0]
	} else {
		q.batches = q.batches[1:]
	}
	return b, true
}

func (q *batchQueue) wait() <-chan struct{} {
	return q.signal
}

func (q *batchQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.batches)
}

func (q *batchQueue) close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.isClosed {
		return
	}
	q.isClosed = true
	close(q.signal)
}

func (q *batchQueue) closed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.isClosed
}
