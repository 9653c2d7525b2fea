// Package parallel splits large generation requests into bounded concurrent
// chunks and recombines the results. Chunk failures are captured per chunk
// rather than aborting the run.
package parallel

import (
	"context"
	"math"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/quizforge/quizforge/api/schemas"
	"github.com/quizforge/quizforge/internal/config"
	"github.com/quizforge/quizforge/internal/llmerrors"
)

// ChunkFunc generates one chunk: index is the zero-based chunk number, size
// the number of questions requested from it.
type ChunkFunc func(ctx context.Context, index, size int) (*schemas.QuestionSet, error)

// Event is one progress notification from ExecuteWithProgress.
type Event struct {
	Type     string `json:"type"` // start, chunk_complete, chunk_error, complete
	Chunk    int    `json:"chunk,omitempty"`
	Chunks   int    `json:"chunks"`
	Progress int    `json:"progress"`
	Error    string `json:"error,omitempty"`
}

// EventFunc receives progress events. Calls are serialised.
type EventFunc func(Event)

// Executor runs chunked generation with a bounded worker count.
type Executor struct {
	cfg    config.ParallelConfig
	logger *zap.Logger
}

func New(cfg config.ParallelConfig, logger *zap.Logger) *Executor {
	return &Executor{cfg: cfg, logger: logger.Named("parallel")}
}

// ShouldUseParallel reports whether n questions warrant chunked execution.
func (e *Executor) ShouldUseParallel(n int) bool {
	return e.cfg.Enabled && n >= e.cfg.Threshold
}

// Chunks splits n into chunk sizes. Every chunk is ChunkSize except a
// smaller trailing remainder; the sizes always sum to n.
func (e *Executor) Chunks(n int) []int {
	size := e.cfg.ChunkSize
	if size <= 0 {
		size = 10
	}
	var out []int
	for n > 0 {
		c := size
		if n < c {
			c = n
		}
		out = append(out, c)
		n -= c
	}
	return out
}

// Execute generates n questions across chunks with at most MaxWorkers in
// flight. Questions are combined in chunk completion order. Failed chunks
// are recorded in the combined metadata; the call errors only when every
// chunk fails.
func (e *Executor) Execute(ctx context.Context, n int, fn ChunkFunc) (*schemas.QuestionSet, error) {
	return e.run(ctx, n, fn, nil)
}

// ExecuteWithProgress is Execute plus start/chunk_complete/chunk_error/
// complete events carrying rounded percent progress.
func (e *Executor) ExecuteWithProgress(ctx context.Context, n int, fn ChunkFunc, onEvent EventFunc) (*schemas.QuestionSet, error) {
	return e.run(ctx, n, fn, onEvent)
}

func (e *Executor) run(ctx context.Context, n int, fn ChunkFunc, onEvent EventFunc) (*schemas.QuestionSet, error) {
	chunks := e.Chunks(n)
	total := len(chunks)

	var mu sync.Mutex
	completed := 0
	combined := &schemas.QuestionSet{Metadata: schemas.SetMetadata{Parallel: true, Chunks: total}}
	var firstErr error

	emit := func(ev Event) {
		if onEvent != nil {
			onEvent(ev)
		}
	}
	emit(Event{Type: "start", Chunks: total})

	workers := e.cfg.MaxWorkers
	if workers <= 0 {
		workers = 1
	}

	g := new(errgroup.Group)
	g.SetLimit(workers)
	for i, size := range chunks {
		g.Go(func() error {
			set, err := fn(ctx, i, size)

			mu.Lock()
			defer mu.Unlock()
			completed++
			progress := int(math.Round(100 * float64(completed) / float64(total)))
			if err != nil {
				if firstErr == nil {
					firstErr = err
				}
				combined.Metadata.Errors = append(combined.Metadata.Errors, schemas.ChunkError{
					Chunk: i,
					Size:  size,
					Error: err.Error(),
				})
				e.logger.Warn("Chunk failed",
					zap.Int("chunk", i),
					zap.Int("size", size),
					zap.Error(err))
				emit(Event{Type: "chunk_error", Chunk: i, Chunks: total, Progress: progress, Error: err.Error()})
				return nil
			}

			combined.Questions = append(combined.Questions, set.Questions...)
			if combined.Metadata.Provider == "" {
				combined.Metadata.Provider = set.Metadata.Provider
				combined.Metadata.Model = set.Metadata.Model
			}
			emit(Event{Type: "chunk_complete", Chunk: i, Chunks: total, Progress: progress})
			return nil
		})
	}
	// Workers never return errors; Wait only fences completion.
	_ = g.Wait()

	if len(combined.Questions) == 0 {
		if firstErr != nil {
			return nil, llmerrors.Wrap(firstErr, "all chunks failed")
		}
		return nil, llmerrors.New(llmerrors.KindProvider, 0, "all chunks returned no questions")
	}

	combined.Metadata.NumQuestions = len(combined.Questions)
	emit(Event{Type: "complete", Chunks: total, Progress: 100})
	e.logger.Info("Parallel generation combined",
		zap.Int("chunks", total),
		zap.Int("questions", len(combined.Questions)),
		zap.Int("failed_chunks", len(combined.Metadata.Errors)))
	return combined, nil
}
