package crawler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/arcgis-catalog-crawler/internal/metrics"
)

// RunnerConfig tunes a Runner.
type RunnerConfig struct {
	// NotifyTopic receives a RootNotice per root when a Publisher is set.
	NotifyTopic string
	// NewRunID defaults to UUIDv7 strings.
	NewRunID func() (string, error)
	// Now defaults to time.Now in UTC.
	Now func() time.Time
}

// Runner processes root catalogs one after another. Each root is skipped
// when already checkpointed; otherwise it is walked, its records are
// appended to the sink, and only then is it marked done.
type Runner struct {
	walker     RootWalker
	sink       RecordSink
	checkpoint Checkpoint
	publisher  Publisher
	cfg        RunnerConfig
	logger     *zap.Logger

	mu     sync.RWMutex
	status Summary
}

// NewRunner wires a Runner. publisher may be nil.
func NewRunner(
	walker RootWalker,
	sink RecordSink,
	checkpoint Checkpoint,
	publisher Publisher,
	cfg RunnerConfig,
	logger *zap.Logger,
) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.NewRunID == nil {
		cfg.NewRunID = newRunID
	}
	if cfg.Now == nil {
		cfg.Now = func() time.Time { return time.Now().UTC() }
	}
	return &Runner{
		walker:     walker,
		sink:       sink,
		checkpoint: checkpoint,
		publisher:  publisher,
		cfg:        cfg,
		logger:     logger.Named("runner"),
	}
}

// Run processes roots in order and returns the run summary. Root failures
// are recorded and the run moves on; checkpoint or sink errors abort the run
// because durability can no longer be guaranteed. Cancellation stops the run
// before the in-flight root is persisted.
func (r *Runner) Run(ctx context.Context, roots []string) (Summary, error) {
	runID, err := r.cfg.NewRunID()
	if err != nil {
		return Summary{}, fmt.Errorf("generate run id: %w", err)
	}
	r.mu.Lock()
	r.status = Summary{RunID: runID, Started: r.cfg.Now()}
	r.mu.Unlock()
	logger := r.logger.With(zap.String("run_id", runID))
	logger.Info("crawl started", zap.Int("roots", len(roots)))

	seen := make(map[string]struct{}, len(roots))
	for _, raw := range roots {
		root := CanonicalRoot(raw)
		if root == "" {
			continue
		}
		if _, dup := seen[root]; dup {
			logger.Debug("duplicate root ignored", zap.String("root", root))
			continue
		}
		seen[root] = struct{}{}

		if err := ctx.Err(); err != nil {
			return r.finish(), fmt.Errorf("crawl interrupted: %w", err)
		}
		if err := r.processRoot(ctx, logger, runID, root); err != nil {
			return r.finish(), err
		}
	}

	summary := r.finish()
	logger.Info("crawl finished",
		zap.Int("completed", summary.Completed),
		zap.Int("partially_failed", summary.PartiallyFailed),
		zap.Int("skipped", summary.Skipped),
		zap.Int("failed", summary.Failed),
		zap.Int("records_written", summary.RecordsWritten),
	)
	return summary, nil
}

func (r *Runner) processRoot(ctx context.Context, logger *zap.Logger, runID, root string) error {
	done, err := r.checkpoint.IsDone(ctx, root)
	if err != nil {
		return fmt.Errorf("read checkpoint for %s: %w", root, err)
	}
	if done {
		logger.Info("root already checkpointed", zap.String("root", root))
		r.record(ctx, runID, RootOutcome{Root: root, State: RootSkipped})
		return nil
	}

	r.setActive(root)
	result, walkErr := r.walker.Walk(ctx, root)
	r.setActive("")
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("crawl interrupted during %s: %w", root, ctxErr)
	}
	if walkErr != nil {
		logger.Error("root failed", zap.String("root", root), zap.Error(walkErr))
		r.record(ctx, runID, RootOutcome{Root: root, State: RootFailed, Error: walkErr.Error()})
		return nil
	}

	written, err := r.sink.Append(ctx, root, result.Records)
	if err != nil {
		return fmt.Errorf("append records for %s: %w", root, err)
	}
	if err := r.checkpoint.MarkDone(ctx, root); err != nil {
		return fmt.Errorf("checkpoint %s: %w", root, err)
	}
	logger.Info("root persisted",
		zap.String("root", root),
		zap.String("state", string(result.State)),
		zap.Int("records", len(result.Records)),
		zap.Int("written", written),
	)
	metrics.ObserveRecords(root, written)
	r.record(ctx, runID, RootOutcome{
		Root:    root,
		State:   result.State,
		Records: len(result.Records),
		Written: written,
		Stats:   result.Stats,
	})
	return nil
}

// record folds an outcome into the run status and publishes a notice.
func (r *Runner) record(ctx context.Context, runID string, outcome RootOutcome) {
	outcome.Finished = r.cfg.Now()
	metrics.ObserveRoot(string(outcome.State))

	r.mu.Lock()
	switch outcome.State {
	case RootCompleted:
		r.status.Completed++
	case RootPartiallyFailed:
		r.status.PartiallyFailed++
	case RootSkipped:
		r.status.Skipped++
	case RootFailed:
		r.status.Failed++
	}
	r.status.RecordsWritten += outcome.Written
	r.status.Roots = append(r.status.Roots, outcome)
	r.mu.Unlock()

	if r.publisher == nil || r.cfg.NotifyTopic == "" || outcome.State == RootSkipped {
		return
	}
	notice := RootNotice{
		RunID:          runID,
		Root:           outcome.Root,
		State:          outcome.State,
		Records:        outcome.Records,
		RecordsWritten: outcome.Written,
		FailedNodes:    outcome.Stats.FailedNodes,
		Error:          outcome.Error,
		Timestamp:      outcome.Finished,
	}
	if _, err := r.publisher.Publish(ctx, r.cfg.NotifyTopic, notice); err != nil && !errors.Is(err, context.Canceled) {
		r.logger.Warn("publish root notice failed", zap.String("root", outcome.Root), zap.Error(err))
	}
}

func (r *Runner) setActive(root string) {
	r.mu.Lock()
	r.status.Active = root
	r.mu.Unlock()
}

func (r *Runner) finish() Summary {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.status.Finished = r.cfg.Now()
	r.status.Active = ""
	return r.snapshot()
}

// Status returns a copy of the current run's progress.
func (r *Runner) Status() Summary {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.snapshot()
}

func (r *Runner) snapshot() Summary {
	out := r.status
	out.Roots = append([]RootOutcome(nil), r.status.Roots...)
	return out
}

func newRunID() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("generate uuid7: %w", err)
	}
	return id.String(), nil
}
