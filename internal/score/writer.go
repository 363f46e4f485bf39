package score

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/sethvargo/go-retry"

	"github.com/derekforsure/APIQ-interactive-quiz-sub000/internal/metrics"
)

// Store is the durable ledger behind the writer. Subjects are student
// identifiers in individual mode and department names in department mode;
// the rows are written already keyed by the right subject, so summing only
// needs a group-by.
type Store interface {
	UpsertQuestionScore(ctx context.Context, sessionID string, questionID int, subject string, points int) error
	UpsertSessionScore(ctx context.Context, sessionID, subject string, points int) error
	SumQuestionScores(ctx context.Context, sessionID string) (map[string]int, error)
	DeactivateSession(ctx context.Context, sessionID string) error
}

// WriterOptions bounds the retry behavior for ledger writes.
type WriterOptions struct {
	MaxRetries uint64
	Backoff    time.Duration
}

// Writer performs durable, retryable score ledger writes. Ledger writes
// are the engine's only side effects outside its own state store, so every
// call here is wrapped in a small fixed-backoff retry.
type Writer struct {
	store   Store
	logger  zerolog.Logger
	metrics *metrics.Metrics
	retries uint64
	backoff time.Duration
}

// NewWriter creates a ledger writer over the given store.
func NewWriter(store Store, opts WriterOptions, mets *metrics.Metrics, logger zerolog.Logger) *Writer {
	retries := opts.MaxRetries
	if retries == 0 {
		retries = 3
	}
	backoff := opts.Backoff
	if backoff <= 0 {
		backoff = 250 * time.Millisecond
	}
	return &Writer{
		store:   store,
		logger:  logger,
		metrics: mets,
		retries: retries,
		backoff: backoff,
	}
}

func (w *Writer) withRetry(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	backoff := retry.WithMaxRetries(w.retries, retry.NewConstant(w.backoff))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		if err := fn(ctx); err != nil {
			return retry.RetryableError(err)
		}
		return nil
	})
	if err != nil {
		if w.metrics != nil {
			w.metrics.LedgerRetryExhausted.Inc()
		}
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// RecordQuestionScore upserts the per-question score row for a subject.
// Re-judging the same question overwrites the previous row.
func (w *Writer) RecordQuestionScore(ctx context.Context, sessionID string, questionID int, subject string, points int) error {
	return w.withRetry(ctx, "record question score", func(ctx context.Context) error {
		return w.store.UpsertQuestionScore(ctx, sessionID, questionID, subject, points)
	})
}

// FinalizeSession marks the session inactive, recomputes authoritative
// totals by summing the per-question rows, and persists them as session
// scores. Per-subject persist failures are logged and skipped so one bad
// row cannot hold the quiz open.
func (w *Writer) FinalizeSession(ctx context.Context, sessionID string) (map[string]int, error) {
	if err := w.withRetry(ctx, "deactivate session", func(ctx context.Context) error {
		return w.store.DeactivateSession(ctx, sessionID)
	}); err != nil {
		w.logger.Error().Err(err).Str("session_id", sessionID).Msg("session deactivate failed")
	}

	var totals map[string]int
	err := w.withRetry(ctx, "sum question scores", func(ctx context.Context) error {
		var sumErr error
		totals, sumErr = w.store.SumQuestionScores(ctx, sessionID)
		return sumErr
	})
	if err != nil {
		return nil, err
	}

	for subject, points := range totals {
		if err := w.withRetry(ctx, "persist session score", func(ctx context.Context) error {
			return w.store.UpsertSessionScore(ctx, sessionID, subject, points)
		}); err != nil {
			w.logger.Error().Err(err).
				Str("session_id", sessionID).
				Str("subject", subject).
				Msg("session score persist failed")
		}
	}

	return totals, nil
}
