// Package sequencer drives one archiving batch: records are fetched and
// written strictly one at a time, and each is indexed in the summary before
// the next one starts.
package sequencer

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/post-archiver/internal/archive"
	"github.com/JakeFAU/post-archiver/internal/clock/system"
	"github.com/JakeFAU/post-archiver/internal/hash/sha256"
	"github.com/JakeFAU/post-archiver/internal/metrics"
	"github.com/JakeFAU/post-archiver/internal/queue/memory"
)

// Config identifies the batch being run.
type Config struct {
	Field   string
	BatchID string
}

// Option customises a Sequencer.
type Option func(*Sequencer)

// WithMirror registers a secondary destination for every archived record.
// Mirrors run in registration order.
func WithMirror(name string, m archive.Mirror) Option {
	return func(s *Sequencer) {
		if m != nil {
			s.mirrors = append(s.mirrors, namedMirror{name: name, mirror: m})
		}
	}
}

// WithNotifier registers a batch-completed notifier. Notifiers run in
// registration order.
func WithNotifier(name string, n archive.Notifier) Option {
	return func(s *Sequencer) {
		if n != nil {
			s.notifiers = append(s.notifiers, namedNotifier{name: name, notifier: n})
		}
	}
}

// WithHasher overrides the content digest used for mirror entries.
func WithHasher(h archive.Hasher) Option {
	return func(s *Sequencer) {
		if h != nil {
			s.hasher = h
		}
	}
}

// WithClock overrides the time source.
func WithClock(c archive.Clock) Option {
	return func(s *Sequencer) {
		if c != nil {
			s.clock = c
		}
	}
}

// WithObserver registers a callback invoked on every state transition.
func WithObserver(fn func(archive.State, archive.Record)) Option {
	return func(s *Sequencer) { s.observer = fn }
}

type namedMirror struct {
	name   string
	mirror archive.Mirror
}

type namedNotifier struct {
	name     string
	notifier archive.Notifier
}

// Sequencer runs the Idle -> Fetching -> Writing -> Idle cycle for each
// record and ends in Done.
type Sequencer struct {
	cfg       Config
	fetcher   archive.Fetcher
	writer    archive.ResultWriter
	summary   archive.SummaryWriter
	mirrors   []namedMirror
	notifiers []namedNotifier
	hasher    archive.Hasher
	clock     archive.Clock
	observer  func(archive.State, archive.Record)
	logger    *zap.Logger
	state     archive.State
}

// New wires a Sequencer.
func New(
	cfg Config,
	fetcher archive.Fetcher,
	writer archive.ResultWriter,
	summary archive.SummaryWriter,
	logger *zap.Logger,
	opts ...Option,
) (*Sequencer, error) {
	if fetcher == nil {
		return nil, errors.New("fetcher is required")
	}
	if writer == nil {
		return nil, errors.New("result writer is required")
	}
	if summary == nil {
		return nil, errors.New("summary writer is required")
	}
	if cfg.Field == "" {
		return nil, errors.New("post field is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Sequencer{
		cfg:     cfg,
		fetcher: fetcher,
		writer:  writer,
		summary: summary,
		hasher:  sha256.New(),
		clock:   system.New(),
		logger:  logger.With(zap.String("field", cfg.Field), zap.String("batch_id", cfg.BatchID)),
		state:   archive.StateIdle,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// State returns the current lifecycle state.
func (s *Sequencer) State() archive.State {
	return s.state
}

// Run archives every record of the source. A listing or summary failure
// aborts the batch with an error. Cancellation is honoured between records:
// the record in flight is completed first, then Run returns ctx's error.
func (s *Sequencer) Run(ctx context.Context, source archive.RecordSource) (archive.Report, error) {
	report := archive.Report{
		BatchID: s.cfg.BatchID,
		Field:   s.cfg.Field,
		Started: s.clock.Now(),
	}
	if s.state != archive.StateIdle {
		return report, fmt.Errorf("sequencer already ran (state %s)", s.state)
	}

	recs, err := source.ListRecords(ctx, s.cfg.Field)
	if err != nil {
		return report, fmt.Errorf("list records: %w", err)
	}
	s.logger.Info("batch started", zap.Int("records", len(recs)))

	q := memory.NewQueue(len(recs))
	for _, rec := range recs {
		if err := q.Enqueue(ctx, rec); err != nil {
			return report, fmt.Errorf("enqueue record %s: %w", rec.ID, err)
		}
	}
	q.Close()

	for {
		if err := ctx.Err(); err != nil {
			report.Finished = s.clock.Now()
			s.logger.Warn("batch canceled", zap.Int("processed", report.Processed), zap.Int("remaining", q.Len()))
			return report, fmt.Errorf("batch canceled: %w", err)
		}
		rec, err := q.Dequeue(ctx)
		if errors.Is(err, memory.ErrClosed) {
			break
		}
		if err != nil {
			report.Finished = s.clock.Now()
			return report, fmt.Errorf("next record: %w", err)
		}
		if err := s.process(ctx, rec, &report); err != nil {
			report.Finished = s.clock.Now()
			return report, err
		}
	}

	report.Finished = s.clock.Now()
	s.transition(archive.StateDone, archive.Record{})
	s.logger.Info("batch finished",
		zap.Int("processed", report.Processed),
		zap.Int("succeeded", report.Succeeded),
		zap.Int("failed", report.Failed),
		zap.Int("write_errors", report.WriteErrors),
		zap.Int("mirror_errors", report.MirrorErrors),
	)
	for _, n := range s.notifiers {
		if err := n.notifier.Notify(context.WithoutCancel(ctx), report); err != nil {
			s.logger.Warn("batch notification failed", zap.String("notifier", n.name), zap.Error(err))
		}
	}
	return report, nil
}

// process takes one record through Fetching and Writing. Once a record has
// been dequeued it runs to completion regardless of cancellation.
func (s *Sequencer) process(ctx context.Context, rec archive.Record, report *archive.Report) error {
	recCtx := context.WithoutCancel(ctx)
	log := s.logger.With(
		zap.String("student_id", rec.ID),
		zap.String("url", rec.TargetURL),
		zap.String("file", rec.Source),
	)

	s.transition(archive.StateFetching, rec)
	log.Info("fetching post")
	outcome := s.fetcher.Fetch(recCtx, rec.TargetURL)

	s.transition(archive.StateWriting, rec)
	report.Processed++
	if outcome.OK() {
		report.Succeeded++
	} else {
		report.Failed++
		log.Warn("post not retrieved", zap.Error(outcome.Err()), zap.Int("status", outcome.StatusCode))
	}

	if err := s.writer.Persist(recCtx, rec.ID, outcome); err != nil {
		report.WriteErrors++
		metrics.ObserveWriteError()
		log.Error("write post failed", zap.Error(err))
	} else {
		log.Info("post written", zap.Bool("ok", outcome.OK()))
	}

	s.mirror(recCtx, rec, outcome, report, log)

	if err := s.summary.Append(archive.SummaryRow{ID: rec.ID, TargetURL: rec.TargetURL}); err != nil {
		return fmt.Errorf("summary: %w", err)
	}
	metrics.ObserveRecord(s.cfg.Field, outcome.OK(), len(outcome.Body()))

	s.transition(archive.StateIdle, rec)
	return nil
}

func (s *Sequencer) mirror(
	ctx context.Context,
	rec archive.Record,
	outcome archive.Outcome,
	report *archive.Report,
	log *zap.Logger,
) {
	if len(s.mirrors) == 0 {
		return
	}
	entry, err := s.entry(rec, outcome)
	if err != nil {
		report.MirrorErrors++
		log.Warn("build mirror entry failed", zap.Error(err))
		return
	}
	for _, m := range s.mirrors {
		if err := m.mirror.Mirror(ctx, entry); err != nil {
			report.MirrorErrors++
			metrics.ObserveMirrorError(m.name)
			log.Warn("mirror failed", zap.String("mirror", m.name), zap.Error(err))
		}
	}
}

func (s *Sequencer) entry(rec archive.Record, outcome archive.Outcome) (archive.Entry, error) {
	content := []byte(outcome.Content())
	digest, err := s.hasher.Hash(content)
	if err != nil {
		return archive.Entry{}, fmt.Errorf("hash content: %w", err)
	}
	entry := archive.Entry{
		BatchID:     s.cfg.BatchID,
		Field:       s.cfg.Field,
		StudentID:   rec.ID,
		TargetURL:   rec.TargetURL,
		OK:          outcome.OK(),
		StatusCode:  outcome.StatusCode,
		Hops:        outcome.Hops,
		Content:     content,
		ContentHash: digest,
		ArchivedAt:  s.clock.Now(),
	}
	if err := outcome.Err(); err != nil {
		entry.ErrorText = err.Error()
	}
	return entry, nil
}

func (s *Sequencer) transition(next archive.State, rec archive.Record) {
	s.state = next
	if s.observer != nil {
		s.observer(next, rec)
	}
}
