// Package relay implements the C5 outbox relay worker: a non-overlapping
// tick loop that fetches unpublished records, decodes and publishes them,
// and records the outcome of each attempt independently.
package relay

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"aurum-outbox/internal/common/logging"
	"aurum-outbox/internal/common/metrics"
	"aurum-outbox/internal/common/tracing"
	"aurum-outbox/internal/outbox"
	"aurum-outbox/internal/outbox/publisher"
)

var tracer = otel.Tracer("aurum-outbox/outbox/relay")

// Config controls the relay's tick cadence and batch shape.
type Config struct {
	// Interval between the end of one cycle and the start of the next.
	Interval time.Duration
	// BatchSize bounds how many records a single cycle claims.
	BatchSize int
	// MaxAttempts is the attempt count at which a record is quarantined.
	MaxAttempts int
	// ClaimTTL bounds how long a claimed-but-unprocessed record blocks
	// other instances before it becomes eligible again.
	ClaimTTL time.Duration
	// InstanceID identifies this relay instance as a row claimant.
	InstanceID string
}

// Subjecter derives a publish destination and event-type header from a
// record's type tag. Kept as a small seam so the spending context (or any
// other bounded context publishing through this relay) can supply its own
// routing without the relay package depending on it.
type Subjecter func(typeTag string) (subject string, eventTypeName string)

// Worker is the C5 relay: it polls Store on a fixed interval, decodes each
// claimed record via Registry, and publishes it via Publisher.
type Worker struct {
	store     outbox.Store
	registry  *outbox.Registry
	pub       publisher.Publisher
	subjecter Subjecter
	cfg       Config

	healthMu      sync.Mutex
	lastCycleErr  error // top-level exception from the most recently completed cycle
	brokerHealthy bool  // false once a publish attempt fails transiently, until one succeeds again
}

// New returns a Worker. subjecter may be nil, in which case the record's
// type tag is used verbatim as both the subject and the event type header.
func New(store outbox.Store, registry *outbox.Registry, pub publisher.Publisher, subjecter Subjecter, cfg Config) *Worker {
	if subjecter == nil {
		subjecter = func(typeTag string) (string, string) { return typeTag, typeTag }
	}
	return &Worker{store: store, registry: registry, pub: pub, subjecter: subjecter, cfg: cfg, brokerHealthy: true}
}

// Health reports nil if the most recently completed cycle ran without a
// top-level exception (the store was reachable) and the most recent publish
// attempt, if any, did not fail transiently (the broker was reachable).
// Never having run a cycle yet counts as healthy, matching readyHandler's
// "ok until proven otherwise" framing for the rest of the process.
func (w *Worker) Health() error {
	w.healthMu.Lock()
	defer w.healthMu.Unlock()

	if w.lastCycleErr != nil {
		return fmt.Errorf("last relay cycle failed: %w", w.lastCycleErr)
	}
	if !w.brokerHealthy {
		return errors.New("broker unreachable: last publish attempt failed transiently")
	}
	return nil
}

func (w *Worker) recordCycleOutcome(err error) {
	w.healthMu.Lock()
	defer w.healthMu.Unlock()
	w.lastCycleErr = err
}

func (w *Worker) recordBrokerOutcome(healthy bool) {
	w.healthMu.Lock()
	defer w.healthMu.Unlock()
	w.brokerHealthy = healthy
}

// Run blocks, running a cycle every time cfg.Interval elapses, until ctx is
// canceled. Cycles never overlap: a cycle that runs long simply delays the
// next tick rather than running concurrently with it, since the loop only
// rearms the timer after the previous cycle returns.
func (w *Worker) Run(ctx context.Context) error {
	timer := time.NewTimer(w.cfg.Interval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
			if err := w.runCycle(ctx); err != nil && !errors.Is(err, context.Canceled) {
				metrics.RelayCycleErrorsTotal.Inc()
				logging.ErrorContext(ctx, "outbox relay cycle failed", "error", err)
			}
			timer.Reset(w.cfg.Interval)
		}
	}
}

// Tick runs exactly one cycle synchronously, without waiting on the timer.
// Intended for tests that want deterministic control over when a cycle runs.
func (w *Worker) Tick(ctx context.Context) error {
	return w.runCycle(ctx)
}

// runCycle claims one batch and processes each record independently: one
// record's failure is saved via MarkFailed without affecting any other
// record's outcome in the same batch.
func (w *Worker) runCycle(ctx context.Context) (err error) {
	ctx, endSpan := tracing.Start(ctx, tracer, "outbox.Relay.Cycle",
		attribute.String("instance_id", w.cfg.InstanceID),
		attribute.Int("batch_size", w.cfg.BatchSize),
	)
	start := time.Now()
	defer func() {
		metrics.RelayCycleDuration.Observe(time.Since(start).Seconds())
		endSpan(err)
		if errors.Is(err, context.Canceled) {
			// Deliberate shutdown, not a top-level exception: don't let a
			// canceled cycle mark the worker unhealthy on its way out.
			return
		}
		w.recordCycleOutcome(err)
	}()

	claimUntil := time.Now().Add(w.cfg.ClaimTTL)
	records, err := w.store.FetchAndClaim(ctx, w.cfg.BatchSize, w.cfg.MaxAttempts, w.cfg.InstanceID, claimUntil)
	if err != nil {
		err = fmt.Errorf("fetch and claim: %w", err)
		return err
	}

	for _, record := range records {
		select {
		case <-ctx.Done():
			err = ctx.Err()
			return err
		default:
		}
		w.processOne(ctx, record)
	}
	return nil
}

// processOne publishes a single record and records the outcome. Decode
// failures (unknown type, malformed payload) are permanent: the record is
// quarantined immediately without attempting a publish, its attempts set
// straight to MaxAttempts (see quarantine), whereas a failing publish is
// retried on later ticks until its attempts reach MaxAttempts.
func (w *Worker) processOne(ctx context.Context, record *outbox.Record) {
	var spanErr error
	ctx, endSpan := tracing.Start(ctx, tracer, "outbox.Relay.ProcessOne",
		attribute.String("record_id", record.ID.String()),
		attribute.String("type_tag", record.TypeTag),
	)
	defer func() { endSpan(spanErr) }()

	event, err := w.registry.Decode(record)
	if err != nil {
		w.quarantine(ctx, record, err, classifyDecodeOutcome(err))
		return
	}

	subject, eventTypeName := w.subjecter(record.TypeTag)
	msg := publisher.Message{
		MessageID:     record.ID.String(),
		CorrelationID: record.CorrelationID.String(),
		ContentType:   "application/json",
		Subject:       subject,
		EventTypeName: eventTypeName,
		Body:          record.Payload,
	}
	_ = event // decoded purely to validate the payload before publish

	if err := w.pub.Publish(ctx, msg); err != nil {
		if errors.Is(err, outbox.ErrTransientPublish) {
			w.recordBrokerOutcome(false)
		}
		w.fail(ctx, record, err, classifyPublishOutcome(err))
		return
	}
	w.recordBrokerOutcome(true)

	if err := w.store.MarkProcessed(ctx, record.ID); err != nil {
		logging.ErrorContext(ctx, "mark processed failed", "record_id", record.ID.String(), "error", err)
		return
	}
	metrics.RelayPublishAttemptsTotal.WithLabelValues("success").Inc()
}

func (w *Worker) fail(ctx context.Context, record *outbox.Record, cause error, outcome string) {
	metrics.RelayPublishAttemptsTotal.WithLabelValues(outcome).Inc()
	if err := w.store.MarkFailed(ctx, record.ID, cause.Error()); err != nil {
		logging.ErrorContext(ctx, "mark failed failed", "record_id", record.ID.String(), "error", err)
		return
	}
	if record.Attempts+1 >= w.cfg.MaxAttempts {
		metrics.RelayQuarantinedTotal.Inc()
		logging.WarnContext(ctx, "outbox record quarantined", "record_id", record.ID.String(), "type_tag", record.TypeTag, "attempts", record.Attempts+1)
	}
}

// quarantine marks record failed and jumps its attempts straight to
// MaxAttempts: an unknown type tag or malformed payload can't become
// decodable on a later attempt, so there's no reason to burn MaxAttempts-1
// further ticks retrying it the way a transient publish failure is retried.
func (w *Worker) quarantine(ctx context.Context, record *outbox.Record, cause error, outcome string) {
	metrics.RelayPublishAttemptsTotal.WithLabelValues(outcome).Inc()
	if err := w.store.MarkQuarantined(ctx, record.ID, w.cfg.MaxAttempts, cause.Error()); err != nil {
		logging.ErrorContext(ctx, "mark quarantined failed", "record_id", record.ID.String(), "error", err)
		return
	}
	metrics.RelayQuarantinedTotal.Inc()
	logging.WarnContext(ctx, "outbox record quarantined", "record_id", record.ID.String(), "type_tag", record.TypeTag, "attempts", w.cfg.MaxAttempts, "reason", outcome)
}

func classifyDecodeOutcome(err error) string {
	if errors.Is(err, outbox.ErrUnknownType) {
		return "unknown_type"
	}
	return "malformed"
}

func classifyPublishOutcome(err error) string {
	if errors.Is(err, outbox.ErrTransientPublish) {
		return "transient_failure"
	}
	return "permanent_failure"
}
