package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"

	"github.com/dharsanguruparan/AgeGate/internal/events"
	"github.com/dharsanguruparan/AgeGate/internal/intake"
	"github.com/dharsanguruparan/AgeGate/internal/model"
	"github.com/dharsanguruparan/AgeGate/internal/pipeline"
	"github.com/dharsanguruparan/AgeGate/internal/queue"
	"github.com/dharsanguruparan/AgeGate/internal/runs"
)

// Processor is plugged into the asynq worker loop. It executes each task as
// a pipeline run and mirrors the run into the status store and event bus.
type Processor struct {
	orch   *pipeline.Orchestrator
	runs   runs.Store
	bus    events.Bus
	logger *zap.Logger
	now    func() time.Time

	mu       sync.Mutex
	trackers map[string]*tracker
}

// NewProcessor constructs a worker processor. The orchestrator must have
// been built with the processor as its Observer; see Observe.
func NewProcessor(runStore runs.Store, bus events.Bus, logger *zap.Logger) *Processor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Processor{
		runs:     runStore,
		bus:      bus,
		logger:   logger,
		now:      time.Now,
		trackers: make(map[string]*tracker),
	}
}

// Bind sets the orchestrator tasks are run on.
func (p *Processor) Bind(orch *pipeline.Orchestrator) { p.orch = orch }

// Handler registers the verify job handler.
func (p *Processor) Handler() *asynq.ServeMux {
	mux := asynq.NewServeMux()
	mux.HandleFunc(queue.VerifyDocumentTask, p.handleVerify)
	return mux
}

// handleVerify returns nil for every run that reached an outcome, failed or
// not, so asynq never archives or retries it and the user's task ID is free
// for a resubmission.
func (p *Processor) handleVerify(ctx context.Context, task *asynq.Task) error {
	payload, err := queue.DecodeVerify(task)
	if err != nil {
		p.logger.Error("dropping malformed verify task", zap.Error(err))
		return fmt.Errorf("%w: %w", err, asynq.SkipRetry)
	}
	log := p.logger.With(zap.String("run_id", payload.RunID), zap.String("user_id", payload.UserID))

	t := p.track(payload.RunID, payload.UserID)
	defer p.untrack(payload.RunID)

	file := intake.File{Name: payload.FileName, ContentType: payload.ContentType, Data: payload.Data}
	run, err := p.orch.Start(ctx, payload.RunID, pipeline.Session{UserID: payload.UserID}, file)
	if err != nil {
		outcome := model.Outcome{RunID: payload.RunID, Message: err.Error()}
		outcome.Kind = model.KindOf(err)
		outcome.Status = model.StatusFor(outcome.Kind)
		p.finish(ctx, t, outcome, log)
		return nil
	}

	for progress := range run.Progress() {
		t.update(ctx, p, func(s *runs.Status) { s.Progress = progress })
		if err := p.bus.PublishProgress(ctx, payload.RunID, progress); err != nil {
			log.Warn("progress not published", zap.Int("progress", progress), zap.Error(err))
		}
	}
	outcome, _ := run.Wait()
	p.finish(ctx, t, outcome, log)
	return nil
}

func (p *Processor) finish(ctx context.Context, t *tracker, outcome model.Outcome, log *zap.Logger) {
	// The run context may already be done; the final status must still land.
	ctx = context.WithoutCancel(ctx)
	t.update(ctx, p, func(s *runs.Status) {
		s.Status = outcome.Status
		s.Kind = outcome.Kind
		s.Message = outcome.Message
		s.ReferenceURL = outcome.ReferenceURL
		if outcome.Status == model.OutcomeCompleted {
			s.State = model.StateCompleted
			s.Progress = 100
		} else {
			s.State = model.StateFailed
		}
		applyVerification(s, outcome.Verification)
	})
	if err := p.bus.PublishOutcome(ctx, outcome); err != nil {
		log.Warn("outcome not published", zap.Error(err))
	}
}

// Observe implements pipeline.Observer.
func (p *Processor) Observe(ctx context.Context, snap pipeline.Snapshot) {
	p.mu.Lock()
	t, ok := p.trackers[snap.RunID]
	p.mu.Unlock()
	if !ok {
		return
	}
	t.update(ctx, p, func(s *runs.Status) {
		s.State = snap.Transition.To
		applyVerification(s, snap.Verification)
	})
}

func applyVerification(s *runs.Status, v *model.AgeVerification) {
	if v == nil {
		return
	}
	age, adult := v.Age, v.IsAdult
	s.BirthDate = v.BirthDate.String()
	s.Age = &age
	s.IsAdult = &adult
}

func (p *Processor) track(runID, userID string) *tracker {
	t := &tracker{status: runs.Status{
		RunID:  runID,
		UserID: userID,
		State:  model.StateIdle,
		Status: model.OutcomeAcceptedPending,
	}}
	p.mu.Lock()
	p.trackers[runID] = t
	p.mu.Unlock()
	return t
}

func (p *Processor) untrack(runID string) {
	p.mu.Lock()
	delete(p.trackers, runID)
	p.mu.Unlock()
}

// tracker serializes status writes for one run so a late write never
// replaces a newer state.
type tracker struct {
	mu     sync.Mutex
	status runs.Status
}

func (t *tracker) update(ctx context.Context, p *Processor, mutate func(*runs.Status)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	mutate(&t.status)
	t.status.UpdatedAt = p.now().UTC()
	if err := p.runs.Put(ctx, t.status); err != nil {
		p.logger.Warn("run status not stored", zap.String("run_id", t.status.RunID), zap.Error(err))
	}
}
