// Package pipeline drives a submitted document through intake, OCR, age
// resolution, the age gate, upload and recording. Stages run strictly in
// sequence and nothing is written to storage before the gate passes.
package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/dharsanguruparan/AgeGate/internal/agecheck"
	"github.com/dharsanguruparan/AgeGate/internal/intake"
	"github.com/dharsanguruparan/AgeGate/internal/metrics"
	"github.com/dharsanguruparan/AgeGate/internal/model"
)

// ErrRunInProgress is returned by Start when the user already has an active
// run on this orchestrator.
var ErrRunInProgress = errors.New("verification already in progress for user")

// Extractor turns a document into recognized text.
type Extractor interface {
	Extract(ctx context.Context, doc model.Document, languageHint string) (string, error)
}

// ObjectStore receives the document bytes. progress is called with the
// number of bytes transferred so far; the returned string is the reference
// URL of the stored object.
type ObjectStore interface {
	Upload(ctx context.Context, path string, r io.Reader, size int64, contentType string, progress func(transferred int64)) (string, error)
}

// Observer is told about every state transition. Calls happen on the run's
// goroutine and must not block for long.
type Observer interface {
	Observe(ctx context.Context, s Snapshot)
}

// Session identifies the caller of a run.
type Session struct {
	UserID string
}

// Options tune an Orchestrator.
type Options struct {
	Language       string
	ExtractTimeout time.Duration
	UploadTimeout  time.Duration
	Clock          func() time.Time
	Observer       Observer
	Metrics        *metrics.Metrics
}

// Orchestrator owns the runs started through it and allows at most one
// active run per user.
type Orchestrator struct {
	extractor Extractor
	store     ObjectStore
	recorder  *Recorder
	opts      Options
	logger    *zap.Logger

	mu     sync.Mutex
	active map[string]struct{}
}

// New constructs an Orchestrator.
func New(extractor Extractor, store ObjectStore, recorder *Recorder, opts Options, logger *zap.Logger) *Orchestrator {
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{
		extractor: extractor,
		store:     store,
		recorder:  recorder,
		opts:      opts,
		logger:    logger,
		active:    make(map[string]struct{}),
	}
}

// ObjectPath is where a user's document lives in the bucket. Resubmissions
// overwrite the same object.
func ObjectPath(userID string, doc model.Document) string {
	return fmt.Sprintf("documentos/%s/rg.%s", userID, doc.Extension())
}

// Start launches a run for file and returns immediately. An empty runID is
// replaced with a random one. Every call begins a fresh state machine in
// Idle, so resubmitting a document after a failure starts over.
func (o *Orchestrator) Start(ctx context.Context, runID string, sess Session, file intake.File) (*Run, error) {
	if runID == "" {
		runID = uuid.NewString()
	}
	if sess.UserID != "" {
		o.mu.Lock()
		if _, busy := o.active[sess.UserID]; busy {
			o.mu.Unlock()
			return nil, ErrRunInProgress
		}
		o.active[sess.UserID] = struct{}{}
		o.mu.Unlock()
	}
	run := newRun(runID, sess.UserID)
	go o.execute(ctx, run, sess, file)
	return run, nil
}

// Submit runs file to completion, passing every progress value to
// onProgress when it is not nil.
func (o *Orchestrator) Submit(ctx context.Context, sess Session, file intake.File, onProgress func(int)) (model.Outcome, error) {
	run, err := o.Start(ctx, "", sess, file)
	if err != nil {
		return model.Outcome{}, err
	}
	for p := range run.Progress() {
		if onProgress != nil {
			onProgress(p)
		}
	}
	return run.Wait()
}

func (o *Orchestrator) release(userID string) {
	if userID == "" {
		return
	}
	o.mu.Lock()
	delete(o.active, userID)
	o.mu.Unlock()
}

func (o *Orchestrator) execute(ctx context.Context, run *Run, sess Session, file intake.File) {
	log := o.logger.With(zap.String("run_id", run.ID), zap.String("user_id", sess.UserID))
	defer o.release(sess.UserID)

	referenceURL, err := o.advance(ctx, run, sess, file, log)
	outcome := model.Outcome{RunID: run.ID, ReferenceURL: referenceURL}
	if err != nil {
		if snap, ok := run.fail(err); ok {
			o.observe(ctx, snap)
		}
		outcome.ReferenceURL = ""
		outcome.Message = err.Error()
	}
	outcome.Kind = model.KindOf(err)
	outcome.Status = model.StatusFor(outcome.Kind)
	run.mu.Lock()
	if run.verification != nil {
		v := *run.verification
		outcome.Verification = &v
	}
	run.mu.Unlock()

	o.opts.Metrics.IncOutcome(string(outcome.Status), string(outcome.Kind))
	if err != nil {
		log.Info("verification run ended",
			zap.String("status", string(outcome.Status)),
			zap.String("kind", string(outcome.Kind)),
			zap.Bool("timeout", model.IsTimeout(err)),
			zap.Error(err))
	} else {
		log.Info("verification run completed", zap.String("reference_url", referenceURL))
	}
	run.finish(outcome, err)
}

// advance walks the machine from Idle to Completed and returns the first
// stage error.
func (o *Orchestrator) advance(ctx context.Context, run *Run, sess Session, file intake.File, log *zap.Logger) (string, error) {
	if sess.UserID == "" {
		return "", fmt.Errorf("%w: no user in session", model.ErrAuthRequired)
	}
	doc, err := intake.Validate(file)
	if err != nil {
		return "", err
	}
	if err := o.fire(ctx, run, EventStart); err != nil {
		return "", err
	}

	text, err := o.extract(ctx, doc)
	if err != nil {
		return "", err
	}
	if err := o.fire(ctx, run, EventTextExtracted); err != nil {
		return "", err
	}

	// The gate evaluates against the same instant the age was computed for.
	now := o.opts.Clock()
	res, verification, err := agecheck.Resolve(text, now)
	if err != nil {
		return "", err
	}
	log.Debug("birth date resolved", zap.Int("match_start", res.Match.Start), zap.Int("age", verification.Age))
	run.setVerification(verification)
	if err := o.fire(ctx, run, EventAgeResolved); err != nil {
		return "", err
	}

	if err := agecheck.Gate(verification); err != nil {
		return "", err
	}
	if err := o.fire(ctx, run, EventGatePassed); err != nil {
		return "", err
	}

	upload, err := o.upload(ctx, run, sess, doc)
	if err != nil {
		return "", err
	}
	if err := o.fire(ctx, run, EventUploaded); err != nil {
		return "", err
	}

	start := time.Now()
	_, err = o.recorder.Record(ctx, sess.UserID, doc, upload, verification)
	o.opts.Metrics.ObserveStage("persist", time.Since(start))
	if err != nil {
		return "", err
	}
	if err := o.fire(ctx, run, EventRecorded); err != nil {
		return "", err
	}
	return upload.ReferenceURL, nil
}

func (o *Orchestrator) fire(ctx context.Context, run *Run, ev Event) error {
	snap, err := run.fire(ev)
	if err != nil {
		return err
	}
	o.observe(ctx, snap)
	return nil
}

func (o *Orchestrator) observe(ctx context.Context, snap Snapshot) {
	if o.opts.Observer != nil {
		o.opts.Observer.Observe(ctx, snap)
	}
}

func (o *Orchestrator) extract(ctx context.Context, doc model.Document) (string, error) {
	if o.opts.ExtractTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.opts.ExtractTimeout)
		defer cancel()
	}
	start := time.Now()
	defer func() { o.opts.Metrics.ObserveStage("extraction", time.Since(start)) }()
	return o.extractor.Extract(ctx, doc, o.opts.Language)
}

func (o *Orchestrator) upload(ctx context.Context, run *Run, sess Session, doc model.Document) (model.UploadRecord, error) {
	if o.opts.UploadTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.opts.UploadTimeout)
		defer cancel()
	}
	path := ObjectPath(sess.UserID, doc)
	run.beginUpload(path)
	run.emit(0, false)

	start := time.Now()
	referenceURL, err := o.store.Upload(ctx, path, bytes.NewReader(doc.Data), doc.Size, string(doc.MediaType), func(transferred int64) {
		run.emit(percent(transferred, doc.Size), false)
	})
	o.opts.Metrics.ObserveStage("upload", time.Since(start))
	if err != nil {
		return model.UploadRecord{}, fmt.Errorf("%w: %w", model.ErrUploadFailed, err)
	}
	o.opts.Metrics.AddUploadBytes(doc.Size)
	return run.completeUpload(referenceURL), nil
}

// percent stays below 100 until the store has acknowledged the object.
func percent(transferred, total int64) int {
	if total <= 0 || transferred <= 0 {
		return 0
	}
	p := int(transferred * 100 / total)
	if p > 99 {
		p = 99
	}
	return p
}
