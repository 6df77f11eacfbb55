package pipeline

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/dharsanguruparan/AgeGate/internal/intake"
	"github.com/dharsanguruparan/AgeGate/internal/model"
	"github.com/dharsanguruparan/AgeGate/internal/storage"
)

type extractFunc func(ctx context.Context, doc model.Document, lang string) (string, error)

func (f extractFunc) Extract(ctx context.Context, doc model.Document, lang string) (string, error) {
	return f(ctx, doc, lang)
}

func textOf(s string) extractFunc {
	return func(context.Context, model.Document, string) (string, error) { return s, nil }
}

// flakyObjects fails the first failures uploads, then delegates to memory.
type flakyObjects struct {
	*storage.MemoryObjects
	mu       sync.Mutex
	failures int
	calls    int
}

func (f *flakyObjects) Upload(ctx context.Context, path string, r io.Reader, size int64, contentType string, progress func(int64)) (string, error) {
	f.mu.Lock()
	f.calls++
	fail := f.failures > 0
	if fail {
		f.failures--
	}
	f.mu.Unlock()
	if fail {
		progress(size / 2)
		return "", errors.New("connection reset by peer")
	}
	return f.MemoryObjects.Upload(ctx, path, r, size, contentType, progress)
}

func (f *flakyObjects) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type countingStore struct {
	*storage.MemoryStore
	mu    sync.Mutex
	calls int
	err   error
}

func (c *countingStore) UpsertVerifiedDocument(ctx context.Context, e model.VerifiedDocumentEntry) error {
	c.mu.Lock()
	c.calls++
	err := c.err
	c.mu.Unlock()
	if err != nil {
		return err
	}
	return c.MemoryStore.UpsertVerifiedDocument(ctx, e)
}

type recordingObserver struct {
	mu    sync.Mutex
	snaps []Snapshot
}

func (r *recordingObserver) Observe(_ context.Context, s Snapshot) {
	r.mu.Lock()
	r.snaps = append(r.snaps, s)
	r.mu.Unlock()
}

func (r *recordingObserver) states() []model.State {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]model.State, 0, len(r.snaps))
	for _, s := range r.snaps {
		out = append(out, s.Transition.To)
	}
	return out
}

type fixture struct {
	objects  *flakyObjects
	store    *countingStore
	observer *recordingObserver
	orch     *Orchestrator
}

var evaluatedAt = time.Date(2025, 5, 14, 12, 0, 0, 0, time.UTC)

func newFixture(t *testing.T, ex Extractor) *fixture {
	t.Helper()
	f := &fixture{
		objects:  &flakyObjects{MemoryObjects: storage.NewMemoryObjects("documentos", 7)},
		store:    &countingStore{MemoryStore: storage.NewMemoryStore()},
		observer: &recordingObserver{},
	}
	clock := func() time.Time { return evaluatedAt }
	logger := zaptest.NewLogger(t)
	rec := NewRecorder(f.store, clock, logger)
	f.orch = New(ex, f.objects, rec, Options{
		Language: "por",
		Clock:    clock,
		Observer: f.observer,
	}, logger)
	return f
}

func pngFile() intake.File {
	return intake.File{Name: "rg.png", ContentType: "image/png", Data: bytes.Repeat([]byte{0x89}, 100)}
}

func TestSubmitCompletesForAdult(t *testing.T) {
	f := newFixture(t, textOf("REPUBLICA FEDERATIVA DO BRASIL nasc: 15/05/2000 SSP"))
	var progress []int

	out, err := f.orch.Submit(context.Background(), Session{UserID: "u1"}, pngFile(), func(p int) {
		progress = append(progress, p)
	})
	require.NoError(t, err)
	assert.Equal(t, model.OutcomeCompleted, out.Status)
	assert.Equal(t, model.KindNone, out.Kind)
	assert.Equal(t, "memory://documentos/documentos/u1/rg.png", out.ReferenceURL)
	require.NotNil(t, out.Verification)
	assert.Equal(t, 24, out.Verification.Age)
	assert.True(t, out.Verification.IsAdult)

	require.NotEmpty(t, progress)
	assert.IsNonDecreasing(t, progress)
	assert.Equal(t, 100, progress[len(progress)-1])

	entry, err := f.store.GetVerifiedDocument(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, out.ReferenceURL, entry.ReferenceURL)
	assert.True(t, entry.IsAdult)
	assert.Equal(t, "15/05/2000", entry.BirthDate)
	assert.Equal(t, "rg.png", entry.FileName)
	assert.Equal(t, int64(100), entry.SizeBytes)

	assert.Equal(t, []model.State{
		model.StateExtracting,
		model.StateResolving,
		model.StateGating,
		model.StateUploading,
		model.StatePersisting,
		model.StateCompleted,
	}, f.observer.states())
}

func TestSubmitRejectsInvalidFormatBeforeAnyStage(t *testing.T) {
	called := false
	f := newFixture(t, extractFunc(func(context.Context, model.Document, string) (string, error) {
		called = true
		return "", nil
	}))
	file := intake.File{Name: "rg.pdf", ContentType: "application/pdf", Data: []byte("%PDF-1.7")}

	out, err := f.orch.Submit(context.Background(), Session{UserID: "u1"}, file, nil)
	require.ErrorIs(t, err, model.ErrInvalidFormat)
	assert.Equal(t, model.OutcomeRejected, out.Status)
	assert.Equal(t, model.KindInvalidFormat, out.Kind)
	assert.False(t, called)
	assert.Zero(t, f.objects.Calls())
	assert.Equal(t, []model.State{model.StateFailed}, f.observer.states())
}

func TestSubmitRequiresSession(t *testing.T) {
	f := newFixture(t, textOf("01/01/1990"))

	out, err := f.orch.Submit(context.Background(), Session{}, pngFile(), nil)
	require.ErrorIs(t, err, model.ErrAuthRequired)
	assert.Equal(t, model.OutcomeFailed, out.Status)
	assert.Equal(t, model.KindAuthRequired, out.Kind)
	assert.Zero(t, f.objects.Calls())
}

func TestSubmitWithoutDateNeverUploads(t *testing.T) {
	f := newFixture(t, textOf("NOME MARIA DA SILVA RG 12.345.678-9"))

	out, err := f.orch.Submit(context.Background(), Session{UserID: "u1"}, pngFile(), nil)
	require.ErrorIs(t, err, model.ErrDateNotFound)
	assert.Equal(t, model.OutcomeRejected, out.Status)
	assert.Zero(t, f.objects.Calls())
	assert.Equal(t, []model.State{model.StateExtracting, model.StateResolving, model.StateFailed}, f.observer.states())
}

func TestSubmitExtractionFailure(t *testing.T) {
	f := newFixture(t, extractFunc(func(context.Context, model.Document, string) (string, error) {
		return "", model.ErrExtractionUnavailable
	}))

	out, err := f.orch.Submit(context.Background(), Session{UserID: "u1"}, pngFile(), nil)
	require.ErrorIs(t, err, model.ErrExtractionUnavailable)
	assert.Equal(t, model.KindExtractionUnavailable, out.Kind)
	assert.True(t, model.Retriable(err))
	assert.Zero(t, f.objects.Calls())
}

func TestSubmitUnderageHasNoSideEffects(t *testing.T) {
	// One day short of eighteen on the evaluation date.
	f := newFixture(t, textOf("DATA DE NASCIMENTO 15/05/2007"))

	out, err := f.orch.Submit(context.Background(), Session{UserID: "u1"}, pngFile(), nil)
	require.ErrorIs(t, err, model.ErrUnderage)
	assert.Equal(t, model.OutcomeRejected, out.Status)
	assert.Equal(t, model.KindUnderageRejection, out.Kind)
	require.NotNil(t, out.Verification)
	assert.Equal(t, 17, out.Verification.Age)
	assert.False(t, out.Verification.IsAdult)

	assert.Zero(t, f.objects.Calls())
	assert.Zero(t, f.objects.Len())
	assert.Zero(t, f.store.calls)
}

func TestSubmitExactlyEighteenPasses(t *testing.T) {
	f := newFixture(t, textOf("14/05/2007"))

	out, err := f.orch.Submit(context.Background(), Session{UserID: "u1"}, pngFile(), nil)
	require.NoError(t, err)
	assert.Equal(t, 18, out.Verification.Age)
	assert.Equal(t, 1, f.store.Len())
}

func TestResubmitAfterUploadErrorOverwritesEntry(t *testing.T) {
	f := newFixture(t, textOf("nasc: 15/05/2000"))
	f.objects.failures = 1
	ctx := context.Background()
	sess := Session{UserID: "u1"}

	require.NoError(t, f.store.MemoryStore.UpsertVerifiedDocument(ctx, model.VerifiedDocumentEntry{
		UserID:       "u1",
		ReferenceURL: "memory://documentos/old",
	}))

	out, err := f.orch.Submit(ctx, sess, pngFile(), nil)
	require.ErrorIs(t, err, model.ErrUploadFailed)
	assert.Equal(t, model.OutcomeFailed, out.Status)
	assert.Equal(t, model.KindUploadError, out.Kind)
	assert.Empty(t, out.ReferenceURL)

	states := f.observer.states()
	assert.Equal(t, model.StateFailed, states[len(states)-1])
	f.observer.snaps = nil

	out, err = f.orch.Submit(ctx, sess, pngFile(), nil)
	require.NoError(t, err)
	assert.Equal(t, model.OutcomeCompleted, out.Status)
	assert.Equal(t, model.StateExtracting, f.observer.states()[0])

	entry, err := f.store.GetVerifiedDocument(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, out.ReferenceURL, entry.ReferenceURL)
	assert.Equal(t, 1, f.store.Len())
	assert.Equal(t, 2, f.objects.Calls())
}

func TestPersistenceErrorLeavesObjectStored(t *testing.T) {
	f := newFixture(t, textOf("15/05/2000"))
	f.store.err = errors.New("connection refused")

	out, err := f.orch.Submit(context.Background(), Session{UserID: "u1"}, pngFile(), nil)
	require.ErrorIs(t, err, model.ErrPersistence)
	assert.Equal(t, model.OutcomeFailed, out.Status)
	assert.Equal(t, model.KindPersistenceError, out.Kind)

	_, getErr := f.objects.Get("documentos/u1/rg.png")
	assert.NoError(t, getErr)
	assert.Zero(t, f.store.Len())
}

func TestStartIsSingleFlightPerUser(t *testing.T) {
	release := make(chan struct{})
	f := newFixture(t, extractFunc(func(ctx context.Context, _ model.Document, _ string) (string, error) {
		<-release
		return "15/05/2000", nil
	}))
	ctx := context.Background()

	run, err := f.orch.Start(ctx, "run-1", Session{UserID: "u1"}, pngFile())
	require.NoError(t, err)
	assert.Equal(t, "run-1", run.ID)

	_, err = f.orch.Start(ctx, "", Session{UserID: "u1"}, pngFile())
	require.ErrorIs(t, err, ErrRunInProgress)

	other, err := f.orch.Start(ctx, "", Session{UserID: "u2"}, pngFile())
	require.NoError(t, err)
	assert.NotEmpty(t, other.ID)

	close(release)
	_, err = run.Wait()
	require.NoError(t, err)
	_, err = other.Wait()
	require.NoError(t, err)
	assert.Equal(t, model.StateCompleted, run.State())

	again, err := f.orch.Start(ctx, "", Session{UserID: "u1"}, pngFile())
	require.NoError(t, err)
	_, err = again.Wait()
	require.NoError(t, err)
}

func TestExtractTimeout(t *testing.T) {
	f := newFixture(t, extractFunc(func(ctx context.Context, _ model.Document, _ string) (string, error) {
		<-ctx.Done()
		return "", errors.Join(model.ErrExtractionUnavailable, ctx.Err())
	}))
	f.orch.opts.ExtractTimeout = 10 * time.Millisecond

	_, err := f.orch.Submit(context.Background(), Session{UserID: "u1"}, pngFile(), nil)
	require.ErrorIs(t, err, model.ErrExtractionUnavailable)
	assert.True(t, model.IsTimeout(err))
}

func TestUnreadProgressStillEndsAtHundred(t *testing.T) {
	f := newFixture(t, textOf("15/05/2000"))
	f.objects.ChunkSize = 1
	file := intake.File{Name: "rg.png", ContentType: "image/png", Data: bytes.Repeat([]byte{0x89}, 250)}

	run, err := f.orch.Start(context.Background(), "run-1", Session{UserID: "u1"}, file)
	require.NoError(t, err)
	<-run.Done()

	var progress []int
	for p := range run.Progress() {
		progress = append(progress, p)
	}
	require.NotEmpty(t, progress)
	assert.LessOrEqual(t, len(progress), cap(run.progress))
	assert.IsNonDecreasing(t, progress)
	assert.Equal(t, 100, progress[len(progress)-1])

	out, err := run.Wait()
	require.NoError(t, err)
	assert.Equal(t, model.OutcomeCompleted, out.Status)
}

// stalledObjects accepts no bytes until the context ends.
type stalledObjects struct {
	mu    sync.Mutex
	calls int
}

func (s *stalledObjects) Upload(ctx context.Context, _ string, _ io.Reader, size int64, _ string, progress func(int64)) (string, error) {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()
	progress(size / 4)
	<-ctx.Done()
	return "", ctx.Err()
}

func TestUploadTimeoutIsUploadError(t *testing.T) {
	objects := &stalledObjects{}
	store := &countingStore{MemoryStore: storage.NewMemoryStore()}
	observer := &recordingObserver{}
	clock := func() time.Time { return evaluatedAt }
	logger := zaptest.NewLogger(t)
	orch := New(textOf("15/05/2000"), objects, NewRecorder(store, clock, logger), Options{
		Clock:         clock,
		Observer:      observer,
		UploadTimeout: 20 * time.Millisecond,
	}, logger)

	run, err := orch.Start(context.Background(), "run-1", Session{UserID: "u1"}, pngFile())
	require.NoError(t, err)
	out, err := run.Wait()

	require.ErrorIs(t, err, model.ErrUploadFailed)
	assert.True(t, model.IsTimeout(err))
	assert.True(t, model.Retriable(err))
	assert.Equal(t, model.KindUploadError, out.Kind)
	assert.Equal(t, model.OutcomeFailed, out.Status)
	assert.Empty(t, out.ReferenceURL)
	assert.Equal(t, 1, objects.calls)
	assert.Zero(t, store.calls)
	assert.Equal(t, model.StateFailed, run.State())

	states := observer.states()
	assert.Equal(t, []model.State{model.StateUploading, model.StateFailed}, states[len(states)-2:])
}

func TestPercentStaysBelowHundred(t *testing.T) {
	assert.Equal(t, 0, percent(0, 100))
	assert.Equal(t, 0, percent(10, 0))
	assert.Equal(t, 50, percent(50, 100))
	assert.Equal(t, 99, percent(100, 100))
	assert.Equal(t, 99, percent(150, 100))
	assert.Equal(t, 99, percent(200, 100))
}

func TestObjectPath(t *testing.T) {
	doc := model.Document{Name: "foto.JPG", MediaType: model.MediaTypeJPEG}
	assert.Equal(t, "documentos/u1/rg.jpg", ObjectPath("u1", doc))
}
