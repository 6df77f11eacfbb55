package pipeline

import (
	"sync"

	"github.com/dharsanguruparan/AgeGate/internal/model"
)

// Run is one pass of a document through the pipeline. Progress delivers
// upload percentages and is closed when the run ends; Wait blocks for the
// single result.
type Run struct {
	ID     string
	UserID string

	mu           sync.Mutex
	machine      *Machine
	upload       model.UploadRecord
	verification *model.AgeVerification
	lastSent     int
	closed       bool

	progress chan int
	done     chan struct{}
	outcome  model.Outcome
	err      error
}

func newRun(id, userID string) *Run {
	return &Run{
		ID:       id,
		UserID:   userID,
		machine:  NewMachine(),
		upload:   model.UploadRecord{State: model.StateIdle},
		lastSent: -1,
		progress: make(chan int, 16),
		done:     make(chan struct{}),
	}
}

// Progress streams non-decreasing upload percentages. Consumers may miss
// intermediate values but a successful upload always delivers 100.
func (r *Run) Progress() <-chan int { return r.progress }

// Done is closed when the run has reached a terminal state.
func (r *Run) Done() <-chan struct{} { return r.done }

// Wait blocks until the run ends.
func (r *Run) Wait() (model.Outcome, error) {
	<-r.done
	return r.outcome, r.err
}

// State returns the current state of the run.
func (r *Run) State() model.State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.machine.State()
}

// Snapshot is a copy of the run taken after a transition.
type Snapshot struct {
	RunID        string
	UserID       string
	Transition   Transition
	Upload       model.UploadRecord
	Verification *model.AgeVerification
}

func (r *Run) snapshot(t Transition) Snapshot {
	s := Snapshot{RunID: r.ID, UserID: r.UserID, Transition: t, Upload: r.upload}
	if r.verification != nil {
		v := *r.verification
		s.Verification = &v
	}
	return s
}

func (r *Run) fire(ev Event) (Snapshot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, err := r.machine.Fire(ev)
	if err != nil {
		return Snapshot{}, err
	}
	r.trackUpload(t.To)
	return r.snapshot(t), nil
}

func (r *Run) fail(reason error) (Snapshot, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, err := r.machine.Fail(reason)
	if err != nil {
		return Snapshot{}, false
	}
	r.trackUpload(t.To)
	return r.snapshot(t), true
}

// trackUpload mirrors the machine state on the upload record once the
// transfer has begun.
func (r *Run) trackUpload(to model.State) {
	if r.upload.Path != "" {
		r.upload.State = to
	}
}

func (r *Run) setVerification(v model.AgeVerification) {
	r.mu.Lock()
	r.verification = &v
	r.mu.Unlock()
}

func (r *Run) beginUpload(path string) {
	r.mu.Lock()
	r.upload = model.UploadRecord{Path: path, State: r.machine.State()}
	r.mu.Unlock()
}

func (r *Run) completeUpload(referenceURL string) model.UploadRecord {
	r.mu.Lock()
	r.upload.ReferenceURL = referenceURL
	r.mu.Unlock()
	r.emit(100, true)
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.upload
}

// emit publishes p unless it would move progress backwards. Intermediate
// values are dropped when the consumer is slow; the final value evicts the
// oldest buffered one instead.
func (r *Run) emit(p int, final bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed || p <= r.lastSent {
		return
	}
	r.lastSent = p
	r.upload.Progress = p
	if !final {
		select {
		case r.progress <- p:
		default:
		}
		return
	}
	for {
		select {
		case r.progress <- p:
			return
		default:
			select {
			case <-r.progress:
			default:
			}
		}
	}
}

func (r *Run) finish(outcome model.Outcome, err error) {
	r.mu.Lock()
	r.closed = true
	r.outcome = outcome
	r.err = err
	close(r.progress)
	r.mu.Unlock()
	close(r.done)
}
