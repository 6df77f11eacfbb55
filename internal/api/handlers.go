package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/dharsanguruparan/AgeGate/internal/agecheck"
	"github.com/dharsanguruparan/AgeGate/internal/auth"
	"github.com/dharsanguruparan/AgeGate/internal/events"
	"github.com/dharsanguruparan/AgeGate/internal/intake"
	"github.com/dharsanguruparan/AgeGate/internal/model"
	"github.com/dharsanguruparan/AgeGate/internal/queue"
	"github.com/dharsanguruparan/AgeGate/internal/runs"
)

// submitResponse acknowledges an accepted submission.
type submitResponse struct {
	RunID  string              `json:"runId"`
	Status model.OutcomeStatus `json:"status"`
}

// documentResponse is the caller's verified record as shown on the profile
// screen.
type documentResponse struct {
	model.VerifiedDocumentEntry
	SizeKB  float64 `json:"sizeKb"`
	Status  string  `json:"status"`
	ViewURL string  `json:"viewUrl,omitempty"`
}

// uploadedStatus is the label the profile screen shows for a stored document.
const uploadedStatus = "Enviado"

func requireUser(r *http.Request) (string, error) {
	userID := auth.UserID(r.Context())
	if userID == "" {
		return "", fmt.Errorf("%w: missing or invalid bearer token", model.ErrAuthRequired)
	}
	return userID, nil
}

// handleSubmit validates the file inline, so a wrong format is answered
// immediately, and queues everything else for a worker.
func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	userID, err := requireUser(r)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	file, err := s.readFile(w, r)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	if _, err := intake.Validate(file); err != nil {
		s.respondError(w, r, err)
		return
	}

	ctx := r.Context()
	runID := uuid.NewString()
	status := runs.Status{
		RunID:     runID,
		UserID:    userID,
		State:     model.StateIdle,
		Status:    model.OutcomeAcceptedPending,
		UpdatedAt: time.Now().UTC(),
	}
	if err := s.runs.Put(ctx, status); err != nil {
		s.respondError(w, r, err)
		return
	}
	err = s.dispatch.EnqueueVerify(ctx, queue.VerifyPayload{
		RunID:       runID,
		UserID:      userID,
		FileName:    file.Name,
		ContentType: file.ContentType,
		Data:        file.Data,
	})
	if err != nil {
		status.State = model.StateFailed
		status.Status = model.OutcomeFailed
		status.Message = err.Error()
		if putErr := s.runs.Put(ctx, status); putErr != nil {
			s.logger.Warn("run status not stored", zap.String("run_id", runID), zap.Error(putErr))
		}
		s.respondError(w, r, err)
		return
	}
	s.logger.Info("submission accepted",
		zap.String("run_id", runID),
		zap.String("user_id", userID),
		zap.Int("bytes", len(file.Data)))
	respondJSON(w, http.StatusAccepted, submitResponse{RunID: runID, Status: model.OutcomeAcceptedPending})
}

func (s *Server) readFile(w http.ResponseWriter, r *http.Request) (intake.File, error) {
	r.Body = http.MaxBytesReader(w, r.Body, s.opts.MaxFileBytes+1024)
	mr, err := r.MultipartReader()
	if err != nil {
		return intake.File{}, errBadUpload
	}
	part, err := nextFilePart(mr)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return intake.File{}, errFileTooLarge
		}
		return intake.File{}, errBadUpload
	}
	defer part.Close()

	var buf bytes.Buffer
	n, err := io.Copy(&buf, io.LimitReader(part, s.opts.MaxFileBytes+1))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return intake.File{}, errFileTooLarge
		}
		return intake.File{}, fmt.Errorf("%w: %w", errBadUpload, err)
	}
	if n > s.opts.MaxFileBytes {
		return intake.File{}, errFileTooLarge
	}
	return intake.File{
		Name:        part.FileName(),
		ContentType: part.Header.Get("Content-Type"),
		Data:        buf.Bytes(),
	}, nil
}

func nextFilePart(mr *multipart.Reader) (*multipart.Part, error) {
	for {
		part, err := mr.NextPart()
		if err != nil {
			return nil, err
		}
		if part.FormName() == "file" {
			return part, nil
		}
		part.Close()
	}
}

// ownRun loads a run and hides runs of other users behind a 404.
func (s *Server) ownRun(r *http.Request) (*runs.Status, error) {
	userID, err := requireUser(r)
	if err != nil {
		return nil, err
	}
	st, err := s.runs.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		return nil, err
	}
	if st.UserID != userID {
		return nil, runs.ErrNotFound
	}
	return st, nil
}

func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	st, err := s.ownRun(r)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, st)
}

// handleRunEvents streams progress as "progress" events and ends with a
// single "outcome" event. Progress sent to the client never decreases.
func (s *Server) handleRunEvents(w http.ResponseWriter, r *http.Request) {
	st, err := s.ownRun(r)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		s.respondError(w, r, errors.New("streaming unsupported"))
		return
	}
	ctx := r.Context()

	progress := make(chan int, 32)
	final := make(chan model.Outcome, 1)
	cancel, err := s.bus.Subscribe(ctx, st.RunID, func(ev events.Event) {
		if ev.Final() {
			select {
			case final <- *ev.Outcome:
			default:
			}
			return
		}
		select {
		case progress <- ev.Progress:
		default:
		}
	})
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	defer func() { _ = cancel() }()

	// Re-read after subscribing so an outcome published in between is not missed.
	if latest, err := s.runs.Get(ctx, st.RunID); err == nil {
		st = latest
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	last := -1
	sendProgress := func(p int) {
		if p <= last {
			return
		}
		last = p
		fmt.Fprintf(w, "event: progress\ndata: %d\n\n", p)
		flusher.Flush()
	}
	sendOutcome := func(o model.Outcome) {
		if o.Status == model.OutcomeCompleted {
			sendProgress(100)
		}
		data, _ := json.Marshal(o)
		fmt.Fprintf(w, "event: outcome\ndata: %s\n\n", data)
		flusher.Flush()
	}

	sendProgress(st.Progress)
	if st.State.Terminal() {
		sendOutcome(outcomeFromStatus(st))
		return
	}

	heartbeat := time.NewTicker(15 * time.Second)
	defer heartbeat.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case p := <-progress:
			sendProgress(p)
		case o := <-final:
			// Progress delivered before the outcome goes out first.
			for drained := false; !drained; {
				select {
				case p := <-progress:
					sendProgress(p)
				default:
					drained = true
				}
			}
			sendOutcome(o)
			return
		case <-heartbeat.C:
			fmt.Fprint(w, ": keep-alive\n\n")
			flusher.Flush()
		}
	}
}

func outcomeFromStatus(st *runs.Status) model.Outcome {
	o := model.Outcome{
		RunID:        st.RunID,
		Status:       st.Status,
		Kind:         st.Kind,
		Message:      st.Message,
		ReferenceURL: st.ReferenceURL,
	}
	if st.Age != nil && st.IsAdult != nil {
		v := model.AgeVerification{Age: *st.Age, IsAdult: *st.IsAdult}
		if bd, err := agecheck.ParseBirthDate(st.BirthDate); err == nil {
			v.BirthDate = bd
		}
		o.Verification = &v
	}
	return o
}

func (s *Server) handleMyDocument(w http.ResponseWriter, r *http.Request) {
	userID, err := requireUser(r)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	entry, err := s.documents.GetVerifiedDocument(r.Context(), userID)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	resp := documentResponse{
		VerifiedDocumentEntry: *entry,
		SizeKB:                float64(entry.SizeBytes) / 1024,
		Status:                uploadedStatus,
	}
	if s.presigner != nil {
		if key, err := s.presigner.ObjectKey(entry.ReferenceURL); err == nil {
			view, err := s.presigner.PresignURL(r.Context(), key, s.opts.SignedURLTTL)
			if err != nil {
				s.logger.Warn("view url not signed", zap.String("user_id", userID), zap.Error(err))
			} else {
				resp.ViewURL = view
			}
		}
	}
	respondJSON(w, http.StatusOK, resp)
}
