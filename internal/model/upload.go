package model

import "time"

// State is a step of the verification state machine.
type State string

const (
	StateIdle       State = "idle"
	StateExtracting State = "extracting"
	StateResolving  State = "resolving"
	StateGating     State = "gating"
	StateUploading  State = "uploading"
	StatePersisting State = "persisting"
	StateCompleted  State = "completed"
	StateFailed     State = "failed"
)

// Terminal reports whether no further transition can leave the state.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed
}

// UploadRecord tracks one transfer to object storage. Progress never
// decreases and reaches 100 only after the storage service acknowledged the
// object.
type UploadRecord struct {
	Path         string `json:"path"`
	Progress     int    `json:"progress"`
	State        State  `json:"state"`
	ReferenceURL string `json:"referenceUrl,omitempty"`
}

// VerifiedDocumentEntry is the per-user record written after a successful
// run. The JSON names match the fields the profile screens already read.
type VerifiedDocumentEntry struct {
	UserID       string    `json:"userId"`
	ReferenceURL string    `json:"documentoRgUrl"`
	IsAdult      bool      `json:"idadeVerificada"`
	BirthDate    string    `json:"dataNascimentoExtraida"`
	FileName     string    `json:"fileName"`
	SizeBytes    int64     `json:"sizeBytes"`
	CompletedAt  time.Time `json:"completedAt"`
}

// OutcomeStatus is the coarse result reported to callers.
type OutcomeStatus string

const (
	OutcomeAcceptedPending OutcomeStatus = "accepted_pending"
	OutcomeRejected        OutcomeStatus = "rejected"
	OutcomeCompleted       OutcomeStatus = "completed"
	OutcomeFailed          OutcomeStatus = "failed"
)

// Outcome is the single result of a run.
type Outcome struct {
	RunID        string           `json:"runId"`
	Status       OutcomeStatus    `json:"status"`
	Kind         Kind             `json:"kind,omitempty"`
	Message      string           `json:"message,omitempty"`
	ReferenceURL string           `json:"referenceUrl,omitempty"`
	Verification *AgeVerification `json:"verification,omitempty"`
}
