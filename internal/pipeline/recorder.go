package pipeline

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/dharsanguruparan/AgeGate/internal/model"
)

// Datastore persists verification results per user.
type Datastore interface {
	// UpsertVerifiedDocument replaces any entry already stored for the user.
	UpsertVerifiedDocument(ctx context.Context, entry model.VerifiedDocumentEntry) error
}

// Recorder writes the outcome of a completed upload to the user's record. A
// failed write does not undo the upload; the stored object stays in place
// without metadata.
type Recorder struct {
	store  Datastore
	clock  func() time.Time
	logger *zap.Logger
}

// NewRecorder constructs a Recorder. A nil clock means time.Now.
func NewRecorder(store Datastore, clock func() time.Time, logger *zap.Logger) *Recorder {
	if clock == nil {
		clock = time.Now
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Recorder{store: store, clock: clock, logger: logger}
}

// Record writes the entry for userID.
func (r *Recorder) Record(ctx context.Context, userID string, doc model.Document, upload model.UploadRecord, v model.AgeVerification) (model.VerifiedDocumentEntry, error) {
	if upload.ReferenceURL == "" || upload.Progress != 100 {
		return model.VerifiedDocumentEntry{}, fmt.Errorf("%w: upload of %s not complete", model.ErrPersistence, upload.Path)
	}
	entry := model.VerifiedDocumentEntry{
		UserID:       userID,
		ReferenceURL: upload.ReferenceURL,
		IsAdult:      v.IsAdult,
		BirthDate:    v.BirthDate.String(),
		FileName:     doc.Name,
		SizeBytes:    doc.Size,
		CompletedAt:  r.clock().UTC(),
	}
	if err := r.store.UpsertVerifiedDocument(ctx, entry); err != nil {
		r.logger.Error("verified document not recorded, stored object has no metadata",
			zap.String("user_id", userID),
			zap.String("path", upload.Path),
			zap.Error(err))
		return model.VerifiedDocumentEntry{}, fmt.Errorf("%w: %w", model.ErrPersistence, err)
	}
	return entry, nil
}
