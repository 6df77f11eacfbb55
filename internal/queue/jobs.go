package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"

	"github.com/dharsanguruparan/AgeGate/internal/pipeline"
)

const (
	// VerifyDocumentTask is scheduled each time a user submits a document.
	VerifyDocumentTask = "document:verify"

	// DefaultQueue is the asynq queue verification tasks are enqueued on.
	DefaultQueue = "default"
)

// VerifyPayload carries the document itself. Nothing may be written to
// object storage before the age gate passes, so the bytes travel with the
// task instead of being staged in the bucket.
type VerifyPayload struct {
	RunID       string `json:"run_id"`
	UserID      string `json:"user_id"`
	FileName    string `json:"file_name"`
	ContentType string `json:"content_type"`
	Data        []byte `json:"data"`
}

// TaskID is the asynq task ID for a user's verification. asynq refuses a
// second task with the same ID while the first is pending or active, which
// keeps verification single-flight per user across processes.
func TaskID(userID string) string { return "verify:" + userID }

// NewVerifyTask builds the task for payload. The pipeline never retries on
// its own; a failed run is resubmitted by the user.
func NewVerifyTask(payload VerifyPayload, timeout time.Duration) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	opts := []asynq.Option{asynq.TaskID(TaskID(payload.UserID)), asynq.MaxRetry(0)}
	if timeout > 0 {
		opts = append(opts, asynq.Timeout(timeout))
	}
	return asynq.NewTask(VerifyDocumentTask, data, opts...), nil
}

// Enqueuer is the part of *asynq.Client the queue needs.
type Enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// Inspector is the part of *asynq.Inspector the queue needs.
type Inspector interface {
	GetTaskInfo(queue, id string) (*asynq.TaskInfo, error)
	DeleteTask(queue, id string) error
}

// Client enqueues verification tasks.
type Client struct {
	client    Enqueuer
	inspector Inspector
	timeout   time.Duration
}

// NewClient wraps an asynq client. timeout bounds a whole run. inspector
// clears finished tasks that still hold a user's task ID; it may be nil.
func NewClient(client Enqueuer, inspector Inspector, timeout time.Duration) *Client {
	return &Client{client: client, inspector: inspector, timeout: timeout}
}

// EnqueueVerify enqueues a verification job. A conflict with a pending or
// active task for the same user is reported as pipeline.ErrRunInProgress.
// asynq archives a task whose worker died or whose deadline passed, and the
// archived task keeps the ID; such a task is deleted and the enqueue is
// tried once more.
func (c *Client) EnqueueVerify(ctx context.Context, payload VerifyPayload) error {
	task, err := NewVerifyTask(payload, c.timeout)
	if err != nil {
		return err
	}
	_, err = c.client.EnqueueContext(ctx, task)
	if isConflict(err) {
		var cleared bool
		cleared, err = c.clearFinished(TaskID(payload.UserID))
		if err != nil {
			return fmt.Errorf("inspect verify task: %w", err)
		}
		if !cleared {
			return fmt.Errorf("%w: %w", pipeline.ErrRunInProgress, asynq.ErrTaskIDConflict)
		}
		_, err = c.client.EnqueueContext(ctx, task)
	}
	if err != nil {
		if isConflict(err) {
			return fmt.Errorf("%w: %w", pipeline.ErrRunInProgress, err)
		}
		return fmt.Errorf("enqueue verify task: %w", err)
	}
	return nil
}

// clearFinished deletes the task holding id when it can no longer run.
func (c *Client) clearFinished(id string) (bool, error) {
	if c.inspector == nil {
		return false, nil
	}
	info, err := c.inspector.GetTaskInfo(DefaultQueue, id)
	if errors.Is(err, asynq.ErrTaskNotFound) {
		return true, nil
	}
	if err != nil {
		return false, err
	}
	switch info.State {
	case asynq.TaskStateArchived, asynq.TaskStateCompleted:
	default:
		return false, nil
	}
	if err := c.inspector.DeleteTask(DefaultQueue, id); err != nil && !errors.Is(err, asynq.ErrTaskNotFound) {
		return false, err
	}
	return true, nil
}

func isConflict(err error) bool {
	return errors.Is(err, asynq.ErrTaskIDConflict) || errors.Is(err, asynq.ErrDuplicateTask)
}

// DecodeVerify reads the payload of a VerifyDocumentTask.
func DecodeVerify(task *asynq.Task) (VerifyPayload, error) {
	var payload VerifyPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return VerifyPayload{}, fmt.Errorf("decode payload: %w", err)
	}
	if payload.RunID == "" {
		return VerifyPayload{}, errors.New("decode payload: missing run id")
	}
	return payload, nil
}
