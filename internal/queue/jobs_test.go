package queue

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dharsanguruparan/AgeGate/internal/pipeline"
)

func TestVerifyTaskRoundTrip(t *testing.T) {
	in := VerifyPayload{
		RunID:       "run-1",
		UserID:      "u1",
		FileName:    "rg.jpg",
		ContentType: "image/jpeg",
		Data:        []byte{0xff, 0xd8, 0xff},
	}
	task, err := NewVerifyTask(in, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, VerifyDocumentTask, task.Type())

	out, err := DecodeVerify(task)
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestDecodeVerifyRejectsBadPayload(t *testing.T) {
	_, err := DecodeVerify(asynq.NewTask(VerifyDocumentTask, []byte("{")))
	require.Error(t, err)

	_, err = DecodeVerify(asynq.NewTask(VerifyDocumentTask, []byte(`{"user_id":"u1"}`)))
	require.ErrorContains(t, err, "missing run id")
}

func TestTaskIDIsPerUser(t *testing.T) {
	assert.Equal(t, "verify:u1", TaskID("u1"))
	assert.NotEqual(t, TaskID("u1"), TaskID("u2"))
}

// fakeQueue keeps one task per ID the way asynq does: an ID stays taken
// until its task is deleted, whatever state the task is in.
type fakeQueue struct {
	tasks    map[string]asynq.TaskState
	enqueued int
	deleted  []string
}

func newFakeQueue() *fakeQueue {
	return &fakeQueue{tasks: make(map[string]asynq.TaskState)}
}

func (q *fakeQueue) EnqueueContext(_ context.Context, task *asynq.Task, _ ...asynq.Option) (*asynq.TaskInfo, error) {
	payload, err := DecodeVerify(task)
	if err != nil {
		return nil, err
	}
	id := TaskID(payload.UserID)
	if _, taken := q.tasks[id]; taken {
		return nil, asynq.ErrTaskIDConflict
	}
	q.tasks[id] = asynq.TaskStatePending
	q.enqueued++
	return &asynq.TaskInfo{ID: id, Queue: DefaultQueue, State: asynq.TaskStatePending}, nil
}

func (q *fakeQueue) GetTaskInfo(queueName, id string) (*asynq.TaskInfo, error) {
	state, ok := q.tasks[id]
	if !ok || queueName != DefaultQueue {
		return nil, asynq.ErrTaskNotFound
	}
	return &asynq.TaskInfo{ID: id, Queue: queueName, State: state}, nil
}

func (q *fakeQueue) DeleteTask(queueName, id string) error {
	if _, ok := q.tasks[id]; !ok || queueName != DefaultQueue {
		return asynq.ErrTaskNotFound
	}
	delete(q.tasks, id)
	q.deleted = append(q.deleted, id)
	return nil
}

func payloadFor(userID, runID string) VerifyPayload {
	return VerifyPayload{RunID: runID, UserID: userID, FileName: "rg.png", ContentType: "image/png", Data: []byte{1}}
}

func TestEnqueueVerifyRejectsLiveTask(t *testing.T) {
	for _, state := range []asynq.TaskState{asynq.TaskStatePending, asynq.TaskStateActive, asynq.TaskStateScheduled, asynq.TaskStateRetry} {
		t.Run(state.String(), func(t *testing.T) {
			q := newFakeQueue()
			q.tasks[TaskID("u1")] = state
			c := NewClient(q, q, time.Minute)

			err := c.EnqueueVerify(context.Background(), payloadFor("u1", "run-2"))
			require.Error(t, err)
			assert.True(t, errors.Is(err, pipeline.ErrRunInProgress))
			assert.Empty(t, q.deleted)
			assert.Equal(t, 0, q.enqueued)
		})
	}
}

func TestEnqueueVerifyClearsFinishedTask(t *testing.T) {
	// A worker that died mid-run or ran past its deadline leaves the task
	// archived under the user's ID.
	for _, state := range []asynq.TaskState{asynq.TaskStateArchived, asynq.TaskStateCompleted} {
		t.Run(state.String(), func(t *testing.T) {
			q := newFakeQueue()
			q.tasks[TaskID("u1")] = state
			c := NewClient(q, q, time.Minute)

			require.NoError(t, c.EnqueueVerify(context.Background(), payloadFor("u1", "run-2")))
			assert.Equal(t, []string{TaskID("u1")}, q.deleted)
			assert.Equal(t, 1, q.enqueued)
			assert.Equal(t, asynq.TaskStatePending, q.tasks[TaskID("u1")])
		})
	}
}

func TestEnqueueVerifySecondSubmissionConflicts(t *testing.T) {
	q := newFakeQueue()
	c := NewClient(q, q, time.Minute)

	require.NoError(t, c.EnqueueVerify(context.Background(), payloadFor("u1", "run-1")))
	err := c.EnqueueVerify(context.Background(), payloadFor("u1", "run-2"))
	assert.True(t, errors.Is(err, pipeline.ErrRunInProgress))

	require.NoError(t, c.EnqueueVerify(context.Background(), payloadFor("u2", "run-3")))
	assert.Equal(t, 2, q.enqueued)
}

func TestEnqueueVerifyWithoutInspector(t *testing.T) {
	q := newFakeQueue()
	q.tasks[TaskID("u1")] = asynq.TaskStateArchived
	c := NewClient(q, nil, time.Minute)

	err := c.EnqueueVerify(context.Background(), payloadFor("u1", "run-2"))
	assert.True(t, errors.Is(err, pipeline.ErrRunInProgress))
}
