// Package progress aggregates sync task progress from the live-status feed.
package progress

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/rickgao/livestatus/internal/connection"
)

// Status is the lifecycle of one sync task.
type Status string

const (
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Task is the latest known progress of one sync task.
type Task struct {
	TaskID    string    `json:"taskId"`
	Total     int       `json:"total"`
	Done      int       `json:"done"`
	Failed    int       `json:"failed"`
	Status    Status    `json:"status"`
	Error     string    `json:"error,omitempty"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Percent returns completion of this task in [0, 100].
func (t Task) Percent() float64 {
	if t.Status == StatusCompleted {
		return 100
	}
	if t.Total <= 0 {
		return 0
	}
	return clamp(float64(t.Done+t.Failed) / float64(t.Total) * 100)
}

// Snapshot is a point-in-time copy of all tracked tasks.
type Snapshot struct {
	Tasks   []Task  // Sorted by TaskID
	Percent float64 // Aggregate over every task with a known total
	Running int
}

// Subscriber is the part of connection.Manager the tracker needs.
type Subscriber interface {
	On(t connection.MessageType, h connection.Handler) (connection.ListenerID, error)
	Off(id connection.ListenerID)
}

// syncPayload covers sync_progress, sync_complete and sync_error.
type syncPayload struct {
	TaskID    string `json:"taskId"`
	Total     *int   `json:"total"`
	Completed *int   `json:"completed"`
	Failed    *int   `json:"failed"`
	Error     string `json:"error"`
}

// Tracker keeps per-task sync progress.
type Tracker struct {
	src    Subscriber
	logger *slog.Logger
	now    func() time.Time

	mu    sync.Mutex
	ids   []connection.ListenerID
	tasks map[string]*Task
}

// NewTracker subscribes to sync messages on src.
func NewTracker(src Subscriber, logger *slog.Logger) (*Tracker, error) {
	if logger == nil {
		logger = slog.Default()
	}
	t := &Tracker{
		src:    src,
		logger: logger,
		now:    time.Now,
		tasks:  make(map[string]*Task),
	}

	handlers := map[connection.MessageType]connection.Handler{
		connection.TypeSyncProgress: t.handleProgress,
		connection.TypeSyncComplete: t.handleComplete,
		connection.TypeSyncError:    t.handleError,
	}
	for typ, h := range handlers {
		id, err := src.On(typ, h)
		if err != nil {
			t.Close()
			return nil, fmt.Errorf("subscribe %s: %w", typ, err)
		}
		t.ids = append(t.ids, id)
	}
	return t, nil
}

// Close unregisters all listeners. Tracked state stays readable.
func (t *Tracker) Close() {
	t.mu.Lock()
	ids := t.ids
	t.ids = nil
	t.mu.Unlock()

	for _, id := range ids {
		t.src.Off(id)
	}
}

// Task returns the progress of one task.
func (t *Tracker) Task(id string) (Task, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	task, ok := t.tasks[id]
	if !ok {
		return Task{}, false
	}
	return *task, true
}

// Forget drops a task, typically after its result has been shown.
func (t *Tracker) Forget(id string) {
	t.mu.Lock()
	delete(t.tasks, id)
	t.mu.Unlock()
}

// Snapshot returns a sorted copy of all tasks and the aggregate percent.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()

	snap := Snapshot{Tasks: make([]Task, 0, len(t.tasks))}
	var done, total int
	for _, task := range t.tasks {
		snap.Tasks = append(snap.Tasks, *task)
		if task.Status == StatusRunning {
			snap.Running++
		}
		if task.Total > 0 {
			total += task.Total
			if task.Status == StatusCompleted {
				done += task.Total
			} else {
				done += min(task.Done+task.Failed, task.Total)
			}
		}
	}
	sort.Slice(snap.Tasks, func(i, j int) bool {
		return snap.Tasks[i].TaskID < snap.Tasks[j].TaskID
	})
	if total > 0 {
		snap.Percent = clamp(float64(done) / float64(total) * 100)
	}
	return snap
}

func (t *Tracker) handleProgress(msg connection.Message) {
	t.apply(msg, func(task *Task, p syncPayload) {
		task.Status = StatusRunning
		task.Error = ""
	})
}

func (t *Tracker) handleComplete(msg connection.Message) {
	t.apply(msg, func(task *Task, p syncPayload) {
		task.Status = StatusCompleted
		if task.Total > 0 && task.Done+task.Failed < task.Total {
			task.Done = task.Total - task.Failed
		}
	})
}

func (t *Tracker) handleError(msg connection.Message) {
	t.apply(msg, func(task *Task, p syncPayload) {
		task.Status = StatusFailed
		task.Error = p.Error
	})
}

// apply decodes msg, merges counts into its task and then runs set.
// Counts absent from the payload keep their previous value.
func (t *Tracker) apply(msg connection.Message, set func(*Task, syncPayload)) {
	p, err := decode(msg)
	if err != nil {
		t.logger.Warn("ignoring sync message", "type", msg.Type, "error", err)
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	task, ok := t.tasks[p.TaskID]
	if !ok {
		task = &Task{TaskID: p.TaskID}
		t.tasks[p.TaskID] = task
	}
	if p.Total != nil {
		task.Total = *p.Total
	}
	if p.Completed != nil {
		task.Done = *p.Completed
	}
	if p.Failed != nil {
		task.Failed = *p.Failed
	}
	set(task, p)
	task.UpdatedAt = t.now()
}

func decode(msg connection.Message) (syncPayload, error) {
	var p syncPayload
	if err := msg.Decode(&p); err != nil {
		return p, fmt.Errorf("decode payload: %w", err)
	}
	if p.TaskID == "" {
		return p, errors.New("missing taskId")
	}
	for _, n := range []*int{p.Total, p.Completed, p.Failed} {
		if n != nil && *n < 0 {
			return p, errors.New("negative count")
		}
	}
	return p, nil
}

func clamp(pct float64) float64 {
	return max(0, min(pct, 100))
}
