package progress

import (
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/0xFlo/prism-sub006/internal/inbox"
)

// Job is the ephemeral state of one pipeline run. It exists for the
// lifetime of the run and moves into the bounded history on finish.
type Job struct {
	ID             string
	TotalSteps     int
	CompletedSteps int
	Status         JobStatus
	StartedAt      time.Time
	FinishedAt     time.Time
	Stats          map[string]int
}

// JobStatus represents the lifecycle of a progress job
type JobStatus string

const (
	JobRunning  JobStatus = "running"
	JobFinished JobStatus = "finished"
)

// EventType identifies the kind of progress event broadcast to subscribers
type EventType string

const (
	EventStarted       EventType = "started"
	EventStepCompleted EventType = "step_completed"
	EventFinished      EventType = "finished"
)

// Event is broadcast to subscribers on every job transition.
type Event struct {
	Type EventType
	Job  Job
}

// messageKind identifies the type of message sent to the tracker actor
type messageKind int

const (
	msgStart messageKind = iota
	msgStep
	msgFinish
	msgSubscribe
	msgUnsubscribe
	msgSnapshot
	msgHistory
)

// message is the container for all messages sent to the tracker actor
type message struct {
	kind       messageKind
	totalSteps int
	stats      map[string]int
	subCh      chan Event
	subID      int

	// Reply channels, buffered size 1, written at most once
	jobReply     chan Job
	subReply     chan int
	historyReply chan []Job
}

// Tracker is a single-writer progress actor. All mutation of the
// active job flows through the actor's mailbox; callers only ever see
// copies. Step and finish reports with no active job are no-ops so
// that stray progress from retries or shutdown never fails a run.
type Tracker struct {
	mailbox *inbox.Mailbox[message]
	logger  *slog.Logger

	// Actor-owned state, touched only inside run()
	active      *Job
	history     []Job
	historySize int
	subscribers map[int]chan Event
	nextSubID   int

	done chan struct{}
}

// NewTracker creates and starts a progress tracker keeping at most
// historySize finished jobs.
func NewTracker(historySize int, logger *slog.Logger) *Tracker {
	t := &Tracker{
		mailbox:     inbox.New[message](256, logger),
		logger:      logger,
		historySize: historySize,
		subscribers: make(map[int]chan Event),
		done:        make(chan struct{}),
	}

	go t.run()
	return t
}

// Start begins a new job with the given step count, replacing any
// previous active job. Returns a copy of the new job.
func (t *Tracker) Start(totalSteps int) Job {
	reply := make(chan Job, 1)
	if !t.mailbox.TrySend(message{kind: msgStart, totalSteps: totalSteps, jobReply: reply}) {
		return Job{}
	}
	return <-reply
}

// StepCompleted increments the active job's completed steps and
// broadcasts. No-op when no job is active.
func (t *Tracker) StepCompleted() Job {
	reply := make(chan Job, 1)
	if !t.mailbox.TrySend(message{kind: msgStep, jobReply: reply}) {
		return Job{}
	}
	return <-reply
}

// Finish moves the active job into history with the given stats and
// broadcasts. No-op when no job is active.
func (t *Tracker) Finish(stats map[string]int) Job {
	reply := make(chan Job, 1)
	if !t.mailbox.TrySend(message{kind: msgFinish, stats: stats, jobReply: reply}) {
		return Job{}
	}
	return <-reply
}

// Subscribe registers a read-only event channel. The returned cancel
// function unregisters it. Subscribers that fall behind miss events
// rather than blocking the actor.
func (t *Tracker) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, 64)
	reply := make(chan int, 1)
	if !t.mailbox.TrySend(message{kind: msgSubscribe, subCh: ch, subReply: reply}) {
		close(ch)
		return ch, func() {}
	}

	id := <-reply
	return ch, func() {
		t.mailbox.TrySend(message{kind: msgUnsubscribe, subID: id})
	}
}

// Active returns a copy of the active job, if any.
func (t *Tracker) Active() (Job, bool) {
	reply := make(chan Job, 1)
	if !t.mailbox.TrySend(message{kind: msgSnapshot, jobReply: reply}) {
		return Job{}, false
	}
	job := <-reply
	return job, job.ID != ""
}

// History returns the finished jobs, most recent first.
func (t *Tracker) History() []Job {
	reply := make(chan []Job, 1)
	if !t.mailbox.TrySend(message{kind: msgHistory, historyReply: reply}) {
		return nil
	}
	return <-reply
}

// Close stops the actor and closes all subscriber channels.
func (t *Tracker) Close() {
	t.mailbox.Close()
	<-t.done
}

// run is the actor loop; the only goroutine that mutates tracker state.
func (t *Tracker) run() {
	defer close(t.done)

	for {
		msg, ok := t.mailbox.Receive()
		if !ok {
			for _, ch := range t.subscribers {
				close(ch)
			}
			return
		}
		t.handle(msg)
	}
}

func (t *Tracker) handle(msg message) {
	switch msg.kind {
	case msgStart:
		job := Job{
			ID:         uuid.New().String(),
			TotalSteps: msg.totalSteps,
			Status:     JobRunning,
			StartedAt:  time.Now(),
		}
		t.active = &job
		t.broadcast(EventStarted, job)
		msg.jobReply <- job

	case msgStep:
		if t.active == nil {
			msg.jobReply <- Job{}
			return
		}
		t.active.CompletedSteps++
		t.broadcast(EventStepCompleted, *t.active)
		msg.jobReply <- *t.active

	case msgFinish:
		if t.active == nil {
			msg.jobReply <- Job{}
			return
		}
		t.active.Status = JobFinished
		t.active.FinishedAt = time.Now()
		t.active.Stats = msg.stats

		finished := *t.active
		t.active = nil

		// Most recent first, trimmed to the history bound
		t.history = append([]Job{finished}, t.history...)
		if len(t.history) > t.historySize {
			t.history = t.history[:t.historySize]
		}

		t.broadcast(EventFinished, finished)
		msg.jobReply <- finished

	case msgSubscribe:
		id := t.nextSubID
		t.nextSubID++
		t.subscribers[id] = msg.subCh
		msg.subReply <- id

	case msgUnsubscribe:
		if ch, ok := t.subscribers[msg.subID]; ok {
			delete(t.subscribers, msg.subID)
			close(ch)
		}

	case msgSnapshot:
		if t.active == nil {
			msg.jobReply <- Job{}
		} else {
			msg.jobReply <- *t.active
		}

	case msgHistory:
		history := make([]Job, len(t.history))
		copy(history, t.history)
		msg.historyReply <- history
	}
}

// broadcast sends an event to every subscriber without blocking.
func (t *Tracker) broadcast(eventType EventType, job Job) {
	event := Event{Type: eventType, Job: job}
	for id, ch := range t.subscribers {
		select {
		case ch <- event:
		default:
			t.logger.Debug("subscriber lagging, event skipped", "subscriber", id)
		}
	}
}
