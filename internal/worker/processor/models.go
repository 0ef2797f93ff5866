package processor

import (
	"sync"
	"time"

	"refinery/internal/loader"
)

// State is a ConversionJob lifecycle state.
type State string

const (
	StateReceived   State = "RECEIVED"
	StateParsed     State = "PARSED"
	StateScened     State = "SCENED"
	StateExported   State = "EXPORTED"
	StateRendered   State = "RENDERED"
	StateEncoded    State = "ENCODED"
	StateCompressed State = "COMPRESSED"
	StateUploaded   State = "UPLOADED"
	StateNotified   State = "NOTIFIED"
	StateFailed     State = "FAILED"
)

// Job is one conversion, created per object-created record and dropped
// once it reaches NOTIFIED or FAILED.
type Job struct {
	ID        string
	Bucket    string
	SourceKey string
	ModelID   string
	Format    loader.Format
	Keys      OutputKeys

	// EventMetadata is the user metadata the trigger event carried, used
	// when the object itself has none.
	EventMetadata map[string]string

	Started time.Time

	mu      sync.Mutex
	state   State
	history []State
}

func newJob(id, bucket, key string, md map[string]string) *Job {
	return &Job{
		ID:            id,
		Bucket:        bucket,
		SourceKey:     key,
		EventMetadata: md,
		Started:       time.Now(),
		state:         StateReceived,
		history:       []State{StateReceived},
	}
}

// State returns the current state. The export and render branches move a
// job concurrently, so access is locked.
func (j *Job) State() State {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.state
}

// History lists every state the job has entered, in order.
func (j *Job) History() []State {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]State(nil), j.history...)
}

func (j *Job) advance(s State) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.state == StateFailed {
		return
	}
	j.state = s
	j.history = append(j.history, s)
}
