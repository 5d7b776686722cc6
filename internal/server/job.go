package server

import (
	"sync"

	"envreport/internal/pipeline"
	"envreport/internal/progress"
)

// job is one run started by the server. follow is the single reader of the
// controller's events; HTTP clients read the recorded copy.
type job struct {
	id   string
	path string
	ctl  *progress.Controller

	mu      sync.Mutex
	events  []progress.Event
	changed chan struct{}
	drained bool
	res     *pipeline.Result
}

func newJob(id, path string) *job {
	return &job{
		id:      id,
		path:    path,
		ctl:     progress.New(),
		changed: make(chan struct{}),
	}
}

// broadcastLocked wakes every waiting stream.
func (j *job) broadcastLocked() {
	close(j.changed)
	j.changed = make(chan struct{})
}

func (j *job) follow() {
	for ev := range j.ctl.Events() {
		j.mu.Lock()
		j.events = append(j.events, ev)
		j.broadcastLocked()
		j.mu.Unlock()
	}
	j.mu.Lock()
	j.drained = true
	j.broadcastLocked()
	j.mu.Unlock()
}

func (j *job) finish(res *pipeline.Result) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.res = res
	j.broadcastLocked()
}

// since returns the events after the first n, a channel closed on the next
// change, and whether the job is complete.
func (j *job) since(n int) ([]progress.Event, <-chan struct{}, bool) {
	j.mu.Lock()
	defer j.mu.Unlock()
	var out []progress.Event
	if n < len(j.events) {
		out = append(out, j.events[n:]...)
	}
	return out, j.changed, j.drained && j.res != nil
}

func (j *job) result() *pipeline.Result {
	j.mu.Lock()
	defer j.mu.Unlock()
	if !j.drained {
		return nil
	}
	return j.res
}

type runView struct {
	ID       string           `json:"id"`
	Document string           `json:"document"`
	State    progress.State   `json:"state"`
	Progress *float64         `json:"progress,omitempty"`
	Result   *pipeline.Result `json:"result,omitempty"`
}

func (j *job) view() runView {
	state := j.ctl.Snapshot()
	v := runView{ID: j.id, Document: j.path, State: state, Result: j.result()}
	if f, ok := state.Fraction(); ok {
		v.Progress = &f
	}
	return v
}
