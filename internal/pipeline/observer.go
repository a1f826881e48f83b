package pipeline

import (
	"sync"
	"time"
)

// Observer is notified around every stage. Calls for one run come from a
// single goroutine, in build order.
type Observer interface {
	StageStarted(stage Stage)
	StageFinished(stage Stage, elapsed time.Duration, err error)
}

// Event is one observed stage transition.
type Event struct {
	Stage    Stage
	Finished bool
	Elapsed  time.Duration
	Err      error
}

// Recorder is an Observer that keeps every event; it is safe to read while a
// run is in progress.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *Recorder) StageStarted(stage Stage) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, Event{Stage: stage})
}

func (r *Recorder) StageFinished(stage Stage, elapsed time.Duration, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, Event{Stage: stage, Finished: true, Elapsed: elapsed, Err: err})
}

// Events returns a copy of the recorded events.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// Started lists the stages that were started, in order.
func (r *Recorder) Started() []Stage {
	var out []Stage
	for _, e := range r.Events() {
		if !e.Finished {
			out = append(out, e.Stage)
		}
	}
	return out
}

// ObserverFuncs adapts plain functions to Observer; nil fields are skipped.
type ObserverFuncs struct {
	Started  func(Stage)
	Finished func(Stage, time.Duration, error)
}

func (o ObserverFuncs) StageStarted(stage Stage) {
	if o.Started != nil {
		o.Started(stage)
	}
}

func (o ObserverFuncs) StageFinished(stage Stage, elapsed time.Duration, err error) {
	if o.Finished != nil {
		o.Finished(stage, elapsed, err)
	}
}
