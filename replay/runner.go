package replay

import (
	"errors"
	"sync"
	"time"
)

// State is a playback runner lifecycle state.
type State string

// Runner states. Error is reachable from any state on failure.
const (
	StateIdle     State = "idle"
	StateLoading  State = "loading"
	StateReady    State = "ready"
	StatePlaying  State = "playing"
	StatePaused   State = "paused"
	StateComplete State = "complete"
	StateError    State = "error"
)

// Callbacks are the UI-facing hooks a runner fires synchronously as
// playback advances. Nil entries are skipped. Callbacks run without the
// runner lock held, so they may call back into the runner.
type Callbacks struct {
	OnStart    func()
	OnPause    func()
	OnEvent    func(index int, ev Event)
	OnComplete func()
	OnError    func(err error)
}

// Runner is a cooperative playback controller over a built timeline:
// play/pause/step/seek with speed-scaled inter-event delays. It never
// touches a live engine. All methods are safe for concurrent use;
// autoplay is timer-driven on a single goroutine at a time.
type Runner struct {
	cb Callbacks

	mu      sync.Mutex
	state   State
	tl      *Timeline
	index   int
	speed   float64
	instant bool
	timer   *time.Timer
	gen     int
}

// NewRunner creates an idle runner at speed 1x.
func NewRunner(cb Callbacks) *Runner {
	return &Runner{cb: cb, state: StateIdle, speed: 1}
}

// State returns the current lifecycle state.
func (r *Runner) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Index returns the current event cursor.
func (r *Runner) Index() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.index
}

// Timeline returns the loaded timeline, nil before Load.
func (r *Runner) Timeline() *Timeline {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.tl
}

// Load builds the timeline from a record and readies the runner.
func (r *Runner) Load(rec *RunRecord) error {
	r.mu.Lock()
	r.state = StateLoading
	r.mu.Unlock()

	tl, err := BuildTimeline(rec)

	r.mu.Lock()
	if err != nil {
		r.state = StateError
		r.mu.Unlock()
		if r.cb.OnError != nil {
			r.cb.OnError(err)
		}
		return err
	}
	r.tl = tl
	r.index = 0
	r.state = StateReady
	r.mu.Unlock()
	return nil
}

// Play starts or resumes autoplay. In instant mode all remaining events
// fire immediately.
func (r *Runner) Play() error {
	r.mu.Lock()
	if r.state != StateReady && r.state != StatePaused {
		state := r.state
		r.mu.Unlock()
		return errors.New("cannot play from state " + string(state))
	}
	r.state = StatePlaying
	r.gen++
	gen := r.gen
	instant := r.instant
	r.mu.Unlock()

	if r.cb.OnStart != nil {
		r.cb.OnStart()
	}

	if instant {
		r.drain(gen)
		return nil
	}

	r.schedule(gen, 0)
	return nil
}

// Pause suspends autoplay.
func (r *Runner) Pause() error {
	r.mu.Lock()
	if r.state != StatePlaying {
		state := r.state
		r.mu.Unlock()
		return errors.New("cannot pause from state " + string(state))
	}
	r.state = StatePaused
	r.gen++
	r.stopTimerLocked()
	r.mu.Unlock()

	if r.cb.OnPause != nil {
		r.cb.OnPause()
	}
	return nil
}

// TogglePlayPause flips between playing and paused.
func (r *Runner) TogglePlayPause() error {
	r.mu.Lock()
	playing := r.state == StatePlaying
	r.mu.Unlock()
	if playing {
		return r.Pause()
	}
	return r.Play()
}

// StepForward advances exactly one event, clamped at the end of the
// timeline. Valid when ready or paused.
func (r *Runner) StepForward() error {
	r.mu.Lock()
	if r.state != StateReady && r.state != StatePaused {
		state := r.state
		r.mu.Unlock()
		return errors.New("cannot step from state " + string(state))
	}
	if r.index >= len(r.tl.Events) {
		r.mu.Unlock()
		return nil
	}
	idx := r.index
	ev := r.tl.Events[idx]
	r.index++
	done := r.index >= len(r.tl.Events)
	if done {
		r.state = StateComplete
	}
	r.mu.Unlock()

	if r.cb.OnEvent != nil {
		r.cb.OnEvent(idx, ev)
	}
	if done && r.cb.OnComplete != nil {
		r.cb.OnComplete()
	}
	return nil
}

// StepBackward retreats exactly one event, clamped at the start. A
// completed runner returns to paused.
func (r *Runner) StepBackward() error {
	r.mu.Lock()
	if r.state != StateReady && r.state != StatePaused && r.state != StateComplete {
		state := r.state
		r.mu.Unlock()
		return errors.New("cannot step from state " + string(state))
	}
	if r.index == 0 {
		r.mu.Unlock()
		return nil
	}
	r.index--
	if r.state == StateComplete {
		r.state = StatePaused
	}
	idx := r.index
	ev := r.tl.Events[idx]
	r.mu.Unlock()

	if r.cb.OnEvent != nil {
		r.cb.OnEvent(idx, ev)
	}
	return nil
}

// JumpTo seeks the cursor to an event index, clamped to the timeline
// bounds. It does not emit.
func (r *Runner) JumpTo(index int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.tl == nil {
		return errors.New("no timeline loaded")
	}
	if index < 0 {
		index = 0
	}
	if index > len(r.tl.Events) {
		index = len(r.tl.Events)
	}
	r.index = index
	if r.state == StateComplete && index < len(r.tl.Events) {
		r.state = StatePaused
	}
	return nil
}

// SetSpeed sets the playback speed multiplier and leaves instant mode.
// Non-positive multipliers are ignored.
func (r *Runner) SetSpeed(multiplier float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if multiplier > 0 {
		r.speed = multiplier
		r.instant = false
	}
}

// SetInstant collapses all inter-event delays to zero.
func (r *Runner) SetInstant() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.instant = true
}

// Reset returns the cursor to the first event and the runner to ready.
func (r *Runner) Reset() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.tl == nil {
		return errors.New("no timeline loaded")
	}
	r.gen++
	r.stopTimerLocked()
	r.index = 0
	r.state = StateReady
	return nil
}

// SimulatedDelay scales an original inter-event gap by the playback
// speed. Non-positive speed collapses to zero, like instant mode.
func SimulatedDelay(originalMS int64, speed float64) time.Duration {
	if originalMS <= 0 || speed <= 0 {
		return 0
	}
	return time.Duration(float64(originalMS)/speed) * time.Millisecond
}

// drain fires every remaining event synchronously (instant mode).
func (r *Runner) drain(gen int) {
	for {
		r.mu.Lock()
		if r.gen != gen || r.state != StatePlaying {
			r.mu.Unlock()
			return
		}
		if r.index >= len(r.tl.Events) {
			r.state = StateComplete
			r.mu.Unlock()
			if r.cb.OnComplete != nil {
				r.cb.OnComplete()
			}
			return
		}
		idx := r.index
		ev := r.tl.Events[idx]
		r.index++
		r.mu.Unlock()

		if r.cb.OnEvent != nil {
			r.cb.OnEvent(idx, ev)
		}
	}
}

// schedule arms the autoplay timer for the next event.
func (r *Runner) schedule(gen int, delay time.Duration) {
	r.mu.Lock()
	if r.gen != gen || r.state != StatePlaying {
		r.mu.Unlock()
		return
	}
	r.stopTimerLocked()
	r.timer = time.AfterFunc(delay, func() { r.tick(gen) })
	r.mu.Unlock()
}

// tick emits the current event and schedules the next one with the
// speed-scaled gap between their recorded timestamps.
func (r *Runner) tick(gen int) {
	r.mu.Lock()
	if r.gen != gen || r.state != StatePlaying {
		r.mu.Unlock()
		return
	}
	if r.index >= len(r.tl.Events) {
		r.state = StateComplete
		r.mu.Unlock()
		if r.cb.OnComplete != nil {
			r.cb.OnComplete()
		}
		return
	}

	idx := r.index
	ev := r.tl.Events[idx]
	r.index++

	var delay time.Duration
	done := r.index >= len(r.tl.Events)
	if !done {
		gap := r.tl.Events[r.index].Timestamp - ev.Timestamp
		delay = SimulatedDelay(gap, r.speed)
	}
	r.mu.Unlock()

	if r.cb.OnEvent != nil {
		r.cb.OnEvent(idx, ev)
	}

	if done {
		r.mu.Lock()
		if r.gen == gen && r.state == StatePlaying {
			r.state = StateComplete
			r.mu.Unlock()
			if r.cb.OnComplete != nil {
				r.cb.OnComplete()
			}
			return
		}
		r.mu.Unlock()
		return
	}

	r.schedule(gen, delay)
}

func (r *Runner) stopTimerLocked() {
	if r.timer != nil {
		r.timer.Stop()
		r.timer = nil
	}
}
