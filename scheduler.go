package mdlive

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"time"
)

// DefaultDebounce is the quiet period a debounced scheduler waits for.
const DefaultDebounce = 300 * time.Millisecond

// Mode selects how pushes map to renders.
type Mode int

const (
	// Debounced collapses pushes within the delay into one render of the
	// last pushed text.
	Debounced Mode = iota
	// Immediate renders once per push.
	Immediate
)

func (m Mode) String() string {
	if m == Immediate {
		return "immediate"
	}
	return "debounced"
}

// Target selects where the render runs.
type Target int

const (
	// Primary renders on the primary dispatcher.
	Primary Target = iota
	// Worker renders on its own goroutine and hands the result to the
	// primary dispatcher.
	Worker
)

func (t Target) String() string {
	if t == Worker {
		return "worker"
	}
	return "primary"
}

// RenderFunc builds a document from text. ctx is canceled when the render is
// superseded or the scheduler closes.
type RenderFunc func(ctx context.Context, text string) *Document

// ApplyFunc makes a finished document visible. It always runs on the
// primary dispatcher.
type ApplyFunc func(doc *Document)

// SchedulerOption configures a Scheduler.
type SchedulerOption func(*Scheduler)

func WithMode(m Mode) SchedulerOption {
	return func(s *Scheduler) { s.mode = m }
}

// WithDelay sets the debounce delay. Non-positive values keep the default.
func WithDelay(d time.Duration) SchedulerOption {
	return func(s *Scheduler) {
		if d > 0 {
			s.delay = d
		}
	}
}

func WithTarget(t Target) SchedulerOption {
	return func(s *Scheduler) { s.target = t }
}

// WithPrimary sets the dispatcher that owns presentation. The default runs
// tasks in the calling goroutine.
func WithPrimary(d Dispatcher) SchedulerOption {
	return func(s *Scheduler) {
		if d != nil {
			s.primary = d
		}
	}
}

func WithSchedulerLogger(log *slog.Logger) SchedulerOption {
	return func(s *Scheduler) {
		if log != nil {
			s.log = log
		}
	}
}

// Scheduler turns a stream of text values into renders.
//
// Every render gets a generation number. A finished render is applied only
// if its generation is still the newest, so a slow render never replaces the
// result of a newer one. All methods are safe for concurrent use.
type Scheduler struct {
	render  RenderFunc
	apply   ApplyFunc
	mode    Mode
	target  Target
	delay   time.Duration
	primary Dispatcher
	log     *slog.Logger

	mu      sync.Mutex
	text    string
	pending bool
	timer   *time.Timer
	seq     uint64 // timer sequence, detects stale timer callbacks
	gen     uint64
	applied uint64
	cancel  context.CancelFunc
	closed  bool
}

// NewScheduler returns a debounced scheduler that renders on the primary
// dispatcher unless configured otherwise.
func NewScheduler(render RenderFunc, apply ApplyFunc, opts ...SchedulerOption) *Scheduler {
	s := &Scheduler{
		render:  render,
		apply:   apply,
		delay:   DefaultDebounce,
		primary: InlineDispatcher{},
		log:     slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Push records text as the latest value. In Immediate mode it renders now;
// in Debounced mode it restarts the delay.
func (s *Scheduler) Push(text string) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.text = text
	if s.mode == Immediate {
		gen := s.nextGenLocked()
		s.mu.Unlock()
		s.run(gen, text)
		return
	}

	s.pending = true
	s.seq++
	currentSeq := s.seq
	if s.timer != nil {
		s.timer.Stop()
	}
	s.timer = time.AfterFunc(s.delay, func() {
		s.mu.Lock()
		if s.closed || !s.pending || s.seq != currentSeq {
			s.mu.Unlock()
			return
		}
		s.pending = false
		s.timer = nil
		gen := s.nextGenLocked()
		text := s.text
		s.mu.Unlock()
		s.run(gen, text)
	})
	s.mu.Unlock()
}

// Flush renders a pending debounced value now. It reports whether a value
// was pending.
func (s *Scheduler) Flush() bool {
	s.mu.Lock()
	if s.closed || !s.pending {
		s.mu.Unlock()
		return false
	}
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.seq++
	s.pending = false
	gen := s.nextGenLocked()
	text := s.text
	s.mu.Unlock()
	s.run(gen, text)
	return true
}

// Pending reports whether a debounced render is waiting for its timer.
func (s *Scheduler) Pending() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pending
}

// Generation returns the generation of the newest render started.
func (s *Scheduler) Generation() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gen
}

// Close cancels the pending timer and any in-flight render. Nothing is
// rendered or applied afterwards.
func (s *Scheduler) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	s.pending = false
	s.seq++
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
}

// nextGenLocked starts a new generation and cancels the render of the
// previous one.
func (s *Scheduler) nextGenLocked() uint64 {
	s.gen++
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	return s.gen
}

func (s *Scheduler) current(gen uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.closed && gen == s.gen
}

func (s *Scheduler) run(gen uint64, text string) {
	ctx, cancel := context.WithCancel(context.Background())
	s.mu.Lock()
	if s.closed || gen != s.gen {
		s.mu.Unlock()
		cancel()
		return
	}
	s.cancel = cancel
	s.mu.Unlock()

	if s.target == Worker {
		go func() {
			defer cancel()
			doc := s.render(ctx, text)
			s.primary.Dispatch(func() { s.deliver(gen, doc) })
		}()
		return
	}
	s.primary.Dispatch(func() {
		defer cancel()
		if !s.current(gen) {
			return
		}
		s.deliver(gen, s.render(ctx, text))
	})
}

// deliver applies doc if gen is still the newest generation. This is the
// only place a document crosses from the render to the primary context.
func (s *Scheduler) deliver(gen uint64, doc *Document) {
	s.mu.Lock()
	if s.closed || gen != s.gen || gen <= s.applied || doc == nil {
		s.mu.Unlock()
		s.log.Debug("dropping stale render", "generation", gen)
		return
	}
	s.applied = gen
	s.mu.Unlock()
	doc.Generation = gen
	if s.apply != nil {
		s.apply(doc)
	}
}
