package recognizer

import (
	"context"
	"sync"
	"time"
)

// Fake is an in-process Engine used by tests and by cmd/meetingrec, which
// always runs with it. It never transcribes audio; callers script its
// output via Script before Start.
type Fake struct {
	mu       sync.Mutex
	format   Format
	script   []Result
	results  chan Result
	started  bool
	canceled bool

	// SupportedLocales restricts which locales Start accepts. Empty means
	// any locale is accepted.
	SupportedLocales []string

	// FailModel, when true, makes Start return ErrModelUnavailable.
	FailModel bool
}

// NewFake builds a Fake engine with the given preferred format.
func NewFake(format Format) *Fake {
	return &Fake{format: format}
}

// Script sets the sequence of results the engine will emit, one at a time,
// as the fake input stream receives pushes. The last Push call that would
// exceed len(script) is a no-op; Finalize flushes any unsent results.
func (f *Fake) Script(results []Result) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.script = results
}

func (f *Fake) PreferredFormat() Format { return f.format }

func (f *Fake) Start(ctx context.Context, locale string) (InputStream, <-chan Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.FailModel {
		return nil, nil, ErrModelUnavailable
	}
	if len(f.SupportedLocales) > 0 && !contains(f.SupportedLocales, locale) {
		return nil, nil, ErrLocaleUnsupported
	}

	f.results = make(chan Result, len(f.script)+1)
	f.started = true

	stream := &fakeInputStream{engine: f}
	return stream, f.results, nil
}

func (f *Fake) Finalize(ctx context.Context, timeout time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.started || f.canceled {
		return nil
	}
	for _, r := range f.script {
		select {
		case f.results <- r:
		default:
		}
	}
	f.script = nil
	close(f.results)
	return nil
}

func (f *Fake) Cancel() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.started && !f.canceled {
		f.canceled = true
		close(f.results)
	}
}

type fakeInputStream struct {
	engine *Fake
	pushed int
}

// Push emits the next scripted result, if any, as soon as enough pushes
// have been observed. This keeps the fake deterministic without modeling
// real audio-to-text timing.
func (s *fakeInputStream) Push(samples []float32) {
	s.engine.mu.Lock()
	defer s.engine.mu.Unlock()
	if s.engine.canceled || len(s.engine.script) == 0 {
		return
	}
	s.pushed++
	r := s.engine.script[0]
	s.engine.script = s.engine.script[1:]
	select {
	case s.engine.results <- r:
	default:
	}
}

func contains(ss []string, s string) bool {
	for _, v := range ss {
		if v == s {
			return true
		}
	}
	return false
}
