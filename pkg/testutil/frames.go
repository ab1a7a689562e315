// Package testutil provides shared test doubles and fixtures.
package testutil

import (
	"io"
	"sync"
)

// FrameRecorder records client frames written by the relay. When FailAfter
// is positive, the FailAfter-th write and every later one fail with
// io.ErrClosedPipe, as a vanished client would.
type FrameRecorder struct {
	mu        sync.Mutex
	Tokens    []string
	DoneCount int
	Errors    []string
	Details   []string
	FailAfter int
	writes    int
}

func (f *FrameRecorder) tick() error {
	f.writes++
	if f.FailAfter > 0 && f.writes >= f.FailAfter {
		return io.ErrClosedPipe
	}
	return nil
}

func (f *FrameRecorder) Token(text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.tick(); err != nil {
		return err
	}
	f.Tokens = append(f.Tokens, text)
	return nil
}

func (f *FrameRecorder) Done() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.tick(); err != nil {
		return err
	}
	f.DoneCount++
	return nil
}

func (f *FrameRecorder) Error(message, details string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.tick(); err != nil {
		return err
	}
	f.Errors = append(f.Errors, message)
	f.Details = append(f.Details, details)
	return nil
}

// Writes reports how many frames were attempted.
func (f *FrameRecorder) Writes() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.writes
}
