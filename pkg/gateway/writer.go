package gateway

import (
	"fmt"
	"net/http"
	"sync"
)

// writerState tracks the state of a streaming frame writer.
type writerState int

const (
	writerIdle      writerState = iota // no writes yet
	writerStreaming                    // at least one frame written
)

// frameWriter writes pre-rendered vendor stream frames to the client,
// flushing after each one so deltas arrive as they are produced.
type frameWriter struct {
	w           http.ResponseWriter
	rc          *http.ResponseController
	contentType string

	mu    sync.Mutex
	state writerState
}

func newFrameWriter(w http.ResponseWriter, contentType string) *frameWriter {
	return &frameWriter{
		w:           w,
		rc:          http.NewResponseController(w),
		contentType: contentType,
	}
}

// WriteFrame sends one frame verbatim. The first frame sets the streaming
// headers.
func (f *frameWriter) WriteFrame(frame []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.state == writerIdle {
		f.w.Header().Set("Content-Type", f.contentType)
		f.w.Header().Set("Cache-Control", "no-cache")
		f.w.Header().Set("Connection", "keep-alive")
		f.w.WriteHeader(http.StatusOK)
		f.state = writerStreaming
	}

	if _, err := f.w.Write(frame); err != nil {
		return fmt.Errorf("writing frame: %w", err)
	}
	if err := f.rc.Flush(); err != nil {
		return fmt.Errorf("flushing frame: %w", err)
	}
	return nil
}

// Started reports whether any frame has been written.
func (f *frameWriter) Started() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state == writerStreaming
}
