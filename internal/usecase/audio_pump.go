package usecase

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"medivoice/internal/domain"
	"medivoice/internal/ports"
)

// pcmBuffer accumulates the whole recording. Chunks arriving while paused
// are dropped.
type pcmBuffer struct {
	mu     sync.Mutex
	data   []byte
	paused bool
}

func (b *pcmBuffer) Append(chunk []byte) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.paused {
		return false
	}
	b.data = append(b.data, chunk...)
	return true
}

func (b *pcmBuffer) SetPaused(paused bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.paused = paused
}

func (b *pcmBuffer) Bytes() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]byte(nil), b.data...)
}

func pumpAudioChunks(
	audio ports.AudioSession,
	buffer *pcmBuffer,
	tee func([]byte),
	chunkSize int,
	events ports.EventSink,
	done chan struct{},
) {
	defer close(done)

	if chunkSize < 256 {
		chunkSize = 4096
	}

	buf := make([]byte, chunkSize)
	for {
		n, err := audio.Read(buf)
		if n > 0 {
			chunk := append([]byte(nil), buf[:n]...)
			if buffer.Append(chunk) && tee != nil {
				tee(chunk)
			}
		}
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrClosedPipe) && !errors.Is(err, os.ErrClosed) {
				events.SessionError(domain.ErrorCodeAudioStream, fmt.Sprintf("audio capture error: %v", err))
			}
			return
		}
	}
}

// waitForPump waits for the capture reader to drain, closing the session if
// it does not finish in time.
func waitForPump(audio ports.AudioSession, done <-chan struct{}, timeout time.Duration) {
	select {
	case <-done:
	case <-time.After(timeout):
		_ = audio.Close()
		<-done
	}
}
