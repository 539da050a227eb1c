package usecase

import (
	"errors"
	"fmt"
	"io"
	"sync/atomic"
	"time"

	"github.com/parth2411/transcription-platform-sub000/internal/domain"
	"github.com/parth2411/transcription-platform-sub000/internal/ports"
)

// pumpAudioChunks copies capture output into every tap until the capture
// ends. Reads that land while paused are dropped so they never reach a
// segment or the interim transcript.
func pumpAudioChunks(
	audio ports.AudioSession,
	taps []*pcmTap,
	paused *atomic.Bool,
	closing *atomic.Bool,
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
		if n > 0 && !paused.Load() {
			for _, tap := range taps {
				if tap != nil {
					tap.Write(buf[:n])
				}
			}
		}
		if err != nil {
			if !errors.Is(err, io.EOF) && !closing.Load() {
				events.SessionError(domain.ErrorCodeAudioStream, fmt.Sprintf("audio capture error: %v", err))
			}
			return
		}
	}
}

func waitForStream(session ports.StreamingSession, timeout time.Duration) error {
	done := make(chan error, 1)
	go func() {
		done <- session.Wait()
	}()

	select {
	case err := <-done:
		return err
	case <-time.After(timeout):
		_ = session.Close()
		return <-done
	}
}
