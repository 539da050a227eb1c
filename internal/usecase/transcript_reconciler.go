package usecase

import (
	"strings"
	"sync"

	"github.com/parth2411/transcription-platform-sub000/internal/domain"
)

// transcriptReconciler builds the live display text. Every fragment is
// appended in arrival order whether the backend marked it final or not.
type transcriptReconciler struct {
	mu     sync.Mutex
	chunks []domain.TranscriptChunk
	parts  []string
}

func newTranscriptReconciler() *transcriptReconciler {
	return &transcriptReconciler{}
}

// Add records chunk and reports whether it changed the display text.
func (r *transcriptReconciler) Add(chunk domain.TranscriptChunk) bool {
	text := strings.TrimSpace(chunk.Text)
	if text == "" {
		return false
	}
	chunk.Text = text

	r.mu.Lock()
	defer r.mu.Unlock()
	r.chunks = append(r.chunks, chunk)
	r.parts = append(r.parts, text)
	return true
}

func (r *transcriptReconciler) Display() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return strings.Join(r.parts, " ")
}

func (r *transcriptReconciler) Chunks() []domain.TranscriptChunk {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.TranscriptChunk, len(r.chunks))
	copy(out, r.chunks)
	return out
}
