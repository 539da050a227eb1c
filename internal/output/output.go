package output

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/parth2411/transcription-platform-sub000/internal/domain"
)

// Formatter writes user-facing lines. It is safe for concurrent use since
// session events arrive from several goroutines.
type Formatter struct {
	mu sync.Mutex
	w  io.Writer
}

func NewFormatter(w io.Writer) *Formatter {
	return &Formatter{w: w}
}

func (f *Formatter) printf(format string, args ...any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fmt.Fprintf(f.w, format, args...)
}

func (f *Formatter) RecordingStarted(title string, meeting bool) {
	mode := "local"
	if meeting {
		mode = "meeting"
	}
	if title == "" {
		f.printf("🎙️  Recording (%s mode)\n", mode)
		return
	}
	f.printf("🎙️  Recording %q (%s mode)\n", title, mode)
}

func (f *Formatter) Controls() {
	f.printf("   p+Enter pause · r+Enter resume · s+Enter or Ctrl+C stop · Ctrl+C twice discard\n")
}

func (f *Formatter) RecordingPaused(elapsed time.Duration) {
	f.printf("⏸️  Paused at %s\n", formatDuration(elapsed))
}

func (f *Formatter) RecordingResumed() {
	f.printf("▶️  Resumed\n")
}

func (f *Formatter) RecordingStopped(duration time.Duration) {
	f.printf("⏹️  Recording stopped (%s)\n", formatDuration(duration))
}

func (f *Formatter) Finalizing() {
	f.printf("📝 Finalizing transcript...\n")
}

func (f *Formatter) Progress(elapsed time.Duration, level float64) {
	f.printf("⏺️  %s %s\n", formatDuration(elapsed), meter(level))
}

// LiveTranscript prints one provisional fragment as it arrives.
func (f *Formatter) LiveTranscript(text string, final bool) {
	if final {
		f.printf("💬 %s\n", text)
		return
	}
	f.printf("   … %s\n", text)
}

func (f *Formatter) TranscriptReady(result domain.StopResult) {
	rec := result.Result
	if rec.Title != "" {
		f.printf("\n✅ %s\n", rec.Title)
	} else {
		f.printf("\n✅ Transcript ready\n")
	}
	if rec.ID != "" {
		f.printf("   id: %s\n", rec.ID)
	}
	f.printf("   duration: %s\n", formatDuration(result.Duration))
	if rec.AddedToKnowledgeBase {
		f.printf("   added to knowledge base\n")
	}
	f.printf("\n%s\n", strings.TrimSpace(rec.Transcript))
	if summary := strings.TrimSpace(rec.Summary); summary != "" {
		f.printf("\n🤖 Summary\n%s\n", summary)
	}
}

// TranscriptFallback shows the live transcript under an error banner.
func (f *Formatter) TranscriptFallback(result domain.StopResult) {
	f.printf("\n⚠️  Final transcription failed. Showing the live transcript instead.\n")
	text := strings.TrimSpace(result.Interim)
	if text == "" {
		text = "(nothing was transcribed)"
	}
	f.printf("\n%s\n", text)
}

func (f *Formatter) AudioSaved(path string) {
	f.printf("💾 Audio saved: %s\n", path)
}

func (f *Formatter) Error(msg string) {
	f.printf("❌ %s\n", msg)
}

func (f *Formatter) Info(msg string) {
	f.printf("ℹ️  %s\n", msg)
}

func (f *Formatter) Success(msg string) {
	f.printf("✅ %s\n", msg)
}

func (f *Formatter) Warning(msg string) {
	f.printf("⚠️  %s\n", msg)
}

func (f *Formatter) SetupCheck(name string, ok bool, detail string) {
	if ok {
		f.printf("  ✅ %s: %s\n", name, detail)
	} else {
		f.printf("  ❌ %s: %s\n", name, detail)
	}
}

func meter(level float64) string {
	if level < 0 {
		level = 0
	}
	if level > 1 {
		level = 1
	}
	const width = 10
	filled := int(level*width + 0.5)
	return "[" + strings.Repeat("#", filled) + strings.Repeat(".", width-filled) + "]"
}

func formatDuration(d time.Duration) string {
	d = d.Round(time.Second)
	h := d / time.Hour
	d -= h * time.Hour
	m := d / time.Minute
	d -= m * time.Minute
	s := d / time.Second

	if h > 0 {
		return fmt.Sprintf("%dh%02dm%02ds", h, m, s)
	}
	if m > 0 {
		return fmt.Sprintf("%dm%02ds", m, s)
	}
	return fmt.Sprintf("%ds", s)
}
