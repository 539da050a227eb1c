package devserver

import (
	"context"
	"fmt"
	"strings"

	"github.com/parth2411/transcription-platform-sub000/internal/audio"
)

// Transcriber turns PCM into text for the reference backend.
type Transcriber interface {
	Transcribe(ctx context.Context, pcm []byte, sampleRate int, channels int) (string, error)
}

// PlaceholderTranscriber describes the audio instead of recognizing speech.
type PlaceholderTranscriber struct{}

func (PlaceholderTranscriber) Transcribe(_ context.Context, pcm []byte, sampleRate int, channels int) (string, error) {
	if len(pcm) == 0 {
		return "", nil
	}
	duration := audio.PCMDuration(len(pcm), sampleRate, channels)
	return fmt.Sprintf("[%.1fs of audio, level %.2f]", duration.Seconds(), audio.Level(pcm)), nil
}

func summarize(transcript string) string {
	words := strings.Fields(transcript)
	if len(words) == 0 {
		return "Nothing was said."
	}
	preview := words
	if len(preview) > 12 {
		preview = preview[:12]
	}
	summary := fmt.Sprintf("%d words. %s", len(words), strings.Join(preview, " "))
	if len(preview) < len(words) {
		summary += "..."
	}
	return summary
}
