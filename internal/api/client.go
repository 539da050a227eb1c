package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/parth2411/transcription-platform-sub000/internal/domain"
	"github.com/parth2411/transcription-platform-sub000/internal/ports"
)

const (
	pathRecordingStart   = "/api/recording/start"
	pathRecordingStop    = "/api/recording/stop"
	pathRealtimeChunk    = "/api/transcriptions/realtime-chunk"
	pathRealtimeComplete = "/api/transcriptions/realtime-complete"
)

// TokenSource yields the bearer token for each request.
type TokenSource interface {
	BearerToken() (string, error)
}

// StatusError is returned for any non-2xx backend response.
type StatusError struct {
	Method string
	Path   string
	Code   int
	Body   string
}

func (e *StatusError) Error() string {
	body := strings.TrimSpace(e.Body)
	if len(body) > 256 {
		body = body[:256] + "..."
	}
	return fmt.Sprintf("%s %s: HTTP %d: %s", e.Method, e.Path, e.Code, body)
}

// IsStatus reports whether err is a StatusError with the given code.
func IsStatus(err error, code int) bool {
	var statusErr *StatusError
	return errors.As(err, &statusErr) && statusErr.Code == code
}

// Config controls the REST client.
type Config struct {
	BaseURL string
	Timeout time.Duration
}

// Client implements ports.RecordingAPI over HTTP.
type Client struct {
	base       *url.URL
	tokens     TokenSource
	httpClient *http.Client
	logger     *zap.Logger
}

func NewClient(cfg Config, tokens TokenSource, logger *zap.Logger) (*Client, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, errors.New("API base URL cannot be empty")
	}
	base, err := url.Parse(strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"))
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("invalid API base URL %q", cfg.BaseURL)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 2 * time.Minute
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Client{
		base:   base,
		tokens: tokens,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
			Transport: &http.Transport{
				MaxIdleConns:        10,
				MaxIdleConnsPerHost: 4,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		logger: logger,
	}, nil
}

// BaseURL returns the parsed API root.
func (c *Client) BaseURL() *url.URL {
	u := *c.base
	return &u
}

// BearerToken exposes the token source so the socket dialer shares it.
func (c *Client) BearerToken() (string, error) {
	return c.tokens.BearerToken()
}

type startRecordingBody struct {
	MeetingID     string        `json:"meeting_id"`
	AudioSettings audioSettings `json:"audio_settings"`
}

type audioSettings struct {
	SampleRate int `json:"sample_rate"`
	Channels   int `json:"channels"`
}

type startRecordingReply struct {
	SessionID    string `json:"session_id"`
	WebSocketURL string `json:"websocket_url"`
}

func (c *Client) StartRecording(ctx context.Context, req ports.StartRecordingRequest) (ports.StartRecordingResponse, error) {
	var reply startRecordingReply
	err := c.doJSON(ctx, pathRecordingStart, startRecordingBody{
		MeetingID:     req.MeetingID,
		AudioSettings: audioSettings{SampleRate: req.SampleRate, Channels: req.Channels},
	}, &reply)
	if err != nil {
		return ports.StartRecordingResponse{}, err
	}
	if reply.SessionID == "" || reply.WebSocketURL == "" {
		return ports.StartRecordingResponse{}, errors.New("backend did not return a session id and websocket url")
	}
	return ports.StartRecordingResponse{SessionID: reply.SessionID, WebSocketURL: reply.WebSocketURL}, nil
}

type stopRecordingReply struct {
	TranscriptionID string `json:"transcription_id"`
}

func (c *Client) StopRecording(ctx context.Context, meetingID string) (string, error) {
	var reply stopRecordingReply
	if err := c.doJSON(ctx, pathRecordingStop, map[string]string{"meeting_id": meetingID}, &reply); err != nil {
		return "", err
	}
	return reply.TranscriptionID, nil
}

type chunkReply struct {
	Text string `json:"text"`
}

func (c *Client) TranscribeChunk(ctx context.Context, audio []byte) (string, error) {
	var reply chunkReply
	if err := c.doMultipart(ctx, pathRealtimeChunk, "chunk.wav", audio, nil, &reply); err != nil {
		return "", err
	}
	return strings.TrimSpace(reply.Text), nil
}

func (c *Client) CompleteRecording(ctx context.Context, req ports.CompleteRequest) (domain.TranscriptionResult, error) {
	fields := map[string]string{
		"title":                 req.Title,
		"add_to_knowledge_base": strconv.FormatBool(req.AddToKnowledgeBase),
	}
	var result domain.TranscriptionResult
	if err := c.doMultipart(ctx, pathRealtimeComplete, "recording.wav", req.Audio, fields, &result); err != nil {
		return domain.TranscriptionResult{}, err
	}
	return result, nil
}

func (c *Client) doJSON(ctx context.Context, path string, body any, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encoding request: %w", err)
	}
	return c.do(ctx, path, "application/json", bytes.NewReader(payload), out)
}

func (c *Client) doMultipart(ctx context.Context, path string, filename string, audio []byte, fields map[string]string, out any) error {
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	for key, value := range fields {
		if err := writer.WriteField(key, value); err != nil {
			return err
		}
	}

	part, err := writer.CreateFormFile("audio", filename)
	if err != nil {
		return err
	}
	if _, err := part.Write(audio); err != nil {
		return err
	}
	if err := writer.Close(); err != nil {
		return err
	}

	return c.do(ctx, path, writer.FormDataContentType(), body, out)
}

func (c *Client) do(ctx context.Context, path string, contentType string, body io.Reader, out any) error {
	token, err := c.tokens.BearerToken()
	if err != nil {
		return err
	}

	endpoint := c.base.JoinPath(path)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint.String(), body)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	requestID := uuid.NewString()
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("X-Request-ID", requestID)

	started := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("calling %s: %w", path, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading %s response: %w", path, err)
	}

	c.logger.Debug("API request completed",
		zap.String("path", path),
		zap.String("requestID", requestID),
		zap.Int("status", resp.StatusCode),
		zap.Duration("elapsed", time.Since(started)))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &StatusError{Method: http.MethodPost, Path: path, Code: resp.StatusCode, Body: string(respBody)}
	}

	if out == nil || len(bytes.TrimSpace(respBody)) == 0 {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("parsing %s response: %w", path, err)
	}
	return nil
}
