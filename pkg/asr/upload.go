package asr

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/realtime-ai/voiceloop/pkg/audio"
)

const (
	// DefaultUploadURL is the local transcription backend.
	DefaultUploadURL   = "http://127.0.0.1:8000/api/upload/"
	defaultUploadField = "audio"
	uploadTimeout      = 60 * time.Second
)

// UploadProvider posts the segment as a multipart WAV file to an HTTP
// backend that answers with {"transcription": "..."}.
type UploadProvider struct {
	URL   string
	Field string

	client *http.Client
	now    func() time.Time
}

// NewUploadProvider creates an upload backend for url.
func NewUploadProvider(url string) *UploadProvider {
	if url == "" {
		url = DefaultUploadURL
	}
	return &UploadProvider{
		URL:    url,
		Field:  defaultUploadField,
		client: &http.Client{Timeout: uploadTimeout},
		now:    time.Now,
	}
}

// Name returns the provider name.
func (u *UploadProvider) Name() string {
	return "upload"
}

type uploadResponse struct {
	Transcription string `json:"transcription"`
}

// Transcribe implements Transcriber.
func (u *UploadProvider) Transcribe(ctx context.Context, seg *audio.Segment) (string, error) {
	if err := checkSegment(seg); err != nil {
		return "", err
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	name := fmt.Sprintf("recorded_audio_%d.wav", u.now().UnixMilli())
	part, err := mw.CreateFormFile(u.Field, filepath.Base(name))
	if err != nil {
		return "", &Error{Code: ErrCodeInvalidAudio, Message: "failed to create form file", Err: err}
	}
	if _, err := part.Write(seg.WAV()); err != nil {
		return "", &Error{Code: ErrCodeInvalidAudio, Message: "failed to write form file", Err: err}
	}
	if err := mw.Close(); err != nil {
		return "", &Error{Code: ErrCodeInvalidAudio, Message: "failed to finish form", Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.URL, &body)
	if err != nil {
		return "", &Error{Code: ErrCodeInvalidConfig, Message: "failed to create request", Err: err}
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := u.client.Do(req)
	if err != nil {
		return "", &Error{Code: ErrCodeNetworkError, Message: "upload request failed", Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", &Error{Code: ErrCodeNetworkError, Message: "failed to read response", Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", &Error{
			Code:    ErrCodeProviderError,
			Message: fmt.Sprintf("upload backend returned status %d", resp.StatusCode),
			Err:     fmt.Errorf("%s", strings.TrimSpace(string(data))),
		}
	}

	var out uploadResponse
	if err := json.Unmarshal(data, &out); err != nil {
		return "", &Error{Code: ErrCodeProviderError, Message: "invalid response body", Err: err}
	}

	text := strings.TrimSpace(out.Transcription)
	if text == NotRecognizedText {
		return "", ErrNotRecognized
	}
	return text, nil
}

var _ Transcriber = (*UploadProvider)(nil)
