package asr

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/realtime-ai/voiceloop/pkg/audio"
)

func testSegment() *audio.Segment {
	now := time.Now()
	return &audio.Segment{
		Data:      make([]byte, 3200),
		Format:    audio.DefaultFormat(),
		StartedAt: now.Add(-100 * time.Millisecond),
		EndedAt:   now,
	}
}

func TestWhisperProvider_Name(t *testing.T) {
	provider, err := NewWhisperProvider("test-api-key", "", DefaultRecognitionConfig())
	if err != nil {
		t.Fatalf("Failed to create provider: %v", err)
	}

	if provider.Name() != "openai-whisper" {
		t.Errorf("Expected name 'openai-whisper', got '%s'", provider.Name())
	}
}

func TestNewWhisperProvider_NoAPIKey(t *testing.T) {
	_, err := NewWhisperProvider("", "", RecognitionConfig{})
	if err == nil {
		t.Fatal("Expected error when API key is empty")
	}

	var asrErr *Error
	if !errors.As(err, &asrErr) {
		t.Errorf("Expected *Error, got %T", err)
	} else if asrErr.Code != ErrCodeInvalidConfig {
		t.Errorf("Expected ErrCodeInvalidConfig, got %v", asrErr.Code)
	}
}

func TestWhisperProvider_Transcribe(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/audio/transcriptions" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("parse form: %v", err)
		}
		if got := r.FormValue("language"); got != "ja" {
			t.Errorf("expected language ja, got %q", got)
		}
		file, header, err := r.FormFile("file")
		if err != nil {
			t.Errorf("missing file: %v", err)
		} else {
			defer file.Close()
			if _, _, err := audio.DecodeWAV(file); err != nil {
				t.Errorf("uploaded file is not WAV: %v", err)
			}
			if header.Filename != "audio.wav" {
				t.Errorf("unexpected filename %s", header.Filename)
			}
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"text":" こんにちは "}`))
	}))
	defer server.Close()

	provider, err := NewWhisperProvider("test-api-key", server.URL+"/v1", DefaultRecognitionConfig())
	if err != nil {
		t.Fatalf("Failed to create provider: %v", err)
	}

	text, err := provider.Transcribe(context.Background(), testSegment())
	if err != nil {
		t.Fatalf("Transcribe() error = %v", err)
	}
	if text != "こんにちは" {
		t.Errorf("Expected 'こんにちは', got %q", text)
	}
}

func TestWhisperProvider_TranscribeErrors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"error":{"message":"Incorrect API key","type":"invalid_request_error"}}`))
	}))
	defer server.Close()

	provider, _ := NewWhisperProvider("bad", server.URL+"/v1", DefaultRecognitionConfig())

	_, err := provider.Transcribe(context.Background(), testSegment())
	var asrErr *Error
	if !errors.As(err, &asrErr) || asrErr.Code != ErrCodeAuthenticationFailed {
		t.Errorf("Expected authentication error, got %v", err)
	}

	_, err = provider.Transcribe(context.Background(), &audio.Segment{})
	if !errors.As(err, &asrErr) || asrErr.Code != ErrCodeInvalidAudio {
		t.Errorf("Expected invalid audio error, got %v", err)
	}
}

func TestUploadProvider_Transcribe(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		want    string
		wantErr error
		code    ErrorCode
	}{
		{name: "text", status: 200, body: `{"transcription":"今日は晴れ"}`, want: "今日は晴れ"},
		{name: "not recognized", status: 200, body: `{"transcription":"音声を認識できませんでした"}`, wantErr: ErrNotRecognized},
		{name: "empty", status: 200, body: `{"transcription":""}`, want: ""},
		{name: "server error", status: 500, body: "boom", code: ErrCodeProviderError},
		{name: "bad json", status: 200, body: "<html>", code: ErrCodeProviderError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.Method != http.MethodPost {
					t.Errorf("expected POST, got %s", r.Method)
				}
				file, header, err := r.FormFile("audio")
				if err != nil {
					t.Errorf("missing audio field: %v", err)
				} else {
					file.Close()
					if !strings.HasPrefix(header.Filename, "recorded_audio_") {
						t.Errorf("unexpected filename %s", header.Filename)
					}
				}
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}))
			defer server.Close()

			provider := NewUploadProvider(server.URL + "/api/upload/")
			text, err := provider.Transcribe(context.Background(), testSegment())

			switch {
			case tt.wantErr != nil:
				if !errors.Is(err, tt.wantErr) {
					t.Errorf("expected %v, got %v", tt.wantErr, err)
				}
			case tt.code != ErrCodeUnknown:
				var asrErr *Error
				if !errors.As(err, &asrErr) || asrErr.Code != tt.code {
					t.Errorf("expected code %v, got %v", tt.code, err)
				}
			default:
				if err != nil {
					t.Fatalf("unexpected error %v", err)
				}
				if text != tt.want {
					t.Errorf("expected %q, got %q", tt.want, text)
				}
			}
		})
	}
}

func TestCommandProvider_Transcribe(t *testing.T) {
	tests := []struct {
		name    string
		script  string
		want    string
		wantErr bool
		notRec  bool
	}{
		{name: "stdout text", script: `test -s "$1" && echo "こんにちは"`, want: "こんにちは"},
		{name: "sentinel", script: `echo "音声を認識できませんでした"`, notRec: true},
		{name: "error line", script: `echo "音声認識エラー: timeout"`, wantErr: true},
		{name: "exit status", script: `exit 3`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			provider := NewCommandProvider("sh", "-c", tt.script, "sh")
			provider.Dir = t.TempDir()

			text, err := provider.Transcribe(context.Background(), testSegment())
			switch {
			case tt.notRec:
				if !errors.Is(err, ErrNotRecognized) {
					t.Errorf("expected ErrNotRecognized, got %v", err)
				}
			case tt.wantErr:
				var asrErr *Error
				if !errors.As(err, &asrErr) {
					t.Errorf("expected *Error, got %v", err)
				}
			default:
				if err != nil {
					t.Fatalf("unexpected error %v", err)
				}
				if text != tt.want {
					t.Errorf("expected %q, got %q", tt.want, text)
				}
			}
		})
	}
}

func TestCommandProvider_NoCommand(t *testing.T) {
	provider := NewCommandProvider("")
	if _, err := provider.Transcribe(context.Background(), testSegment()); err == nil {
		t.Error("expected error without command")
	}
}
