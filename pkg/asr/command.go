package asr

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/exec"
	"strings"

	"github.com/realtime-ai/voiceloop/pkg/audio"
)

// errorPrefix marks a recognizer failure written to stdout.
const errorPrefix = "音声認識エラー"

// CommandProvider runs a local recognizer with the path of a temporary WAV
// file appended to Args and reads the transcript from stdout.
type CommandProvider struct {
	Command string
	Args    []string
	// Dir receives the temporary WAV file; empty uses the system temp dir.
	Dir string
	// NotRecognized is the output that means no words were heard.
	NotRecognized string
}

// NewCommandProvider creates a command backend.
func NewCommandProvider(command string, args ...string) *CommandProvider {
	return &CommandProvider{
		Command:       command,
		Args:          args,
		NotRecognized: NotRecognizedText,
	}
}

// Name returns the provider name.
func (c *CommandProvider) Name() string {
	return "command"
}

// Transcribe implements Transcriber.
func (c *CommandProvider) Transcribe(ctx context.Context, seg *audio.Segment) (string, error) {
	if err := checkSegment(seg); err != nil {
		return "", err
	}
	if c.Command == "" {
		return "", &Error{Code: ErrCodeInvalidConfig, Message: "recognizer command is not set"}
	}

	f, err := os.CreateTemp(c.Dir, "recorded_audio_*.wav")
	if err != nil {
		return "", &Error{Code: ErrCodeInvalidAudio, Message: "failed to create temp file", Err: err}
	}
	path := f.Name()
	defer os.Remove(path)

	_, werr := f.Write(seg.WAV())
	cerr := f.Close()
	if err := errors.Join(werr, cerr); err != nil {
		return "", &Error{Code: ErrCodeInvalidAudio, Message: "failed to write temp file", Err: err}
	}

	args := append(append([]string(nil), c.Args...), path)
	cmd := exec.CommandContext(ctx, c.Command, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			log.Printf("[CommandProvider] %s stderr: %s", c.Command, msg)
		}
		return "", &Error{Code: ErrCodeProviderError, Message: fmt.Sprintf("%s failed", c.Command), Err: err}
	}

	text := strings.TrimSpace(stdout.String())
	switch {
	case c.NotRecognized != "" && text == c.NotRecognized:
		return "", ErrNotRecognized
	case strings.HasPrefix(text, errorPrefix):
		return "", &Error{Code: ErrCodeProviderError, Message: text}
	}
	return text, nil
}

var _ Transcriber = (*CommandProvider)(nil)
