package playback

import (
	"context"
	"strings"

	"github.com/realtime-ai/voiceloop/pkg/tts"
)

// TTSPlayer synthesizes text through a tts.Provider and plays the result
// through a Sink.
type TTSPlayer struct {
	Provider tts.Provider
	Sink     Sink
	Voice    string
}

// NewTTSPlayer returns a player that plays through the default output device.
func NewTTSPlayer(provider tts.Provider) *TTSPlayer {
	return &TTSPlayer{Provider: provider, Sink: &MalgoSink{}}
}

// Speak implements Player. rate is mapped onto a speed multiplier with
// DefaultRate as 1.0. Text is synthesized one sentence at a time so a stop
// takes effect between sentences.
func (p *TTSPlayer) Speak(ctx context.Context, text string, rate int) error {
	if strings.TrimSpace(text) == "" {
		return nil
	}

	speed := float64(ClampRate(rate)) / DefaultRate
	for _, sentence := range SplitSentences(text, 0) {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := p.speakSentence(ctx, sentence, speed); err != nil {
			return err
		}
	}
	return nil
}

func (p *TTSPlayer) speakSentence(ctx context.Context, text string, speed float64) error {
	resp, err := p.Provider.Synthesize(ctx, &tts.SynthesizeRequest{
		Text:  text,
		Voice: p.Voice,
		Speed: speed,
	})
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return &Error{Player: p.Provider.Name(), Err: err}
	}

	if err := p.Sink.Play(ctx, resp.AudioData, resp.Format); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return &Error{Player: p.Provider.Name(), Err: err}
	}
	return nil
}

var _ Player = (*TTSPlayer)(nil)
