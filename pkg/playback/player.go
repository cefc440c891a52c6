package playback

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os/exec"
	"strconv"
	"strings"
)

const (
	// DefaultRate is the speaking rate in words per minute.
	DefaultRate = 200
	MinRate     = 100
	MaxRate     = 400
)

// Player speaks text and blocks until speech finishes or ctx is cancelled.
// A cancelled playback returns ctx.Err().
type Player interface {
	Speak(ctx context.Context, text string, rate int) error
}

// Error wraps a player failure.
type Error struct {
	Player string
	Err    error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s playback failed: %v", e.Player, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// ClampRate maps rate into [MinRate, MaxRate]; zero selects DefaultRate.
func ClampRate(rate int) int {
	switch {
	case rate == 0:
		return DefaultRate
	case rate < MinRate:
		return MinRate
	case rate > MaxRate:
		return MaxRate
	default:
		return rate
	}
}

// CommandPlayer speaks through a local speech command such as macOS `say`
// or `espeak`. The text is passed as a single argument, never through a shell.
type CommandPlayer struct {
	Command  string
	RateFlag string
	Voice    string
	// VoiceFlag precedes Voice when Voice is set.
	VoiceFlag string

	run func(ctx context.Context, name string, args ...string) error
}

// NewCommandPlayer returns a player for command, defaulting to `say -r`.
func NewCommandPlayer(command string) *CommandPlayer {
	if command == "" {
		command = "say"
	}
	return &CommandPlayer{
		Command:   command,
		RateFlag:  "-r",
		VoiceFlag: "-v",
		run:       runCommand,
	}
}

// Args builds the argument list for text at rate.
func (p *CommandPlayer) Args(text string, rate int) []string {
	args := []string{p.RateFlag, strconv.Itoa(ClampRate(rate))}
	if p.Voice != "" {
		args = append(args, p.VoiceFlag, p.Voice)
	}
	// keep the command from reading the text as a flag
	if strings.HasPrefix(text, "-") {
		text = " " + text
	}
	return append(args, text)
}

// Speak implements Player.
func (p *CommandPlayer) Speak(ctx context.Context, text string, rate int) error {
	if strings.TrimSpace(text) == "" {
		return nil
	}

	run := p.run
	if run == nil {
		run = runCommand
	}

	err := run(ctx, p.Command, p.Args(text, rate)...)
	if ctx.Err() != nil {
		log.Printf("[CommandPlayer] playback interrupted")
		return ctx.Err()
	}
	if err != nil {
		return &Error{Player: p.Command, Err: err}
	}
	return nil
}

func runCommand(ctx context.Context, name string, args ...string) error {
	cmd := exec.CommandContext(ctx, name, args...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && len(out) > 0 {
			return fmt.Errorf("%w: %s", err, strings.TrimSpace(string(out)))
		}
		return err
	}
	return nil
}

var _ Player = (*CommandPlayer)(nil)
