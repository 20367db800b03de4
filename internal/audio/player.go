package audio

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
)

// Player plays encoded audio
type Player interface {
	Play(ctx context.Context, audio []byte) error
}

// CommandPlayer pipes audio into an external player's stdin, e.g. "mpg123 -q -"
type CommandPlayer struct {
	Command []string
}

// DefaultPlayerCommand decodes MP3 from stdin
var DefaultPlayerCommand = []string{"mpg123", "-q", "-"}

// Play implements Player. It blocks until the player exits.
func (p CommandPlayer) Play(ctx context.Context, audio []byte) error {
	if len(p.Command) == 0 {
		return errors.New("no player command configured")
	}

	cmd := exec.CommandContext(ctx, p.Command[0], p.Command[1:]...)
	cmd.Stdin = bytes.NewReader(audio)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if stderr.Len() > 0 {
			return fmt.Errorf("%s: %w: %s", p.Command[0], err, bytes.TrimSpace(stderr.Bytes()))
		}
		return fmt.Errorf("%s: %w", p.Command[0], err)
	}
	return nil
}
