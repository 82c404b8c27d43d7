package ollama

import (
	"context"
	"errors"
	"fmt"
)

// ErrNotRunning is returned by Probe when the server does not answer.
var ErrNotRunning = errors.New("ollama is not running (start it with: ollama serve)")

// Probe checks that suggestions can be served: the server answers and the
// model is pulled. The daemon logs the result and keeps running without
// suggestions when it fails.
func Probe(ctx context.Context, c *Client, model string) error {
	if !c.IsRunning(ctx) {
		return ErrNotRunning
	}
	if !c.HasModel(ctx, model) {
		return fmt.Errorf("model %s is not available (pull it with: ollama pull %s)", model, model)
	}
	return nil
}
