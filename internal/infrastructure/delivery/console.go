package delivery

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"NewsDigest/internal/domain"
	"NewsDigest/internal/ports"
)

// ConsoleDeliverer prints the Markdown digest; the default channel for local runs.
type ConsoleDeliverer struct {
	out      io.Writer
	renderer *Renderer
	logger   *slog.Logger
}

var _ ports.Deliverer = (*ConsoleDeliverer)(nil)

// NewConsoleDeliverer writes to out, or stdout when nil.
func NewConsoleDeliverer(out io.Writer, renderer *Renderer, logger *slog.Logger) *ConsoleDeliverer {
	if out == nil {
		out = os.Stdout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ConsoleDeliverer{out: out, renderer: renderer, logger: logger}
}

func (c *ConsoleDeliverer) Deliver(_ context.Context, message domain.DigestMessage) error {
	rendered, err := c.renderer.Render(message)
	if err != nil {
		return err
	}

	rule := strings.Repeat("=", 72)
	if _, err := fmt.Fprintf(c.out, "%s\n%s\n%s\n\n%s\n\n%s\n", rule, rendered.Subject, rule, rendered.Text, rule); err != nil {
		return fmt.Errorf("console: write digest: %w", err)
	}
	c.logger.Info("digest printed", "run_date", message.RunDate.String(), "entries", len(message.Entries))
	return nil
}
