package app

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/viper"

	internalapp "github.com/relengtools/composer/internal/app"
	"github.com/relengtools/composer/internal/config"
	"github.com/relengtools/composer/internal/telemetry"
)

// errDeclined is returned when the operator answers no to a confirmation
var errDeclined = errors.New("cancelled by user")

// loadConfig loads the file named by --config or COMPOSER_CONFIG, falling
// back to composer/config.yaml under the XDG config directories
func loadConfig() (*config.Config, error) {
	v := viper.GetViper()
	v.SetEnvPrefix(config.EnvPrefix)
	if err := v.BindEnv("config"); err != nil {
		return nil, fmt.Errorf("failed to bind config environment variable: %w", err)
	}

	path := v.GetString("config")
	if path == "" {
		found, err := config.FindConfigFile()
		if err != nil {
			return nil, fmt.Errorf("a configuration file is required (--config): %w", err)
		}
		path = found
	}
	cfg, err := config.LoadConfig(config.WithConfigPath(path))
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	if viper.GetBool("debug") {
		slog.Debug("Loaded configuration", "path", path)
	}
	return cfg, nil
}

// setupTelemetry initializes telemetry and returns the app options wiring it
// in. The returned shutdown function flushes pending data.
func setupTelemetry(ctx context.Context, cfg *config.Config) ([]internalapp.AppOption, func(), error) {
	tel, err := telemetry.New(ctx, telemetry.WithTelemetryConfig(cfg.Telemetry))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	shutdown := func() {
		if err := tel.Shutdown(context.Background()); err != nil {
			slog.Error("Failed to shutdown telemetry", "error", err)
		}
	}
	opts := []internalapp.AppOption{
		internalapp.WithConfig(cfg),
		internalapp.WithMeterProvider(tel.MeterProvider()),
		internalapp.WithTracerProvider(tel.TracerProvider()),
	}
	if h := tel.MetricsHandler(); h != nil {
		opts = append(opts, internalapp.WithMetricsHandler(h))
	}
	return opts, shutdown, nil
}

// prompter asks yes/no questions on the terminal. With yes set every
// question is answered yes without asking.
type prompter struct {
	in  *bufio.Reader
	out io.Writer
	yes bool
}

func newPrompter(in io.Reader, out io.Writer, yes bool) *prompter {
	return &prompter{in: bufio.NewReader(in), out: out, yes: yes}
}

// confirm reports whether the answer to prompt was yes
func (p *prompter) confirm(prompt string) bool {
	if p.yes {
		return true
	}
	fmt.Fprintf(p.out, "%s [y/N]: ", prompt)
	line, err := p.in.ReadString('\n')
	if err != nil && line == "" {
		return false
	}
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		return true
	default:
		return false
	}
}

// renderTable writes rows under header as an aligned table
func renderTable(out io.Writer, header []string, rows [][]string) error {
	table := tablewriter.NewWriter(out)
	headerCells := make([]any, len(header))
	for i, h := range header {
		headerCells[i] = h
	}
	table.Header(headerCells...)
	if err := table.Bulk(rows); err != nil {
		return fmt.Errorf("failed to build table: %w", err)
	}
	return table.Render()
}

// splitList splits a comma separated flag value, dropping blanks
func splitList(value string) []string {
	var out []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
