package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/nvandessel/pcosc/internal/config"
	"github.com/nvandessel/pcosc/internal/logging"
	"github.com/nvandessel/pcosc/internal/model"
	"github.com/nvandessel/pcosc/internal/network"
	"github.com/spf13/cobra"
)

// modelFlags maps command-line flags to parameter keys.
var modelFlags = []struct {
	flag, key, usage string
}{
	{"stim", "stim", "Constant input to layer1"},
	{"amplitude", "amplitude", "Desired oscillation amplitude"},
	{"tau", "tau_synapse", "Synaptic time constant of the integrator and oscillator loops (s)"},
	{"omega", "omega", "Oscillation frequency at unit phase rate (rad/s)"},
	{"gamma", "gamma", "Gain of the amplitude correction"},
}

// addNetworkFlags registers the flags that select and parameterize a network.
func addNetworkFlags(cmd *cobra.Command) {
	cmd.Flags().String("network", "", "YAML network definition to use instead of the reference model")
	cmd.Flags().String("params", "", "YAML file of reference model parameters")
	for _, f := range modelFlags {
		cmd.Flags().Float64(f.flag, 0, f.usage)
	}
}

// loadSettings reads and validates the global configuration.
func loadSettings() (*config.PcoscConfig, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// networkBuilder returns the declarations selected by the network flags along
// with metadata describing them for the run store.
func networkBuilder(cmd *cobra.Command, cfg *config.PcoscConfig) (*network.Builder, map[string]any, error) {
	networkPath, _ := cmd.Flags().GetString("network")
	paramsPath, _ := cmd.Flags().GetString("params")

	overrides := map[string]float64{}
	for _, f := range modelFlags {
		if cmd.Flags().Changed(f.flag) {
			v, _ := cmd.Flags().GetFloat64(f.flag)
			overrides[f.key] = v
		}
	}

	if networkPath != "" {
		if paramsPath != "" || len(overrides) > 0 {
			return nil, nil, fmt.Errorf("--params and model flags cannot be combined with --network")
		}
		def, err := network.LoadDefinition(networkPath)
		if err != nil {
			return nil, nil, err
		}
		b, err := def.Builder()
		if err != nil {
			return nil, nil, err
		}
		return b, map[string]any{"network": networkPath}, nil
	}

	p := cfg.Model
	if paramsPath != "" {
		var err error
		if p, err = model.LoadParams(paramsPath); err != nil {
			return nil, nil, err
		}
	}
	p, err := p.With(overrides)
	if err != nil {
		return nil, nil, err
	}
	if err := p.Validate(); err != nil {
		return nil, nil, err
	}
	return model.Builder(p), p.Map(), nil
}

// buildNetwork builds the graph selected by the network flags.
func buildNetwork(cmd *cobra.Command, cfg *config.PcoscConfig) (*network.Graph, map[string]any, error) {
	b, meta, err := networkBuilder(cmd, cfg)
	if err != nil {
		return nil, nil, err
	}
	g, err := b.Build()
	if err != nil {
		return nil, nil, err
	}
	return g, meta, nil
}

// newLogger writes leveled logs to the command's stderr.
func newLogger(cmd *cobra.Command, cfg *config.PcoscConfig) *slog.Logger {
	return logging.NewLogger(cfg.Logging.Level, cmd.ErrOrStderr())
}

// signalContext returns a context cancelled by SIGINT or SIGTERM.
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)
	sigCh := make(chan os.Signal, 1)
	notifySignals(sigCh)
	go func() {
		select {
		case <-sigCh:
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, cancel
}
