package main

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"

	"github.com/loykin/pwstudio"
)

func printJSON(w io.Writer, v any) {
	b, _ := json.MarshalIndent(v, "", "  ")
	_, _ = fmt.Fprintln(w, string(b))
}

// openStudio loads config and builds a Studio plus its logger. The returned
// cleanup closes both.
func openStudio(flags *GlobalFlags, tweak func(*pwstudio.Config)) (*pwstudio.Studio, *slog.Logger, func(), error) {
	cfg, err := pwstudio.LoadConfig(flags.ConfigPath)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("error loading config: %w", err)
	}
	if tweak != nil {
		tweak(cfg)
	}
	log, logCloser, err := pwstudio.NewLogger(cfg)
	if err != nil {
		return nil, nil, nil, err
	}
	studio, err := pwstudio.New(cfg, log)
	if err != nil {
		_ = logCloser.Close()
		return nil, nil, nil, err
	}
	return studio, log, func() {
		_ = studio.Close()
		_ = logCloser.Close()
	}, nil
}
