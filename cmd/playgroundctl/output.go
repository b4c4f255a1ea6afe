package main

import (
	"os"

	"github.com/mattn/go-isatty"

	"playground/internal/model"
)

const (
	ansiReset  = "\x1b[0m"
	ansiGreen  = "\x1b[32m"
	ansiYellow = "\x1b[33m"
	ansiRed    = "\x1b[31m"
)

// colorEnabled reports whether stdout is an interactive terminal and
// NO_COLOR is unset.
func colorEnabled() bool {
	if os.Getenv("NO_COLOR") != "" {
		return false
	}
	fd := os.Stdout.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

func statusLabel(status model.TrainingStatus, color bool) string {
	if !color {
		return string(status)
	}
	switch status {
	case model.StatusCompleted:
		return ansiGreen + string(status) + ansiReset
	case model.StatusAborted:
		return ansiRed + string(status) + ansiReset
	case model.StatusRunning:
		return ansiYellow + string(status) + ansiReset
	default:
		return string(status)
	}
}
