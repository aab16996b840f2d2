// ABOUTME: stdin reader for errlog watch
// ABOUTME: Parses plain-text and JSON lines and records them in the error log

package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/2389/errorlog/pkg/errorlog"
)

// maxLineBytes bounds a single input line.
const maxLineBytes = 1 << 20

type summary struct {
	Lines    int
	Rejected int
}

// jsonLine is the structured input form: {"message": "...", "data": {...}}.
type jsonLine struct {
	Message string         `json:"message"`
	Data    map[string]any `json:"data"`
}

// parseLine extracts a message and data from one input line. ok is false for
// blank lines.
func parseLine(line string) (message string, data any, ok bool) {
	line = strings.TrimSpace(line)
	if line == "" {
		return "", nil, false
	}
	if strings.HasPrefix(line, "{") {
		var jl jsonLine
		if err := json.Unmarshal([]byte(line), &jl); err == nil && jl.Message != "" {
			return jl.Message, jl.Data, true
		}
	}
	return line, nil, true
}

// watch feeds every line of r into log until r is exhausted or ctx is done.
func watch(ctx context.Context, r io.Reader, log *errorlog.Log, logger *slog.Logger) (summary, error) {
	var sum summary

	lines := make(chan string)
	scanErr := make(chan error, 1)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(r)
		scanner.Buffer(make([]byte, 64*1024), maxLineBytes)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
		scanErr <- scanner.Err()
	}()

	for {
		select {
		case <-ctx.Done():
			return sum, ctx.Err()
		case line, open := <-lines:
			if !open {
				select {
				case err := <-scanErr:
					if err != nil {
						return sum, fmt.Errorf("reading input: %w", err)
					}
				default:
				}
				return sum, nil
			}

			sum.Lines++
			message, data, ok := parseLine(line)
			if !ok {
				continue
			}
			if err := log.AddError(message, data); err != nil {
				sum.Rejected++
				logger.Warn("rejected input line", "line", sum.Lines, "error", err)
			}
		}
	}
}
