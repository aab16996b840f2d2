// ABOUTME: Markdown and HTML digests of alert payloads
// ABOUTME: Provides an alert.Handler that writes a digest per alert

package report

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/yuin/goldmark"

	"github.com/2389/errorlog/internal/alert"
	"github.com/2389/errorlog/internal/canonical"
)

const (
	FormatMarkdown = "markdown"
	FormatHTML     = "html"
)

// maxDataLength bounds the data snippet rendered for each entry.
const maxDataLength = 2048

// ErrUnknownFormat is returned for a digest format other than markdown or html.
var ErrUnknownFormat = errors.New("unknown digest format")

// ValidFormat reports whether f names a supported digest format.
func ValidFormat(f string) bool {
	return f == FormatMarkdown || f == FormatHTML
}

// Markdown renders p as a Markdown digest. Relative times are measured from
// the moment the alert fired, so the output is stable for a given payload.
func Markdown(p alert.Payload) []byte {
	var b bytes.Buffer

	fmt.Fprintf(&b, "# Error alert %s\n\n", p.ID)
	fmt.Fprintf(&b, "- **Alerted at:** %s\n", p.AlertedAt.UTC().Format(time.RFC3339))
	fmt.Fprintf(&b, "- **Threshold:** %d\n", p.Threshold)
	fmt.Fprintf(&b, "- **Distinct errors:** %d\n", len(p.Entries))
	fmt.Fprintf(&b, "- **Observed:** %s\n", humanize.Comma(int64(p.Stats.TotalObserved)))
	fmt.Fprintf(&b, "- **Dropped:** %s\n", humanize.Comma(int64(p.Stats.TotalDropped)))

	if len(p.Entries) == 0 {
		return b.Bytes()
	}

	b.WriteString("\n## Errors\n")
	for i, e := range p.Entries {
		fmt.Fprintf(&b, "\n### %d. %s (×%s)\n\n", i+1, escape(e.Message), humanize.Comma(e.Count))
		fmt.Fprintf(&b, "- First seen: %s (%s)\n", e.Timestamp.UTC().Format(time.RFC3339), relative(e.Timestamp, p.AlertedAt))
		fmt.Fprintf(&b, "- Last seen: %s (%s)\n", e.LastTimestamp.UTC().Format(time.RFC3339), relative(e.LastTimestamp, p.AlertedAt))
		if len(e.Data) > 0 {
			fmt.Fprintf(&b, "- Data: %s\n", codeSpan(canonical.Serialize(e.Data, canonical.MaxDepth, maxDataLength)))
		}
	}
	return b.Bytes()
}

// HTML renders p as an HTML fragment.
func HTML(p alert.Payload) ([]byte, error) {
	var buf bytes.Buffer
	if err := goldmark.Convert(Markdown(p), &buf); err != nil {
		return nil, fmt.Errorf("converting digest to html: %w", err)
	}
	return buf.Bytes(), nil
}

// Render produces the digest for p in the given format.
func Render(p alert.Payload, format string) ([]byte, error) {
	switch format {
	case FormatMarkdown:
		return Markdown(p), nil
	case FormatHTML:
		return HTML(p)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownFormat, format)
	}
}

// NewHandler returns an alert handler that writes one digest per alert to w.
// Writes are serialized, so w need not be safe for concurrent use.
func NewHandler(w io.Writer, format string) (alert.Handler, error) {
	if !ValidFormat(format) {
		return nil, fmt.Errorf("%w: %q", ErrUnknownFormat, format)
	}

	var mu sync.Mutex
	return func(ctx context.Context, p alert.Payload) error {
		out, err := Render(p, format)
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		mu.Lock()
		defer mu.Unlock()
		if _, err := w.Write(append(out, '\n')); err != nil {
			return fmt.Errorf("writing digest: %w", err)
		}
		return nil
	}, nil
}

func relative(t, ref time.Time) string {
	if t.Equal(ref) {
		return "at alert time"
	}
	return humanize.RelTime(t, ref, "before alert", "after alert")
}

var markdownEscaper = strings.NewReplacer(
	`\`, `\\`,
	"`", "\\`",
	`*`, `\*`,
	`_`, `\_`,
	`[`, `\[`,
	`]`, `\]`,
	`<`, `\<`,
	`>`, `\>`,
	`#`, `\#`,
	`|`, `\|`,
	"\r", " ",
	"\n", " ",
)

// escape makes s safe to embed as inline Markdown text on a single line.
func escape(s string) string {
	return markdownEscaper.Replace(s)
}

// codeSpan wraps s in a backtick fence longer than any backtick run inside it.
func codeSpan(s string) string {
	longest, run := 0, 0
	for _, r := range s {
		if r == '`' {
			run++
			longest = max(longest, run)
			continue
		}
		run = 0
	}
	fence := strings.Repeat("`", longest+1)
	return fence + " " + strings.ReplaceAll(s, "\n", " ") + " " + fence
}
