// ABOUTME: Tests for alert digest rendering
// ABOUTME: Covers Markdown layout, escaping, HTML conversion and the writing handler

package report

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/errorlog/internal/alert"
	"github.com/2389/errorlog/internal/dedupe"
	"github.com/2389/errorlog/internal/sanitize"
	"github.com/2389/errorlog/internal/stats"
)

var alertedAt = time.Date(2026, 10, 15, 12, 0, 0, 0, time.UTC)

func samplePayload() alert.Payload {
	return alert.Payload{
		ID:        "alert-1",
		AlertedAt: alertedAt,
		Threshold: 2,
		Entries: []dedupe.Entry{
			{
				Message:       "disk full",
				Data:          sanitize.Data{"mount": "/var", "pct": int64(99)},
				Signature:     "sig-1",
				Timestamp:     alertedAt.Add(-3 * time.Minute),
				LastTimestamp: alertedAt,
				Count:         1500,
			},
			{
				Message:       "bad <input> *here*",
				Data:          sanitize.Data{},
				Signature:     "sig-2",
				Timestamp:     alertedAt.Add(-time.Hour),
				LastTimestamp: alertedAt.Add(-time.Hour),
				Count:         1,
			},
		},
		Stats: stats.Snapshot{TotalObserved: 12345, TotalDropped: 7},
	}
}

func TestMarkdown_Summary(t *testing.T) {
	out := string(Markdown(samplePayload()))

	assert.Contains(t, out, "# Error alert alert-1\n")
	assert.Contains(t, out, "- **Alerted at:** 2026-10-15T12:00:00Z\n")
	assert.Contains(t, out, "- **Threshold:** 2\n")
	assert.Contains(t, out, "- **Distinct errors:** 2\n")
	assert.Contains(t, out, "- **Observed:** 12,345\n")
	assert.Contains(t, out, "- **Dropped:** 7\n")
}

func TestMarkdown_Entries(t *testing.T) {
	out := string(Markdown(samplePayload()))

	assert.Contains(t, out, "### 1. disk full (×1,500)")
	assert.Contains(t, out, "- First seen: 2026-10-15T11:57:00Z (3 minutes before alert)")
	assert.Contains(t, out, "- Last seen: 2026-10-15T12:00:00Z (at alert time)")
	assert.Contains(t, out, "- Data: ` {\"mount\":\"/var\",\"pct\":99} `")
	assert.Less(t, strings.Index(out, "disk full"), strings.Index(out, "bad"), "entries keep LRU order")
}

func TestMarkdown_EscapesMessages(t *testing.T) {
	out := string(Markdown(samplePayload()))

	assert.Contains(t, out, `### 2. bad \<input\> \*here\* (×1)`)
}

func TestMarkdown_OmitsEmptyData(t *testing.T) {
	p := samplePayload()
	p.Entries = p.Entries[1:]

	assert.NotContains(t, string(Markdown(p)), "- Data:")
}

func TestMarkdown_NoEntries(t *testing.T) {
	out := string(Markdown(alert.Payload{ID: "x", AlertedAt: alertedAt}))

	assert.NotContains(t, out, "## Errors")
}

func TestHTML_ConvertsMarkdown(t *testing.T) {
	out, err := HTML(samplePayload())
	require.NoError(t, err)

	html := string(out)
	assert.Contains(t, html, "<h1>Error alert alert-1</h1>")
	assert.Contains(t, html, "<strong>Threshold:</strong> 2")
	assert.Contains(t, html, "bad &lt;input&gt; *here*")
	assert.NotContains(t, html, "<input>")
}

func TestCodeSpan_FencesBackticks(t *testing.T) {
	assert.Equal(t, "` plain `", codeSpan("plain"))
	assert.Equal(t, "``` a``b ```", codeSpan("a``b"))
}

func TestRender_UnknownFormat(t *testing.T) {
	_, err := Render(samplePayload(), "pdf")
	assert.ErrorIs(t, err, ErrUnknownFormat)

	_, err = NewHandler(&bytes.Buffer{}, "pdf")
	assert.ErrorIs(t, err, ErrUnknownFormat)
}

func TestNewHandler_WritesDigest(t *testing.T) {
	var buf bytes.Buffer
	h, err := NewHandler(&buf, FormatMarkdown)
	require.NoError(t, err)

	require.NoError(t, h(context.Background(), samplePayload()))

	assert.True(t, strings.HasPrefix(buf.String(), "# Error alert alert-1\n"))
}

func TestNewHandler_CancelledContext(t *testing.T) {
	var buf bytes.Buffer
	h, err := NewHandler(&buf, FormatHTML)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.ErrorIs(t, h(ctx, samplePayload()), context.Canceled)
	assert.Zero(t, buf.Len())
}

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) { return 0, errors.New("closed pipe") }

func TestNewHandler_WriteError(t *testing.T) {
	h, err := NewHandler(failingWriter{}, FormatMarkdown)
	require.NoError(t, err)

	err = h(context.Background(), samplePayload())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "closed pipe")
}

func TestNewHandler_ConcurrentAlerts(t *testing.T) {
	var buf bytes.Buffer
	h, err := NewHandler(&buf, FormatMarkdown)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, h(context.Background(), samplePayload()))
		}()
	}
	wg.Wait()

	assert.Equal(t, 10, strings.Count(buf.String(), "# Error alert alert-1\n"))
}
