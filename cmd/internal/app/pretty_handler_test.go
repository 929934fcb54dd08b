package app

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
)

func TestStripANSI(t *testing.T) {
	t.Parallel()

	in := ansiBlue + "INFO" + ansiReset + " plain " + ansiRed + "ERR" + ansiReset
	got := stripANSI(in)
	want := "INFO plain ERR"
	if got != want {
		t.Fatalf("stripANSI()=%q want=%q", got, want)
	}
}

func TestWrapSegments_WrapsForNarrowWidth(t *testing.T) {
	t.Parallel()

	s1 := strings.Repeat("a", 20)
	s2 := strings.Repeat("b", 20)
	s3 := strings.Repeat("c", 20)

	lines := wrapSegments(
		[]string{s1, s2, s3},
		" | ",
		60,
		"-> ",
	)
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d (%v)", len(lines), lines)
	}
	if lines[0] != s1+" | "+s2 {
		t.Fatalf("line[0]=%q want %q", lines[0], s1+" | "+s2)
	}
	if lines[1] != "-> "+s3 {
		t.Fatalf("line[1]=%q want %q", lines[1], "-> "+s3)
	}
}

func TestWrapSegments_TruncatesLongSegment(t *testing.T) {
	t.Parallel()

	long := strings.Repeat("x", 80)

	lines := wrapSegments(
		[]string{long},
		" | ",
		60,
		"-> ",
	)
	if len(lines) != 1 {
		t.Fatalf("expected 1 line, got %d", len(lines))
	}
	if visualLen(lines[0]) > 60 {
		t.Fatalf("line too wide: %q (visualLen=%d)", lines[0], visualLen(lines[0]))
	}
	if !strings.Contains(lines[0], ellipsis) {
		t.Fatalf("expected truncation marker in %q", lines[0])
	}
}

func TestTerminalWidth_PrefersExplicitOverride(t *testing.T) {
	h := &prettyHandler{}

	t.Setenv("TRACKER_LOG_WIDTH", "88")
	t.Setenv("COLUMNS", "132")
	if got := h.terminalWidth(); got != 88 {
		t.Fatalf("terminalWidth()=%d want 88", got)
	}
}

func TestTerminalWidth_UsesColumnsWhenOverrideMissing(t *testing.T) {
	h := &prettyHandler{}

	t.Setenv("TRACKER_LOG_WIDTH", "")
	t.Setenv("COLUMNS", "72")
	if got := h.terminalWidth(); got != 72 {
		t.Fatalf("terminalWidth()=%d want 72", got)
	}
}

func TestTerminalWidth_FallbackDefault(t *testing.T) {
	h := &prettyHandler{}

	t.Setenv("TRACKER_LOG_WIDTH", "10")
	t.Setenv("COLUMNS", "20")
	if got := h.terminalWidth(); got != 100 {
		t.Fatalf("terminalWidth()=%d want 100", got)
	}
}

func TestPrettyHandler_PlainOutput(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	h := newPrettyHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}, false).(*prettyHandler)
	h.width = 200

	log := slog.New(h).With("user_id", 7)
	log.Warn("timer.start.fail", "status", 503, "duration_ms", 12, "note", "has space")

	out := buf.String()
	for _, want := range []string{
		"lvl=[WARN]",
		"msg=timer.start.fail",
		"user_id=7",
		"status=503",
		"duration=12ms",
		`note="has space"`,
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("missing %q in %q", want, out)
		}
	}
	if strings.Contains(out, "\x1b") {
		t.Fatalf("unexpected colour codes in %q", out)
	}
}

func TestPrettyHandler_StripsInjectedEscapes(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	h := newPrettyHandler(&buf, nil, false).(*prettyHandler)
	h.width = 200

	slog.New(h).Info("auth.login", "username", ansiRed+"mallory"+ansiReset)

	if got := buf.String(); strings.Contains(got, "\x1b") || !strings.Contains(got, "username=mallory") {
		t.Fatalf("escapes not stripped: %q", got)
	}
}

func TestPrettyHandler_GroupsFlattenKeys(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	h := newPrettyHandler(&buf, nil, false).(*prettyHandler)
	h.width = 200

	slog.New(h).WithGroup("req").Info("http.request", "path", "/timer/start")

	if got := buf.String(); !strings.Contains(got, "req.path=/timer/start") {
		t.Fatalf("group key missing: %q", got)
	}
}

func TestPrettyHandler_TimerFields(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	h := newPrettyHandler(&buf, nil, false).(*prettyHandler)
	h.width = 200

	slog.New(h).Info("timer.stop", "issue_id", 42, "duration_seconds", 5400, "request_id", "r-1", "status_class", "2xx")

	out := buf.String()
	for _, want := range []string{"issue_id=#42", "duration_seconds=1h30m0s", "request_id=r-1", "class=2xx"} {
		if !strings.Contains(out, want) {
			t.Fatalf("missing %q in %q", want, out)
		}
	}
}

func TestPrettyHandler_AttrsKeepGroupAtTimeOfWith(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	h := newPrettyHandler(&buf, nil, false).(*prettyHandler)
	h.width = 200

	slog.New(h).With("user_id", 3).WithGroup("ws").Info("ws.event", "conn_id", "c1")

	out := buf.String()
	if !strings.Contains(out, " user_id=3") || !strings.Contains(out, "ws.conn_id=c1") {
		t.Fatalf("unexpected keys: %q", out)
	}
	if strings.Contains(out, "ws.user_id") {
		t.Fatalf("group applied to earlier attrs: %q", out)
	}
}
