package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"time"
)

// prettyHandler renders one record per line (wrapped to the terminal width) as
// key=value segments, with colour for request, timer and session fields.
type prettyHandler struct {
	w     io.Writer
	opts  slog.HandlerOptions
	color bool
	width int
	mu    *sync.Mutex

	// pre holds segments rendered by WithAttrs; prefix is the active group path.
	pre    []string
	prefix string
}

func newPrettyHandler(w io.Writer, opts *slog.HandlerOptions, color bool) slog.Handler {
	h := &prettyHandler{w: w, color: color, mu: &sync.Mutex{}}
	if opts != nil {
		h.opts = *opts
	}
	return h
}

func (h *prettyHandler) Enabled(_ context.Context, level slog.Level) bool {
	if h.opts.Level == nil {
		return level >= slog.LevelInfo
	}
	return level >= h.opts.Level.Level()
}

func (h *prettyHandler) Handle(_ context.Context, r slog.Record) error {
	ts := r.Time
	if ts.IsZero() {
		ts = time.Now()
	}

	segs := make([]string, 0, 4+len(h.pre)+r.NumAttrs())
	segs = append(segs,
		"ts="+paint(ts.Format("15:04:05.000"), ansiDim, h.color),
		"lvl="+h.levelTag(r.Level),
		"msg="+paint(stripANSI(r.Message), ansiBright, h.color),
	)
	if src := recordSource(r); h.opts.AddSource && src != "" {
		segs = append(segs, "src="+paint(src, ansiDim, h.color))
	}
	segs = append(segs, h.pre...)
	r.Attrs(func(a slog.Attr) bool {
		segs = h.render(segs, a, h.prefix)
		return true
	})

	out := strings.Join(wrapSegments(segs, " ", h.terminalWidth(), "    "), "\n") + "\n"

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := io.WriteString(h.w, out)
	return err
}

func (h *prettyHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	if len(attrs) == 0 {
		return h
	}
	cp := *h
	cp.pre = append([]string(nil), h.pre...)
	for _, a := range attrs {
		cp.pre = h.render(cp.pre, a, h.prefix)
	}
	return &cp
}

func (h *prettyHandler) WithGroup(name string) slog.Handler {
	name = strings.TrimSpace(name)
	if name == "" {
		return h
	}
	cp := *h
	cp.prefix = joinKey(h.prefix, name)
	return &cp
}

func recordSource(r slog.Record) string {
	if r.PC == 0 {
		return ""
	}
	frame, _ := runtime.CallersFrames([]uintptr{r.PC}).Next()
	if frame.File == "" {
		return ""
	}
	return filepath.Base(frame.File) + ":" + strconv.Itoa(frame.Line)
}

func joinKey(prefix, key string) string {
	if prefix == "" {
		return key
	}
	return prefix + "." + key
}

// render appends a's segments; groups are flattened into dotted keys.
func (h *prettyHandler) render(segs []string, a slog.Attr, prefix string) []string {
	a.Value = a.Value.Resolve()
	key := strings.TrimSpace(a.Key)
	if a.Equal(slog.Attr{}) {
		return segs
	}

	if a.Value.Kind() == slog.KindGroup {
		inner := prefix
		if key != "" {
			inner = joinKey(prefix, key)
		}
		for _, ga := range a.Value.Group() {
			segs = h.render(segs, ga, inner)
		}
		return segs
	}
	if key == "" {
		return segs
	}

	full := joinKey(prefix, key)
	if f, ok := fieldFormats[key]; ok {
		label := full
		if f.label != "" {
			label = joinKey(prefix, f.label)
		}
		if s, ok := f.format(a.Value, h.color); ok {
			return append(segs, label+"="+s)
		}
	}
	return append(segs, full+"="+quoteIfNeeded(stripANSI(valueToString(a.Value))))
}

// fieldFormat renders a well-known attribute; ok=false falls back to plain output.
type fieldFormat struct {
	label  string
	format func(v slog.Value, color bool) (string, bool)
}

var fieldFormats = map[string]fieldFormat{
	"method": {format: func(v slog.Value, color bool) (string, bool) {
		return colorizeHTTPMethod(strings.ToUpper(strings.TrimSpace(v.String())), color), true
	}},
	"path": {format: func(v slog.Value, color bool) (string, bool) {
		return paint(quoteIfNeeded(stripANSI(strings.TrimSpace(v.String()))), ansiCyan, color), true
	}},
	"status": {format: func(v slog.Value, color bool) (string, bool) {
		n, ok := valueToInt64(v)
		return colorizeStatusCode(int(n), color), ok
	}},
	"status_class": {label: "class", format: func(v slog.Value, color bool) (string, bool) {
		return colorizeStatusClass(strings.TrimSpace(v.String()), color), true
	}},
	"duration_ms": {label: "duration", format: func(v slog.Value, color bool) (string, bool) {
		n, ok := valueToInt64(v)
		return colorizeDurationMS(n, color), ok
	}},
	"result": {format: func(v slog.Value, color bool) (string, bool) {
		return colorizeResult(strings.ToLower(strings.TrimSpace(v.String())), color), true
	}},
	"issue_id": {format: func(v slog.Value, color bool) (string, bool) {
		n, ok := valueToInt64(v)
		return paint("#"+strconv.FormatInt(n, 10), ansiCyan, color), ok
	}},
	"duration_seconds": {format: func(v slog.Value, color bool) (string, bool) {
		n, ok := valueToInt64(v)
		return paint((time.Duration(n) * time.Second).String(), ansiGreen, color), ok
	}},
	"request_id": {format: func(v slog.Value, color bool) (string, bool) {
		return paint(quoteIfNeeded(stripANSI(v.String())), ansiDim, color), true
	}},
	"err": {format: func(v slog.Value, color bool) (string, bool) {
		return paint(quoteIfNeeded(stripANSI(valueToString(v))), ansiRed, color), true
	}},
}

func valueToString(v slog.Value) string {
	switch v.Kind() {
	case slog.KindString:
		return v.String()
	case slog.KindFloat64:
		return strconv.FormatFloat(v.Float64(), 'f', -1, 64)
	case slog.KindTime:
		return v.Time().Format(time.RFC3339)
	case slog.KindInt64, slog.KindUint64, slog.KindBool, slog.KindDuration:
		return v.String()
	default:
		return fmt.Sprint(v.Any())
	}
}

func quoteIfNeeded(s string) string {
	if s == "" || strings.ContainsAny(s, " \t\r\n\"=") {
		return strconv.Quote(s)
	}
	return s
}

var levelStyles = []struct {
	min  slog.Level
	tag  string
	code string
}{
	{slog.LevelError, "[ERROR]", ansiRed},
	{slog.LevelWarn, "[WARN]", ansiYellow},
	{slog.LevelInfo, "[INFO]", ansiBlue},
}

func (h *prettyHandler) levelTag(level slog.Level) string {
	for _, s := range levelStyles {
		if level >= s.min {
			return paint(s.tag, s.code, h.color)
		}
	}
	return paint("[DEBUG]", ansiMagenta, h.color)
}
