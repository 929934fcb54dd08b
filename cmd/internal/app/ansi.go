package app

import (
	"log/slog"
	"math"
	"os"
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"
)

const (
	ansiReset   = "\x1b[0m"
	ansiBright  = "\x1b[1m"
	ansiDim     = "\x1b[2m"
	ansiRed     = "\x1b[31m"
	ansiGreen   = "\x1b[32m"
	ansiYellow  = "\x1b[33m"
	ansiBlue    = "\x1b[34m"
	ansiMagenta = "\x1b[35m"
	ansiCyan    = "\x1b[36m"
)

const (
	logWidthEnvKey  = "TRACKER_LOG_WIDTH"
	minLogWidth     = 40
	defaultLogWidth = 100
	ellipsis        = "…"
)

var ansiPattern = regexp.MustCompile(`\x1b\[[0-9;]*[A-Za-z]`)

func paint(s, code string, color bool) string {
	if !color || code == "" {
		return s
	}
	return code + s + ansiReset
}

func stripANSI(s string) string {
	if !strings.Contains(s, "\x1b") {
		return s
	}
	return ansiPattern.ReplaceAllString(s, "")
}

// visualLen counts printed runes, ignoring colour escapes.
func visualLen(s string) int {
	return utf8.RuneCountInString(stripANSI(s))
}

func truncateVisual(s string, max int) string {
	if visualLen(s) <= max {
		return s
	}
	if max <= 1 {
		return ellipsis
	}
	r := []rune(stripANSI(s))
	return string(r[:max-1]) + ellipsis
}

// wrapSegments packs segments into lines no wider than width.
// Continuation lines start with prefix. A segment that cannot fit on its own line is truncated.
func wrapSegments(segs []string, sep string, width int, prefix string) []string {
	if width <= 0 {
		return []string{strings.Join(segs, sep)}
	}

	var (
		lines   []string
		cur     strings.Builder
		curLen  int
		started bool
	)

	begin := func(s string) {
		lead := ""
		if len(lines) > 0 {
			lead = prefix
		}
		s = truncateVisual(s, width-visualLen(lead))
		cur.WriteString(lead)
		cur.WriteString(s)
		curLen = visualLen(lead) + visualLen(s)
		started = true
	}

	for _, s := range segs {
		if !started {
			begin(s)
			continue
		}
		if curLen+visualLen(sep)+visualLen(s) <= width {
			cur.WriteString(sep)
			cur.WriteString(s)
			curLen += visualLen(sep) + visualLen(s)
			continue
		}
		lines = append(lines, cur.String())
		cur.Reset()
		begin(s)
	}
	if started {
		lines = append(lines, cur.String())
	}
	return lines
}

func (h *prettyHandler) terminalWidth() int {
	if h.width > 0 {
		return h.width
	}
	for _, key := range []string{logWidthEnvKey, "COLUMNS"} {
		n, err := strconv.Atoi(strings.TrimSpace(os.Getenv(key)))
		if err == nil && n >= minLogWidth {
			return n
		}
	}
	return defaultLogWidth
}

func colorizeHTTPMethod(method string, color bool) string {
	switch method {
	case "GET", "HEAD":
		return paint(method, ansiGreen, color)
	case "POST":
		return paint(method, ansiBlue, color)
	case "PUT", "PATCH":
		return paint(method, ansiYellow, color)
	case "DELETE":
		return paint(method, ansiRed, color)
	default:
		return paint(method, ansiMagenta, color)
	}
}

func statusColor(code int) string {
	switch {
	case code >= 500:
		return ansiRed
	case code >= 400:
		return ansiYellow
	case code >= 300:
		return ansiCyan
	default:
		return ansiGreen
	}
}

func colorizeStatusCode(code int, color bool) string {
	return paint(strconv.Itoa(code), statusColor(code), color)
}

func colorizeStatusClass(class string, color bool) string {
	if class == "" {
		return `""`
	}
	code := 0
	switch class[0] {
	case '2':
		code = 200
	case '3':
		code = 300
	case '4':
		code = 400
	case '5':
		code = 500
	default:
		return class
	}
	return paint(class, statusColor(code), color)
}

func colorizeDurationMS(ms int64, color bool) string {
	s := strconv.FormatInt(ms, 10) + "ms"
	switch {
	case ms >= 1000:
		return paint(s, ansiRed, color)
	case ms >= 100:
		return paint(s, ansiYellow, color)
	default:
		return paint(s, ansiGreen, color)
	}
}

func colorizeResult(result string, color bool) string {
	switch result {
	case "success":
		return paint(result, ansiGreen, color)
	case "redirect":
		return paint(result, ansiCyan, color)
	case "client_error":
		return paint(result, ansiYellow, color)
	case "server_error":
		return paint(result, ansiRed, color)
	default:
		return quoteIfNeeded(result)
	}
}

func valueToInt64(v slog.Value) (int64, bool) {
	switch v.Kind() {
	case slog.KindInt64:
		return v.Int64(), true
	case slog.KindUint64:
		u := v.Uint64()
		if u > math.MaxInt64 {
			return 0, false
		}
		return int64(u), true
	case slog.KindFloat64:
		return int64(v.Float64()), true
	case slog.KindString:
		n, err := strconv.ParseInt(strings.TrimSpace(v.String()), 10, 64)
		return n, err == nil
	default:
		return 0, false
	}
}
