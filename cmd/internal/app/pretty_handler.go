package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"time"
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
	defaultLogWidth = 100
	minLogWidth     = 40
	segmentSep      = "  "
	continuation    = "    ↳ "
)

var ansiPattern = regexp.MustCompile(`\x1b\[[0-9;]*m`)

// prettyHandler renders one record per line (wrapped to the terminal width) for local runs.
type prettyHandler struct {
	w      io.Writer
	opts   slog.HandlerOptions
	attrs  []slog.Attr
	groups []string
	color  bool
	mu     *sync.Mutex
}

func newPrettyHandler(w io.Writer, opts *slog.HandlerOptions, color bool) slog.Handler {
	h := &prettyHandler{w: w, color: color, mu: &sync.Mutex{}}
	if opts != nil {
		h.opts = *opts
	}
	return h
}

func (h *prettyHandler) Enabled(_ context.Context, level slog.Level) bool {
	floor := slog.LevelInfo
	if h.opts.Level != nil {
		floor = h.opts.Level.Level()
	}
	return level >= floor
}

func (h *prettyHandler) Handle(_ context.Context, r slog.Record) error {
	ts := r.Time
	if ts.IsZero() {
		ts = time.Now()
	}

	segs := []string{
		paint(ts.Format("15:04:05.000"), ansiDim, h.color),
		levelTag(r.Level, h.color),
		paint(r.Message, ansiBright, h.color),
	}

	for _, a := range h.attrs {
		segs = h.appendAttr(segs, a, "")
	}
	r.Attrs(func(a slog.Attr) bool {
		segs = h.appendAttr(segs, a, "")
		return true
	})

	if h.opts.AddSource && r.PC != 0 {
		frame, _ := runtime.CallersFrames([]uintptr{r.PC}).Next()
		if frame.File != "" {
			segs = append(segs, paint(fmt.Sprintf("%s:%d", filepath.Base(frame.File), frame.Line), ansiDim, h.color))
		}
	}

	lines := wrapSegments(segs, segmentSep, h.terminalWidth(), continuation)
	out := strings.Join(lines, "\n") + "\n"

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := io.WriteString(h.w, out)
	return err
}

func (h *prettyHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	cp := *h
	cp.attrs = append(append([]slog.Attr{}, h.attrs...), attrs...)
	return &cp
}

func (h *prettyHandler) WithGroup(name string) slog.Handler {
	if strings.TrimSpace(name) == "" {
		return h
	}
	cp := *h
	cp.groups = append(append([]string{}, h.groups...), name)
	return &cp
}

// terminalWidth honors ACTEEZER_LOG_WIDTH, then COLUMNS. Values below minLogWidth are ignored.
func (h *prettyHandler) terminalWidth() int {
	for _, key := range []string{"ACTEEZER_LOG_WIDTH", "COLUMNS"} {
		raw := strings.TrimSpace(os.Getenv(key))
		if raw == "" {
			continue
		}
		n, err := strconv.Atoi(raw)
		if err == nil && n >= minLogWidth {
			return n
		}
	}
	return defaultLogWidth
}

func (h *prettyHandler) appendAttr(segs []string, a slog.Attr, parent string) []string {
	a.Value = a.Value.Resolve()
	key := strings.TrimSpace(a.Key)
	if key == "" || a.Equal(slog.Attr{}) {
		return segs
	}
	if parent != "" {
		key = parent + "." + key
	}

	if a.Value.Kind() == slog.KindGroup {
		for _, ga := range a.Value.Group() {
			segs = h.appendAttr(segs, ga, key)
		}
		return segs
	}

	full := key
	if len(h.groups) > 0 {
		full = strings.Join(h.groups, ".") + "." + key
	}
	return append(segs, displayKey(full)+"="+h.formatValue(full, a.Value))
}

func (h *prettyHandler) formatValue(key string, v slog.Value) string {
	switch key {
	case "method":
		return colorizeHTTPMethod(strings.ToUpper(v.String()), h.color)
	case "path":
		return paint(v.String(), ansiCyan, h.color)
	case "status":
		if n, ok := valueToInt64(v); ok {
			return colorizeStatusCode(int(n), h.color)
		}
	case "status_class":
		return colorizeStatusClass(v.String(), h.color)
	case "duration_ms":
		if n, ok := valueToInt64(v); ok {
			return colorizeDurationMS(n, h.color)
		}
	case "result", "outcome":
		return colorizeResult(strings.ToLower(v.String()), h.color)
	case "err":
		return paint(quoteIfNeeded(valueToString(v)), ansiRed, h.color)
	}
	return quoteIfNeeded(valueToString(v))
}

func displayKey(k string) string {
	switch k {
	case "status_class":
		return "class"
	case "duration_ms":
		return "took"
	}
	return k
}

func levelTag(level slog.Level, color bool) string {
	switch {
	case level >= slog.LevelError:
		return paint("ERR", ansiRed, color)
	case level >= slog.LevelWarn:
		return paint("WRN", ansiYellow, color)
	case level < slog.LevelInfo:
		return paint("DBG", ansiMagenta, color)
	default:
		return paint("INF", ansiBlue, color)
	}
}

func paint(s, code string, color bool) string {
	if !color || s == "" {
		return s
	}
	return code + s + ansiReset
}

func colorizeHTTPMethod(m string, color bool) string {
	switch m {
	case "GET":
		return paint(m, ansiGreen, color)
	case "POST":
		return paint(m, ansiBlue, color)
	case "PUT", "PATCH":
		return paint(m, ansiYellow, color)
	case "DELETE":
		return paint(m, ansiRed, color)
	default:
		return paint(m, ansiMagenta, color)
	}
}

func colorizeStatusCode(code int, color bool) string {
	return paint(strconv.Itoa(code), statusColor(code), color)
}

func colorizeStatusClass(class string, color bool) string {
	switch class {
	case "2xx":
		return paint(class, ansiGreen, color)
	case "3xx":
		return paint(class, ansiCyan, color)
	case "4xx":
		return paint(class, ansiYellow, color)
	case "5xx":
		return paint(class, ansiRed, color)
	}
	return class
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

func colorizeDurationMS(ms int64, color bool) string {
	s := strconv.FormatInt(ms, 10) + "ms"
	switch {
	case ms >= 1000:
		return paint(s, ansiRed, color)
	case ms >= 250:
		return paint(s, ansiYellow, color)
	default:
		return paint(s, ansiDim, color)
	}
}

func colorizeResult(result string, color bool) string {
	switch result {
	case "success", "sent", "allowed":
		return paint(result, ansiGreen, color)
	case "redirect":
		return paint(result, ansiCyan, color)
	case "client_error", "denied", "failed":
		return paint(result, ansiYellow, color)
	case "server_error":
		return paint(result, ansiRed, color)
	}
	if strings.HasPrefix(result, "skipped") {
		return paint(result, ansiDim, color)
	}
	return result
}

func valueToInt64(v slog.Value) (int64, bool) {
	switch v.Kind() {
	case slog.KindInt64:
		return v.Int64(), true
	case slog.KindUint64:
		return int64(v.Uint64()), true
	case slog.KindFloat64:
		return int64(v.Float64()), true
	case slog.KindString:
		n, err := strconv.ParseInt(strings.TrimSpace(v.String()), 10, 64)
		return n, err == nil
	default:
		return 0, false
	}
}

func valueToString(v slog.Value) string {
	switch v.Kind() {
	case slog.KindDuration:
		return v.Duration().String()
	case slog.KindTime:
		return v.Time().Format(time.RFC3339)
	case slog.KindAny:
		return fmt.Sprint(v.Any())
	default:
		return v.String()
	}
}

func quoteIfNeeded(s string) string {
	if s == "" {
		return `""`
	}
	if strings.ContainsAny(s, " \t\r\n\"=") {
		return strconv.Quote(s)
	}
	return s
}

func stripANSI(s string) string {
	return ansiPattern.ReplaceAllString(s, "")
}

func visualLen(s string) int {
	return utf8.RuneCountInString(stripANSI(s))
}

// wrapSegments packs segs into lines no wider than width. Continuation lines start with
// indent; a segment that cannot fit on its own is cut and marked with an ellipsis.
func wrapSegments(segs []string, sep string, width int, indent string) []string {
	var (
		lines []string
		cur   string
		first = true
	)
	for _, seg := range segs {
		prefix := ""
		if !first && cur == "" {
			prefix = indent
		}
		room := width - visualLen(prefix)
		if visualLen(seg) > room {
			seg = truncateVisual(seg, room)
		}

		switch {
		case cur == "":
			cur = prefix + seg
		case visualLen(cur)+visualLen(sep)+visualLen(seg) <= width:
			cur += sep + seg
		default:
			lines = append(lines, cur)
			first = false
			if visualLen(indent)+visualLen(seg) > width {
				seg = truncateVisual(seg, width-visualLen(indent))
			}
			cur = indent + seg
		}
	}
	if cur != "" {
		lines = append(lines, cur)
	}
	return lines
}

func truncateVisual(s string, limit int) string {
	plain := []rune(stripANSI(s))
	if limit <= 1 || len(plain) <= limit {
		return string(plain)
	}
	return string(plain[:limit-1]) + "…"
}
