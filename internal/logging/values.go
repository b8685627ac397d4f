package logging

import (
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"
)

const maxErrorText = 200

// valueText is the unquoted text of v, used for subject parts and stream
// fields.
func valueText(v slog.Value) string {
	v = v.Resolve()
	switch v.Kind() {
	case slog.KindString:
		return v.String()
	case slog.KindTime:
		return v.Time().Local().Format(time.DateTime)
	case slog.KindAny:
		if err, ok := v.Any().(error); ok {
			return err.Error()
		}
		return fmt.Sprint(v.Any())
	}
	return v.String()
}

// renderValue formats v for a console line, using the key to pick units.
func renderValue(key string, v slog.Value) string {
	v = v.Resolve()
	switch {
	case v.Kind() == slog.KindDuration:
		d := v.Duration()
		if d >= time.Second {
			return d.Round(100 * time.Millisecond).String()
		}
		return d.Round(time.Millisecond).String()
	case v.Kind() == slog.KindFloat64 && (key == "progress" || strings.HasSuffix(key, "_percent")):
		return strconv.FormatFloat(v.Float64(), 'f', 1, 64) + "%"
	case (key == "size" || strings.HasSuffix(key, "_bytes")) && (v.Kind() == slog.KindInt64 || v.Kind() == slog.KindUint64):
		n := v.Int64()
		if v.Kind() == slog.KindUint64 {
			n = int64(v.Uint64())
		}
		return humanBytes(n)
	case v.Kind() == slog.KindFloat64:
		return strconv.FormatFloat(v.Float64(), 'f', -1, 64)
	}
	text := valueText(v)
	if key == "error" && len(text) > maxErrorText {
		text = text[:maxErrorText] + "…"
	}
	return quoteIfNeeded(text)
}

func quoteIfNeeded(s string) string {
	if s == "" || strings.ContainsFunc(s, func(r rune) bool { return r <= ' ' || r == '=' || r == '"' }) {
		return strconv.Quote(s)
	}
	return s
}

func humanBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return strconv.FormatInt(n, 10) + " B"
	}
	value := float64(n)
	suffixes := []string{"KiB", "MiB", "GiB", "TiB"}
	i := -1
	for value >= unit && i < len(suffixes)-1 {
		value /= unit
		i++
	}
	return strconv.FormatFloat(value, 'f', 1, 64) + " " + suffixes[i]
}
