package logging

import (
	"io"
	"log/slog"
	"path/filepath"
	"strconv"
	"strings"
)

const jsonTimeLayout = "2006-01-02T15:04:05.000Z07:00"

func newJSONHandler(w io.Writer, level slog.Leveler, addSource bool) slog.Handler {
	return slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level:       level,
		AddSource:   addSource,
		ReplaceAttr: jsonReplace,
	})
}

// jsonReplace keys the built-ins as ts/level/msg, writes times in UTC and
// durations as fractional seconds.
func jsonReplace(groups []string, attr slog.Attr) slog.Attr {
	v := attr.Value
	if len(groups) == 0 {
		switch attr.Key {
		case slog.TimeKey:
			return slog.String("ts", v.Time().UTC().Format(jsonTimeLayout))
		case slog.LevelKey:
			return slog.String(slog.LevelKey, strings.ToLower(v.String()))
		case slog.SourceKey:
			if src, ok := v.Any().(*slog.Source); ok && src != nil {
				return slog.String(slog.SourceKey, filepath.Base(src.File)+":"+strconv.Itoa(src.Line))
			}
		}
	}
	if v.Kind() == slog.KindDuration {
		return slog.Float64(attr.Key, v.Duration().Seconds())
	}
	return attr
}
