package logging

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"
)

// consoleHandler writes one line per record:
//
//	15:04:05.000 INFO  pipeline  slot 1 · job 01234567/transcribe  stage started  event_type=stage_start
//
// Info lines lead with well-known keys and hide bookkeeping keys (paths,
// secondary ids) behind a "+N" counter. Debug lines print every attribute
// plus the caller.
type consoleHandler struct {
	out       *lockedWriter
	level     slog.Leveler
	addSource bool
	preset    []field
	group     string
}

type lockedWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (l *lockedWriter) write(p []byte) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, err := l.w.Write(p)
	return err
}

type field struct {
	key   string
	value slog.Value
}

func newConsoleHandler(w io.Writer, level slog.Leveler, addSource bool) slog.Handler {
	return &consoleHandler{out: &lockedWriter{w: w}, level: level, addSource: addSource}
}

func (h *consoleHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level.Level()
}

func (h *consoleHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := *h
	next.preset = slices.Clip(h.preset)
	for _, attr := range attrs {
		next.preset = appendField(next.preset, h.group, attr)
	}
	return &next
}

func (h *consoleHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	next := *h
	next.group = joinKey(h.group, name)
	return &next
}

func (h *consoleHandler) Handle(_ context.Context, record slog.Record) error {
	fields := slices.Clone(h.preset)
	record.Attrs(func(attr slog.Attr) bool {
		fields = appendField(fields, h.group, attr)
		return true
	})
	fields = lastWins(fields)

	var subject subjectParts
	rest := fields[:0:0]
	for _, f := range fields {
		if subject.take(f) {
			continue
		}
		rest = append(rest, f)
	}

	ts := record.Time
	if ts.IsZero() {
		ts = time.Now()
	}
	var buf bytes.Buffer
	buf.WriteString(ts.Local().Format("15:04:05.000"))
	buf.WriteByte(' ')
	label := levelLabel(record.Level)
	buf.WriteString(label)
	buf.WriteString(strings.Repeat(" ", 6-len(label)))
	if subject.component != "" {
		buf.WriteString(subject.component)
		buf.WriteString("  ")
	}
	if s := FormatSubject(subject.slot, subject.jobID, subject.stage); s != "" {
		buf.WriteString(s)
		buf.WriteString("  ")
	}
	msg := strings.TrimSpace(record.Message)
	if msg == "" {
		msg = "(no message)"
	}
	buf.WriteString(msg)

	verbose := record.Level < slog.LevelInfo
	shown, hidden := arrange(rest, verbose)
	for _, f := range shown {
		buf.WriteString("  ")
		buf.WriteString(f.key)
		buf.WriteByte('=')
		buf.WriteString(renderValue(f.key, f.value))
	}
	if hidden > 0 {
		buf.WriteString("  (+")
		buf.WriteString(strconv.Itoa(hidden))
		buf.WriteByte(')')
	}
	if (verbose || h.addSource) && record.PC != 0 {
		if src := record.Source(); src != nil {
			buf.WriteString("  @")
			buf.WriteString(filepath.Base(src.File))
			buf.WriteByte(':')
			buf.WriteString(strconv.Itoa(src.Line))
		}
	}
	buf.WriteByte('\n')
	return h.out.write(buf.Bytes())
}

type subjectParts struct {
	component, slot, jobID, stage string
}

func (s *subjectParts) take(f field) bool {
	var dst *string
	switch f.key {
	case FieldComponent:
		dst = &s.component
	case FieldSlot:
		dst = &s.slot
	case FieldJobID:
		dst = &s.jobID
	case FieldStage:
		dst = &s.stage
	default:
		return false
	}
	*dst = valueText(f.value)
	return true
}

// FormatSubject renders the slot/job/stage prefix of a console line. Job ids
// are cut to eight characters.
func FormatSubject(slot, jobID, stage string) string {
	slot, jobID, stage = strings.TrimSpace(slot), strings.TrimSpace(jobID), strings.TrimSpace(stage)
	if len(jobID) > 8 {
		jobID = jobID[:8]
	}
	var parts []string
	if slot != "" {
		parts = append(parts, "slot "+slot)
	}
	switch {
	case jobID != "" && stage != "":
		parts = append(parts, "job "+jobID+"/"+stage)
	case jobID != "":
		parts = append(parts, "job "+jobID)
	case stage != "":
		parts = append(parts, stage)
	}
	return strings.Join(parts, " · ")
}

// leadingKeys are printed first, in this order, when present.
var leadingKeys = []string{
	FieldEventType, "status", "filename", FieldProgressPercent, FieldProgressStage,
	"priority", "position", "error", FieldErrorHint, FieldImpact,
}

const maxConsoleFields = 8

func arrange(fields []field, verbose bool) ([]field, int) {
	rank := func(key string) int {
		if i := slices.Index(leadingKeys, key); i >= 0 {
			return i
		}
		return len(leadingKeys)
	}
	slices.SortStableFunc(fields, func(a, b field) int { return rank(a.key) - rank(b.key) })
	if verbose {
		return fields, 0
	}
	shown := make([]field, 0, min(len(fields), maxConsoleFields))
	hidden := 0
	for _, f := range fields {
		if bookkeeping(f.key) || len(shown) == maxConsoleFields {
			hidden++
			continue
		}
		shown = append(shown, f)
	}
	return shown, hidden
}

func bookkeeping(key string) bool {
	switch key {
	case FieldCorrelationID, "seq", "fingerprint", "remote":
		return true
	}
	return strings.HasSuffix(key, "_path") || strings.HasSuffix(key, "_dir") ||
		(strings.HasSuffix(key, "_id") && key != FieldBatchID)
}

func appendField(dst []field, group string, attr slog.Attr) []field {
	attr.Value = attr.Value.Resolve()
	if attr.Equal(slog.Attr{}) {
		return dst
	}
	if attr.Value.Kind() == slog.KindGroup {
		prefix := group
		if attr.Key != "" {
			prefix = joinKey(group, attr.Key)
		}
		for _, inner := range attr.Value.Group() {
			dst = appendField(dst, prefix, inner)
		}
		return dst
	}
	return append(dst, field{key: joinKey(group, attr.Key), value: attr.Value})
}

func joinKey(group, key string) string {
	switch {
	case group == "":
		return key
	case key == "":
		return group
	}
	return group + "." + key
}

func lastWins(fields []field) []field {
	index := make(map[string]int, len(fields))
	out := make([]field, 0, len(fields))
	for _, f := range fields {
		if f.key == "" {
			continue
		}
		if i, ok := index[f.key]; ok {
			out[i] = f
			continue
		}
		index[f.key] = len(out)
		out = append(out, f)
	}
	return out
}

func levelLabel(level slog.Level) string {
	switch {
	case level >= slog.LevelError:
		return "ERROR"
	case level >= slog.LevelWarn:
		return "WARN"
	case level >= slog.LevelInfo:
		return "INFO"
	}
	return "DEBUG"
}
