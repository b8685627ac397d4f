package transcript

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"strings"

	"mediaqueue/internal/services"
)

// Format is an export format.
type Format string

const (
	FormatJSON Format = "json"
	FormatSRT  Format = "srt"
	FormatVTT  Format = "vtt"
	FormatTXT  Format = "txt"
)

// Formats lists every supported format.
var Formats = []Format{FormatJSON, FormatSRT, FormatVTT, FormatTXT}

// ParseFormat validates a user-supplied format name.
func ParseFormat(raw string) (Format, error) {
	f := Format(strings.ToLower(strings.TrimSpace(raw)))
	switch f {
	case FormatJSON, FormatSRT, FormatVTT, FormatTXT:
		return f, nil
	case "":
		return FormatJSON, nil
	}
	return "", services.Wrap(services.ErrValidation, "transcript", "format", fmt.Sprintf("unsupported format %q", raw), nil)
}

// Extension returns the file extension without the dot.
func (f Format) Extension() string { return string(f) }

// ContentType returns the MIME type served for the format.
func (f Format) ContentType() string {
	switch f {
	case FormatSRT:
		return "application/x-subrip"
	case FormatVTT:
		return "text/vtt; charset=utf-8"
	case FormatTXT:
		return "text/plain; charset=utf-8"
	default:
		return "application/json"
	}
}

// Render writes t to w in format f.
func Render(w io.Writer, t *Transcript, f Format) error {
	bw := bufio.NewWriter(w)
	switch f {
	case FormatJSON:
		enc := json.NewEncoder(bw)
		enc.SetIndent("", "  ")
		if err := enc.Encode(t); err != nil {
			return err
		}
	case FormatSRT:
		for i, seg := range t.Segments {
			text := seg.Text
			if seg.Speaker != "" {
				text = "[" + seg.Speaker + "] " + text
			}
			fmt.Fprintf(bw, "%d\n%s --> %s\n%s\n\n", i+1, timestamp(seg.Start, ','), timestamp(seg.End, ','), text)
		}
	case FormatVTT:
		bw.WriteString("WEBVTT\n\n")
		for i, seg := range t.Segments {
			text := seg.Text
			if seg.Speaker != "" {
				text = "<v " + seg.Speaker + ">" + text
			}
			fmt.Fprintf(bw, "%d\n%s --> %s\n%s\n\n", i+1, timestamp(seg.Start, '.'), timestamp(seg.End, '.'), text)
		}
	case FormatTXT:
		for _, seg := range t.Segments {
			if seg.Speaker != "" {
				bw.WriteString(seg.Speaker + ": ")
			}
			bw.WriteString(strings.TrimSpace(seg.Text))
			bw.WriteByte('\n')
		}
	default:
		return services.Wrap(services.ErrValidation, "transcript", "render", fmt.Sprintf("unsupported format %q", f), nil)
	}
	return bw.Flush()
}

// RenderString is Render into a string.
func RenderString(t *Transcript, f Format) (string, error) {
	var sb strings.Builder
	if err := Render(&sb, t, f); err != nil {
		return "", err
	}
	return sb.String(), nil
}

func timestamp(seconds float64, sep byte) string {
	if seconds < 0 {
		seconds = 0
	}
	totalMillis := int64(math.Round(seconds * 1000))
	hours := totalMillis / 3_600_000
	minutes := (totalMillis / 60_000) % 60
	secs := (totalMillis / 1000) % 60
	millis := totalMillis % 1000
	return fmt.Sprintf("%02d:%02d:%02d%c%03d", hours, minutes, secs, sep, millis)
}
