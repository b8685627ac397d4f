package transcript

import (
	"fmt"
	"strconv"
	"strings"

	"mediaqueue/internal/services"
)

// ParseSRT converts SubRip text into a transcript. A leading "[speaker] "
// tag on the first cue line is lifted into Segment.Speaker.
func ParseSRT(content string) (*Transcript, error) {
	content = strings.ReplaceAll(content, "\r\n", "\n")
	t := &Transcript{Segments: []Segment{}}
	for _, block := range strings.Split(strings.TrimSpace(content), "\n\n") {
		lines := strings.Split(strings.TrimSpace(block), "\n")
		timing := -1
		for i, line := range lines {
			if strings.Contains(line, "-->") {
				timing = i
				break
			}
		}
		if timing < 0 {
			continue
		}
		parts := strings.Split(lines[timing], "-->")
		if len(parts) != 2 {
			return nil, services.Wrap(services.ErrValidation, "transcript", "parse srt", fmt.Sprintf("bad timing line %q", lines[timing]), nil)
		}
		start, err := parseSRTTimestamp(parts[0])
		if err != nil {
			return nil, services.Wrap(services.ErrValidation, "transcript", "parse srt", "start timestamp", err)
		}
		end, err := parseSRTTimestamp(parts[1])
		if err != nil {
			return nil, services.Wrap(services.ErrValidation, "transcript", "parse srt", "end timestamp", err)
		}
		text := strings.TrimSpace(strings.Join(lines[timing+1:], " "))
		seg := Segment{ID: len(t.Segments), Start: start, End: end, Text: text}
		if strings.HasPrefix(text, "[") {
			if closeIdx := strings.Index(text, "] "); closeIdx > 1 {
				seg.Speaker = text[1:closeIdx]
				seg.Text = text[closeIdx+2:]
			}
		}
		t.Segments = append(t.Segments, seg)
		t.Duration = max(t.Duration, end)
	}
	t.Speakers = t.collectSpeakers()
	return t, nil
}

func parseSRTTimestamp(value string) (float64, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, fmt.Errorf("empty timestamp")
	}
	value = strings.ReplaceAll(value, ".", ",")
	timeParts := strings.Split(value, ",")
	if len(timeParts) != 2 {
		return 0, fmt.Errorf("invalid timestamp %q", value)
	}
	hms := strings.Split(timeParts[0], ":")
	if len(hms) != 3 {
		return 0, fmt.Errorf("invalid timestamp %q", value)
	}
	hours, errH := strconv.Atoi(hms[0])
	minutes, errM := strconv.Atoi(hms[1])
	seconds, errS := strconv.Atoi(hms[2])
	millis, errMS := strconv.Atoi(timeParts[1])
	if errH != nil || errM != nil || errS != nil || errMS != nil {
		return 0, fmt.Errorf("invalid timestamp %q", value)
	}
	return float64(hours*3600+minutes*60+seconds) + float64(millis)/1000, nil
}
