package transcript

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"mediaqueue/internal/services"
)

// Segment is one timed utterance.
type Segment struct {
	ID      int     `json:"id"`
	Start   float64 `json:"start"`
	End     float64 `json:"end"`
	Text    string  `json:"text"`
	Speaker string  `json:"speaker,omitempty"`
}

// Transcript is the artifact stored under the transcript result ref.
type Transcript struct {
	JobID    string    `json:"jobId"`
	Language string    `json:"language"`
	Duration float64   `json:"duration"`
	Segments []Segment `json:"segments"`
	Speakers []string  `json:"speakers,omitempty"`
}

// Load reads a transcript artifact. Files ending in .srt are parsed as
// subtitles so command stages may hand back either shape.
func Load(path string) (*Transcript, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read transcript: %w", err)
	}
	if strings.EqualFold(filepath.Ext(path), ".srt") {
		return ParseSRT(string(data))
	}
	var t Transcript
	if err := json.Unmarshal(data, &t); err != nil {
		return nil, services.Wrap(services.ErrValidation, "transcript", "decode", filepath.Base(path), err)
	}
	return &t, nil
}

// Save writes the transcript as indented JSON, creating parent directories.
func (t *Transcript) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("ensure transcript dir: %w", err)
	}
	data, err := json.MarshalIndent(t, "", "  ")
	if err != nil {
		return fmt.Errorf("encode transcript: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write transcript: %w", err)
	}
	return os.Rename(tmp, path)
}

// FullText joins segment text with single spaces.
func (t *Transcript) FullText() string {
	parts := make([]string, 0, len(t.Segments))
	for _, seg := range t.Segments {
		if text := strings.TrimSpace(seg.Text); text != "" {
			parts = append(parts, text)
		}
	}
	return strings.Join(parts, " ")
}

// RenameSpeakers replaces speaker labels using mapping and returns the
// number of segments touched.
func (t *Transcript) RenameSpeakers(mapping map[string]string) int {
	updated := 0
	for i := range t.Segments {
		if next, ok := mapping[t.Segments[i].Speaker]; ok && t.Segments[i].Speaker != "" {
			t.Segments[i].Speaker = next
			updated++
		}
	}
	t.RefreshSpeakers()
	return updated
}

// SegmentEdit replaces a segment's text and, when Speaker is set, its
// speaker label. An empty Speaker clears the label.
type SegmentEdit struct {
	Text    string  `json:"text"`
	Speaker *string `json:"speaker,omitempty"`
}

// EditSegment applies edit to the segment with the given id.
func (t *Transcript) EditSegment(id int, edit SegmentEdit) (Segment, error) {
	text := strings.TrimSpace(edit.Text)
	if text == "" {
		return Segment{}, services.Wrap(services.ErrValidation, "transcript", "edit segment", "segment text is empty", nil)
	}
	i := slices.IndexFunc(t.Segments, func(s Segment) bool { return s.ID == id })
	if i < 0 {
		return Segment{}, services.Wrap(services.ErrNotFound, "transcript", "edit segment", fmt.Sprintf("segment %d not found", id), nil)
	}
	t.Segments[i].Text = text
	if edit.Speaker != nil {
		t.Segments[i].Speaker = strings.TrimSpace(*edit.Speaker)
		t.RefreshSpeakers()
	}
	return t.Segments[i], nil
}

// RefreshSpeakers rebuilds Speakers from segment labels in first-seen order.
func (t *Transcript) RefreshSpeakers() {
	t.Speakers = t.collectSpeakers()
}

func (t *Transcript) collectSpeakers() []string {
	var speakers []string
	for _, seg := range t.Segments {
		if seg.Speaker != "" && !slices.Contains(speakers, seg.Speaker) {
			speakers = append(speakers, seg.Speaker)
		}
	}
	return speakers
}
