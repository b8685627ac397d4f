package batch

import (
	"archive/zip"
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"mediaqueue/internal/logging"
	"mediaqueue/internal/queue"
	"mediaqueue/internal/services"
	"mediaqueue/internal/transcript"
)

// ManifestName is the archive entry describing the export.
const ManifestName = "manifest.yaml"

// Manifest lists what an export contains and what it left out.
type Manifest struct {
	BatchID     string          `yaml:"batch_id" json:"batchId"`
	BatchName   string          `yaml:"batch_name" json:"batchName"`
	Format      string          `yaml:"format" json:"format"`
	GeneratedAt time.Time       `yaml:"generated_at" json:"generatedAt"`
	Files       []ManifestEntry `yaml:"files" json:"files"`
	Omitted     []OmittedEntry  `yaml:"omitted,omitempty" json:"omitted,omitempty"`
}

// ManifestEntry is one included transcript.
type ManifestEntry struct {
	JobID    string `yaml:"job_id" json:"jobId"`
	Filename string `yaml:"filename" json:"filename"`
	Entry    string `yaml:"entry" json:"entry"`
	Language string `yaml:"language,omitempty" json:"language,omitempty"`
}

// OmittedEntry is a member left out of the archive.
type OmittedEntry struct {
	JobID    string `yaml:"job_id" json:"jobId"`
	Filename string `yaml:"filename" json:"filename"`
	Reason   string `yaml:"reason" json:"reason"`
	Error    string `yaml:"error,omitempty" json:"error,omitempty"`
}

// Export writes a zip of member transcripts in format plus manifest.yaml.
// Every member must be terminal.
func (c *Coordinator) Export(ctx context.Context, id string, format transcript.Format, w io.Writer) (Manifest, error) {
	view, err := c.Get(id)
	if err != nil {
		return Manifest{}, err
	}
	if !view.Finished() {
		return Manifest{}, services.Wrap(services.ErrValidation, "batch", "export", "batch still processing", nil)
	}

	manifest := Manifest{
		BatchID:     view.ID,
		BatchName:   view.Name,
		Format:      string(format),
		GeneratedAt: c.now().UTC(),
		Files:       []ManifestEntry{},
	}
	archive := zip.NewWriter(w)
	used := make(map[string]struct{})

	for _, job := range view.Jobs {
		if err := ctx.Err(); err != nil {
			return Manifest{}, err
		}
		switch job.Status {
		case queue.StatusFailed:
			manifest.Omitted = append(manifest.Omitted, OmittedEntry{JobID: job.ID, Filename: job.Filename, Reason: "failed", Error: job.Error})
			continue
		case queue.StatusCancelled:
			manifest.Omitted = append(manifest.Omitted, OmittedEntry{JobID: job.ID, Filename: job.Filename, Reason: "cancelled"})
			continue
		}
		ref := job.ResultRefs[queue.ArtifactTranscript]
		if ref == "" {
			manifest.Omitted = append(manifest.Omitted, OmittedEntry{JobID: job.ID, Filename: job.Filename, Reason: "missing transcript"})
			continue
		}
		t, err := transcript.Load(ref)
		if err != nil {
			c.logger.Warn("transcript unreadable during export",
				logging.String(logging.FieldJobID, job.ID),
				logging.Error(err),
			)
			manifest.Omitted = append(manifest.Omitted, OmittedEntry{JobID: job.ID, Filename: job.Filename, Reason: "missing transcript", Error: err.Error()})
			continue
		}
		entry := uniqueEntry(job.Filename, format, used)
		fw, err := archive.Create(entry)
		if err != nil {
			return Manifest{}, fmt.Errorf("create archive entry: %w", err)
		}
		if err := transcript.Render(fw, t, format); err != nil {
			return Manifest{}, fmt.Errorf("render %s: %w", entry, err)
		}
		manifest.Files = append(manifest.Files, ManifestEntry{JobID: job.ID, Filename: job.Filename, Entry: entry, Language: t.Language})
	}

	mw, err := archive.Create(ManifestName)
	if err != nil {
		return Manifest{}, fmt.Errorf("create manifest entry: %w", err)
	}
	enc := yaml.NewEncoder(mw)
	enc.SetIndent(2)
	if err := enc.Encode(manifest); err != nil {
		return Manifest{}, fmt.Errorf("encode manifest: %w", err)
	}
	if err := enc.Close(); err != nil {
		return Manifest{}, fmt.Errorf("close manifest: %w", err)
	}
	if err := archive.Close(); err != nil {
		return Manifest{}, fmt.Errorf("close archive: %w", err)
	}
	c.logger.Info("batch exported",
		logging.String(logging.FieldBatchID, view.ID),
		logging.Int("included", len(manifest.Files)),
		logging.Int("omitted", len(manifest.Omitted)),
		logging.String(logging.FieldEventType, "batch_exported"),
	)
	return manifest, nil
}

// uniqueEntry names the archive entry for filename, suffixing -2, -3, ...
// until the name is unused.
func uniqueEntry(filename string, format transcript.Format, used map[string]struct{}) string {
	base := filepath.Base(filename)
	stem := strings.TrimSuffix(base, filepath.Ext(base))
	if stem == "" {
		stem = "transcript"
	}
	entry := stem + "." + format.Extension()
	for n := 2; ; n++ {
		if _, taken := used[entry]; !taken {
			break
		}
		entry = fmt.Sprintf("%s-%d.%s", stem, n, format.Extension())
	}
	used[entry] = struct{}{}
	return entry
}
