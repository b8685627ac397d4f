package logs

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"mediaqueue/internal/logging"
)

// DaemonLogPath is the pointer the daemon keeps at its current log file.
func DaemonLogPath(logDir string) string {
	return filepath.Join(logDir, "mediaqueued.log")
}

// JobLogPath finds the log file of a job under <log_dir>/jobs. Job log
// names embed the first eight characters of the id.
func JobLogPath(logDir, jobID string) (string, error) {
	jobID = strings.TrimSpace(jobID)
	if jobID == "" {
		return "", fmt.Errorf("job id is required")
	}
	short := jobID
	if len(short) > 8 {
		short = short[:8]
	}
	matches, err := filepath.Glob(filepath.Join(logDir, "jobs", "*-"+short+"-*.log"))
	if err != nil {
		return "", fmt.Errorf("search job logs: %w", err)
	}
	if len(matches) == 0 {
		return "", fmt.Errorf("no log file for job %s: %w", jobID, os.ErrNotExist)
	}
	slices.Sort(matches)
	return matches[len(matches)-1], nil
}

// ParseEvent decodes one JSON log line. Lines in the console format report
// false and should be shown as-is.
func ParseEvent(line string) (logging.LogEvent, bool) {
	line = strings.TrimSpace(line)
	if !strings.HasPrefix(line, "{") {
		return logging.LogEvent{}, false
	}
	var raw map[string]any
	if err := json.Unmarshal([]byte(line), &raw); err != nil {
		return logging.LogEvent{}, false
	}
	evt := logging.LogEvent{Fields: map[string]string{}}
	for key, value := range raw {
		text := stringify(value)
		switch key {
		case "ts":
			if ts, err := time.Parse(time.RFC3339Nano, text); err == nil {
				evt.Timestamp = ts
			}
		case "level":
			evt.Level = strings.ToLower(text)
		case "msg":
			evt.Message = text
		case logging.FieldComponent:
			evt.Component = text
		case logging.FieldStage:
			evt.Stage = text
		case logging.FieldJobID:
			evt.JobID = text
		case logging.FieldBatchID:
			evt.BatchID = text
		case logging.FieldCorrelationID:
			evt.CorrelationID = text
		default:
			evt.Fields[key] = text
		}
	}
	if evt.Message == "" && evt.Level == "" {
		return logging.LogEvent{}, false
	}
	if len(evt.Fields) == 0 {
		evt.Fields = nil
	}
	return evt, true
}

func stringify(value any) string {
	switch v := value.(type) {
	case string:
		return v
	case nil:
		return ""
	case float64, bool:
		return fmt.Sprint(v)
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprint(v)
		}
		return string(data)
	}
}
