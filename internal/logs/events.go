package logs

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"deeplinker/internal/logging"
)

// FileName is the JSON log the daemon writes under its log directory.
const FileName = "deeplinker.log"

// FilePath returns the daemon log file inside logDir.
func FilePath(logDir string) string {
	if strings.TrimSpace(logDir) == "" {
		return ""
	}
	return filepath.Join(logDir, FileName)
}

// ParseLine converts one JSON log line into an event. Lines that are not JSON
// objects come back as a bare message so nothing is silently dropped.
func ParseLine(line string) logging.LogEvent {
	line = strings.TrimSpace(line)
	var raw map[string]any
	if err := json.Unmarshal([]byte(line), &raw); err != nil {
		return logging.LogEvent{Message: line}
	}
	evt := logging.LogEvent{Fields: map[string]string{}}
	for key, value := range raw {
		text := fieldString(value)
		switch key {
		case "ts", "time":
			if ts, err := time.Parse(time.RFC3339Nano, text); err == nil {
				evt.Timestamp = ts
			}
		case "level":
			evt.Level = strings.ToUpper(text)
		case "msg":
			evt.Message = text
		case logging.FieldComponent:
			evt.Component = text
		case logging.FieldToken:
			evt.Token = text
		case logging.FieldStage:
			evt.Stage = text
		case logging.FieldJobID:
			evt.JobID = text
		case logging.FieldCorrelationID:
			evt.CorrelationID = text
		default:
			evt.Fields[key] = text
		}
	}
	if len(evt.Fields) == 0 {
		evt.Fields = nil
	}
	return evt
}

func fieldString(value any) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case map[string]any, []any:
		data, _ := json.Marshal(v)
		return string(data)
	default:
		return fmt.Sprint(v)
	}
}
