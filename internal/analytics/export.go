package analytics

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/ashureev/shopilots-chat/internal/domain"
)

// ErrUnsupportedFormat is returned by Export for formats other than json and csv.
var ErrUnsupportedFormat = errors.New("unsupported export format")

// Export formats.
const (
	FormatJSON = "json"
	FormatCSV  = "csv"
)

// csvColumns follows the field order of domain.ConversationEvent.
var csvColumns = []string{
	"timestamp", "session_id", "event_type", "question", "answer",
	"response_time_ms", "docs_retrieved", "sources", "error",
	"model_used", "answer_length", "product_category",
}

// Export renders the buffered events as json or csv. An empty buffer
// exports as "[]" or "" respectively.
func (a *Aggregator) Export(format string) (string, error) {
	if format != FormatJSON && format != FormatCSV {
		return "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
	}

	events := a.Recent(0)
	if format == FormatJSON {
		data, err := json.MarshalIndent(events, "", "  ")
		if err != nil {
			return "", fmt.Errorf("marshal events: %w", err)
		}
		return string(data), nil
	}
	return exportCSV(events)
}

// exportCSV writes one header row and one row per event. Commas inside a
// field become semicolons so rows split cleanly on commas.
func exportCSV(events []domain.ConversationEvent) (string, error) {
	if len(events) == 0 {
		return "", nil
	}

	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(csvColumns); err != nil {
		return "", fmt.Errorf("write csv header: %w", err)
	}
	for _, ev := range events {
		row, err := csvRow(ev)
		if err != nil {
			return "", err
		}
		if err := w.Write(row); err != nil {
			return "", fmt.Errorf("write csv row: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return "", fmt.Errorf("flush csv: %w", err)
	}
	return buf.String(), nil
}

func csvRow(ev domain.ConversationEvent) ([]string, error) {
	sources := ""
	if ev.Sources != nil {
		data, err := json.Marshal(ev.Sources)
		if err != nil {
			return nil, fmt.Errorf("marshal sources: %w", err)
		}
		sources = string(data)
	}

	row := []string{
		ev.Timestamp.Format(time.RFC3339Nano),
		ev.SessionID,
		string(ev.EventType),
		ev.Question,
		ev.Answer,
		optFloat(ev.ResponseTimeMs),
		optInt(ev.DocsRetrieved),
		sources,
		ev.Error,
		ev.ModelUsed,
		optInt(ev.AnswerLength),
		ev.ProductCategory,
	}
	for i, v := range row {
		row[i] = strings.ReplaceAll(v, ",", ";")
	}
	return row, nil
}

func optFloat(v *float64) string {
	if v == nil {
		return ""
	}
	return strconv.FormatFloat(*v, 'f', -1, 64)
}

func optInt(v *int) string {
	if v == nil {
		return ""
	}
	return strconv.Itoa(*v)
}
