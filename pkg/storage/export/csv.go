package export

import (
	"context"
	"encoding/csv"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/flagwise/flagwise/pkg/storage"
)

// CSVExporter exports request records to CSV format.
type CSVExporter struct {
	// IncludeHeader includes a header row with column names.
	IncludeHeader bool
}

// NewCSVExporter creates a new CSV exporter.
func NewCSVExporter(includeHeader bool) *CSVExporter {
	return &CSVExporter{
		IncludeHeader: includeHeader,
	}
}

// Export writes request records to the provided writer in CSV format.
// List fields are flattened to comma-separated strings.
func (e *CSVExporter) Export(ctx context.Context, records []*storage.RequestRecord, w io.Writer) error {
	writer := csv.NewWriter(w)
	defer writer.Flush()

	if e.IncludeHeader {
		if err := writer.Write(e.headerRow()); err != nil {
			return storage.NewExportError("csv", len(records), err)
		}
	}

	for _, record := range records {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := writer.Write(e.recordToRow(record)); err != nil {
			return storage.NewExportError("csv", len(records), err)
		}
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		return storage.NewExportError("csv", len(records), err)
	}

	return nil
}

// headerRow returns the CSV header row.
func (e *CSVExporter) headerRow() []string {
	return []string{
		"id", "timestamp",
		"src_ip", "user_id",
		"chatbot_id", "conversation_id",
		"provider", "model",
		"prompt_preview",
		"risk_score", "is_flagged", "flag_reason", "matched_rule_ids",
		"created_at",
	}
}

// recordToRow converts a request record to a CSV row.
func (e *CSVExporter) recordToRow(record *storage.RequestRecord) []string {
	formatTime := func(t time.Time) string {
		if t.IsZero() {
			return ""
		}
		return t.Format(time.RFC3339)
	}

	return []string{
		record.ID,
		formatTime(record.Timestamp),
		record.SrcIP,
		record.UserID,
		record.ChatbotID,
		record.ConversationID,
		record.Provider,
		record.Model,
		record.PromptPreview,
		strconv.Itoa(record.RiskScore),
		strconv.FormatBool(record.IsFlagged),
		record.FlagReason,
		strings.Join(record.MatchedRuleIDs, ","),
		formatTime(record.CreatedAt),
	}
}
