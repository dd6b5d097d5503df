package export

import (
	"context"
	"encoding/json"
	"io"

	"github.com/flagwise/flagwise/pkg/storage"
)

// JSONExporter exports request records to JSON format.
type JSONExporter struct {
	// Pretty enables pretty-printing with indentation.
	Pretty bool
}

// NewJSONExporter creates a new JSON exporter.
func NewJSONExporter(pretty bool) *JSONExporter {
	return &JSONExporter{
		Pretty: pretty,
	}
}

// Export writes request records to the provided writer as a JSON array.
func (e *JSONExporter) Export(ctx context.Context, records []*storage.RequestRecord, w io.Writer) error {
	if len(records) == 0 {
		_, err := w.Write([]byte("[]"))
		return err
	}

	if err := ctx.Err(); err != nil {
		return err
	}

	var data []byte
	var err error
	if e.Pretty {
		data, err = json.MarshalIndent(records, "", "  ")
	} else {
		data, err = json.Marshal(records)
	}
	if err != nil {
		return storage.NewExportError("json", len(records), err)
	}

	if _, err := w.Write(data); err != nil {
		return storage.NewExportError("json", len(records), err)
	}

	return nil
}
