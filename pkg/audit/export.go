package audit

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/warden-labs/warden/pkg/contracts"
)

// WriteNDJSON writes one record as a single JSON line, including the
// previousHash and hash hex strings as stored.
func WriteNDJSON(w io.Writer, rec *contracts.AuditEvent) error {
	line, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("audit: export serialization failed: %w", err)
	}
	if _, err := w.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("audit: export write failed: %w", err)
	}
	return nil
}

// ExportNDJSON streams records as newline-delimited JSON. The stream ends
// cleanly when the record set is exhausted.
func ExportNDJSON(w io.Writer, records []*contracts.AuditEvent) error {
	for _, rec := range records {
		if err := WriteNDJSON(w, rec); err != nil {
			return err
		}
	}
	return nil
}
