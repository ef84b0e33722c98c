// Package recipients reads raw recipient records from delimited files.
package recipients

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/lattiq/smartmailer/internal/core"
)

// requiredColumns lists the record fields every header must provide, with the
// column name reported when one is absent.
var requiredColumns = []struct {
	field, column string
}{
	{core.FieldEmail, "email"},
	{core.FieldName, "name"},
	{core.FieldGroupCode, "department_code"},
}

// headerAliases maps source column names onto record field names.
var headerAliases = map[string]string{
	"department_code": core.FieldGroupCode,
	"department":      core.FieldGroupCode,
	"group":           core.FieldGroupCode,
}

// ReadCSV reads records from a CSV stream whose first line is a header.
// Header names are trimmed and lower-cased; "department_code" becomes
// "group_code". A row shorter than the header leaves the trailing fields
// absent so that only that row fails admission.
//
// A missing or unparsable header, or a header without one of the email, name
// and department_code columns, is reported as core.ErrMalformedSource.
func ReadCSV(r io.Reader) ([]core.Record, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%w: no header line", core.ErrMalformedSource)
		}
		return nil, fmt.Errorf("%w: %w", core.ErrMalformedSource, err)
	}

	fields := normalizeHeader(header)
	for _, req := range requiredColumns {
		if !contains(fields, req.field) {
			return nil, fmt.Errorf("%w: header has no %q column", core.ErrMalformedSource, req.column)
		}
	}

	var records []core.Record
	for {
		row, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %w", core.ErrMalformedSource, err)
		}

		if isBlank(row) {
			continue
		}

		rec := make(core.Record, len(fields))
		for i, field := range fields {
			if i >= len(row) || field == "" {
				continue
			}
			rec[field] = row[i]
		}
		records = append(records, rec)
	}

	return records, nil
}

// LoadFile reads records from the CSV file at path.
func LoadFile(path string) ([]core.Record, error) {
	f, err := os.Open(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("failed to open recipient source: %w", err)
	}
	defer f.Close()

	records, err := ReadCSV(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return records, nil
}

func normalizeHeader(header []string) []string {
	out := make([]string, len(header))
	for i, h := range header {
		name := strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")))
		if alias, ok := headerAliases[name]; ok {
			name = alias
		}
		out[i] = name
	}
	return out
}

func contains(fields []string, want string) bool {
	for _, f := range fields {
		if f == want {
			return true
		}
	}
	return false
}

func isBlank(row []string) bool {
	for _, v := range row {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}
