package export

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"
)

// Dataset defines tabular export content.
type Dataset struct {
	Headers []string
	Rows    []map[string]string
}

// CSVExporter renders datasets into CSV and parses uploaded CSV files.
type CSVExporter struct {
	comma rune
}

// NewCSVExporter builds a comma separated exporter.
func NewCSVExporter() *CSVExporter {
	return &CSVExporter{comma: ','}
}

// Render produces CSV encoded bytes for the dataset.
func (e *CSVExporter) Render(data Dataset) ([]byte, error) {
	if len(data.Headers) == 0 {
		return nil, fmt.Errorf("csv requires at least one header")
	}
	buf := &bytes.Buffer{}
	writer := csv.NewWriter(buf)
	writer.Comma = e.comma
	if err := writer.Write(data.Headers); err != nil {
		return nil, fmt.Errorf("write csv headers: %w", err)
	}
	for _, row := range data.Rows {
		record := make([]string, len(data.Headers))
		for i, header := range data.Headers {
			record[i] = row[header]
		}
		if err := writer.Write(record); err != nil {
			return nil, fmt.Errorf("write csv row: %w", err)
		}
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, fmt.Errorf("flush csv: %w", err)
	}
	return buf.Bytes(), nil
}

// Parse reads a CSV document whose first line holds headers. Header names are
// lower-cased and trimmed; required headers must all be present. Semicolon separated
// files are detected from the header line.
func (e *CSVExporter) Parse(r io.Reader, required ...string) (Dataset, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return Dataset{}, fmt.Errorf("read csv: %w", err)
	}
	raw = bytes.TrimPrefix(raw, []byte("\xef\xbb\xbf"))
	reader := csv.NewReader(bytes.NewReader(raw))
	reader.Comma = detectComma(raw, e.comma)
	reader.TrimLeadingSpace = true
	reader.FieldsPerRecord = -1

	headerRow, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return Dataset{}, fmt.Errorf("csv is empty")
	}
	if err != nil {
		return Dataset{}, fmt.Errorf("read csv headers: %w", err)
	}
	headers := make([]string, len(headerRow))
	present := make(map[string]struct{}, len(headerRow))
	for i, h := range headerRow {
		headers[i] = strings.ToLower(strings.TrimSpace(h))
		present[headers[i]] = struct{}{}
	}
	for _, req := range required {
		if _, ok := present[req]; !ok {
			return Dataset{}, fmt.Errorf("csv is missing column %q", req)
		}
	}

	out := Dataset{Headers: headers}
	for line := 2; ; line++ {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return Dataset{}, fmt.Errorf("read csv line %d: %w", line, err)
		}
		row := make(map[string]string, len(headers))
		empty := true
		for i, h := range headers {
			if i < len(record) {
				row[h] = strings.TrimSpace(record[i])
				if row[h] != "" {
					empty = false
				}
			}
		}
		if !empty {
			out.Rows = append(out.Rows, row)
		}
	}
	return out, nil
}

func detectComma(raw []byte, fallback rune) rune {
	firstLine := raw
	if idx := bytes.IndexByte(raw, '\n'); idx >= 0 {
		firstLine = raw[:idx]
	}
	if bytes.Count(firstLine, []byte(";")) > bytes.Count(firstLine, []byte(",")) {
		return ';'
	}
	return fallback
}
