package dataset

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
)

const bom = "\ufeff"

// ContentType is the MIME type written alongside encoded datasets.
const ContentType = "text/csv"

// Read parses a UTF-8, comma-separated dataset with a header row. A leading
// byte-order mark and whitespace around header names are tolerated. Rows
// shorter than the header are padded with blanks; longer rows are an error.
func Read(r io.Reader) (*Table, error) {
	br := bufio.NewReader(r)
	if lead, err := br.Peek(len(bom)); err == nil && string(lead) == bom {
		if _, err := br.Discard(len(bom)); err != nil {
			return nil, err
		}
	}
	reader := csv.NewReader(br)
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return New(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read CSV header: %w", err)
	}
	t := New()
	t.columns = header
	t.TrimColumnNames()

	line := 1
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		line++
		if err != nil {
			return nil, fmt.Errorf("failed to read CSV row %d: %w", line, err)
		}
		if len(record) > len(t.columns) {
			return nil, fmt.Errorf("CSV row %d has %d fields, header has %d", line, len(record), len(t.columns))
		}
		for len(record) < len(t.columns) {
			record = append(record, "")
		}
		t.rows = append(t.rows, record)
	}
	return t, nil
}

// Decode parses an encoded dataset.
func Decode(data []byte) (*Table, error) {
	return Read(bytes.NewReader(data))
}

// Write serialises t as CSV with a header row.
func Write(w io.Writer, t *Table) error {
	writer := csv.NewWriter(w)
	if len(t.columns) > 0 {
		if err := writer.Write(t.columns); err != nil {
			return fmt.Errorf("failed to write CSV header: %w", err)
		}
	}
	if err := writer.WriteAll(t.rows); err != nil {
		return fmt.Errorf("failed to write CSV rows: %w", err)
	}
	return nil
}

// Encode serialises t to bytes.
func Encode(t *Table) ([]byte, error) {
	var buf bytes.Buffer
	if err := Write(&buf, t); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
