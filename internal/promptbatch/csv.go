package promptbatch

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"

	"github.com/hochfrequenz/issue-digest/internal/batch"
)

// ReadCSV loads a table with a header row. Each row maps header names to
// cells; short rows leave the missing columns out.
func ReadCSV(path string) ([]Row, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open csv: %w", err)
	}
	defer f.Close()
	return ParseCSV(f)
}

// ParseCSV reads a header row followed by records
func ParseCSV(r io.Reader) ([]Row, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if err == io.EOF {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read csv header: %w", err)
	}

	var rows []Row
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			return rows, nil
		}
		if err != nil {
			return nil, fmt.Errorf("read csv: %w", err)
		}
		row := make(Row, len(header))
		for i, name := range header {
			if i < len(rec) {
				row[name] = rec[i]
			}
		}
		rows = append(rows, row)
	}
}

// WriteResults writes custom_id,answer records for the given responses
func WriteResults(w io.Writer, resps []batch.Response) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"custom_id", "answer"}); err != nil {
		return err
	}
	for _, r := range resps {
		content, _ := r.Content()
		if err := cw.Write([]string{r.CustomID, content}); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
