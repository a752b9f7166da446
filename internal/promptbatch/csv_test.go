package promptbatch

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/hochfrequenz/issue-digest/internal/batch"
)

func TestReadCSV(t *testing.T) {
	path := filepath.Join(t.TempDir(), "reviews.csv")
	data := "id,review\n1,\"great, really\"\n2\n"
	if err := os.WriteFile(path, []byte(data), 0644); err != nil {
		t.Fatal(err)
	}

	rows, err := ReadCSV(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 2 {
		t.Fatalf("rows = %d, want 2", len(rows))
	}
	if rows[0]["review"] != "great, really" {
		t.Errorf("review = %q", rows[0]["review"])
	}
	if _, ok := rows[1]["review"]; ok {
		t.Error("short row should not have a review column")
	}
}

func TestParseCSV_Empty(t *testing.T) {
	rows, err := ParseCSV(strings.NewReader(""))
	if err != nil || rows != nil {
		t.Errorf("ParseCSV(\"\") = %v, %v", rows, err)
	}
}

func TestWriteResults(t *testing.T) {
	var buf bytes.Buffer
	resps := []batch.Response{{CustomID: "t-0"}}
	if err := WriteResults(&buf, resps); err != nil {
		t.Fatal(err)
	}
	if got := buf.String(); got != "custom_id,answer\nt-0,\n" {
		t.Errorf("WriteResults() = %q", got)
	}
}
