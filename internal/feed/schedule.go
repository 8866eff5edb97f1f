package feed

import (
	"archive/zip"
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/dwsmith1983/gtfsload/pkg/types"
)

// Member is one table file of a schedule archive.
type Member struct {
	// Dataset is the file stem, e.g. "stop_times".
	Dataset string
	File    string
	Table   *types.Table
	Err     error
}

const bom = "\ufeff"

// ReadSchedule opens a GTFS static ZIP and reads every .txt/.csv member, in
// archive order. A member that fails to parse carries Err; the archive as a
// whole fails only when it is not a readable ZIP.
func ReadSchedule(data []byte) ([]Member, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("opening schedule archive: %w", err)
	}
	var out []Member
	for _, f := range zr.File {
		if f.FileInfo().IsDir() {
			continue
		}
		base := path.Base(f.Name)
		ext := strings.ToLower(path.Ext(base))
		if ext != ".txt" && ext != ".csv" {
			continue
		}
		m := Member{Dataset: strings.TrimSuffix(base, path.Ext(base)), File: f.Name}
		m.Table, m.Err = readMember(f)
		out = append(out, m)
	}
	return out, nil
}

func readMember(f *zip.File) (*types.Table, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", f.Name, err)
	}
	defer rc.Close()
	t, err := ReadCSV(rc)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", f.Name, err)
	}
	return t, nil
}

// ReadCSV reads a header row and records into a table. A leading BOM is
// stripped, header names are trimmed and empty cells read as null.
func ReadCSV(r io.Reader) (*types.Table, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true

	header, err := cr.Read()
	if err == io.EOF {
		return types.NewTable(), nil
	}
	if err != nil {
		return nil, err
	}
	for i := range header {
		header[i] = strings.TrimSpace(strings.TrimPrefix(header[i], bom))
	}
	t := types.NewTable(header...)
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		row := make(types.Row, len(header))
		for i, name := range header {
			if i < len(rec) && rec[i] != "" {
				row[name] = rec[i]
			}
		}
		t.Rows = append(t.Rows, row)
	}
	return t, nil
}
