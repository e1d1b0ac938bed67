package eventlog

import (
	"bufio"
	"encoding/csv"
	"encoding/json"
	"io"
	"os"
	"strconv"
	"time"
)

// ReportHeader is the CSV column order
var ReportHeader = []string{"timestamp", "event_type", "ear_value", "details"}

// ReportFilename names a CSV report generated at now
func ReportFilename(now time.Time) string {
	return "driver_monitoring_report_" + now.Format("20060102_150405") + ".csv"
}

// WriteCSV writes the entries as a report with a header row
func WriteCSV(w io.Writer, entries []Entry) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(ReportHeader); err != nil {
		return err
	}
	for _, e := range entries {
		ear := ""
		if v, ok := e.EAR(); ok {
			ear = strconv.FormatFloat(v, 'f', 3, 64)
		}
		row := []string{e.Timestamp.Format(TimeLayout), e.EventType(), ear, e.Details()}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteJSONL writes one record per line
func WriteJSONL(w io.Writer, entries []Entry) error {
	enc := json.NewEncoder(w)
	for _, e := range entries {
		if err := enc.Encode(e); err != nil {
			return err
		}
	}
	return nil
}

// ReadJSONL reads records written by WriteJSONL, skipping malformed lines
func ReadJSONL(r io.Reader) ([]Entry, error) {
	var entries []Entry
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		var e Entry
		if err := json.Unmarshal(scanner.Bytes(), &e); err != nil {
			continue
		}
		entries = append(entries, e)
	}
	return entries, scanner.Err()
}

// ReadFile reads a JSONL file. A missing file yields no entries.
func ReadFile(path string) ([]Entry, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()
	return ReadJSONL(f)
}
