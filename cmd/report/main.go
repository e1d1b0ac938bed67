// Command report lists recorded monitoring sessions or exports one as CSV.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"text/tabwriter"
	"time"

	"github.com/dj-oyu/driver-monitor/internal/eventlog"
	"github.com/dj-oyu/driver-monitor/internal/logger"
	"github.com/dj-oyu/driver-monitor/internal/recorder"
	"github.com/dj-oyu/driver-monitor/internal/store"
	"github.com/dj-oyu/driver-monitor/pkg/types"
)

var (
	dbPath    = flag.String("db", "driver_monitor.db", "SQLite event store path")
	sessionID = flag.String("session", "", "Export this session as CSV instead of listing sessions")
	jsonlPath = flag.String("jsonl", "", "Export a recorded JSONL file as CSV instead of reading the store")
	outPath   = flag.String("o", "", "CSV output file (default stdout, or the dated report name with -o=auto)")
	logLevel  = flag.String("log-level", "warn", "Log level (debug, info, warn, error, silent)")
)

func main() {
	flag.Parse()

	level, err := logger.ParseLevel(*logLevel)
	if err != nil {
		log.Fatalf("Invalid log level: %v", err)
	}
	logger.Init(level, os.Stderr, false)

	ctx := context.Background()

	switch {
	case *jsonlPath != "":
		entries, err := recorder.ReadFile(*jsonlPath)
		if err != nil {
			log.Fatalf("Failed to read %s: %v", *jsonlPath, err)
		}
		if err := export(entries); err != nil {
			log.Fatalf("Export failed: %v", err)
		}

	case *sessionID != "":
		st := openStore(ctx)
		defer st.Close()
		entries, err := st.Events(ctx, *sessionID)
		if err != nil {
			log.Fatalf("Failed to read session %s: %v", *sessionID, err)
		}
		if err := export(entries); err != nil {
			log.Fatalf("Export failed: %v", err)
		}

	default:
		st := openStore(ctx)
		defer st.Close()
		sessions, err := st.Sessions(ctx)
		if err != nil {
			log.Fatalf("Failed to list sessions: %v", err)
		}
		if err := listSessions(os.Stdout, sessions); err != nil {
			log.Fatalf("List failed: %v", err)
		}
	}
}

func openStore(ctx context.Context) *store.Store {
	if _, err := os.Stat(*dbPath); err != nil {
		log.Fatalf("Event store %s: %v", *dbPath, err)
	}
	st, err := store.Open(ctx, *dbPath)
	if err != nil {
		log.Fatalf("Failed to open event store: %v", err)
	}
	return st
}

func export(entries []eventlog.Entry) error {
	if *outPath == "" {
		return eventlog.WriteCSV(os.Stdout, entries)
	}

	name := *outPath
	if name == "auto" {
		name = eventlog.ReportFilename(time.Now())
	}
	f, err := os.Create(name)
	if err != nil {
		return err
	}
	if err := eventlog.WriteCSV(f, entries); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	fmt.Fprintf(os.Stderr, "Wrote %d events to %s\n", len(entries), name)
	return nil
}

func listSessions(w io.Writer, sessions []store.SessionInfo) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprint(tw, "SESSION\tSTARTED\tDURATION\tSOURCE\tTOTAL")
	for _, kind := range types.AllKinds {
		fmt.Fprintf(tw, "\t%s", kind.EventType())
	}
	fmt.Fprintln(tw)

	for _, s := range sessions {
		duration := "running"
		if s.EndedAt != nil {
			duration = s.EndedAt.Sub(s.StartedAt).Round(time.Second).String()
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d",
			s.ID, s.StartedAt.Format(eventlog.TimeLayout), duration, s.Source, s.Summary.Total)
		for _, kind := range types.AllKinds {
			fmt.Fprintf(tw, "\t%d", s.Summary.Count(kind))
		}
		fmt.Fprintln(tw)
	}
	return tw.Flush()
}
