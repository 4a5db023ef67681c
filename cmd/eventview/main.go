// Command eventview is a CLI tool for viewing server events stored in SQLite
// by mcpserve -db.
//
// Usage:
//
//	eventview list --db path/to/events.db
//	eventview show --db path/to/events.db --run RUN_ID [--format json|jsonl]
//	eventview stats --db path/to/events.db
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/bpowers/go-mcpserver/persistence"
	"github.com/bpowers/go-mcpserver/persistence/sqlitestore"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	var err error
	switch cmd := os.Args[1]; cmd {
	case "list":
		err = runList(os.Args[2:])
	case "show":
		err = runShow(os.Args[2:])
	case "stats":
		err = runStats(os.Args[2:])
	case "-h", "--help", "help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", cmd)
		printUsage()
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintf(os.Stderr, `eventview - view MCP server events from SQLite

Usage:
  eventview list --db <path>
      List runs with their start time, tool calls and failures

  eventview show --db <path> --run <id> [--format json|jsonl]
      Show the events of a run (default format: json)

  eventview stats --db <path>
      Show how often each tool was called across all runs

Formats:
  json   - Output as a JSON array (default)
  jsonl  - Output as JSON Lines (one event per line)

Examples:
  eventview list --db ./events.db
  eventview show --db ./events.db --run 3f1c...
  eventview show --db ./events.db --run 3f1c... --format jsonl | jq .
`)
}

func openStore(dbPath string) (*sqlitestore.SQLiteStore, error) {
	if dbPath == "" {
		return nil, fmt.Errorf("--db is required")
	}
	if _, err := os.Stat(dbPath); err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	store, err := sqlitestore.New(dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	return store, nil
}

func runList(args []string) error {
	fs := flag.NewFlagSet("list", flag.ExitOnError)
	dbPath := fs.String("db", "", "path to SQLite database")
	if err := fs.Parse(args); err != nil {
		return err
	}

	store, err := openStore(*dbPath)
	if err != nil {
		return err
	}
	defer store.Close()

	runs, err := store.ListRuns()
	if err != nil {
		return fmt.Errorf("list runs: %w", err)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "RUN\tSTARTED\tCALLS\tFAILURES")
	for _, runID := range runs {
		records, err := store.Records(runID)
		if err != nil {
			return fmt.Errorf("get records: %w", err)
		}
		s := persistence.Summarize(runID, records)
		started := "-"
		if !s.Started.IsZero() {
			started = s.Started.Local().Format(time.DateTime)
		}
		fmt.Fprintf(w, "%s\t%s\t%d\t%d\n", runID, started, s.Calls, s.Failures)
	}
	return w.Flush()
}

func runShow(args []string) error {
	fs := flag.NewFlagSet("show", flag.ExitOnError)
	dbPath := fs.String("db", "", "path to SQLite database")
	runID := fs.String("run", "", "run ID to display")
	format := fs.String("format", "json", "output format: json or jsonl")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if *dbPath == "" {
		return fmt.Errorf("--db is required")
	}
	if *runID == "" {
		return fmt.Errorf("--run is required")
	}
	if *format != "json" && *format != "jsonl" {
		return fmt.Errorf("--format must be 'json' or 'jsonl'")
	}

	store, err := openStore(*dbPath)
	if err != nil {
		return err
	}
	defer store.Close()

	records, err := store.Records(*runID)
	if err != nil {
		return fmt.Errorf("get records: %w", err)
	}

	if len(records) == 0 {
		fmt.Fprintf(os.Stderr, "no events found for run: %s\n", *runID)
		return nil
	}

	enc := json.NewEncoder(os.Stdout)
	switch *format {
	case "json":
		enc.SetIndent("", "  ")
		if err := enc.Encode(records); err != nil {
			return fmt.Errorf("encode json: %w", err)
		}
	case "jsonl":
		for _, r := range records {
			if err := enc.Encode(r); err != nil {
				return fmt.Errorf("encode jsonl: %w", err)
			}
		}
	}

	return nil
}

func runStats(args []string) error {
	fs := flag.NewFlagSet("stats", flag.ExitOnError)
	dbPath := fs.String("db", "", "path to SQLite database")
	if err := fs.Parse(args); err != nil {
		return err
	}

	store, err := openStore(*dbPath)
	if err != nil {
		return err
	}
	defer store.Close()

	counts, err := store.ToolCounts()
	if err != nil {
		return fmt.Errorf("tool counts: %w", err)
	}

	tools := make([]string, 0, len(counts))
	for tool := range counts {
		tools = append(tools, tool)
	}
	sort.Slice(tools, func(i, j int) bool {
		if counts[tools[i]] != counts[tools[j]] {
			return counts[tools[i]] > counts[tools[j]]
		}
		return tools[i] < tools[j]
	})

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "TOOL\tCALLS")
	for _, tool := range tools {
		fmt.Fprintf(w, "%s\t%d\n", tool, counts[tool])
	}
	return w.Flush()
}
