// events reads a world's event log (hourly zstd JSONL files) and prints
// matching entries plus a per-event summary. Useful for answering "what did
// the pipeline do last night" without attaching a debugger to the server.
package main

import (
	"bufio"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/klauspost/compress/zstd"

	"chunkforge.dev/internal/persistence/eventlog"
)

func main() {
	var (
		dataDir = flag.String("data", "./data", "runtime data directory")
		worldID = flag.String("world", "world_1", "world id")
		event   = flag.String("event", "", "only show this event type (optional)")
		since   = flag.String("since", "", "only show entries at or after this RFC3339 timestamp (optional)")
		quiet   = flag.Bool("quiet", false, "suppress entries, print the summary only")
	)
	flag.Parse()

	dir := filepath.Join(*dataDir, "worlds", *worldID, "events")
	files, err := listEventFiles(dir)
	if err != nil {
		fmt.Fprintln(os.Stderr, "list events:", err)
		os.Exit(1)
	}
	if len(files) == 0 {
		fmt.Fprintln(os.Stderr, "no event files found in", dir)
		os.Exit(1)
	}

	counts := map[string]int{}
	total := 0
	for _, path := range files {
		if err := scanFile(path, *event, *since, *quiet, counts, &total); err != nil {
			fmt.Fprintln(os.Stderr, "read:", err)
			os.Exit(1)
		}
	}

	names := make([]string, 0, len(counts))
	for name := range counts {
		names = append(names, name)
	}
	sort.Strings(names)
	fmt.Printf("%d entries across %d files\n", total, len(files))
	for _, name := range names {
		fmt.Printf("  %-22s %d\n", name, counts[name])
	}
}

func listEventFiles(dir string) ([]string, error) {
	ents, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(ents))
	for _, e := range ents {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if strings.HasPrefix(name, "events-") && strings.HasSuffix(name, ".jsonl.zst") {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	out := make([]string, 0, len(names))
	for _, name := range names {
		out = append(out, filepath.Join(dir, name))
	}
	return out, nil
}

func scanFile(path, event, since string, quiet bool, counts map[string]int, total *int) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return err
	}
	defer dec.Close()

	sc := bufio.NewScanner(dec)
	sc.Buffer(make([]byte, 64*1024), 8*1024*1024)

	for sc.Scan() {
		var entry eventlog.Entry
		if err := json.Unmarshal(sc.Bytes(), &entry); err != nil {
			return fmt.Errorf("%s: unmarshal: %w", filepath.Base(path), err)
		}
		if event != "" && entry.Event != event {
			continue
		}
		if since != "" && entry.TS < since {
			continue
		}
		counts[entry.Event]++
		*total++
		if quiet {
			continue
		}
		if len(entry.Fields) == 0 {
			fmt.Printf("%s %s\n", entry.TS, entry.Event)
			continue
		}
		fields, err := json.Marshal(entry.Fields)
		if err != nil {
			return err
		}
		fmt.Printf("%s %s %s\n", entry.TS, entry.Event, fields)
	}
	return sc.Err()
}
