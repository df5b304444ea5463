// Package jsonl reads and writes hive's on-disk cell snapshot
// (.hive/cells.jsonl), one JSON-encoded types.Cell per line. Adapted from
// the donor's internal/jsonl/reader.go bufio.Scanner-with-large-buffer
// pattern, generalized from *types.Issue to *types.Cell, plus a writer
// symmetric to it (the donor's writer lives in a different file not
// retrieved into the pack; this one follows the same plain-encoding-loop
// shape as the reader).
package jsonl

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"os"

	"github.com/hiveswarm/hive/internal/types"
)

const (
	initialBufSize = 1024 * 1024
	maxBufSize     = 64 * 1024 * 1024
)

// ReadCellsFromFile reads one types.Cell per line from path.
func ReadCellsFromFile(path string) ([]*types.Cell, error) {
	file, err := os.Open(path) // #nosec G304 - caller-controlled project-local path
	if err != nil {
		return nil, fmt.Errorf("jsonl: open %s: %w", path, err)
	}
	defer func() {
		if cerr := file.Close(); cerr != nil {
			fmt.Fprintf(os.Stderr, "hive: warning: failed to close %s: %v\n", path, cerr)
		}
	}()
	return scanCells(file)
}

// ReadCellsFromData reads one types.Cell per line from in-memory JSONL data.
func ReadCellsFromData(data []byte) ([]*types.Cell, error) {
	return scanCells(bytes.NewReader(data))
}

func scanCells(r interface{ Read([]byte) (int, error) }) ([]*types.Cell, error) {
	var cells []*types.Cell
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, initialBufSize), maxBufSize)

	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var c types.Cell
		if err := json.Unmarshal(line, &c); err != nil {
			return nil, fmt.Errorf("jsonl: parse cell at line %d: %w", lineNum, err)
		}
		cells = append(cells, &c)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("jsonl: scan: %w", err)
	}
	return cells, nil
}

// WriteCellsToFile overwrites path with one JSON-encoded cell per line,
// sorted by ID by the caller (WriteCellsToFile preserves the given order so
// tracker callers control sort/merge ordering).
func WriteCellsToFile(path string, cells []*types.Cell) error {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, c := range cells {
		if err := enc.Encode(c); err != nil {
			return fmt.Errorf("jsonl: encode cell %s: %w", c.ID, err)
		}
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o600); err != nil {
		return fmt.Errorf("jsonl: write %s: %w", path, err)
	}
	return nil
}
