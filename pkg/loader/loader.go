// Package loader parses the tab- or comma-delimited game-record text
// files described in the specification's external interface section
// into record.Record values ready for Engine.Load.
//
// It is grounded on original_source/Project1/src/loader.cpp: the same
// nine-field column order, the same "parse failure yields zero" policy
// for numeric fields (parseIntOrZero/parseFloatOrZero), and the same
// "malformed row is skipped, not fatal" recovery behavior, adapted to
// the teacher's config-driven "validate then parse" style.
package loader

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/qchong005/nbaidx/pkg/record"
)

// dateLayout matches original_source's "DD/MM/YYYY" input format.
const dateLayout = "02/01/2006"

// fieldCount is the number of columns a well-formed row carries, per
// spec.md section 6: date, team_id, pts, fg_pct, ft_pct, fg3_pct, ast,
// reb, home_wins.
const fieldCount = 9

// Stats reports what happened during a ParseFile call, accumulated rather
// than surfaced as a per-row error per spec.md section 7's ParseError
// policy.
type Stats struct {
	RowsLoaded  int
	RowsSkipped int
}

// ParseFile reads path, skips its header line, and returns one
// record.Record per well-formed data row. Malformed rows (too few
// fields, an unparseable date) are skipped and counted, not fatal.
func ParseFile(path string) ([]record.Record, Stats, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, Stats{}, fmt.Errorf("loader: open %s: %w", path, err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	if !scanner.Scan() {
		if err := scanner.Err(); err != nil {
			return nil, Stats{}, fmt.Errorf("loader: read header: %w", err)
		}
		return nil, Stats{}, nil
	}
	delim := detectDelimiter(scanner.Text())

	var records []record.Record
	var stats Stats
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		rec, ok := parseRow(line, delim)
		if !ok {
			stats.RowsSkipped++
			continue
		}
		records = append(records, rec)
		stats.RowsLoaded++
	}
	if err := scanner.Err(); err != nil {
		return nil, Stats{}, fmt.Errorf("loader: scan %s: %w", path, err)
	}

	return records, stats, nil
}

// detectDelimiter scans the header line for a tab before falling back
// to comma, the auto-detection rule from SPEC_FULL.md section 6.1.
func detectDelimiter(header string) string {
	if strings.Contains(header, "\t") {
		return "\t"
	}
	return ","
}

// parseRow converts one data line into a Record. It returns ok=false
// for a row with fewer than fieldCount fields or an unparseable date;
// every other parse failure yields zero for that field rather than
// skipping the row, matching parseIntOrZero/parseFloatOrZero.
func parseRow(line, delim string) (record.Record, bool) {
	fields := strings.Split(line, delim)
	if len(fields) < fieldCount {
		return record.Record{}, false
	}

	parsed, err := time.Parse(dateLayout, strings.TrimSpace(fields[0]))
	if err != nil {
		return record.Record{}, false
	}
	gameDate, err := record.EncodeDate(parsed)
	if err != nil {
		return record.Record{}, false
	}

	return record.Record{
		FGPct:    parseFloatOrZero(fields[3]),
		FTPct:    parseFloatOrZero(fields[4]),
		FG3Pct:   parseFloatOrZero(fields[5]),
		TeamID:   parseUintOrZero(fields[1], 32),
		GameDate: gameDate,
		Pts:      uint8(parseUintOrZero(fields[2], 8)),
		Ast:      uint8(parseUintOrZero(fields[6], 8)),
		Reb:      uint8(parseUintOrZero(fields[7], 8)),
		HomeWins: homeWinsFlag(fields[8]),
	}, true
}

func parseFloatOrZero(s string) float32 {
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 32)
	if err != nil {
		return 0
	}
	return float32(v)
}

func parseUintOrZero(s string, bitSize int) uint32 {
	v, err := strconv.ParseUint(strings.TrimSpace(s), 10, bitSize)
	if err != nil {
		return 0
	}
	return uint32(v)
}

func homeWinsFlag(s string) uint8 {
	if strings.TrimSpace(s) == "1" {
		return 1
	}
	return 0
}
