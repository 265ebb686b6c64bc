package documentloaders

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"
)

// Row is one CSV record rendered as text. Number counts records from 1 in
// file order, so it stays stable when empty rows are dropped.
type Row struct {
	Number int
	Text   string
}

// delimiterCandidates is ordered; on equal counts the earlier entry wins.
var delimiterCandidates = []rune{',', ';', '\t', '|'}

const delimiterSampleLines = 3

// detectDelimiter picks the most frequent candidate in the first lines of
// content. TSV files always use tabs.
func detectDelimiter(content, fileType string) rune {
	if fileType == FileTypeTSV {
		return '\t'
	}

	lines := strings.SplitN(content, "\n", delimiterSampleLines+1)
	if len(lines) > delimiterSampleLines {
		lines = lines[:delimiterSampleLines]
	}
	sample := strings.Join(lines, "\n")

	best, bestCount := ',', 0
	for _, delim := range delimiterCandidates {
		if count := strings.Count(sample, string(delim)); count > bestCount {
			best, bestCount = delim, count
		}
	}
	return best
}

// ParseRows reads delimited records from content. The cells of each record
// are trimmed and joined with single spaces; records with no text left are
// dropped. Ragged rows and stray quotes are tolerated.
func ParseRows(content string, delimiter rune) ([]Row, error) {
	reader := csv.NewReader(strings.NewReader(content))
	reader.Comma = delimiter
	reader.LazyQuotes = true
	reader.TrimLeadingSpace = delimiter != '\t'
	reader.FieldsPerRecord = -1

	var rows []Row
	number := 0
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to parse CSV: %w", err)
		}
		number++

		if text := joinCells(record); text != "" {
			rows = append(rows, Row{Number: number, Text: text})
		}
	}
	return rows, nil
}

func joinCells(record []string) string {
	cells := make([]string, 0, len(record))
	for _, cell := range record {
		if cell = strings.TrimSpace(cell); cell != "" {
			cells = append(cells, cell)
		}
	}
	return strings.Join(cells, " ")
}
