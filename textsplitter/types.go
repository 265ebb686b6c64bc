package textsplitter

import (
	"fmt"

	"github.com/sevigo/policyrag/schema"
)

const (
	defaultChunkSize    = 1000
	defaultChunkOverlap = 100
)

var (
	ErrInvalidChunkSize    = fmt.Errorf("%w: invalid chunk size", schema.ErrConfig)
	ErrInvalidChunkOverlap = fmt.Errorf("%w: invalid chunk overlap", schema.ErrConfig)
)

// defaultSeparators lists break candidates from the most to the least
// preferred level: paragraph, line, sentence, word. Separators on one level
// compete by position; the latest match within the window wins.
var defaultSeparators = [][]string{
	{"\n\n"},
	{"\n"},
	{". ", "! ", "? ", ".\n"},
	{" ", "\t"},
}
