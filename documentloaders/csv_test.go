package documentloaders

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDetectDelimiter(t *testing.T) {
	tests := []struct {
		name     string
		content  string
		fileType string
		want     rune
	}{
		{"comma", "a,b,c\n1,2,3", FileTypeCSV, ','},
		{"semicolon", "a;b;c\n1;2;3", FileTypeCSV, ';'},
		{"pipe", "a|b|c", FileTypeCSV, '|'},
		{"tab", "a\tb\tc", FileTypeCSV, '\t'},
		{"tie prefers comma", "a,b;c", FileTypeCSV, ','},
		{"tie prefers semicolon over tab", "a;b\tc", FileTypeCSV, ';'},
		{"no delimiter", "single column", FileTypeCSV, ','},
		{"tsv always tab", "a,b,c", FileTypeTSV, '\t'},
		{"only first lines sampled", "a;b\nc;d\ne;f\ng,h,i,j,k,l", FileTypeCSV, ';'},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, detectDelimiter(tt.content, tt.fileType))
		})
	}
}

func TestParseRows(t *testing.T) {
	rows, err := ParseRows("name, days\n\"Vacation\n leave\",20\n,,\nragged\n", ',')
	require.NoError(t, err)
	assert.Equal(t, []Row{
		{Number: 1, Text: "name days"},
		{Number: 2, Text: "Vacation\n leave 20"},
		{Number: 4, Text: "ragged"},
	}, rows)
}

func TestParseRows_Empty(t *testing.T) {
	rows, err := ParseRows("", ',')
	require.NoError(t, err)
	assert.Empty(t, rows)
}
