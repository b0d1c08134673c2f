package output

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFormat(t *testing.T) {
	cases := map[string]Format{
		"":       FormatTable,
		"table":  FormatTable,
		" JSON ": FormatJSON,
		"csv":    FormatCSV,
	}
	for in, want := range cases {
		got, err := ParseFormat(in)
		require.NoError(t, err, "input %q", in)
		assert.Equal(t, want, got)
	}

	_, err := ParseFormat("yaml")
	assert.Error(t, err)
}

func TestPrintTable(t *testing.T) {
	data := NewTableData("Action", "Count")
	data.AddRow("upload", "3")
	data.AddRow("download", "12")

	var buf bytes.Buffer
	require.NoError(t, PrintTable(&buf, data))

	out := buf.String()
	assert.Contains(t, out, "ACTION")
	assert.Contains(t, out, "upload")
	assert.Contains(t, out, "12")
}

func TestSimpleTable(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, SimpleTable(&buf, [][2]string{{"Total Actions", "7"}}))

	assert.Contains(t, buf.String(), "Total Actions")
	assert.Contains(t, buf.String(), "7")
}

func TestPrinter(t *testing.T) {
	t.Run("TableFallsBackToJSON", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, NewPrinter(&buf, FormatTable).Print(map[string]int{"a": 1}))

		var decoded map[string]int
		require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
		assert.Equal(t, 1, decoded["a"])
	})

	t.Run("CSVIsRejected", func(t *testing.T) {
		var buf bytes.Buffer
		assert.Error(t, NewPrinter(&buf, FormatCSV).Print(NewTableData("x")))
	})
}
