package export

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleTable(rows int) Table {
	t := Table{
		Title: "Appointments",
		Columns: []Column{
			{Key: "student", Title: "Student", Width: 2},
			{Key: "date", Title: "Date"},
			{Key: "purpose", Title: "Purpose", Width: 3},
		},
	}
	for i := 0; i < rows; i++ {
		t.Rows = append(t.Rows, map[string]string{"student": "Ana", "date": "2024-05-01", "purpose": "Thesis review"})
	}
	return t
}

func TestParseFormat(t *testing.T) {
	f, err := ParseFormat("")
	require.NoError(t, err)
	assert.Equal(t, FormatCSV, f)

	f, err = ParseFormat(" PDF ")
	require.NoError(t, err)
	assert.Equal(t, FormatPDF, f)
	assert.Equal(t, "application/pdf", f.ContentType())

	_, err = ParseFormat("xlsx")
	assert.Error(t, err)
}

func TestRenderCSV(t *testing.T) {
	table := sampleTable(1)
	table.Rows = append(table.Rows, map[string]string{"student": "=HYPERLINK(\"x\")", "date": "2024-05-02"})

	out, err := RenderCSV(table)
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(string(out)), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, "Student,Date,Purpose", lines[0])
	assert.Equal(t, "Ana,2024-05-01,Thesis review", lines[1])
	assert.True(t, strings.HasPrefix(lines[2], `"'=HYPERLINK`))
}

func TestRenderPDFPaginates(t *testing.T) {
	out, err := Render(FormatPDF, sampleTable(120), time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(out, []byte("%PDF")))
}

func TestRenderRequiresColumns(t *testing.T) {
	_, err := RenderCSV(Table{})
	assert.Error(t, err)
	_, err = RenderPDF(Table{}, time.Now())
	assert.Error(t, err)
}

func TestColumnWidths(t *testing.T) {
	widths := columnWidths(sampleTable(0).Columns, 120)
	assert.InDeltaSlice(t, []float64{40, 20, 60}, widths, 0.001)
}
