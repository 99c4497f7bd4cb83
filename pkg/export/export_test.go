package export

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

func sampleDataset() Dataset {
	return Dataset{
		Title:   "Outcomes March 2024",
		Headers: []string{"Site", "Yes", "No", "Total", "Percentage"},
		Rows: []map[string]string{
			{"Site": "Clinic A", "Yes": "1", "No": "1", "Total": "2", "Percentage": "50.00"},
			{"Site": "Total", "Yes": "1", "No": "1", "Total": "2", "Percentage": "50.00"},
		},
	}
}

func TestCSVExporterRender(t *testing.T) {
	out, err := NewCSVExporter().Render(sampleDataset())
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(out)), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, "Site,Yes,No,Total,Percentage", lines[0])
	assert.Equal(t, "Clinic A,1,1,2,50.00", lines[1])
}

func TestPDFExporterRender(t *testing.T) {
	out, err := NewPDFExporter().Render(sampleDataset())
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(out, []byte("%PDF")))
}

func TestXLSXExporterRender(t *testing.T) {
	out, err := NewXLSXExporter().Render(sampleDataset())
	require.NoError(t, err)

	f, err := excelize.OpenReader(bytes.NewReader(out))
	require.NoError(t, err)
	defer f.Close() //nolint:errcheck

	rows, err := f.GetRows("Outcomes March 2024")
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, []string{"Site", "Yes", "No", "Total", "Percentage"}, rows[0])
	assert.Equal(t, "Clinic A", rows[1][0])
	assert.Equal(t, "50", rows[1][4])
}

func TestRenderersRequireHeaders(t *testing.T) {
	for _, format := range []string{FormatCSV, FormatPDF, FormatXLSX} {
		r, err := NewRenderer(format)
		require.NoError(t, err)
		_, err = r.Render(Dataset{})
		assert.Error(t, err, format)
		assert.Equal(t, format, r.Extension())
	}
	_, err := NewRenderer("docx")
	assert.Error(t, err)
}

func TestSheetName(t *testing.T) {
	assert.Equal(t, defaultSheet, sheetName(""))
	assert.Equal(t, "Q1 draft", sheetName("Q1: [draft]"))
	assert.Len(t, []rune(sheetName(strings.Repeat("x", 40))), 31)
}
