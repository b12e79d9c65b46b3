package export

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleDataset() Dataset {
	return Dataset{
		Title:   "Audit trail",
		Headers: []string{"id", "action", "resource"},
		Rows: []map[string]string{
			{"id": "01", "action": "APPROVE", "resource": "user-1"},
			{"id": "02", "action": "=cmd()", "resource": "user-2"},
		},
	}
}

func TestCSVExporterNeutralizesFormulas(t *testing.T) {
	out, err := NewCSVExporter().Render(sampleDataset())
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(out)), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, "id,action,resource", lines[0])
	assert.Equal(t, "02,'=cmd(),user-2", lines[2])
}

func TestPDFExporterProducesDocument(t *testing.T) {
	out, err := NewPDFExporter().Render(sampleDataset())
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(out, []byte("%PDF")))
}

func TestForFormat(t *testing.T) {
	r, err := ForFormat("pdf")
	require.NoError(t, err)
	assert.Equal(t, "application/pdf", r.ContentType())

	_, err = ForFormat("xlsx")
	assert.Error(t, err)

	_, err = NewCSVExporter().Render(Dataset{})
	assert.Error(t, err)
}
