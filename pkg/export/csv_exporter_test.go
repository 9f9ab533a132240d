package export

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCSVExporterRender(t *testing.T) {
	data := Dataset{
		Headers: []string{"taskid", "detail"},
		Rows: []map[string]string{
			{"taskid": "42", "detail": "Cleaned grade items (2 affected)"},
			{"taskid": "43", "detail": "Failed to clean files: disk, full"},
			{"detail": "no task"},
		},
	}
	out, err := NewCSVExporter().Render(data)
	require.NoError(t, err)
	assert.Equal(t, "taskid,detail\n42,Cleaned grade items (2 affected)\n43,\"Failed to clean files: disk, full\"\n,no task\n", string(out))
}

func TestCSVExporterRequiresHeaders(t *testing.T) {
	_, err := NewCSVExporter().Render(Dataset{})
	assert.Error(t, err)
}
