package directory

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spec-kit/queue-service/internal/domain"
)

func TestLoad_DefaultsWhenNoFile(t *testing.T) {
	dir, err := Load("", 30)
	require.NoError(t, err)

	dept, ok := dir.ByCode("io")
	require.True(t, ok)
	assert.Equal(t, "International Office", dept.Name)
	assert.Equal(t, 30, dept.Capacity)

	byName, ok := dir.ByName("financial office")
	require.True(t, ok)
	assert.Equal(t, "FO", byName.Code)
	assert.Len(t, dir.All(), len(DefaultDepartments))
}

func TestLoad_FromYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "departments.yaml")
	content := []byte(`departments:
  - code: io
    name: International Office
    capacity: 2
  - code: FO
    name: Financial Office
`)
	require.NoError(t, os.WriteFile(path, content, 0o600))

	dir, err := Load(path, 25)
	require.NoError(t, err)

	io, ok := dir.ByCode("IO")
	require.True(t, ok)
	assert.Equal(t, 2, io.Capacity)

	fo, ok := dir.ByCode("FO")
	require.True(t, ok)
	assert.Equal(t, 25, fo.Capacity)
	assert.Equal(t, []string{"FO", "IO"}, dir.Codes())
}

func TestNew_RejectsDuplicates(t *testing.T) {
	_, err := New([]domain.Department{
		{Code: "IO", Name: "International Office"},
		{Code: "io", Name: "Other"},
	}, 10)
	assert.Error(t, err)
}

func TestNew_RejectsMissingFields(t *testing.T) {
	_, err := New([]domain.Department{{Code: "IO"}}, 10)
	assert.Error(t, err)

	_, err = New(nil, 10)
	assert.Error(t, err)
}

func TestYAMLRoundTrip(t *testing.T) {
	dir, err := New([]domain.Department{{Code: "IO", Name: "International Office", Capacity: 5}}, 30)
	require.NoError(t, err)

	out, err := dir.YAML()
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "out.yaml")
	require.NoError(t, os.WriteFile(path, out, 0o600))

	reloaded, err := Load(path, 30)
	require.NoError(t, err)
	assert.Equal(t, dir.All(), reloaded.All())
}
