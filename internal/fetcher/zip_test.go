package fetcher

import (
	"archive/zip"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func createTestZIP(t *testing.T, files map[string]string) string {
	t.Helper()
	zipPath := filepath.Join(t.TempDir(), "secciones.zip")
	f, err := os.Create(zipPath)
	require.NoError(t, err)
	defer f.Close() //nolint:errcheck

	w := zip.NewWriter(f)
	for name, content := range files {
		fw, err := w.Create(name)
		require.NoError(t, err)
		_, err = fw.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())
	return zipPath
}

func TestExtractZIP_ShapefileBundle(t *testing.T) {
	zipPath := createTestZIP(t, map[string]string{
		"SECCION.shp": "shp",
		"SECCION.dbf": "dbf",
		"SECCION.prj": "prj",
	})

	destDir := t.TempDir()
	extracted, err := ExtractZIP(zipPath, destDir)
	require.NoError(t, err)
	assert.Len(t, extracted, 3)

	data, err := os.ReadFile(filepath.Join(destDir, "SECCION.prj"))
	require.NoError(t, err)
	assert.Equal(t, "prj", string(data))
}

func TestExtractZIP_ZipSlipPrevention(t *testing.T) {
	zipPath := createTestZIP(t, map[string]string{"../../../etc/passwd": "malicious"})

	_, err := ExtractZIP(zipPath, t.TempDir())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "zip slip")
}

func TestExtractZIP_WithSubdirectory(t *testing.T) {
	zipPath := createTestZIP(t, map[string]string{
		"09/":            "",
		"09/SECCION.shp": "nested",
	})

	destDir := t.TempDir()
	extracted, err := ExtractZIP(zipPath, destDir)
	require.NoError(t, err)
	// Only the file should be in extracted (directories return empty string)
	assert.Len(t, extracted, 1)

	data, err := os.ReadFile(filepath.Join(destDir, "09", "SECCION.shp"))
	require.NoError(t, err)
	assert.Equal(t, "nested", string(data))
}

func TestExtractZIP_InvalidArchive(t *testing.T) {
	path := filepath.Join(t.TempDir(), "notazip.zip")
	require.NoError(t, os.WriteFile(path, []byte("this is not a zip"), 0o644))

	_, err := ExtractZIP(path, t.TempDir())
	require.Error(t, err)
}

func TestFindByExt(t *testing.T) {
	paths := []string{"/x/MUNICIPIO.shp", "/x/SECCION.SHP", "/x/SECCION.dbf", "/x/ENTIDAD.shp"}

	got, err := FindByExt(paths, ".shp", "seccion")
	require.NoError(t, err)
	assert.Equal(t, "/x/SECCION.SHP", got)

	got, err = FindByExt(paths, ".shp", "")
	require.NoError(t, err)
	assert.Equal(t, "/x/ENTIDAD.shp", got)

	got, err = FindByExt(paths, ".shp", "distrito")
	require.NoError(t, err)
	assert.Equal(t, "/x/ENTIDAD.shp", got)

	_, err = FindByExt(paths, ".csv", "")
	assert.ErrorContains(t, err, "no .csv file")
}
