package fetcher

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/encoding/charmap"
)

func collectRows(t *testing.T, rowCh <-chan []string, errCh <-chan error) ([][]string, error) {
	t.Helper()
	var rows [][]string
	for row := range rowCh {
		rows = append(rows, row)
	}
	// Drain error channel
	for err := range errCh {
		if err != nil {
			return rows, err
		}
	}
	return rows, nil
}

func latin1(t *testing.T, s string) string {
	t.Helper()
	out, err := charmap.ISO8859_1.NewEncoder().String(s)
	require.NoError(t, err)
	return out
}

func TestStreamCSV_Basic(t *testing.T) {
	input := "id,nombre_act\n1,Farmacias sin minisúper\n2,Tiendas de abarrotes\n"
	rowCh, errCh := StreamCSV(context.Background(), strings.NewReader(input), CSVOptions{})
	rows, err := collectRows(t, rowCh, errCh)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, []string{"id", "nombre_act"}, rows[0])
	assert.Equal(t, []string{"1", "Farmacias sin minisúper"}, rows[1])
}

func TestStreamCSV_PipeDelimited(t *testing.T) {
	input := "a|b|c\n1|2|3\n"
	rowCh, errCh := StreamCSV(context.Background(), strings.NewReader(input), CSVOptions{
		Delimiter: '|',
	})
	rows, err := collectRows(t, rowCh, errCh)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, []string{"1", "2", "3"}, rows[1])
}

func TestStreamCSV_WithHeader(t *testing.T) {
	input := "name,age\nalice,30\nbob,25\n"
	headerCh := make(chan []string, 1)

	rowCh, errCh := StreamCSV(context.Background(), strings.NewReader(input), CSVOptions{
		HasHeader: true,
		HeaderCh:  headerCh,
	})

	rows, err := collectRows(t, rowCh, errCh)
	require.NoError(t, err)

	// Data rows should not include header
	require.Len(t, rows, 2)
	assert.Equal(t, []string{"alice", "30"}, rows[0])
	assert.Equal(t, []string{"name", "age"}, <-headerCh)
}

func TestStreamCSV_Latin1(t *testing.T) {
	input := latin1(t, "nombre_act\nFarmacias con minisúper\nPanadería\n")
	rowCh, errCh := StreamCSV(context.Background(), strings.NewReader(input), CSVOptions{
		Encoding: "latin1",
	})
	rows, err := collectRows(t, rowCh, errCh)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, "Farmacias con minisúper", rows[1][0])
	assert.Equal(t, "Panadería", rows[2][0])
}

func TestStreamCSV_StripsBOM(t *testing.T) {
	tests := []struct {
		name     string
		encoding string
	}{
		{"utf-8", "utf-8"},
		{"latin1 mangled", "latin1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			input := "\ufeffcve_ent,cve_mun\n09,015\n"
			rowCh, errCh := StreamCSV(context.Background(), strings.NewReader(input), CSVOptions{
				Encoding: tt.encoding,
			})
			rows, err := collectRows(t, rowCh, errCh)
			require.NoError(t, err)
			require.Len(t, rows, 2)
			assert.Equal(t, "cve_ent", rows[0][0])
			assert.Equal(t, "09", rows[1][0])
		})
	}
}

func TestStreamCSV_UnknownEncoding(t *testing.T) {
	rowCh, errCh := StreamCSV(context.Background(), strings.NewReader("a\n"), CSVOptions{
		Encoding: "ebcdic",
	})
	_, err := collectRows(t, rowCh, errCh)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported encoding")
}

func TestStreamCSV_ContextCancellation(t *testing.T) {
	var sb strings.Builder
	for range 10000 {
		sb.WriteString("a,b,c\n")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	rowCh, errCh := StreamCSV(ctx, strings.NewReader(sb.String()), CSVOptions{})

	count := 0
	for range rowCh {
		count++
		if count >= 5 {
			cancel()
			break
		}
	}
	for range rowCh {
	}

	var gotErr error
	for err := range errCh {
		if err != nil {
			gotErr = err
		}
	}
	// Either we get a context cancelled error or the goroutine finished before noticing
	if gotErr != nil {
		assert.Contains(t, gotErr.Error(), "context cancelled")
	}
}

func TestStreamCSV_TrimSpace(t *testing.T) {
	input := " a , b \n 1 , 2 \n"
	rowCh, errCh := StreamCSV(context.Background(), strings.NewReader(input), CSVOptions{
		TrimSpace: true,
	})
	rows, err := collectRows(t, rowCh, errCh)
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"a", "b"}, {"1", "2"}}, rows)
}

func TestStreamCSV_VariableFields(t *testing.T) {
	input := "a,b,c\n1,2\n3,4,5,6\n"
	rowCh, errCh := StreamCSV(context.Background(), strings.NewReader(input), CSVOptions{})
	rows, err := collectRows(t, rowCh, errCh)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Len(t, rows[1], 2)
	assert.Len(t, rows[2], 4)
}

func TestReadTable(t *testing.T) {
	input := "ENTIDAD,MUNICIPIO,SECCION,POBTOT\n9,15,1,1200\n9,15,2,900\n"
	tbl, err := ReadTable(context.Background(), strings.NewReader(input), CSVOptions{})
	require.NoError(t, err)
	assert.Equal(t, []string{"ENTIDAD", "MUNICIPIO", "SECCION", "POBTOT"}, tbl.Header)
	require.Len(t, tbl.Rows, 2)

	idx := ColumnIndex(tbl.Header)
	assert.Equal(t, "1200", Get(tbl.Rows[0], idx, "pobtot"))
	assert.Equal(t, "2", Get(tbl.Rows[1], idx, " Seccion "))
	assert.Equal(t, "", Get(tbl.Rows[1], idx, "PEA"))
}

func TestReadTable_Empty(t *testing.T) {
	_, err := ReadTable(context.Background(), strings.NewReader(""), CSVOptions{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no header row")
}

func TestGet_ShortRecord(t *testing.T) {
	idx := ColumnIndex([]string{"a", "b", "c"})
	assert.Equal(t, "", Get([]string{"1"}, idx, "c"))
}
