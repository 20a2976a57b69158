package fetcher

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStreamCSV_HeaderAndRows(t *testing.T) {
	in := "Report generated 2026-08-31\n" +
		"Permit Number,Description\n" +
		"P-1, Reroof \n" +
		"P-2,New pool\n"

	headerCh := make(chan []string, 1)
	rowCh, errCh := StreamCSV(context.Background(), strings.NewReader(in), CSVOptions{
		HasHeader: true,
		HeaderCh:  headerCh,
		TrimSpace: true,
		SkipRows:  1,
	})

	var rows [][]string
	for row := range rowCh {
		rows = append(rows, row)
	}
	require.NoError(t, <-errCh)

	assert.Equal(t, []string{"Permit Number", "Description"}, <-headerCh)
	require.Len(t, rows, 2)
	assert.Equal(t, []string{"P-1", "Reroof"}, rows[0])
}

func TestStreamCSV_RaggedRows(t *testing.T) {
	// Sources disagree with their own headers; extra or missing fields
	// must not kill the stream.
	in := "a,b\n1,2,3\n4\n"
	rowCh, errCh := StreamCSV(context.Background(), strings.NewReader(in), CSVOptions{HasHeader: true})

	var rows [][]string
	for row := range rowCh {
		rows = append(rows, row)
	}
	require.NoError(t, <-errCh)
	assert.Len(t, rows, 2)
}
