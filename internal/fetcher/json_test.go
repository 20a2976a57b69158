package fetcher

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeJSONArray_Streams(t *testing.T) {
	r := strings.NewReader(`[{"id":"1"},{"id":"2"},{"id":"3"}]`)
	outCh, errCh := DecodeJSONArray[map[string]any](context.Background(), r)

	var ids []string
	for item := range outCh {
		ids = append(ids, item["id"].(string))
	}
	require.NoError(t, <-errCh)
	assert.Equal(t, []string{"1", "2", "3"}, ids)
}

func TestDecodeJSONArray_EmptyAndMalformed(t *testing.T) {
	outCh, errCh := DecodeJSONArray[map[string]any](context.Background(), strings.NewReader(`[]`))
	for range outCh {
		t.Fatal("unexpected element")
	}
	require.NoError(t, <-errCh)

	outCh, errCh = DecodeJSONArray[map[string]any](context.Background(), strings.NewReader(`{"not":"array"}`))
	for range outCh {
	}
	require.Error(t, <-errCh)
}

func TestDecodeJSONObject(t *testing.T) {
	type envelope struct {
		Count int `json:"count"`
	}
	got, err := DecodeJSONObject[envelope](strings.NewReader(`{"count":7}`))
	require.NoError(t, err)
	assert.Equal(t, 7, got.Count)

	_, err = DecodeJSONObject[envelope](strings.NewReader(`{`))
	require.Error(t, err)
}
