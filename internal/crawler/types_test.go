package crawler

import (
	"encoding/json"
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseSortOrder(t *testing.T) {
	testCases := []struct {
		input string
		want  SortOrder
		ok    bool
	}{
		{"Asc", SortAsc, true},
		{"desc", SortDesc, true},
		{" DESC ", SortDesc, true},
		{"random", "", false},
		{"", "", false},
	}
	for _, tc := range testCases {
		got, ok := ParseSortOrder(tc.input)
		require.Equal(t, tc.ok, ok, tc.input)
		require.Equal(t, tc.want, got, tc.input)
	}
}

func TestPageDecodesListingBody(t *testing.T) {
	body := `{"previousPageCursor":null,"nextPageCursor":"abc==","data":[
		{"id":"s1","maxPlayers":10,"playing":3,"playerTokens":[],"fps":59.9,"ping":80},
		{"id":"s2","maxPlayers":10}
	]}`
	var p Page
	require.NoError(t, json.Unmarshal([]byte(body), &p))
	require.Equal(t, "abc==", p.NextCursor())
	require.Len(t, p.Data, 2)
	require.True(t, p.Data[0].HasOpenSlot())
	require.Nil(t, p.Data[1].Playing)
	require.True(t, p.Data[1].HasOpenSlot())

	var last Page
	require.NoError(t, json.Unmarshal([]byte(`{"nextPageCursor":null,"data":[]}`), &last))
	require.Equal(t, "", last.NextCursor())
}

func TestNormalizeCreated(t *testing.T) {
	require.Nil(t, normalizeCreated(nil))
	require.Nil(t, normalizeCreated(json.RawMessage(" null ")))
	require.Nil(t, normalizeCreated(json.RawMessage(`""`)))
	require.Nil(t, normalizeCreated(json.RawMessage(`0`)))
	require.Equal(t, json.RawMessage(`"2024-01-01T00:00:00Z"`), normalizeCreated(json.RawMessage(`"2024-01-01T00:00:00Z"`)))
	require.Equal(t, json.RawMessage(`1700000000`), normalizeCreated(json.RawMessage(` 1700000000`)))
}

func TestFetchErrorClassification(t *testing.T) {
	limited := &FetchError{Kind: FailureStatus, StatusCode: http.StatusTooManyRequests, Preview: "slow down"}
	require.True(t, IsRateLimited(limited))
	require.Contains(t, limited.Error(), "429")
	require.Equal(t, FailureStatus, ClassifyFailure(limited))

	malformed := &FetchError{Kind: FailureMalformed, StatusCode: 200, Preview: "<html>", Err: ErrMalformedPage}
	require.ErrorIs(t, malformed, ErrMalformedPage)
	require.False(t, IsRateLimited(malformed))
	require.Contains(t, malformed.Error(), "<html>")

	require.Equal(t, FailureNetwork, ClassifyFailure(errors.New("dial tcp")))
	require.False(t, IsRateLimited(errors.New("429")))
}
