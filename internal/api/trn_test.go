package api

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"r6-rolesync/internal/rank"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTRNTestClient(t *testing.T, handler http.Handler) *TRNClient {
	t.Helper()

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	client := NewTRNClient("test-key", zerolog.Nop())
	client.baseURL = srv.URL
	return client
}

func TestTRNPlayerRank(t *testing.T) {
	client := newTRNTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "test-key", r.Header.Get("TRN-Api-Key"))
		assert.Equal(t, "/v2/r6siege/standard/profile/uplay/ShadowOp", r.URL.Path)

		w.Header().Set("X-RateLimit-Limit", "100")
		w.Header().Set("X-RateLimit-Remaining", "58")
		fmt.Fprint(w, `{"data":{"segments":[{"type":"overview","stats":{"currentSeasonRank":{"displayValue":"Gold 2"}}}]}}`)
	}))

	result, err := client.PlayerRank(context.Background(), "ShadowOp", "pc")
	require.NoError(t, err)
	assert.True(t, result.Found)
	assert.Equal(t, rank.GoldII, result.Rank)

	info := client.GetRateLimitInfo()
	assert.Equal(t, 100, info.Limit)
	assert.Equal(t, 58, info.Remaining)
	assert.Equal(t, 42, info.Used)
	assert.InDelta(t, 42.0, client.RateLimitPercentage(), 0.01)
}

func TestTRNPlayerRankNotFound(t *testing.T) {
	client := newTRNTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))

	result, err := client.PlayerRank(context.Background(), "NoSuchPlayer", "pc")
	require.NoError(t, err, "unknown handle is a result, not an error")
	assert.False(t, result.Found)
}

func TestTRNAuthRejectionRetriedOnce(t *testing.T) {
	var requests atomic.Int64
	client := newTRNTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if requests.Add(1) == 1 {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		fmt.Fprint(w, `{"data":{"segments":[{"type":"overview","stats":{"rank":{"displayValue":"Silver 1"}}}]}}`)
	}))

	result, err := client.PlayerRank(context.Background(), "ShadowOp", "pc")
	require.NoError(t, err)
	assert.True(t, result.Found)
	assert.Equal(t, rank.SilverI, result.Rank)
	assert.Equal(t, int64(2), requests.Load())
}

func TestTRNPersistentAuthRejectionIsTerminal(t *testing.T) {
	var requests atomic.Int64
	client := newTRNTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		w.WriteHeader(http.StatusForbidden)
	}))

	_, err := client.PlayerRank(context.Background(), "ShadowOp", "pc")
	require.Error(t, err)
	assert.Equal(t, int64(2), requests.Load(), "no request amplification past one retry")
}

func TestTRNServerErrorNotRetried(t *testing.T) {
	var requests atomic.Int64
	client := newTRNTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))

	_, err := client.PlayerRank(context.Background(), "ShadowOp", "pc")
	require.Error(t, err)
	assert.Equal(t, int64(1), requests.Load())
}

func TestTRNHandleExists(t *testing.T) {
	client := newTRNTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/v2/r6siege/standard/profile/uplay/Known" {
			fmt.Fprint(w, `{"data":{"segments":[]}}`)
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))

	exists, err := client.HandleExists(context.Background(), "Known", "pc")
	require.NoError(t, err)
	assert.True(t, exists)

	exists, err = client.HandleExists(context.Background(), "Unknown", "pc")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestExtractRankResolutionOrder(t *testing.T) {
	tests := []struct {
		name     string
		payload  *trnProfileResponse
		expected string
	}{
		{
			name: "current season rank wins over generic",
			payload: segments(trnSegment{Type: "overview", Stats: map[string]trnStatValue{
				"currentSeasonRank": {DisplayValue: "Gold 2"},
				"rank":              {DisplayValue: "Silver 1"},
				"overallRank":       {DisplayValue: "Bronze 3"},
			}}),
			expected: "Gold 2",
		},
		{
			name: "generic rank wins over overall",
			payload: segments(trnSegment{Type: "overview", Stats: map[string]trnStatValue{
				"rank":        {DisplayValue: "Silver 1"},
				"overallRank": {DisplayValue: "Bronze 3"},
			}}),
			expected: "Silver 1",
		},
		{
			name: "overall rank as last resort",
			payload: segments(trnSegment{Type: "overview", Stats: map[string]trnStatValue{
				"overallRank": {DisplayValue: "Bronze 3"},
			}}),
			expected: "Bronze 3",
		},
		{
			name: "empty display value skipped",
			payload: segments(trnSegment{Type: "overview", Stats: map[string]trnStatValue{
				"currentSeasonRank": {DisplayValue: ""},
				"rank":              {DisplayValue: "Platinum 3"},
			}}),
			expected: "Platinum 3",
		},
		{
			name: "rank in later segment",
			payload: segments(
				trnSegment{Type: "operator", Stats: map[string]trnStatValue{}},
				trnSegment{Type: "season", Stats: map[string]trnStatValue{
					"currentSeasonRank": {DisplayValue: "Champion"},
				}},
			),
			expected: "Champion",
		},
		{
			name:     "no rank anywhere",
			payload:  segments(trnSegment{Type: "overview", Stats: map[string]trnStatValue{}}),
			expected: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, extractRank(tt.payload))
		})
	}
}

func segments(segs ...trnSegment) *trnProfileResponse {
	var profile trnProfileResponse
	profile.Data.Segments = segs
	return &profile
}
