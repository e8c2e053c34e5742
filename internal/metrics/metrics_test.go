package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSanitizeSite(t *testing.T) {
	testCases := []struct {
		name     string
		input    string
		expected string
	}{
		{"standard http", "http://example.com/path", "example.com"},
		{"standard https", "https://Example.com/path", "example.com"},
		{"no scheme", "example.com/path", "example.com"},
		{"host with port", "example.com:8080", "example.com"},
		{"invalid url", "http://%", "unknown"},
		{"empty string", "", "unknown"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expected, SanitizeSite(tc.input))
		})
	}
}

func TestInitIdempotent(t *testing.T) {
	Init()
	Init()

	require.NotNil(t, filterDecisionsTotal)
	require.NotNil(t, downloadsTotal)
	require.NotNil(t, archiveUploadsTotal)
	require.NotNil(t, rateLimitDelaysSeconds)
}

func TestObserveHelpers(t *testing.T) {
	Init()

	beforeApproved := testutil.ToFloat64(filterDecisionsTotal.WithLabelValues("cache", "approved"))
	ObserveFilterDecision("cache", true)
	assert.InDelta(t, beforeApproved+1, testutil.ToFloat64(filterDecisionsTotal.WithLabelValues("cache", "approved")), 0.001)

	beforeBytes := testutil.ToFloat64(downloadBytesTotal.WithLabelValues("files.example.org"))
	ObserveDownload("https://files.example.org/a.pdf", "success", 2048)
	assert.InDelta(t, beforeBytes+2048, testutil.ToFloat64(downloadBytesTotal.WithLabelValues("files.example.org")), 0.001)

	beforeHalluc := testutil.ToFloat64(sorterHallucinationsTotal)
	ObserveHallucination()
	assert.InDelta(t, beforeHalluc+1, testutil.ToFloat64(sorterHallucinationsTotal), 0.001)

	ObserveRateLimitDelay("classification", 250*time.Millisecond)
	assert.Positive(t, testutil.CollectAndCount(rateLimitDelaysSeconds))
}

func FuzzSanitizeSite(f *testing.F) {
	for _, tc := range []string{"http://example.com", "https://moe.gov.gh", "ftp://example.com"} {
		f.Add(tc)
	}
	f.Fuzz(func(t *testing.T, orig string) {
		if SanitizeSite(orig) == "" {
			t.Errorf("SanitizeSite(%q) returned an empty string", orig)
		}
	})
}
