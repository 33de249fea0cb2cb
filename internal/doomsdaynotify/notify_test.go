package doomsdaynotify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/doomsday-project/doomsday/internal/doomsdaytypes"
)

func TestCheckPostsExpiredAndExpiringSoonSeparately(t *testing.T) {
	var received []summary

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var s summary
		require.NoError(t, json.NewDecoder(r.Body).Decode(&s))
		received = append(received, s)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	n, err := New(Config{WebhookURL: server.URL, DoomsdayURL: "https://doomsday.example.com"})
	require.NoError(t, err)

	now := time.Now()
	items := []doomsdaytypes.CacheItem{
		{Subject: "cn=expired", NotAfter: now.Add(-time.Hour)},
		{Subject: "cn=soon", NotAfter: now.Add(10 * 24 * time.Hour)},
		{Subject: "cn=far", NotAfter: now.Add(400 * 24 * time.Hour)},
	}

	require.NoError(t, n.Check(context.Background(), items, now))
	require.Len(t, received, 2)

	require.Equal(t, "critical", received[0].Urgency)
	require.Len(t, received[0].Certificates, 1)
	require.Equal(t, "cn=expired", received[0].Certificates[0].Subject)

	require.Equal(t, "high", received[1].Urgency)
	require.Len(t, received[1].Certificates, 1)
	require.Equal(t, "cn=soon", received[1].Certificates[0].Subject)
}

func TestCheckNoFindingsSendsNothing(t *testing.T) {
	called := false
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	n, err := New(Config{WebhookURL: server.URL})
	require.NoError(t, err)

	now := time.Now()
	items := []doomsdaytypes.CacheItem{{Subject: "cn=far", NotAfter: now.Add(400 * 24 * time.Hour)}}

	require.NoError(t, n.Check(context.Background(), items, now))
	require.False(t, called)
}

func TestNewRequiresWebhookURL(t *testing.T) {
	_, err := New(Config{})
	require.Error(t, err)
}

func TestCheckReturnsErrorOnNonOKStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	n, err := New(Config{WebhookURL: server.URL})
	require.NoError(t, err)

	now := time.Now()
	items := []doomsdaytypes.CacheItem{{Subject: "cn=expired", NotAfter: now.Add(-time.Hour)}}

	require.Error(t, n.Check(context.Background(), items, now))
}
