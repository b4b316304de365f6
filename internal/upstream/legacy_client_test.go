package upstream

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nexdoc/dms-api/pkg/config"
	appErrors "github.com/nexdoc/dms-api/pkg/errors"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *LegacyClient {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	client := NewLegacyClient(config.LegacyConfig{Enabled: true, BaseURL: server.URL}, nil)
	require.NotNil(t, client)
	return client
}

func TestNewLegacyClientDisabled(t *testing.T) {
	assert.Nil(t, NewLegacyClient(config.LegacyConfig{Enabled: false, BaseURL: "http://legacy"}, nil))
	assert.Nil(t, NewLegacyClient(config.LegacyConfig{Enabled: true, BaseURL: ""}, nil))
}

func TestFetchRequestsDecodesLooseTypes(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "doc 1", r.URL.Query().Get("documentId"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[
			{"RequestID":"r1","ApproverID":"u1","SequenceLevel":1,"Status":"approved","IsCancelled":false,"ApprovalDate":"2024-03-01T10:00:00Z"},
			{"RequestID":"r2","ApproverID":"u2","SequenceLevel":1,"Status":"0","IsCancelled":"0","ApprovalDate":null},
			{"RequestID":"r3","ApproverID":"u3","SequenceLevel":2,"Status":null,"IsCancelled":1}
		]`))
	})

	rows, err := client.FetchRequests(context.Background(), "doc 1")
	require.NoError(t, err)
	require.Len(t, rows, 3)

	assert.Equal(t, "r1", rows[0].RequestID)
	assert.False(t, rows[0].IsCancelled.Bool())
	require.NotNil(t, rows[1].Status)
	assert.Equal(t, "0", *rows[1].Status)
	assert.True(t, rows[2].IsCancelled.Bool())
	assert.Nil(t, rows[2].Status)
}

func TestFetchRequestsNotFoundMeansNoRows(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	rows, err := client.FetchRequests(context.Background(), "doc-1")
	require.NoError(t, err)
	assert.Nil(t, rows)
}

func TestFetchRequestsServerError(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})

	_, err := client.FetchRequests(context.Background(), "doc-1")
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrUpstreamUnavailable))
}

func TestFetchRequestsBadBody(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"not":"an array"`))
	})

	_, err := client.FetchRequests(context.Background(), "doc-1")
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrUpstreamUnavailable))
}

func TestFetchRequestsUnreachable(t *testing.T) {
	client := NewLegacyClient(config.LegacyConfig{Enabled: true, BaseURL: "http://127.0.0.1:1"}, nil)
	require.NotNil(t, client)

	_, err := client.FetchRequests(context.Background(), "doc-1")
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrUpstreamUnavailable))
}
