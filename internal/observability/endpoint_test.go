package observability

import (
	"context"
	"io"
	"net"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/tphakala/deckbridge/internal/conf"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestNewEndpointRequiresEnabled(t *testing.T) {
	m, err := NewMetrics()
	require.NoError(t, err)

	settings, err := conf.DefaultSettings()
	require.NoError(t, err)
	settings.Metrics.Enabled = false
	_, err = NewEndpoint(settings, m)
	assert.Error(t, err)
}

func TestEndpointServesMetrics(t *testing.T) {
	m, err := NewMetrics()
	require.NoError(t, err)
	m.Transport.RecordCommandReceived("play")

	settings, err := conf.DefaultSettings()
	require.NoError(t, err)
	settings.Metrics.Enabled = true
	e, err := NewEndpoint(settings, m)
	require.NoError(t, err)
	assert.Same(t, m, e.GetMetrics())

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(t.Context())
	done := make(chan error, 1)
	go func() { done <- e.Serve(ctx, ln) }()

	client := &http.Client{Transport: &http.Transport{DisableKeepAlives: true}}
	resp, err := client.Get("http://" + ln.Addr().String() + "/metrics")
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `deckbridge_engine_commands_received_total{kind="play"} 1`)
	assert.Contains(t, string(body), "go_goroutines")

	cancel()
	require.NoError(t, <-done)
}
