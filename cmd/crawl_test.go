package cmd

import (
	"context"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/listing-harvester/internal/app"
	"github.com/JakeFAU/listing-harvester/internal/config"
)

func freeAddr(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())
	return addr
}

func TestStatusServerStopWaitsForShutdown(t *testing.T) {
	path, _ := writeTestConfig(t)
	cfg, err := config.Load(path)
	require.NoError(t, err)
	cfg.Server.Enabled = true
	cfg.Server.StatusAddr = freeAddr(t)

	appInstance, err := app.New(cfg, zap.NewNop())
	require.NoError(t, err)

	stop := startStatusServer(context.Background(), appInstance)

	url := "http://" + cfg.Server.StatusAddr + "/healthz"
	require.Eventually(t, func() bool {
		resp, err := http.Get(url)
		if err != nil {
			return false
		}
		_ = resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 5*time.Second, 20*time.Millisecond)

	require.NoError(t, stop())

	// Once stop returns the listener is gone.
	conn, err := net.DialTimeout("tcp", cfg.Server.StatusAddr, time.Second)
	if err == nil {
		_ = conn.Close()
	}
	assert.Error(t, err)
}

func TestStatusServerDisabled(t *testing.T) {
	path, _ := writeTestConfig(t)
	cfg, err := config.Load(path)
	require.NoError(t, err)
	cfg.Server.Enabled = false

	appInstance, err := app.New(cfg, zap.NewNop())
	require.NoError(t, err)

	assert.NoError(t, startStatusServer(context.Background(), appInstance)())
}
