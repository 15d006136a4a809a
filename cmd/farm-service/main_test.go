package main

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRun_RejectsBadEnvironment(t *testing.T) {
	testCases := map[string]struct {
		key, value, wantErr string
	}{
		"driver":   {"STORAGE_DRIVER", "sqlite", "unsupported storage driver"},
		"duration": {"OUTBOX_POLL_INTERVAL", "often", "OUTBOX_POLL_INTERVAL"},
		"dsn":      {"STORAGE_DRIVER", "postgres", "POSTGRES_DSN"},
	}
	for name, tc := range testCases {
		t.Run(name, func(t *testing.T) {
			t.Setenv(tc.key, tc.value)
			require.ErrorContains(t, run(context.Background()), tc.wantErr)
		})
	}
}

func TestRun_ShutdownOnCancelIsNotAnError(t *testing.T) {
	t.Setenv("GRPC_ADDR", "127.0.0.1:0")
	t.Setenv("METRICS_ADDR", "127.0.0.1:0")
	t.Setenv("KAFKA_BROKERS", "")

	ctx, cancel := context.WithCancel(context.Background())
	stop := time.AfterFunc(200*time.Millisecond, cancel)
	defer stop.Stop()
	require.NoError(t, run(ctx), "a cancelled context is a normal stop")
}
