// Package valkeytest runs a throwaway valkey server for tests of the shared
// session store.
package valkeytest

import (
	"context"
	"net"

	"github.com/docker/go-connections/nat"
	"github.com/valkey-io/valkey-go"

	valkeycontainer "github.com/testcontainers/testcontainers-go/modules/valkey"
	slogctx "github.com/veqryn/slog-context"
)

const (
	Image = "valkey/valkey:8-alpine"
	port  = nat.Port("6379")
)

// Start runs a valkey container and returns a connected client, the mapped
// port and a function that tears both down. It panics when the container
// cannot be started, which is only ever called from TestMain.
func Start(ctx context.Context) (valkey.Client, nat.Port, func(ctx context.Context)) {
	container, err := valkeycontainer.Run(ctx, Image)
	if err != nil {
		slogctx.Error(ctx, "Failed to start valkey container", "error", err)
		panic(err)
	}

	mapped, err := container.MappedPort(ctx, port)
	if err != nil {
		slogctx.Error(ctx, "Failed to map a port for the valkey container", "error", err)
		panic(err)
	}

	client, err := valkey.NewClient(valkey.ClientOption{
		InitAddress: []string{net.JoinHostPort("localhost", mapped.Port())},
	})
	if err != nil {
		slogctx.Error(ctx, "Failed to connect to the valkey container", "error", err)
		panic(err)
	}

	terminate := func(ctx context.Context) {
		client.Close()

		if err := container.Terminate(ctx); err != nil {
			slogctx.Error(ctx, "Failed to terminate valkey container", "error", err)
		}
	}

	return client, mapped, terminate
}
