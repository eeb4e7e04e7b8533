package main

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
	"golang.org/x/sync/errgroup"
)

func TestOptional_FailureKeepsGroupRunning(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	g, gctx := errgroup.WithContext(context.Background())

	g.Go(optional(gctx, zap.New(core), "live feed", func() error {
		return errors.New("listen tcp :8080: bind: address already in use")
	}))

	// stands in for the monitor loop: it must not be cancelled
	survived := make(chan bool, 1)
	g.Go(func() error {
		select {
		case <-gctx.Done():
			survived <- false
		case <-time.After(100 * time.Millisecond):
			survived <- true
		}
		return nil
	})

	require.NoError(t, g.Wait())
	assert.True(t, <-survived)

	entries := logs.FilterMessage("[main] live feed disabled").All()
	require.Len(t, entries, 1)
	assert.Contains(t, entries[0].ContextMap()["error"], "address already in use")
}

func TestOptional_QuietOnShutdown(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := optional(ctx, zap.New(core), "config hot reload", func() error {
		return context.Canceled
	})()

	assert.NoError(t, err)
	assert.Zero(t, logs.Len())
}
