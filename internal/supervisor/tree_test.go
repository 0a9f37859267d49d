// Geosentry - Device Location Tracking and Theft Detection Core
// Copyright 2026 Geosentry contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/geosentry/geosentry

package supervisor

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// flappingService fails its first run, then blocks until canceled.
type flappingService struct {
	starts atomic.Int32
}

func (s *flappingService) Serve(ctx context.Context) error {
	if s.starts.Add(1) == 1 {
		return errors.New("first run crashes")
	}
	<-ctx.Done()
	return ctx.Err()
}

func TestNewTree_AppliesDefaults(t *testing.T) {
	tree, err := NewTree(testLogger(), TreeConfig{})
	if err != nil {
		t.Fatalf("NewTree: %v", err)
	}
	if tree.config.FailureThreshold != 5.0 || tree.config.ShutdownTimeout != 10*time.Second {
		t.Errorf("defaults not applied: %+v", tree.config)
	}
}

func TestTree_RestartsCrashedService(t *testing.T) {
	tree, err := NewTree(testLogger(), TreeConfig{})
	if err != nil {
		t.Fatalf("NewTree: %v", err)
	}

	svc := &flappingService{}
	tree.AddCoreService(svc)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := tree.ServeBackground(ctx)

	deadline := time.Now().Add(5 * time.Second)
	for svc.starts.Load() < 2 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	cancel()
	<-errCh

	if got := svc.starts.Load(); got < 2 {
		t.Errorf("service started %d times, want restart after crash", got)
	}
}

func TestTree_LayersServeIndependently(t *testing.T) {
	tree, err := NewTree(testLogger(), TreeConfig{})
	if err != nil {
		t.Fatalf("NewTree: %v", err)
	}

	var deliveryRan, apiRan atomic.Bool
	tree.AddDeliveryService(serviceFunc(func(ctx context.Context) error {
		deliveryRan.Store(true)
		<-ctx.Done()
		return ctx.Err()
	}))
	tree.AddAPIService(serviceFunc(func(ctx context.Context) error {
		apiRan.Store(true)
		<-ctx.Done()
		return ctx.Err()
	}))

	ctx, cancel := context.WithCancel(context.Background())
	errCh := tree.ServeBackground(ctx)

	deadline := time.Now().Add(5 * time.Second)
	for !(deliveryRan.Load() && apiRan.Load()) && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	cancel()
	<-errCh

	if !deliveryRan.Load() || !apiRan.Load() {
		t.Error("both layers should run their services")
	}
}

type serviceFunc func(ctx context.Context) error

func (f serviceFunc) Serve(ctx context.Context) error { return f(ctx) }
