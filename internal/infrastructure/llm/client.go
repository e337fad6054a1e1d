package llm

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/llm-council/llm-council/gateway/internal/domain/service"
)

// ClientConfig holds what a backend client needs to talk to its inference
// server.
type ClientConfig struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

// --- Client Factory Registry ---
// Backends register themselves via init() in their own package.
// Adding a new backend = implement service.ModelClient + RegisterFactory.

// ClientFactory creates a ModelClient from config.
type ClientFactory func(cfg ClientConfig, logger *zap.Logger) service.ModelClient

var (
	factoryMu sync.RWMutex
	factories = map[string]ClientFactory{}
)

// RegisterFactory registers a client factory for the given backend mode.
// Called from init() in each backend sub-package (llm/local, llm/remote).
func RegisterFactory(mode string, factory ClientFactory) {
	factoryMu.Lock()
	defer factoryMu.Unlock()
	factories[mode] = factory
}

// CreateClient creates a ModelClient using the registered factory for mode.
func CreateClient(mode string, cfg ClientConfig, logger *zap.Logger) (service.ModelClient, error) {
	factoryMu.RLock()
	factory, ok := factories[mode]
	available := make([]string, 0, len(factories))
	for k := range factories {
		available = append(available, k)
	}
	factoryMu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("unknown backend mode %q (available: %v)", mode, available)
	}
	return factory(cfg, logger), nil
}

// NewHTTPClient builds the shared HTTP client for backend calls. Response
// header timeout is generous because large local models can take minutes to
// produce the first byte; per-call deadlines come from the request context.
func NewHTTPClient() *http.Client {
	transport := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ResponseHeaderTimeout: 300 * time.Second,
		IdleConnTimeout:       90 * time.Second,
		MaxIdleConns:          10,
		MaxIdleConnsPerHost:   5,
		TLSClientConfig:       &tls.Config{MinVersion: tls.VersionTLS12},
	}
	return &http.Client{Transport: transport}
}

// WithCallTimeout applies the configured per-model timeout unless the caller
// already set an earlier deadline.
func WithCallTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return ctx, func() {}
	}
	if deadline, ok := ctx.Deadline(); ok && time.Until(deadline) <= timeout {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, timeout)
}

// ClassifyTransportError maps an http.Client error to the failure taxonomy:
// deadline expiry is a timeout, everything else is a transport failure.
func ClassifyTransportError(ctx context.Context, model string, err error) *service.BackendFailure {
	kind := service.FailureTransport
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		kind = service.FailureTimeout
	}
	return &service.BackendFailure{Kind: kind, Model: model, Err: err}
}
