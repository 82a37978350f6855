package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/vitaliisemenov/lineage-observer/internal/artifact"
)

// SignalMetricsInterface defines the interface for signal handler metrics.
type SignalMetricsInterface interface {
	RecordReloadAttempt(source, status string)
	RecordReloadDuration(source string, duration float64)
	RecordSuccessTimestamp(source string, timestamp float64)
	RecordFailureTimestamp(source string, timestamp float64)
}

// SignalHandler triggers an artifact reload (spec §3 "Lifecycle": the
// memoized bundle is dropped and reloaded on next access) when the process
// receives SIGHUP, with debouncing so a burst of signals only forces one
// reload.
type SignalHandler struct {
	store   *artifact.Store
	logger  *slog.Logger
	metrics SignalMetricsInterface

	lastReloadTime atomic.Value // time.Time
	debounceWindow time.Duration

	ctx        context.Context
	cancel     context.CancelFunc
	wg         sync.WaitGroup
	sigChan    chan os.Signal
	reloadChan chan struct{}
}

// NewSignalHandler creates a SignalHandler bound to store.
func NewSignalHandler(store *artifact.Store, logger *slog.Logger) *SignalHandler {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &SignalHandler{
		store:          store,
		logger:         logger,
		metrics:        NewSignalPrometheusMetrics(),
		debounceWindow: 1 * time.Second,
		ctx:            ctx,
		cancel:         cancel,
		sigChan:        make(chan os.Signal, 1),
		reloadChan:     make(chan struct{}, 10),
	}
}

// NewSignalHandlerWithMetrics creates a SignalHandler with injected
// metrics, for testing (avoids Prometheus duplicate-registration panics
// across test cases).
func NewSignalHandlerWithMetrics(store *artifact.Store, logger *slog.Logger, metrics SignalMetricsInterface) *SignalHandler {
	h := NewSignalHandler(store, logger)
	h.metrics = metrics
	return h
}

// Start begins listening for SIGHUP.
func (h *SignalHandler) Start() error {
	h.logger.Info("starting signal handler for artifact reload")

	signal.Notify(h.sigChan, syscall.SIGHUP)

	h.wg.Add(1)
	go h.signalListener()

	h.wg.Add(1)
	go h.reloadWorker()

	h.logger.Info("signal handler started", "signals", []string{"SIGHUP"}, "debounce_window", h.debounceWindow)
	return nil
}

// Stop stops signal handling and waits for in-flight work to finish.
func (h *SignalHandler) Stop() {
	h.logger.Info("stopping signal handler")
	signal.Stop(h.sigChan)
	close(h.sigChan)
	h.cancel()
	h.wg.Wait()
	h.logger.Info("signal handler stopped")
}

func (h *SignalHandler) signalListener() {
	defer h.wg.Done()
	for {
		select {
		case sig, ok := <-h.sigChan:
			if !ok {
				return
			}
			h.logger.Info("received signal", "signal", sig.String())
			if sig == syscall.SIGHUP {
				select {
				case h.reloadChan <- struct{}{}:
					h.logger.Debug("reload request queued")
				default:
					h.logger.Warn("reload queue full, skipping request")
				}
			}
		case <-h.ctx.Done():
			return
		}
	}
}

func (h *SignalHandler) reloadWorker() {
	defer h.wg.Done()
	for {
		select {
		case <-h.reloadChan:
			if h.shouldDebounce() {
				h.logger.Debug("reload debounced (too soon after previous reload)")
				continue
			}
			h.updateLastReloadTime()
			h.executeReload()
		case <-h.ctx.Done():
			return
		}
	}
}

func (h *SignalHandler) shouldDebounce() bool {
	lastReload := h.getLastReloadTime()
	if lastReload.IsZero() {
		return false
	}
	return time.Since(lastReload) < h.debounceWindow
}

func (h *SignalHandler) updateLastReloadTime() {
	h.lastReloadTime.Store(time.Now())
}

func (h *SignalHandler) getLastReloadTime() time.Time {
	val := h.lastReloadTime.Load()
	if val == nil {
		return time.Time{}
	}
	return val.(time.Time)
}

// executeReload drops the memoized bundle and eagerly reloads it so a
// malformed artifact on disk surfaces in the log immediately rather than
// on the next request.
func (h *SignalHandler) executeReload() {
	startTime := time.Now()
	source := "sighup"

	h.logger.Info("executing artifact reload via SIGHUP")
	h.store.ClearAll()

	reloadCtx, cancel := context.WithTimeout(h.ctx, 30*time.Second)
	defer cancel()

	if _, err := h.store.Bundle(reloadCtx); err != nil {
		h.handleReloadError("artifact reload failed", err, startTime, source)
		return
	}

	duration := time.Since(startTime)
	h.metrics.RecordReloadAttempt(source, "success")
	h.metrics.RecordReloadDuration(source, duration.Seconds())
	h.metrics.RecordSuccessTimestamp(source, float64(time.Now().Unix()))
	h.logger.Info("artifact reload completed successfully via SIGHUP", "duration_ms", duration.Milliseconds())
}

func (h *SignalHandler) handleReloadError(message string, err error, startTime time.Time, source string) {
	duration := time.Since(startTime)
	h.metrics.RecordReloadAttempt(source, "failure")
	h.metrics.RecordReloadDuration(source, duration.Seconds())
	h.metrics.RecordFailureTimestamp(source, float64(time.Now().Unix()))
	h.logger.Error(message, "error", err, "duration_ms", duration.Milliseconds(), "source", source)
}

// GetMetrics returns signal metrics (for testing/inspection).
func (h *SignalHandler) GetMetrics() SignalMetricsInterface {
	return h.metrics
}
