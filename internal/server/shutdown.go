package server

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"sort"
	"sync"
	"syscall"
	"time"
)

// ShutdownHook is one teardown step. Hooks run in ascending Priority order,
// so front-facing pieces (readiness, servers) go before backend clients.
type ShutdownHook struct {
	Name     string
	Priority int
	Fn       func(ctx context.Context) error
}

// ShutdownHandler runs registered hooks once, on SIGTERM/SIGINT or an
// explicit Trigger, under a shared timeout. A failing hook is logged and the
// rest still run.
type ShutdownHandler struct {
	mu      sync.Mutex
	hooks   []ShutdownHook
	timeout time.Duration
	logger  *slog.Logger

	trigger     chan struct{}
	done        chan struct{}
	triggerOnce sync.Once
	startOnce   sync.Once
}

// NewShutdownHandler creates a handler. A zero timeout defaults to 30s.
func NewShutdownHandler(timeout time.Duration, logger *slog.Logger) *ShutdownHandler {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ShutdownHandler{
		timeout: timeout,
		logger:  logger,
		trigger: make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// RegisterHook adds a teardown step. Register everything before Start.
func (h *ShutdownHandler) RegisterHook(hook ShutdownHook) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.hooks = append(h.hooks, hook)
	sort.SliceStable(h.hooks, func(i, j int) bool {
		return h.hooks[i].Priority < h.hooks[j].Priority
	})
}

// Start begins watching for SIGTERM/SIGINT in the background.
func (h *ShutdownHandler) Start() {
	h.startOnce.Do(func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
		go func() {
			select {
			case sig := <-sigCh:
				h.logger.Info("shutdown signal received", "signal", sig.String())
			case <-h.trigger:
			}
			signal.Stop(sigCh)
			h.run()
		}()
	})
}

// Trigger starts the shutdown without a signal. Safe to call more than once.
func (h *ShutdownHandler) Trigger() {
	h.triggerOnce.Do(func() { close(h.trigger) })
}

// Wait blocks until all hooks have run.
func (h *ShutdownHandler) Wait() {
	<-h.done
}

// Done returns a channel closed once all hooks have run.
func (h *ShutdownHandler) Done() <-chan struct{} {
	return h.done
}

func (h *ShutdownHandler) run() {
	defer close(h.done)

	ctx, cancel := context.WithTimeout(context.Background(), h.timeout)
	defer cancel()

	h.mu.Lock()
	hooks := make([]ShutdownHook, len(h.hooks))
	copy(hooks, h.hooks)
	h.mu.Unlock()

	for _, hook := range hooks {
		start := time.Now()
		if err := hook.Fn(ctx); err != nil {
			h.logger.Warn("shutdown hook failed", "hook", hook.Name, "error", err)
			continue
		}
		h.logger.Debug("shutdown hook done", "hook", hook.Name, "elapsed", time.Since(start))
	}
	h.logger.Info("shutdown complete")
}
