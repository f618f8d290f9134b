// package notifier tells the streaming server to rescan the library after
// new audio lands.
//
// Scan requests are debounced: a burst of finished downloads collapses into
// one rescan per coalescing window, so a hundred-track sync does not issue a
// hundred scans.
package notifier

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/lucky-verma/music-discovery/internal/shared"
)

const scanPath = "/api/scanner/scan"

// Notifier debounces and delivers rescan calls to a Navidrome instance.
// A Notifier with no URL configured absorbs every request silently.
type Notifier struct {
	url          string
	client       *http.Client
	debounce     time.Duration
	retryCeiling int
	retryDelay   time.Duration
	logger       *log.Logger

	mu     sync.Mutex
	armed  bool
	rearm  bool
	closed bool
	timer  *time.Timer
}

// New builds a notifier from the navidrome config section.
func New(cfg shared.NavidromeConfig, logger *log.Logger) *Notifier {
	if logger == nil {
		logger = shared.NewLogger(nil)
	}
	ceiling := cfg.RetryCeiling
	if ceiling <= 0 {
		ceiling = 3
	}
	debounce := cfg.DebounceDuration()
	if debounce <= 0 {
		debounce = 10 * time.Second
	}
	return &Notifier{
		url:          strings.TrimRight(cfg.URL, "/"),
		client:       &http.Client{Timeout: 30 * time.Second},
		debounce:     debounce,
		retryCeiling: ceiling,
		retryDelay:   2 * time.Second,
		logger:       shared.WithLogger(logger, "component", "notifier"),
	}
}

// RequestScan schedules a rescan. The first request arms the coalescing
// window; requests arriving while it is armed are absorbed, and requests
// arriving mid-scan re-arm it so nothing is lost.
func (n *Notifier) RequestScan() {
	if n.url == "" {
		return
	}

	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		return
	}
	if n.armed {
		n.rearm = true
		return
	}
	n.armed = true
	n.timer = time.AfterFunc(n.debounce, n.fire)
}

func (n *Notifier) fire() {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	if err := n.ScanNow(ctx); err != nil {
		n.logger.Error("rescan failed", "error", err)
	}
	cancel()

	n.mu.Lock()
	defer n.mu.Unlock()
	if n.rearm && !n.closed {
		n.rearm = false
		n.timer = time.AfterFunc(n.debounce, n.fire)
		return
	}
	n.armed = false
}

// ScanNow delivers a rescan immediately, bypassing the debounce window.
// Failures retry with exponential backoff up to the configured ceiling.
func (n *Notifier) ScanNow(ctx context.Context) error {
	if n.url == "" {
		return fmt.Errorf("%w: navidrome url", shared.ErrMissingConfig)
	}

	var lastErr error
	delay := n.retryDelay
	for attempt := 1; attempt <= n.retryCeiling; attempt++ {
		lastErr = n.scan(ctx)
		if lastErr == nil {
			n.logger.Info("library rescan triggered", "attempt", attempt)
			return nil
		}
		n.logger.Warn("rescan attempt failed", "attempt", attempt, "error", lastErr)

		if attempt == n.retryCeiling {
			break
		}
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
		delay *= 2
	}
	return fmt.Errorf("rescan failed after %d attempts: %w", n.retryCeiling, lastErr)
}

func (n *Notifier) scan(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url+scanPath, nil)
	if err != nil {
		return err
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", shared.ErrServiceUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%w: scanner returned %s", shared.ErrAPIRequest, resp.Status)
	}
	return nil
}

// Close stops the pending timer; an in-flight scan finishes on its own.
func (n *Notifier) Close() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.closed = true
	if n.timer != nil {
		n.timer.Stop()
	}
}
