package main

import (
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sys/unix"
)

// hidrawHaptic writes the pulse report to a hidraw node.
//
// The device is opened lazily. After a failed open or write it is closed and
// left alone until retry has elapsed, so an unplugged actuator costs one
// log line per outage instead of one per pulse.
type hidrawHaptic struct {
	path   string
	retry  time.Duration
	logger *slog.Logger
	now    func() time.Time

	fd        int
	nextRetry time.Time
	failing   bool
}

func newHidrawHaptic(path string, retry time.Duration, logger *slog.Logger) *hidrawHaptic {
	if retry <= 0 {
		retry = defaultHapticRetryMS * time.Millisecond
	}
	return &hidrawHaptic{
		path:   path,
		retry:  retry,
		logger: logger,
		now:    time.Now,
		fd:     -1,
	}
}

// errHapticUnavailable is returned while the device is in back-off.
type errHapticUnavailable struct {
	path  string
	until time.Time
}

func (e errHapticUnavailable) Error() string {
	return fmt.Sprintf("haptic device %s unavailable until %s", e.path, e.until.Format(time.RFC3339))
}

// Buzz sends one pulse. It must only be called from one goroutine.
func (h *hidrawHaptic) Buzz() error {
	if h.fd < 0 {
		if err := h.open(); err != nil {
			return err
		}
	}

	n, err := unix.Write(h.fd, hapticReport)
	if err == nil && n != len(hapticReport) {
		err = fmt.Errorf("short write (%d of %d bytes)", n, len(hapticReport))
	}
	if err != nil {
		h.fail(fmt.Errorf("write %s: %w", h.path, err))
		return fmt.Errorf("haptic write: %w", err)
	}
	return nil
}

func (h *hidrawHaptic) open() error {
	now := h.now()
	if now.Before(h.nextRetry) {
		return errHapticUnavailable{path: h.path, until: h.nextRetry}
	}

	fd, err := unix.Open(h.path, unix.O_WRONLY|unix.O_NONBLOCK|unix.O_CLOEXEC, 0)
	if err != nil {
		h.fail(fmt.Errorf("open %s: %w", h.path, err))
		return fmt.Errorf("haptic open: %w", err)
	}

	h.fd = fd
	if h.failing {
		h.logger.Info("haptic device recovered", "path", h.path)
	} else {
		h.logger.Info("opened haptic device", "path", h.path)
	}
	h.failing = false
	return nil
}

func (h *hidrawHaptic) fail(err error) {
	if h.fd >= 0 {
		_ = unix.Close(h.fd)
		h.fd = -1
	}
	h.nextRetry = h.now().Add(h.retry)
	if !h.failing {
		h.logger.Warn("haptic device failed; pulses disabled until retry", "error", err, "retry", h.retry)
		h.failing = true
	}
}

// Close releases the device.
func (h *hidrawHaptic) Close() error {
	if h.fd < 0 {
		return nil
	}
	err := unix.Close(h.fd)
	h.fd = -1
	return err
}

// newHaptic returns the configured haptic sink, or nopHaptic when disabled.
func newHaptic(cfg HapticsConfig, logger *slog.Logger) Haptic {
	if cfg.Device == "" {
		logger.Info("haptics disabled (no device configured)")
		return nopHaptic{}
	}
	return newHidrawHaptic(cfg.Device, time.Duration(cfg.RetryMS)*time.Millisecond, logger)
}
