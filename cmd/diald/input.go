package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"syscall"
	"time"

	evdev "github.com/gvalkov/golang-evdev"
	"golang.org/x/sys/unix"
)

// dialInput reads the dial's evdev node and turns it into engine events.
//
// One goroutine owns the device. Readiness is awaited with epoll and a short
// timeout so cancellation is noticed promptly. When the device disappears it
// is reopened every retry interval; the open failure is logged once per outage.
type dialInput struct {
	path         string
	grab         bool
	maxMagnitude int32
	retry        time.Duration
	poll         time.Duration
	clock        *SeqClock
	logger       *slog.Logger
}

func newDialInput(cfg InputConfig, clock *SeqClock, logger *slog.Logger) *dialInput {
	return &dialInput{
		path:         cfg.Device,
		grab:         cfg.Grab,
		maxMagnitude: cfg.MaxTickMagnitude,
		retry:        defaultDeviceRetry * time.Millisecond,
		poll:         defaultDevicePollMS * time.Millisecond,
		clock:        clock,
		logger:       logger,
	}
}

// Run blocks until ctx is canceled.
func (d *dialInput) Run(ctx context.Context, out chan<- Event) {
	openErrLogged := false

	for {
		dev, err := evdev.Open(d.path)
		if err != nil {
			if !openErrLogged {
				d.logger.Warn("failed to open dial device, retrying", "device", d.path, "error", err, "retry", d.retry)
				openErrLogged = true
			}
			if !sleepCtx(ctx, d.retry) {
				return
			}
			continue
		}
		openErrLogged = false

		d.logger.Info("opened dial device", "device", d.path, "name", dev.Name)
		if d.grab {
			if err := dev.Grab(); err != nil {
				d.logger.Warn("failed to grab dial device", "device", d.path, "error", err)
			}
		}

		err = d.readLoop(ctx, dev, out)
		_ = dev.File.Close()

		if ctx.Err() != nil {
			return
		}
		d.logger.Warn("lost dial device, reopening", "device", d.path, "error", err)
		if !sleepCtx(ctx, d.retry) {
			return
		}
	}
}

// readLoop forwards events until the device fails or ctx ends.
func (d *dialInput) readLoop(ctx context.Context, dev *evdev.InputDevice, out chan<- Event) error {
	fd := int(dev.File.Fd())

	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return fmt.Errorf("epoll_create1: %w", err)
	}
	defer unix.Close(epfd)

	ev := unix.EpollEvent{Events: unix.EPOLLIN, Fd: int32(fd)}
	if err := unix.EpollCtl(epfd, unix.EPOLL_CTL_ADD, fd, &ev); err != nil {
		return fmt.Errorf("epoll_ctl_add fd=%d: %w", fd, err)
	}

	ready := make([]unix.EpollEvent, 1)
	timeoutMS := int(d.poll / time.Millisecond)

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		n, err := unix.EpollWait(epfd, ready, timeoutMS)
		if err != nil {
			if errors.Is(err, syscall.EINTR) {
				continue
			}
			return fmt.Errorf("epoll_wait: %w", err)
		}
		if n == 0 {
			continue
		}
		if ready[0].Events&(unix.EPOLLERR|unix.EPOLLHUP) != 0 {
			return fmt.Errorf("device error/hangup: %s", d.path)
		}

		batch, err := dev.Read()
		if err != nil {
			return fmt.Errorf("read from %s: %w", d.path, err)
		}

		for _, raw := range batch {
			e, ok := translateInput(raw.Type, raw.Code, raw.Value, d.clock)
			if !ok {
				continue
			}
			if re, isRaw := e.(RawEvent); isRaw && re.degenerate(d.maxMagnitude) {
				d.logger.Debug("degenerate dial tick", "value", re.Magnitude, "seq", re.Seq)
			}

			select {
			case out <- e:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
}

// translateInput maps one evdev record onto an engine event.
// Only REL_DIAL rotation and BTN_0 key-down are meaningful.
func translateInput(typ, code uint16, value int32, clock *SeqClock) (Event, bool) {
	switch {
	case typ == EV_REL && code == REL_DIAL:
		return NewRawEvent(value, clock.Next()), true

	case typ == EV_KEY && code == BTN_0 && value == evValuePress:
		return ButtonPress{Seq: clock.Next()}, true

	default:
		return nil, false
	}
}

// sleepCtx waits for d or ctx; it reports false if ctx ended first.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
