package main

import "log/slog"

// runEffect executes a single reducer-emitted Command.
//
// Design rules:
// - This function only hands work to sink workers; it never performs blocking I/O.
// - It must never call Reduce() and never feeds results back: sink failures do
//   not influence the engine.
func runEffect(sinks *Sinks, cmd Command, logger *slog.Logger) {
	if sinks == nil {
		return
	}

	var err error

	switch c := cmd.(type) {
	case CmdBuzz:
		logger.Debug("haptic pulse", "reason", c.Reason)
		err = sinks.buzz(c.Reason)

	case CmdPublishVolume:
		if c.DecadeCrossed {
			logger.Debug("volume crossed a decade", "volume", c.Volume)
		}
		err = sinks.publish("volume", func(p Publisher) error { return p.PublishVolume(c.Volume) })

	case CmdPublishClicks:
		err = sinks.publish("clicks", func(p Publisher) error { return p.PublishClicks(c.Count) })

	case CmdPublishMode:
		logger.Debug("mode changed", "mode", c.Mode)
		err = sinks.publish("mode", func(p Publisher) error { return p.PublishMode(c.Mode) })

	case CmdReplySnapshot:
		if c.Reply == nil {
			logger.Warn("state snapshot requested with nil reply channel")
			return
		}

		// Never block the daemon loop on a requester.
		select {
		case c.Reply <- c.Snapshot:
		default:
			logger.Warn("state snapshot reply channel not ready; dropping snapshot")
		}

	default:
		logger.Warn("unknown command type", "command", cmd.String())
	}

	if err != nil {
		logger.Warn("dropping command", "command", cmd.String(), "error", err)
	}
}
