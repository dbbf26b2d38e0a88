package main

import (
	"context"
	"log/slog"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
)

// notifier sends sd_notify states. daemon.SdNotify satisfies it.
type notifier func(unsetEnvironment bool, state string) (bool, error)

// notifyReady tells systemd startup is complete. Outside systemd it is a no-op.
func notifyReady(notify notifier, logger *slog.Logger) {
	sent, err := notify(false, daemon.SdNotifyReady)
	if err != nil {
		logger.Warn("sd_notify READY failed", "error", err)
		return
	}
	if sent {
		logger.Info("ready")
	}
}

// notifyStopping tells systemd shutdown has begun.
func notifyStopping(notify notifier, logger *slog.Logger) {
	if _, err := notify(false, daemon.SdNotifyStopping); err != nil {
		logger.Warn("sd_notify STOPPING failed", "error", err)
	}
}

// watchdogInterval returns half the systemd watchdog period when one is
// configured, otherwise fallback.
func watchdogInterval(fallback time.Duration) time.Duration {
	period, err := daemon.SdWatchdogEnabled(false)
	if err != nil || period <= 0 {
		return fallback
	}
	return period / 2
}

// runWatchdog sends WATCHDOG=1 every interval until ctx is canceled.
func runWatchdog(ctx context.Context, interval time.Duration, notify notifier, logger *slog.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	logger.Info("watchdog started", "interval", interval)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := notify(false, daemon.SdNotifyWatchdog); err != nil {
				logger.Warn("sd_notify WATCHDOG failed", "error", err)
			}
		}
	}
}
