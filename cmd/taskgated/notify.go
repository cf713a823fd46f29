package main

import (
	"context"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
)

const statusInterval = 10 * time.Second

// notifier reports readiness, status and watchdog pings to systemd. Outside
// a systemd unit every call is a no-op.
type notifier struct {
	watchdog time.Duration
}

func newNotifier() *notifier {
	n := &notifier{}
	if d, err := daemon.SdWatchdogEnabled(false); err == nil && d > 0 {
		n.watchdog = d / 2
	}
	return n
}

func (n *notifier) send(states ...string) {
	for _, s := range states {
		_, _ = daemon.SdNotify(false, s)
	}
}

func (n *notifier) Ready(status string)  { n.send(daemon.SdNotifyReady, "STATUS="+status) }
func (n *notifier) Status(status string) { n.send("STATUS=" + status) }
func (n *notifier) Stopping()            { n.send(daemon.SdNotifyStopping, "STATUS=stopping") }

// Loop refreshes STATUS and, when the unit has WatchdogSec set, pings the
// watchdog until ctx is done.
func (n *notifier) Loop(ctx context.Context, status func() string) {
	every := statusInterval
	if n.watchdog > 0 && n.watchdog < every {
		every = n.watchdog
	}
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			n.Status(status())
			if n.watchdog > 0 {
				n.send(daemon.SdNotifyWatchdog)
			}
		}
	}
}
