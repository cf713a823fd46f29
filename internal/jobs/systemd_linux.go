//go:build linux

package jobs

import (
	"context"
	"fmt"
	"sync"

	"github.com/coreos/go-systemd/v22/dbus"
)

// DBusUnits talks to the system manager over D-Bus. The connection is opened
// on first use and reopened after Close.
type DBusUnits struct {
	mu   sync.Mutex
	conn *dbus.Conn
}

func NewDBusUnits() *DBusUnits { return &DBusUnits{} }

func (u *DBusUnits) connect(ctx context.Context) (*dbus.Conn, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.conn != nil {
		return u.conn, nil
	}
	conn, err := dbus.NewSystemConnectionContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("connect to systemd: %w", err)
	}
	u.conn = conn
	return conn, nil
}

func (u *DBusUnits) Run(ctx context.Context, action UnitAction, unit string) error {
	conn, err := u.connect(ctx)
	if err != nil {
		return err
	}

	done := make(chan string, 1)
	switch action {
	case UnitStart:
		_, err = conn.StartUnitContext(ctx, unit, "replace", done)
	case UnitStop:
		_, err = conn.StopUnitContext(ctx, unit, "replace", done)
	case UnitRestart:
		_, err = conn.RestartUnitContext(ctx, unit, "replace", done)
	case UnitTryRestart:
		_, err = conn.TryRestartUnitContext(ctx, unit, "replace", done)
	case UnitReload:
		_, err = conn.ReloadUnitContext(ctx, unit, "replace", done)
	default:
		return fmt.Errorf("%w: %q", ErrBadUnitAction, action)
	}
	if err != nil {
		return err
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case res := <-done:
		if res != "done" {
			return fmt.Errorf("job result %q", res)
		}
		return nil
	}
}

func (u *DBusUnits) Close() error {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.conn != nil {
		u.conn.Close()
		u.conn = nil
	}
	return nil
}
