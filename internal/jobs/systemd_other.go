//go:build !linux

package jobs

import "context"

type DBusUnits struct{}

func NewDBusUnits() *DBusUnits { return &DBusUnits{} }

func (*DBusUnits) Run(context.Context, UnitAction, string) error { return ErrUnsupported }

func (*DBusUnits) Close() error { return nil }
