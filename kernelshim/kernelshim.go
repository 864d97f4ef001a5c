// Package kernelshim notifies a privileged out-of-tree component which
// real paths now carry module-provided mounts, so it can resist later
// attempts to unmount them. The wire protocol to that component is
// owned elsewhere; this package gives it a concrete, swappable shape.
package kernelshim

import (
	"github.com/godbus/dbus/v5"

	"github.com/snapcore-labs/magicmount/internal/logger"
)

// Notifier tells the kernel shim a path now carries a module mount.
// Calls must be idempotent and must never fail the caller: failures
// are logged and swallowed.
type Notifier interface {
	NotifyUnmountable(path string)
}

// NoopNotifier discards every notification. Used when
// Context.EnableUnmountable is false.
type NoopNotifier struct{}

// NotifyUnmountable implements Notifier.
func (NoopNotifier) NotifyUnmountable(string) {}

const (
	busName      = "org.magicmount.Kernel"
	busPath      = "/org/magicmount/Kernel"
	busInterface = "org.magicmount.Kernel"
)

// DBusNotifier sends the unmountable notification as a method call on
// the system bus, addressed to busName at busPath. It never blocks the
// caller on a reply: the call is sent with FlagNoReplyExpected, matching
// the original shim's single-direction notification.
type DBusNotifier struct {
	conn *dbus.Conn
}

// NewDBusNotifier connects to the system bus. If the bus is unreachable
// (e.g. in a container without dbus, or in tests) it returns a
// NoopNotifier instead of an error, since this notification is always
// best-effort and must never block mounting.
func NewDBusNotifier() Notifier {
	conn, err := dbus.ConnectSystemBus()
	if err != nil {
		logger.Warnf("kernelshim: system bus unavailable, notifications disabled: %v", err)
		return NoopNotifier{}
	}
	return &DBusNotifier{conn: conn}
}

// NotifyUnmountable implements Notifier.
func (n *DBusNotifier) NotifyUnmountable(path string) {
	obj := n.conn.Object(busName, dbus.ObjectPath(busPath))
	call := obj.Call(busInterface+".NotifyUnmountable", dbus.FlagNoReplyExpected, path)
	if call.Err != nil {
		logger.Warnf("kernelshim: notify %s: %v", path, call.Err)
	}
}

// Close releases the underlying bus connection, if any.
func (n *DBusNotifier) Close() error {
	if n.conn == nil {
		return nil
	}
	return n.conn.Close()
}
