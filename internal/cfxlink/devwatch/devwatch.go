// Package devwatch notices USB-serial adapters arriving and leaving so a
// daemon can reopen its transport when a calculator cable is plugged in
// after startup, rather than polling for the device node on a timer.
package devwatch

/*------------------------------------------------------------------
 *
 * Purpose:	Watch udev for "tty" subsystem events, generalizing the
 *		teacher's kissserial_init sleep-poll fallback into an
 *		event-driven watch per the REDESIGN FLAGS guidance to
 *		replace polling with a blocking read / event source.
 *
 *---------------------------------------------------------------*/

import (
	"context"
	"fmt"

	"github.com/jochenvg/go-udev"
)

// Action is the udev action that produced an Event.
type Action string

const (
	ActionAdd    Action = "add"
	ActionRemove Action = "remove"
)

// Event describes one tty device arriving or leaving.
type Event struct {
	Action  Action
	DevNode string
}

// Watcher monitors udev for tty subsystem changes.
type Watcher struct {
	monitor *udev.Monitor
}

// NewWatcher builds a Watcher filtered to the "tty" subsystem.
func NewWatcher() (*Watcher, error) {
	var u = udev.Udev{}
	var monitor = u.NewMonitorFromNetlink("udev")
	if monitor == nil {
		return nil, fmt.Errorf("cfxlink/devwatch: could not open udev netlink monitor")
	}
	if err := monitor.FilterAddMatchSubsystem("tty"); err != nil {
		return nil, fmt.Errorf("cfxlink/devwatch: filter tty subsystem: %w", err)
	}
	return &Watcher{monitor: monitor}, nil
}

// Watch starts the monitor and returns a channel of Events. The channel
// closes when ctx is done.
func (w *Watcher) Watch(ctx context.Context) (<-chan Event, error) {
	var deviceCh, err = w.monitor.DeviceChan(ctx)
	if err != nil {
		return nil, fmt.Errorf("cfxlink/devwatch: start monitor: %w", err)
	}

	var events = make(chan Event)
	go func() {
		defer close(events)
		for {
			select {
			case <-ctx.Done():
				return
			case dev, ok := <-deviceCh:
				if !ok {
					return
				}
				var action Action
				switch dev.Action() {
				case "remove":
					action = ActionRemove
				default:
					action = ActionAdd
				}
				select {
				case events <- Event{Action: action, DevNode: dev.Devnode()}:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return events, nil
}
