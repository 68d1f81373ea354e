package vaudio

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"
)

// poke wakes a task without blocking. A pending wakeup absorbs the new one.
func poke(c chan struct{}) {
	select {
	case c <- struct{}{}:
	default:
	}
}

// startTasks runs the mixer and the unmixer until Close.
func (d *Device) startTasks() {
	ctx, cancel := context.WithCancel(context.Background())
	d.cancel = cancel
	d.group, ctx = errgroup.WithContext(ctx)

	d.group.Go(func() error {
		return d.runTask(ctx, d.mixWake, func() {
			for ; d.mixPending > 0; d.mixPending-- {
				d.mix()
			}
		})
	})
	d.group.Go(func() error {
		return d.runTask(ctx, d.upmixWake, func() {
			if d.upmixPending > 0 {
				d.upmixPending = 0
				d.upmix()
			}
		})
	})
}

// runTask calls work with both locks held on every wakeup, then delivers
// the notifications work scheduled.
func (d *Device) runTask(ctx context.Context, wake <-chan struct{}, work func()) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-wake:
		}

		d.mu.Lock()
		d.intrMu.Lock()
		if d.dying {
			d.intrMu.Unlock()
			d.mu.Unlock()

			return nil
		}
		work()
		d.intrMu.Unlock()
		d.kick()
		d.mu.Unlock()
	}
}

// kick delivers the wakeups scheduled under the interrupt lock. Called with
// the thread lock held.
func (d *Device) kick() {
	d.intrMu.Lock()
	w, r := d.wakeWriters, d.wakeReaders
	d.wakeWriters, d.wakeReaders = false, false
	d.intrMu.Unlock()

	if w {
		d.wchan.Broadcast()
	}
	if r {
		d.rchan.Broadcast()
	}
	if (w || r) && d.asyncOwner != nil {
		poke(d.asyncOwner.notify)
	}
}

// wait blocks on c until cond holds. It fails with ErrWouldBlock for
// non-blocking sessions and with ErrCancelled once the device is detached.
// Called with the thread lock held.
func (d *Device) wait(c *sync.Cond, nonblock bool, cond func() bool) error {
	for !cond() {
		if d.dying {
			return ErrCancelled
		}
		if nonblock {
			return ErrWouldBlock
		}
		c.Wait()
	}
	if d.dying {
		return ErrCancelled
	}

	return nil
}

// waitIdle blocks until no user copy is in flight on ch. Called with the
// thread lock held.
func (d *Device) waitIdle(ch *channel) error {
	for ch.copying() {
		if d.dying {
			return ErrCancelled
		}
		d.idle.Wait()
	}
	if d.dying {
		return ErrCancelled
	}

	return nil
}
