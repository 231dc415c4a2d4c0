package retransmit

import (
	"context"
	"sync"
	"time"
)

// Discipline owns the hardware timer and the deferred-work goroutine that
// runs whenever it fires. The hardware callback (time.AfterFunc's own
// goroutine, standing in for an hrtimer's irq context) never touches
// engine state directly; it only signals fireCh. The deferred-work loop
// picks that up and runs the caller-supplied onFire, which is expected to
// acquire the engine's lock before calling back into Fire.
type Discipline struct {
	timer *time.Timer

	fireCh chan struct{}
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	closeOnce sync.Once
}

// NewDiscipline returns a Discipline with its deferred-work goroutine not
// yet started; call Run to start it.
func NewDiscipline() *Discipline {
	ctx, cancel := context.WithCancel(context.Background())
	return &Discipline{
		fireCh: make(chan struct{}, 1),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Run starts the deferred-work loop, invoking onFire every time the
// hardware timer fires.
func (d *Discipline) Run(onFire func()) {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		for {
			select {
			case <-d.fireCh:
				onFire()
			case <-d.ctx.Done():
				return
			}
		}
	}()
}

// Arm (re)schedules the hardware timer for deadline, replacing any
// previous deadline. If the previous timer has already fired (its
// callback is queued or running), Arm is a no-op: the in-flight
// deferred-work call is expected to re-arm once it finishes running Fire,
// mirroring cancel_and_reset_retrans_timer bailing out when
// hrtimer_try_to_cancel fails rather than racing the running callback.
func (d *Discipline) Arm(deadline time.Time) {
	if d.timer != nil && !d.timer.Stop() {
		return
	}
	d.timer = time.AfterFunc(time.Until(deadline), func() {
		select {
		case d.fireCh <- struct{}{}:
		default:
		}
	})
}

// Cancel stops any pending deadline without arming a new one.
func (d *Discipline) Cancel() {
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
}

// Close stops the timer and waits for the deferred-work goroutine to
// quiesce. Safe to call multiple times.
func (d *Discipline) Close() {
	d.closeOnce.Do(func() {
		d.cancel()
		d.Cancel()
	})
	d.wg.Wait()
}
