package sync

import (
	"errors"
	"sync"
)

// ErrStopped is returned by ThreadGroup methods if Stop has already been
// called.
var ErrStopped = errors.New("ThreadGroup already stopped")

// ThreadGroup is a sync.WaitGroup with additional functionality for
// facilitating clean shutdown. It provides a StopChan method for notifying
// callers when shutdown occurs, and BeforeStop/AfterStop hooks that run
// around the wait. A ThreadGroup is only intended to be used once; its Add
// and Stop methods return errors if Stop has already been called.
//
// During shutdown it is common to close resources such as net.Listeners.
// Functions passed to BeforeStop are called as soon as Stop begins, which
// unblocks accept loops so that their threads can exit. Functions passed to
// AfterStop run once every thread has released the group, which is where
// databases and log files are closed.
type ThreadGroup struct {
	beforeStopFns []func()
	afterStopFns  []func()

	chanOnce sync.Once
	mu       sync.Mutex
	stopChan chan struct{}
	wg       sync.WaitGroup
}

// isStopped returns true if Stop has been called.
func (tg *ThreadGroup) isStopped() bool {
	select {
	case <-tg.StopChan():
		return true
	default:
		return false
	}
}

// Add increments the ThreadGroup counter.
func (tg *ThreadGroup) Add() error {
	tg.mu.Lock()
	defer tg.mu.Unlock()

	if tg.isStopped() {
		return ErrStopped
	}
	tg.wg.Add(1)
	return nil
}

// AfterStop adds a function to be called when Stop is called, after all
// threads have finished, in reverse order of registration. If the
// ThreadGroup is already stopped, the function is called immediately.
func (tg *ThreadGroup) AfterStop(fn func()) {
	tg.mu.Lock()
	defer tg.mu.Unlock()

	if tg.isStopped() {
		fn()
		return
	}
	tg.afterStopFns = append(tg.afterStopFns, fn)
}

// BeforeStop adds a function to be called during Stop, before waiting for
// the remaining threads to complete. If the ThreadGroup is already stopped,
// the function is called immediately.
func (tg *ThreadGroup) BeforeStop(fn func()) {
	tg.mu.Lock()
	defer tg.mu.Unlock()

	if tg.isStopped() {
		fn()
		return
	}
	tg.beforeStopFns = append(tg.beforeStopFns, fn)
}

// Done decrements the ThreadGroup counter.
func (tg *ThreadGroup) Done() {
	tg.wg.Done()
}

// Stop closes the stop channel, runs the BeforeStop hooks, blocks until the
// counter is zero, and then runs the AfterStop hooks in reverse order.
func (tg *ThreadGroup) Stop() error {
	tg.mu.Lock()
	if tg.isStopped() {
		tg.mu.Unlock()
		return ErrStopped
	}
	close(tg.stopChan)
	for i := len(tg.beforeStopFns) - 1; i >= 0; i-- {
		tg.beforeStopFns[i]()
	}
	tg.beforeStopFns = nil
	tg.mu.Unlock()

	tg.wg.Wait()

	tg.mu.Lock()
	for i := len(tg.afterStopFns) - 1; i >= 0; i-- {
		tg.afterStopFns[i]()
	}
	tg.afterStopFns = nil
	tg.mu.Unlock()
	return nil
}

// StopChan provides read-only access to the ThreadGroup's stop channel.
// Callers should select on StopChan in order to interrupt long-running
// operations (such as time.After).
func (tg *ThreadGroup) StopChan() <-chan struct{} {
	// Initialize tg.stopChan if it is nil; this makes an uninitialized
	// ThreadGroup valid, so no constructor is necessary.
	tg.chanOnce.Do(func() { tg.stopChan = make(chan struct{}) })
	return tg.stopChan
}
