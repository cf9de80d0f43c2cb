/*Package exchange implements the double-buffered frame hand-off between the
acquisition (producer) and processing (consumer) contexts.

Two buffers exist.  Each side owns exactly one at any moment; ownership
transfers only through Swap, never by locking buffer contents.  The exchange
holds a per-role deposit slot and a per-role binary wake signal.  The
deposit-and-take step runs under one mutex, so at no point do both sides
observe the same buffer as writable.

A timed-out Swap is not an error.  It is the mechanism by which the consumer
services housekeeping (display refresh, shutdown checks) between frames.

Unblock releases both sides and is indistinguishable from a partner swap by
return shape; callers tell shutdown apart by checking their own stop flag.
That ambiguity is part of the contract, downstream code depends on it.
*/
package exchange

import (
	"sync"
	"time"
)

// Roles for Acquire and Swap.  Slot 0 is bound to the producer and slot 1 to
// the consumer at startup, so the two sides never contend for the same slot.
const (
	// Producer is the role of the context that fills frames from the device.
	Producer = 0

	// Consumer is the role of the context that processes completed frames.
	Consumer = 1
)

// Buffer is the resource moved through the exchange.  It is an interface so
// the exchange does not care about pixel formats; in practice it is always a
// *frame.Buffer.
type Buffer interface{}

// Exchange is a two-slot rendezvous.  The zero value is not usable; call New.
type Exchange struct {
	mu sync.Mutex

	// initial holds the buffer each role owns at startup, handed out by
	// Acquire exactly once.
	initial [2]Buffer

	// pending[role] is a buffer deposited by role, awaiting pickup by the
	// partner.  nil when role has nothing deposited.
	pending [2]Buffer

	// result[role] is a buffer delivered to role by the partner's swap,
	// not yet collected.
	result [2]Buffer

	// wake[role] is the binary rendezvous signal for role.
	wake [2]chan struct{}

	unblocked bool
}

// New returns an Exchange with a assigned to the producer role and b to the
// consumer role.
func New(a, b Buffer) *Exchange {
	x := &Exchange{}
	x.initial[Producer] = a
	x.initial[Consumer] = b
	x.wake[0] = make(chan struct{}, 1)
	x.wake[1] = make(chan struct{}, 1)
	return x
}

// Acquire returns the buffer owned by role at startup.  It never blocks.
// Calling it more than once per role returns the same buffer and is a
// caller bug.
func (x *Exchange) Acquire(role int) Buffer {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.initial[role]
}

// Swap deposits buf, signalling that role is done producing or consuming
// into it, and blocks until the partner performs its own Swap, returning the
// partner's buffer and true.  A zero timeout blocks indefinitely.
//
// If timeout is nonzero and the partner does not arrive in time, Swap
// returns (buf, false): ownership is not transferred and the caller must
// retry.  The deposit is retracted atomically, so the partner can never pick
// up a buffer whose owner has already timed out.
//
// After Unblock, Swap returns (buf, true) immediately.
func (x *Exchange) Swap(role int, buf Buffer, timeout time.Duration) (Buffer, bool) {
	other := 1 - role

	x.mu.Lock()
	// drain a stale wake token from a prior timed-out round trip
	select {
	case <-x.wake[role]:
	default:
	}
	if x.unblocked {
		x.mu.Unlock()
		return buf, true
	}
	if theirs := x.pending[other]; theirs != nil {
		// partner arrived first: take its deposit and deliver ours in the
		// same critical section
		x.pending[other] = nil
		x.result[other] = buf
		x.post(other)
		x.mu.Unlock()
		return theirs, true
	}
	// we are first: deposit and wait
	x.pending[role] = buf
	x.mu.Unlock()

	if timeout <= 0 {
		<-x.wake[role]
	} else {
		t := time.NewTimer(timeout)
		select {
		case <-x.wake[role]:
			t.Stop()
		case <-t.C:
		}
	}

	x.mu.Lock()
	defer x.mu.Unlock()
	if r := x.result[role]; r != nil {
		// partner swapped (possibly racing the timer); complete normally
		x.result[role] = nil
		return r, true
	}
	x.pending[role] = nil
	if x.unblocked {
		return buf, true
	}
	return buf, false
}

// Unblock releases both rendezvous points unconditionally.  Used only during
// shutdown.  The unblocked side sees a return identical in shape to a normal
// partner swap; it must check the shared stop flag to tell the two apart.
func (x *Exchange) Unblock() {
	x.mu.Lock()
	x.unblocked = true
	x.post(Producer)
	x.post(Consumer)
	x.mu.Unlock()
}

// post sets role's binary wake signal.  Setting an already-set signal is a
// no-op, matching binary semaphore semantics.
func (x *Exchange) post(role int) {
	select {
	case x.wake[role] <- struct{}{}:
	default:
	}
}
