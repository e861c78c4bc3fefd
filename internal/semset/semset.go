// Package semset implements the per-participant wait/wake primitive that
// lets a Lock put a participant to sleep instead of spinning: an array of
// MAX_PROCESSES counters, one per process-table slot, supporting Up (wake)
// and Down (sleep until positive). The contract is a single logical array;
// this implementation backs each slot with its own Linux eventfd opened in
// EFD_SEMAPHORE mode, which gives exact semaphore semantics (each read
// consumes one unit, blocking while the counter is zero) without the
// historical System V ipc namespace's small per-user set-count limits, the
// same reasoning the region layer applies when it prefers memfd over
// shmget.
package semset

import (
	"context"
	"fmt"

	"github.com/kdart/procshare/internal/config"
	"golang.org/x/sys/unix"
)

// Set is an array of config.MaxProcesses wait-counters, each backed by an
// eventfd. The descriptor array is per-participant: an ancestor creates the
// fds and a descendant inherits them (e.g. via os/exec's ExtraFiles), since
// file descriptors, unlike raw pointers, already cross a process-duplication
// boundary correctly.
type Set struct {
	fds [config.MaxProcesses]int
}

// New creates a fresh Set with every slot's eventfd allocated.
func New() (*Set, error) {
	s := &Set{}
	for i := range s.fds {
		fd, err := unix.Eventfd(0, unix.EFD_SEMAPHORE|unix.EFD_CLOEXEC)
		if err != nil {
			s.closeUpTo(i)
			return nil, fmt.Errorf("semset: eventfd(slot=%d): %w", i, err)
		}
		s.fds[i] = fd
	}
	return s, nil
}

// Open wraps a descriptor array inherited from an ancestor participant.
// len(fds) must equal config.MaxProcesses.
func Open(fds []int) (*Set, error) {
	if len(fds) != config.MaxProcesses {
		return nil, fmt.Errorf("semset: expected %d descriptors, got %d", config.MaxProcesses, len(fds))
	}
	s := &Set{}
	copy(s.fds[:], fds)
	return s, nil
}

// FDs returns the raw descriptor array, for a participant about to spawn a
// descendant to pass along (e.g. as exec.Cmd.ExtraFiles).
func (s *Set) FDs() []int {
	out := make([]int, len(s.fds))
	copy(out, s.fds[:])
	return out
}

// Close releases this participant's handles on the descriptor array. It
// does not affect other participants still holding the same fds (each has
// its own table entry from the OS, even when numerically identical after
// exec renumbering).
func (s *Set) Close() {
	s.closeUpTo(len(s.fds))
}

func (s *Set) closeUpTo(n int) {
	for i := 0; i < n; i++ {
		if s.fds[i] != 0 {
			_ = unix.Close(s.fds[i])
		}
	}
}

// Up increments slot's counter, waking one participant blocked in Down on
// that slot if any.
func (s *Set) Up(slot int32) error {
	fd, err := s.fd(slot)
	if err != nil {
		return err
	}
	var buf [8]byte
	buf[0] = 1
	if _, err := unix.Write(fd, buf[:]); err != nil {
		return fmt.Errorf("semset: up(slot=%d): %w", slot, err)
	}
	return nil
}

// Down blocks until slot's counter is positive, then decrements it by one.
// It is restartable on signal interruption, per spec.md's SemSet contract,
// and additionally cooperates with ctx cancellation by polling with a
// bounded timeout rather than blocking in Read indefinitely.
func (s *Set) Down(ctx context.Context, slot int32) error {
	fd, err := s.fd(slot)
	if err != nil {
		return err
	}
	pfd := []unix.PollFd{{Fd: int32(fd), Events: unix.POLLIN}}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		n, err := unix.Poll(pfd, 250)
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			return fmt.Errorf("semset: down(slot=%d) poll: %w", slot, err)
		}
		if n == 0 {
			continue // timed out waiting, re-check ctx and retry
		}
		var buf [8]byte
		if _, err := unix.Read(fd, buf[:]); err != nil {
			if err == unix.EINTR || err == unix.EAGAIN {
				continue
			}
			return fmt.Errorf("semset: down(slot=%d) read: %w", slot, err)
		}
		return nil
	}
}

func (s *Set) fd(slot int32) (int, error) {
	if slot < 0 || int(slot) >= config.MaxProcesses {
		return 0, fmt.Errorf("semset: slot %d out of range [0,%d)", slot, config.MaxProcesses)
	}
	return s.fds[slot], nil
}
