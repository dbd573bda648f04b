// Package testutil provides fakes and canned device output shared by
// package tests.
package testutil

import (
	"fmt"
	"sync"
	"time"

	"github.com/netman-network/netman/pkg/conn"
	"github.com/netman-network/netman/pkg/inventory"
)

// FakeSession is a scripted conn.Session. Outputs maps a command to its
// reply; unmapped commands return a generic reply. SendErr, when set,
// fails every Send.
type FakeSession struct {
	Device   string
	Outputs  map[string]string
	SendErr  error
	SendWait time.Duration

	mu       sync.Mutex
	closed   bool
	sendLog  []string
	closeCnt int
}

func (s *FakeSession) Send(command string, readTimeout time.Duration) (string, error) {
	if s.SendWait > 0 {
		time.Sleep(s.SendWait)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return "", fmt.Errorf("session closed")
	}
	s.sendLog = append(s.sendLog, command)
	if s.SendErr != nil {
		return "", s.SendErr
	}
	if out, ok := s.Outputs[command]; ok {
		return out, nil
	}
	return "fake output for " + command, nil
}

func (s *FakeSession) Platform() inventory.Platform { return inventory.PlatformIOSXR }

func (s *FakeSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.closeCnt++
	return nil
}

// Closed reports whether Close has been called.
func (s *FakeSession) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// SendLog returns the commands sent, in order.
func (s *FakeSession) SendLog() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.sendLog))
	copy(out, s.sendLog)
	return out
}

// FakeDialer hands out FakeSessions. FailHosts lists device hosts whose
// connection attempts are refused.
type FakeDialer struct {
	Outputs   map[string]string
	FailHosts map[string]bool
	DialWait  time.Duration

	mu       sync.Mutex
	sessions []*FakeSession
	dials    int
}

func (d *FakeDialer) Dial(device *inventory.Device, password string, connectTimeout time.Duration) (conn.Session, error) {
	if d.DialWait > 0 {
		time.Sleep(d.DialWait)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dials++
	if d.FailHosts[device.Host] {
		return nil, fmt.Errorf("dial tcp %s: connection refused", device.Host)
	}
	s := &FakeSession{Device: device.Name, Outputs: d.Outputs}
	d.sessions = append(d.sessions, s)
	return s, nil
}

// Sessions returns every session handed out so far.
func (d *FakeDialer) Sessions() []*FakeSession {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]*FakeSession, len(d.sessions))
	copy(out, d.sessions)
	return out
}

// Dials returns the number of Dial calls.
func (d *FakeDialer) Dials() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

// FakeClock satisfies the scheduler's sleep hook without real waiting. It
// records requested sleep durations.
type FakeClock struct {
	mu     sync.Mutex
	slept  []time.Duration
	cancel <-chan struct{}
}

// Sleep records the duration and returns immediately. It honours the
// cancel channel contract: a closed channel aborts the sleep with false.
func (c *FakeClock) Sleep(d time.Duration, cancel <-chan struct{}) bool {
	c.mu.Lock()
	c.slept = append(c.slept, d)
	c.mu.Unlock()
	select {
	case <-cancel:
		return false
	default:
		return true
	}
}

// Slept returns the recorded sleep durations.
func (c *FakeClock) Slept() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]time.Duration, len(c.slept))
	copy(out, c.slept)
	return out
}
