package conn

import (
	"strings"
	"testing"
	"time"

	"github.com/netman-network/netman/pkg/inventory"
)

// A session whose read loop has exited (device dropped, channel closed)
// must fail Send immediately instead of spinning on the drained channel.
func TestSendSessionClosedBeforeWrite(t *testing.T) {
	out := make(chan []byte)
	close(out)
	s := &sshSession{
		out:    out,
		device: "zwe-r1",
		drv:    driverFor(inventory.PlatformIOSXR),
	}

	type result struct {
		output string
		err    error
	}
	done := make(chan result, 1)
	go func() {
		output, err := s.Send("show version", 100*time.Millisecond)
		done <- result{output, err}
	}()

	select {
	case r := <-done:
		if r.err == nil {
			t.Fatalf("Send on closed session returned %q, want error", r.output)
		}
		if !strings.Contains(r.err.Error(), "session closed") {
			t.Errorf("Send error = %v, want session closed", r.err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Send did not return on closed session")
	}
}
