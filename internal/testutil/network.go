//go:build linux

// Package testutil provides a disposable network namespace for
// integration tests that create real links. Tests using it must be
// skipped for unprivileged runs: namespace and link setup needs
// CAP_NET_ADMIN, so the harness is only exercised by
//
//	sudo go test -v ./nlsys/
package testutil

import (
	"fmt"
	"os"
	"os/exec"
	"testing"
	"time"
)

// RequireRoot skips the test unless it can create network namespaces.
func RequireRoot(t *testing.T) {
	t.Helper()
	if os.Geteuid() != 0 {
		t.Skip("requires root (CAP_NET_ADMIN)")
	}
	if _, err := exec.LookPath("ip"); err != nil {
		t.Skip("requires the ip command")
	}
}

// Network is a test-scoped network namespace. All links created in it
// vanish with the namespace when the test ends.
type Network struct {
	name string
}

// NewNetwork creates a fresh named namespace and registers its
// teardown with the test.
func NewNetwork(t *testing.T) *Network {
	t.Helper()

	n := &Network{name: fmt.Sprintf("l3domtest%d", time.Now().UnixNano()%100000)}
	if out, err := exec.Command("ip", "netns", "add", n.name).CombinedOutput(); err != nil {
		t.Fatalf("creating namespace %s: %s (%s)", n.name, err, out)
	}
	t.Cleanup(func() {
		exec.Command("ip", "netns", "del", n.name).Run()
	})
	return n
}

// Name returns the namespace name, as resolvable by netns.GetFromName.
func (n *Network) Name() string {
	return n.name
}

// IP runs an ip subcommand inside the namespace and fails the test on
// error.
func (n *Network) IP(t *testing.T, args ...string) {
	t.Helper()

	full := append([]string{"-netns", n.name}, args...)
	if out, err := exec.Command("ip", full...).CombinedOutput(); err != nil {
		t.Fatalf("ip %v: %s (%s)", args, err, out)
	}
}
