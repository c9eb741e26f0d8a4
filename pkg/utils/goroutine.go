// Package utils holds test helpers shared by the session packages.
package utils

import (
	"bytes"
	"fmt"
	"runtime"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

// GoroutineLeakDetector fails a test when goroutines started during it are
// still running at the end. Goroutines are told apart by id, so a test that
// happens to end with the same count but different goroutines still fails.
type GoroutineLeakDetector struct {
	t             testing.TB
	before        map[string]struct{}
	allowedGrowth int
	timeout       time.Duration
}

// NewGoroutineLeakDetector creates a detector for t
func NewGoroutineLeakDetector(t testing.TB) *GoroutineLeakDetector {
	return &GoroutineLeakDetector{
		t:       t,
		timeout: time.Second,
	}
}

// Start records the goroutines that exist before the code under test runs
func (d *GoroutineLeakDetector) Start() {
	d.before = make(map[string]struct{})
	for _, g := range goroutines() {
		d.before[g.id] = struct{}{}
	}
}

// Check waits up to the stabilize delay for new goroutines to exit and
// reports the ones that remain.
func (d *GoroutineLeakDetector) Check() {
	d.t.Helper()
	var leaked []goroutine
	deadline := time.Now().Add(d.timeout)
	for {
		leaked = leaked[:0]
		for _, g := range goroutines() {
			if _, ok := d.before[g.id]; !ok && !g.ignored() {
				leaked = append(leaked, g)
			}
		}
		if len(leaked) <= d.allowedGrowth || time.Now().After(deadline) {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if len(leaked) <= d.allowedGrowth {
		return
	}

	sort.Slice(leaked, func(i, j int) bool { return leaked[i].top < leaked[j].top })
	var b strings.Builder
	for _, g := range leaked {
		fmt.Fprintf(&b, "goroutine %s [%s]\n%s\n\n", g.id, g.state, g.stack)
	}
	assert.Failf(d.t, "goroutine leak",
		"%d goroutines outlived the test (allowed %d):\n%s", len(leaked), d.allowedGrowth, b.String())
}

// SetAllowedGrowth tolerates n goroutines that never exit
func (d *GoroutineLeakDetector) SetAllowedGrowth(n int) *GoroutineLeakDetector {
	d.allowedGrowth = n
	return d
}

// SetStabilizeDelay sets how long Check waits for goroutines to exit
func (d *GoroutineLeakDetector) SetStabilizeDelay(delay time.Duration) *GoroutineLeakDetector {
	d.timeout = delay
	return d
}

type goroutine struct {
	id    string
	state string
	top   string
	stack string
}

// ignored filters goroutines owned by the runtime and the test framework
func (g goroutine) ignored() bool {
	for _, prefix := range []string{"testing.", "runtime.", "os/signal."} {
		if strings.HasPrefix(g.top, prefix) {
			return true
		}
	}
	return false
}

func goroutines() []goroutine {
	buf := make([]byte, 1<<16)
	for {
		n := runtime.Stack(buf, true)
		if n < len(buf) {
			buf = buf[:n]
			break
		}
		buf = make([]byte, 2*len(buf))
	}

	var out []goroutine
	self := true
	for _, block := range bytes.Split(buf, []byte("\n\n")) {
		// the first block is the calling goroutine
		if self {
			self = false
			continue
		}
		if g, ok := parseGoroutine(string(block)); ok {
			out = append(out, g)
		}
	}
	return out
}

// parseGoroutine reads one block of runtime.Stack output:
//
//	goroutine 7 [chan receive]:
//	main.worker(...)
func parseGoroutine(block string) (goroutine, bool) {
	header, rest, _ := strings.Cut(block, "\n")
	header = strings.TrimPrefix(header, "goroutine ")
	id, state, ok := strings.Cut(header, " ")
	if !ok {
		return goroutine{}, false
	}
	state = strings.TrimSuffix(strings.TrimPrefix(state, "["), "]:")
	top, _, _ := strings.Cut(rest, "\n")
	if i := strings.LastIndex(top, "("); i > 0 {
		top = top[:i]
	}
	return goroutine{id: id, state: state, top: top, stack: rest}, true
}
