package pileup

import (
	"bytes"
	"context"
	"os/exec"

	"github.com/grailbio/base/log"
)

// growBuffer is an io.Writer over a byte slice that grows by doubling
// rather than by bytes.Buffer's append-driven growth, so that a chunk's
// captured output — which can run to tens of megabytes — reallocates O(log
// n) times instead of on every short write from the external pipeline
// (spec.md section 4.E).
type growBuffer struct {
	buf []byte
}

// newGrowBuffer preallocates cap bytes; RunChunk passes
// initialCaptureCapacity, so output up to that size needs no growth at all.
func newGrowBuffer(cap int) *growBuffer {
	return &growBuffer{buf: make([]byte, 0, cap)}
}

func (g *growBuffer) Write(p []byte) (int, error) {
	need := len(g.buf) + len(p)
	if need > cap(g.buf) {
		g.grow(need)
	}
	g.buf = append(g.buf, p...)
	return len(p), nil
}

// grow reallocates g's backing array so it can hold at least need bytes,
// growing to at least double the current capacity so repeated small writes
// don't each trigger a fresh allocation.
func (g *growBuffer) grow(need int) {
	newCap := cap(g.buf) * 2
	if newCap < need {
		newCap = need
	}
	fresh := make([]byte, len(g.buf), newCap)
	copy(fresh, g.buf)
	g.buf = fresh
}

func (g *growBuffer) Bytes() []byte {
	return g.buf
}

// stderrCaptureLimit bounds how much of a failed chunk's stderr is retained
// for the SubprocessFailed error message (spec.md section 7).
const stderrCaptureLimit = 4096

// initialCaptureCapacity is the starting size of a chunk's captured-output
// buffer, independent of --buffer-size: the two are separate knobs (spec.md
// section 4.E, "initial capacity 1 MiB, doubling on overflow").
const initialCaptureCapacity = 1 << 20

// RunChunk executes shellCmd (as built by NormalizedArgs.Build) under
// "sh -c", capturing its stdout into a growBuffer starting at
// initialCaptureCapacity and doubling on overflow, and returns the captured
// bytes (spec.md section 4.E, the External-Process Runner). The caller is
// responsible for having already created and primed the chunk's FIFO before
// calling RunChunk, and for not writing to it concurrently in a way that
// would deadlock the pipe.
func RunChunk(ctx context.Context, shellCmd string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, "sh", "-c", shellCmd)
	stdout := newGrowBuffer(initialCaptureCapacity)
	stderr := &bytes.Buffer{}
	cmd.Stdout = stdout
	cmd.Stderr = &limitedWriter{w: stderr, limit: stderrCaptureLimit}

	log.Debug.Printf("sambamba-pileup: running %s", shellCmd)
	if err := cmd.Run(); err != nil {
		return nil, stageErr(StageSubprocessFailed, err, "command:", shellCmd, "stderr:", stderr.String())
	}
	return stdout.Bytes(), nil
}

// limitedWriter discards bytes past limit, so a noisy failing tool can't
// pin an unbounded amount of stderr in memory.
type limitedWriter struct {
	w     *bytes.Buffer
	limit int
}

func (l *limitedWriter) Write(p []byte) (int, error) {
	if room := l.limit - l.w.Len(); room > 0 {
		if room > len(p) {
			room = len(p)
		}
		l.w.Write(p[:room])
	}
	return len(p), nil
}
