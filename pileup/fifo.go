package pileup

import (
	"context"
	"os"
	"syscall"
	"time"

	"github.com/biogo/hts/bam"
	"github.com/biogo/hts/sam"
	"github.com/grailbio/base/log"
)

// fifoPollInterval is how often the FIFO Writer retries a nonblocking open
// while waiting for the external pipeline's mpileup stage to open its read
// end (spec.md section 4.D).
const fifoPollInterval = 50 * time.Millisecond

// CreateFifo creates a fresh named pipe at path, removing any stale file
// left behind by a previous, killed run.
func CreateFifo(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return stageErr(StageFifoSetup, err, "remove stale fifo", path)
	}
	if err := syscall.Mkfifo(path, 0600); err != nil {
		return stageErr(StageFifoSetup, err, "mkfifo", path)
	}
	return nil
}

// WriteChunk opens path's write end and streams header and reads into it as
// BAM, then closes it (spec.md section 4.D, the FIFO Writer). The Worker runs
// it in its own goroutine, started alongside the goroutine that spawns the
// chunk's external process; the two are not ordered.
//
// Opening a FIFO's write end blocks until some reader opens the read end.
// The external pipeline's mpileup stage does exactly that, but there is no
// guarantee it has been spawned, or has reached its own open(2) call, by the
// time this goroutine starts, so a naive blocking open here could race a
// fifo that no one has opened for reading yet. Instead this opens
// nonblocking in a poll loop — which returns ENXIO until a reader is
// present, rather than blocking — and only once that succeeds does it
// reopen in blocking mode for the real write (spec.md section 4.D).
func WriteChunk(ctx context.Context, path string, header *sam.Header, reads []*sam.Record) error {
	if err := waitForReader(ctx, path); err != nil {
		return err
	}

	f, err := os.OpenFile(path, os.O_WRONLY, 0)
	if err != nil {
		return stageErr(StageFifoSetup, err, "open fifo for write", path)
	}
	defer f.Close()

	w, err := bam.NewWriter(f, header, 1)
	if err != nil {
		return stageErr(StageIO, err, "create bam writer", path)
	}
	for _, r := range reads {
		if err := w.Write(r); err != nil {
			return stageErr(StageIO, err, "write bam record", path)
		}
	}
	if err := w.Close(); err != nil {
		return stageErr(StageIO, err, "close bam writer", path)
	}
	return nil
}

// waitForReader polls path with a nonblocking open until a reader has
// attached (or the underlying open fails for a reason other than "no
// reader yet"), or ctx is done.
func waitForReader(ctx context.Context, path string) error {
	for {
		probe, err := os.OpenFile(path, os.O_WRONLY|syscall.O_NONBLOCK, 0)
		if err == nil {
			probe.Close()
			return nil
		}
		if !isNoReaderYet(err) {
			return stageErr(StageFifoSetup, err, "probe-open fifo", path)
		}
		select {
		case <-ctx.Done():
			return stageErr(StageFifoSetup, ctx.Err(), "timed out waiting for fifo reader", path)
		case <-time.After(fifoPollInterval):
			log.Debug.Printf("sambamba-pileup: still waiting for a reader on %s", path)
		}
	}
}

// isNoReaderYet reports whether err is the ENXIO a nonblocking open(2) of a
// FIFO's write end returns when no process has the read end open.
func isNoReaderYet(err error) bool {
	perr, ok := err.(*os.PathError)
	if !ok {
		return false
	}
	return perr.Err == syscall.ENXIO
}
