package pileup

import (
	"context"
	"os"
	"sync"

	"github.com/biogo/hts/sam"
	"github.com/grailbio/base/traverse"
	"golang.org/x/sync/errgroup"
)

// RunWorkers drives a fixed pool of numWorkers goroutines, each repeatedly
// pulling the next ChunkJob from dispatcher, running it against the
// external pipeline, and committing its output in order, until the
// Chunker is exhausted or any worker fails (spec.md section 4.G). The
// first failure aborts every other worker: it cancels ctx, which unblocks
// any RunChunk or WriteChunk in flight, and it calls dispatcher.Abort so no
// worker is left waiting on a chunk number that will never be committed.
func RunWorkers(ctx context.Context, numWorkers int, dispatcher *Dispatcher, header *sam.Header, args *NormalizedArgs) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var mu sync.Mutex
	var firstErr error
	record := func(err error) {
		if err == nil {
			return
		}
		mu.Lock()
		if firstErr == nil {
			firstErr = err
		}
		mu.Unlock()
		dispatcher.Abort(err)
		cancel()
	}

	_ = traverse.Each(numWorkers, func(workerID int) error {
		for {
			select {
			case <-ctx.Done():
				return nil
			default:
			}
			job, ok, err := dispatcher.NextChunk()
			if err != nil {
				record(err)
				return err
			}
			if !ok {
				return nil
			}
			if err := runChunkJob(ctx, job, header, args, dispatcher); err != nil {
				record(err)
				return err
			}
		}
	})
	return firstErr
}

// runChunkJob runs one chunk end to end: create its FIFO, run the external
// pipeline and the FIFO Writer concurrently, then commit the captured
// output through the Dispatcher's ordering gate (spec.md section 4.G).
func runChunkJob(ctx context.Context, job *ChunkJob, header *sam.Header, args *NormalizedArgs, dispatcher *Dispatcher) error {
	if err := CreateFifo(job.FifoPath); err != nil {
		return err
	}
	defer func() {
		os.Remove(job.FifoPath)
		dispatcher.FreeFifo(job.FifoPath)
	}()
	defer os.Remove(job.BedPath)

	shellCmd := args.Build(job.FifoPath, job.Num)

	var output []byte
	eg, egCtx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		var err error
		output, err = RunChunk(egCtx, shellCmd)
		return err
	})
	eg.Go(func() error {
		return WriteChunk(egCtx, job.FifoPath, header, job.Chunk.Reads)
	})
	if err := eg.Wait(); err != nil {
		return err
	}

	return dispatcher.TryEmit(job.Num, output)
}
