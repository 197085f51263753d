package pileup

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"v.io/x/lib/vlog"
)

// ChunkJob is one unit of scheduled work: a Chunk plus the filesystem paths
// a Worker uses to run it (spec.md section 4.G).
type ChunkJob struct {
	Num      int
	Chunk    *Chunk
	FifoPath string
	BedPath  string
}

// chunkSource is the Chunker's interface as seen by the Dispatcher, kept
// narrow so tests can drive the ordering logic without a real BAM input.
type chunkSource interface {
	Next() (*Chunk, bool, error)
}

// Dispatcher hands out chunks in order and collects their output back in
// that same order, even though workers finish in whatever order the
// external pipeline happens to run (spec.md section 4.F, "next_chunk" and
// "try_emit"). Two independent locks guard two independent pieces of
// state: the scheduling lock serializes pulling the next Chunk out of the
// Chunker, and the ordering lock (with its condition variable) serializes
// commits to the final sink.
type Dispatcher struct {
	workDir string

	schedMu    sync.Mutex
	chunker    chunkSource
	nextNum    int
	freedFifos map[string]bool

	orderMu  sync.Mutex
	orderCnd *sync.Cond
	currNum  int
	recipe   Recipe
	sink     io.Writer
	abortErr error
}

// NewDispatcher creates a Dispatcher that schedules out of chunker and
// commits decompressed chunk output, in order, to sink using recipe.
func NewDispatcher(workDir string, chunker chunkSource, recipe Recipe, sink io.Writer) *Dispatcher {
	d := &Dispatcher{
		workDir:    workDir,
		chunker:    chunker,
		nextNum:    1,
		currNum:    0,
		recipe:     recipe,
		sink:       sink,
		freedFifos: make(map[string]bool),
	}
	d.orderCnd = sync.NewCond(&d.orderMu)
	return d
}

// NextChunk pulls the next Chunk off the Chunker under the scheduling lock,
// assigns it a 1-based sequence number, and writes its BED side-car
// (spec.md section 4.C/4.G). ok is false once the Chunker is exhausted.
func (d *Dispatcher) NextChunk() (job *ChunkJob, ok bool, err error) {
	d.schedMu.Lock()
	defer d.schedMu.Unlock()

	chunk, ok, err := d.chunker.Next()
	if err != nil || !ok {
		return nil, false, err
	}
	num := d.nextNum
	d.nextNum++

	fifoPath := filepath.Join(d.workDir, fmt.Sprintf("chunk-%06d.bam", num))
	if d.freedFifos[fifoPath] {
		vlog.Fatalf("NextChunk: fifo path %s was already freed by an earlier chunk", fifoPath)
	}
	bedPath := fifoPath + ".bed"
	if err := writeBed(bedPath, chunk); err != nil {
		return nil, false, err
	}
	return &ChunkJob{Num: num, Chunk: chunk, FifoPath: fifoPath, BedPath: bedPath}, true, nil
}

// FreeFifo records that fifoPath's FIFO has been removed once its job
// finished, so NextChunk can catch a would-be path reuse (spec.md section
// 4.G: chunk numbers, and the FIFO paths derived from them, are never
// reused within a run).
func (d *Dispatcher) FreeFifo(fifoPath string) {
	d.schedMu.Lock()
	defer d.schedMu.Unlock()
	d.freedFifos[fifoPath] = true
}

// writeBed writes the single-region BED side-car restricting mpileup to
// chunk's tight interval, using the chunk's start_position/end_position
// fields consistently as the region bounds (spec.md section 9, Open
// Question).
func writeBed(path string, chunk *Chunk) error {
	line := fmt.Sprintf("%s\t%d\t%d\n", chunk.RefName, chunk.Start, chunk.End)
	if err := os.WriteFile(path, []byte(line), 0600); err != nil {
		return stageErr(StageFifoSetup, err, "write bed sidecar", path)
	}
	return nil
}

// TryEmit blocks until every chunk numbered below num has been committed,
// then decompresses data per the Dispatcher's Recipe, writes it to the
// sink, and wakes any other Worker waiting for its own turn (spec.md
// section 4.F/4.H). It returns immediately with the sticky abort error if
// another Worker has already called Abort.
func (d *Dispatcher) TryEmit(num int, data []byte) error {
	d.orderMu.Lock()
	defer d.orderMu.Unlock()

	if num <= d.currNum {
		vlog.Fatalf("TryEmit: chunk %d already committed (currNum=%d)", num, d.currNum)
	}

	for d.currNum != num-1 && d.abortErr == nil {
		d.orderCnd.Wait()
	}
	if d.abortErr != nil {
		return d.abortErr
	}

	if err := d.recipe.Decompress(data, d.sink); err != nil {
		d.abortErr = err
		d.orderCnd.Broadcast()
		return err
	}
	d.currNum = num
	d.orderCnd.Broadcast()
	return nil
}

// Abort records err as the sticky first failure and wakes every Worker
// blocked in TryEmit so they can unwind instead of waiting for a chunk
// number that will never arrive (spec.md section 4.G, worker failure
// handling).
func (d *Dispatcher) Abort(err error) {
	d.orderMu.Lock()
	defer d.orderMu.Unlock()
	if d.abortErr == nil {
		d.abortErr = err
	}
	d.orderCnd.Broadcast()
}
