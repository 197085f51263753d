package pileup

import (
	"context"
	"fmt"
	"os"
	"sync"
	"testing"

	"github.com/biogo/hts/sam"
	"github.com/grailbio/testutil"
	"github.com/stretchr/testify/require"
)

// fakeChunker hands out a fixed slice of Chunks, one per call to Next, for
// exercising the Dispatcher/Worker pool without a real BAM input.
type fakeChunker struct {
	mu     sync.Mutex
	chunks []*Chunk
	next   int
}

func (f *fakeChunker) Next() (*Chunk, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.next >= len(f.chunks) {
		return nil, false, nil
	}
	c := f.chunks[f.next]
	f.next++
	return c, true, nil
}

// TestRunWorkersPreservesOrder drives the whole Dispatcher/Worker pipeline
// with a throwaway "mpileup" stand-in that drains the FIFO and prints only a
// line naming its chunk number, so the test can confirm the
// final sink received every chunk's output in chunk order even though the
// pool runs them concurrently (spec.md section 4.G, the dense-order
// property).
func TestRunWorkersPreservesOrder(t *testing.T) {
	dir, cleanup := testutil.TempDir(t, "", "")
	defer cleanup()
	fakeMpileup := writeFakeMpileup(t, dir)

	ref, err := sam.NewReference("chr1", "", "", 10000, nil, nil)
	require.NoError(t, err)
	header, err := sam.NewHeader(nil, []*sam.Reference{ref})
	require.NoError(t, err)

	const n = 6
	chunks := make([]*Chunk, n)
	for i := range chunks {
		rec, err := sam.NewRecord(fmt.Sprintf("read%d", i), ref, ref, i*10, i*10, 0, 60, nil, []byte("ACGT"), []byte{30, 30, 30, 30}, nil)
		require.NoError(t, err)
		chunks[i] = &Chunk{RefName: "chr1", Start: i * 10, End: i*10 + 10, Reads: []*sam.Record{rec}}
	}
	chunker := &fakeChunker{chunks: chunks}

	recipes := map[OutputFormat]Recipe{PILEUP: {StripHeaderCmd: "cat", Compressed: false}}
	args, err := Normalize(NormalizeArgsOpts{
		MpileupBin: fakeMpileup,
		Recipes:    recipes,
	})
	require.NoError(t, err)

	var sink inMemorySink
	dispatcher := NewDispatcher(dir, chunker, args.Recipe(), &sink)

	err = RunWorkers(context.Background(), 4, dispatcher, header, args)
	require.NoError(t, err)

	got := sink.String()
	for i := 0; i < n; i++ {
		want := fmt.Sprintf("chunk %d\n", i+1)
		require.Contains(t, got, want)
	}
	// Chunk numbers must appear in order in the final stream.
	lastIdx := -1
	for i := 0; i < n; i++ {
		idx := indexOfSubstring(got, fmt.Sprintf("chunk %d\n", i+1))
		require.Greater(t, idx, lastIdx)
		lastIdx = idx
	}
}

// writeFakeMpileup writes an executable shell script standing in for
// samtools: it discards its "mpileup <fifo> -l <fifo>.bed" arguments,
// drains the fifo so the FIFO Writer goroutine can complete, and prints a
// line identifying which chunk it ran for (encoded in the fifo's own
// filename, which the real samtools of course knows nothing about, but a
// test double is free to cheat).
func writeFakeMpileup(t *testing.T, dir string) string {
	path := dir + "/fake-mpileup"
	script := `#!/bin/sh
shift
fifo=$1
cat "$fifo" > /dev/null
base=$(basename "$fifo")
num=$(echo "$base" | sed -E 's/chunk-0*([0-9]+)\.bam/\1/')
echo "chunk $num"
`
	require.NoError(t, os.WriteFile(path, []byte(script), 0755))
	return path
}

func indexOfSubstring(s, sub string) int {
	for i := 0; i+len(sub) <= len(s); i++ {
		if s[i:i+len(sub)] == sub {
			return i
		}
	}
	return -1
}

type inMemorySink struct {
	mu  sync.Mutex
	buf []byte
}

func (s *inMemorySink) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.buf = append(s.buf, p...)
	return len(p), nil
}

func (s *inMemorySink) String() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return string(s.buf)
}
