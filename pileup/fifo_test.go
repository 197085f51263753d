package pileup

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/biogo/hts/bam"
	"github.com/biogo/hts/sam"
	"github.com/grailbio/testutil"
	"github.com/stretchr/testify/require"
)

func testHeaderAndRecord(t *testing.T) (*sam.Header, *sam.Record) {
	ref, err := sam.NewReference("chr1", "", "", 10000, nil, nil)
	require.NoError(t, err)
	header, err := sam.NewHeader(nil, []*sam.Reference{ref})
	require.NoError(t, err)
	rec, err := sam.NewRecord("read1", ref, ref, 100, 100, 0, 60, nil, []byte("ACGT"), []byte{30, 30, 30, 30}, nil)
	require.NoError(t, err)
	return header, rec
}

func TestFifoRoundTrip(t *testing.T) {
	dir, cleanup := testutil.TempDir(t, "", "")
	defer cleanup()
	path := filepath.Join(dir, "chunk-000001.bam")
	require.NoError(t, CreateFifo(path))

	header, rec := testHeaderAndRecord(t)

	writeErrCh := make(chan error, 1)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		writeErrCh <- WriteChunk(ctx, path, header, []*sam.Record{rec})
	}()

	f, err := os.OpenFile(path, os.O_RDONLY, 0)
	require.NoError(t, err)
	defer f.Close()

	r, err := bam.NewReader(f, 1)
	require.NoError(t, err)
	defer r.Close()

	got, err := r.Read()
	require.NoError(t, err)
	require.Equal(t, rec.Name, got.Name)

	require.NoError(t, <-writeErrCh)
}

func TestCreateFifoRemovesStaleFile(t *testing.T) {
	dir, cleanup := testutil.TempDir(t, "", "")
	defer cleanup()
	path := filepath.Join(dir, "stale.bam")
	require.NoError(t, os.WriteFile(path, []byte("not a fifo"), 0600))
	require.NoError(t, CreateFifo(path))

	info, err := os.Stat(path)
	require.NoError(t, err)
	require.True(t, info.Mode()&os.ModeNamedPipe != 0)
}
