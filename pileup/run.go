package pileup

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/grailbio/base/log"
	"github.com/grailbio/bio/encoding/bamprovider"
)

// Opts carries everything Run needs to drive one pileup invocation: the
// source of reads, the two external tool commands, pool sizing, and where
// final output goes (spec.md section 2, top-level driver inputs).
type Opts struct {
	Provider    bamprovider.Provider
	MpileupBin  string
	CallerBin   string
	HasCaller   bool
	PileupArgs  []string
	CallerArgs  []string
	NumWorkers  int
	BufferSize  int64
	TmpDir      string
	SelfPath    string
	// RegionsPath, when non-empty, is a BED file restricting the chunks the
	// Chunker emits (spec.md section 6, -L/--regions).
	RegionsPath string
	Sink        io.Writer
}

// Run chunks Opts.Provider's reads, farms each chunk out to the external
// mpileup/caller pipeline described by Opts, and writes the reassembled,
// ordered output to Opts.Sink (spec.md section 1, the driver's top-level
// contract). It owns the lifetime of its scratch directory: on both
// success and failure the directory and everything under it is removed
// before Run returns.
func Run(ctx context.Context, opts Opts) error {
	rc, err := NewRuntimeContext(opts.MpileupBin, opts.CallerBin, opts.SelfPath, opts.BufferSize)
	if err != nil {
		return err
	}

	chunker, err := NewChunker(opts.Provider, opts.BufferSize, opts.RegionsPath)
	if err != nil {
		return err
	}

	args, err := Normalize(NormalizeArgsOpts{
		MpileupArgs: opts.PileupArgs,
		CallerArgs:  opts.CallerArgs,
		HasCaller:   opts.HasCaller,
		MpileupBin:  rc.MpileupBin,
		CallerBin:   rc.CallerBin,
		SelfPath:    rc.SelfPath,
		Recipes:     rc.Recipes,
	})
	if err != nil {
		return err
	}
	for _, note := range args.Notes {
		log.Printf("sambamba-pileup: %s", note)
	}

	workDir := filepath.Join(opts.TmpDir, "sambamba-fork-"+scratchSuffix())
	if err := os.MkdirAll(workDir, 0700); err != nil {
		return stageErr(StageFifoSetup, err, "create work dir", workDir)
	}
	defer func() {
		if err := os.RemoveAll(workDir); err != nil {
			log.Printf("sambamba-pileup: cleanup of %s failed: %v", workDir, err)
		}
	}()

	dispatcher := NewDispatcher(workDir, chunker, args.Recipe(), opts.Sink)
	numWorkers := opts.NumWorkers
	if numWorkers < 1 {
		numWorkers = 1
	}
	return RunWorkers(ctx, numWorkers, dispatcher, chunker.Header(), args)
}

// scratchSuffix returns the six random hex characters (spec.md section 6,
// "Temporary layout": the first six hex characters of a generated UUID
// after stripping dashes) used to make each run's scratch directory unique.
func scratchSuffix() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:6]
}
