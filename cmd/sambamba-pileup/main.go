// Copyright 2020 Grail Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//    http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
package main

/*
sambamba-pileup splits a BAM file into overlapping chunks and runs each
chunk through an external mpileup/caller pipeline in parallel, reassembling
the tools' output into a single ordered stream on stdout, or in the file
named by -o/--output-filename.
*/

import (
	"flag"
	"fmt"
	"io"
	"os"
	"runtime"
	"strings"

	"github.com/grailbio/base/grail"
	"github.com/grailbio/base/log"
	"github.com/grailbio/base/vcontext"
	"github.com/grailbio/bio/encoding/bamprovider"

	"github.com/grailbio/sambamba-pileup/pileup"
)

var (
	bamIndexPath = flag.String("index", "", "Input BAM index path. Defaults to bampath + .bai")
	bufferSize   = flag.Int64("buffer-size", 64<<20, "Target bytes of BAM reads per chunk")
	numWorkers   = flag.Int("nthreads", 0, "Number of chunks to run concurrently; 0 = runtime.NumCPU()")
	tempDir      = flag.String("temp-dir", "", "Directory to create the per-run scratch directory in (default os.TempDir())")
	outputPath   string
	regionsPath  string
)

func init() {
	const outputUsage = "Final output file path (default stdout)"
	flag.StringVar(&outputPath, "o", "", outputUsage)
	flag.StringVar(&outputPath, "output-filename", "", outputUsage)
	const regionsUsage = "BED file restricting the covered region set (default: whole input)"
	flag.StringVar(&regionsPath, "L", "", regionsUsage)
	flag.StringVar(&regionsPath, "regions", "", regionsUsage)
}

func usage() {
	fmt.Fprintf(os.Stderr, "Usage: %s [OPTIONS] bampath --samtools <mpileup-args...> [--bcftools <caller-args...>]\n", os.Args[0])
	fmt.Fprintf(os.Stderr, "Other options:\n")
	flag.PrintDefaults()
}

func main() {
	flag.Usage = usage

	// The Recipe table built in pileup.Recipes re-invokes this same binary
	// as a subprocess to strip headers and spool-compress chunk output
	// (spec.md section 4.B); dispatch those before anything else touches
	// flag.CommandLine or grail.Init.
	if len(os.Args) >= 2 {
		switch os.Args[1] {
		case "strip-header":
			if len(os.Args) != 3 {
				fmt.Fprintln(os.Stderr, "sambamba-pileup: strip-header requires exactly one format flag")
				os.Exit(1)
			}
			if err := runStripHeader(os.Args[2], os.Stdin, os.Stdout); err != nil {
				fmt.Fprintf(os.Stderr, "sambamba-pileup: strip-header: %v\n", err)
				os.Exit(1)
			}
			return
		case "spool-compress":
			if err := runSpoolCompress(os.Stdin, os.Stdout); err != nil {
				fmt.Fprintf(os.Stderr, "sambamba-pileup: spool-compress: %v\n", err)
				os.Exit(1)
			}
			return
		}
	}

	bamPath, mpileupBin, pileupArgs, callerBin, callerArgs, hasCaller, err := splitArgs(os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "sambamba-pileup: %v\n", err)
		usage()
		os.Exit(1)
	}

	shutdown := grail.Init()
	defer shutdown()

	if *tempDir == "" {
		*tempDir = os.TempDir()
	}
	if *numWorkers <= 0 {
		*numWorkers = runtime.NumCPU()
	}

	selfPath, err := os.Executable()
	if err != nil {
		log.Fatalf("sambamba-pileup: could not resolve own executable path: %v", err)
	}

	provider := bamprovider.NewProvider(bamPath, bamprovider.ProviderOpts{Index: *bamIndexPath})
	defer func() {
		if err := provider.Close(); err != nil {
			log.Printf("sambamba-pileup: closing provider: %v", err)
		}
	}()

	var sink io.Writer = os.Stdout
	if outputPath != "" {
		f, err := os.Create(outputPath)
		if err != nil {
			log.Fatalf("sambamba-pileup: creating output file %s: %v", outputPath, err)
		}
		defer func() {
			if err := f.Close(); err != nil {
				log.Printf("sambamba-pileup: closing output file %s: %v", outputPath, err)
			}
		}()
		sink = f
	}

	ctx := vcontext.Background()
	opts := pileup.Opts{
		Provider:    provider,
		MpileupBin:  mpileupBin,
		CallerBin:   callerBin,
		HasCaller:   hasCaller,
		PileupArgs:  pileupArgs,
		CallerArgs:  callerArgs,
		NumWorkers:  *numWorkers,
		BufferSize:  *bufferSize,
		TmpDir:      *tempDir,
		SelfPath:    selfPath,
		RegionsPath: regionsPath,
		Sink:        sink,
	}
	if err := pileup.Run(ctx, opts); err != nil {
		fmt.Fprintf(os.Stderr, "sambamba-pileup: %v\n", err)
		os.Exit(1)
	}
	log.Debug.Printf("exiting")
}

// splitArgs separates the positional BAM path, flag.Parse's own flags, and
// the two external tool command lines introduced by the "--samtools" and
// "--bcftools" markers, each of which consumes every token up to the next
// marker or the end of argv. flag.Parse cannot do this split itself because
// the tool command lines may contain tokens that look like Go flags
// (spec.md section 6).
func splitArgs(argv []string) (bamPath, mpileupBin string, pileupArgs []string, callerBin string, callerArgs []string, hasCaller bool, err error) {
	samtoolsIdx := indexOf(argv, "--samtools")
	if samtoolsIdx < 0 {
		return "", "", nil, "", nil, false, fmt.Errorf("--samtools <mpileup-binary> <args...> is required")
	}
	bcftoolsIdx := indexOf(argv, "--bcftools")

	flagArgs := argv[:samtoolsIdx]
	if err := flag.CommandLine.Parse(flagArgs); err != nil {
		return "", "", nil, "", nil, false, err
	}
	if flag.NArg() != 1 {
		return "", "", nil, "", nil, false, fmt.Errorf("expected exactly one positional argument (bampath), got %q", strings.Join(flag.Args(), " "))
	}
	bamPath = flag.Arg(0)

	samtoolsEnd := len(argv)
	if bcftoolsIdx >= 0 {
		samtoolsEnd = bcftoolsIdx
	}
	samtoolsTokens := argv[samtoolsIdx+1 : samtoolsEnd]
	if len(samtoolsTokens) == 0 {
		return "", "", nil, "", nil, false, fmt.Errorf("--samtools requires at least a binary path")
	}
	mpileupBin, pileupArgs = samtoolsTokens[0], samtoolsTokens[1:]

	if bcftoolsIdx >= 0 {
		bcftoolsTokens := argv[bcftoolsIdx+1:]
		if len(bcftoolsTokens) == 0 {
			return "", "", nil, "", nil, false, fmt.Errorf("--bcftools requires at least a binary path")
		}
		callerBin, callerArgs = bcftoolsTokens[0], bcftoolsTokens[1:]
		hasCaller = true
	}
	return bamPath, mpileupBin, pileupArgs, callerBin, callerArgs, hasCaller, nil
}

func indexOf(argv []string, tok string) int {
	for i, a := range argv {
		if a == tok {
			return i
		}
	}
	return -1
}
