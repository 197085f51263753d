package main

import (
	"flag"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func resetFlags() {
	flag.CommandLine = flag.NewFlagSet("sambamba-pileup", flag.ContinueOnError)
	bamIndexPath = flag.String("index", "", "")
	bufferSize = flag.Int64("buffer-size", 64<<20, "")
	numWorkers = flag.Int("nthreads", 0, "")
	tempDir = flag.String("temp-dir", "", "")
	outputPath, regionsPath = "", ""
	flag.StringVar(&outputPath, "o", "", "")
	flag.StringVar(&outputPath, "output-filename", "", "")
	flag.StringVar(&regionsPath, "L", "", "")
	flag.StringVar(&regionsPath, "regions", "", "")
}

func TestSplitArgsPileupOnly(t *testing.T) {
	resetFlags()
	bamPath, mpileupBin, pileupArgs, callerBin, callerArgs, hasCaller, err := splitArgs(
		[]string{"in.bam", "--samtools", "samtools", "-g", "-u"})
	require.NoError(t, err)
	assert.Equal(t, "in.bam", bamPath)
	assert.Equal(t, "samtools", mpileupBin)
	assert.Equal(t, []string{"-g", "-u"}, pileupArgs)
	assert.False(t, hasCaller)
	assert.Empty(t, callerBin)
	assert.Empty(t, callerArgs)
}

func TestSplitArgsWithCaller(t *testing.T) {
	resetFlags()
	bamPath, mpileupBin, pileupArgs, callerBin, callerArgs, hasCaller, err := splitArgs(
		[]string{"--nthreads", "4", "in.bam", "--samtools", "samtools", "-v", "--bcftools", "bcftools", "call", "-m"})
	require.NoError(t, err)
	assert.Equal(t, "in.bam", bamPath)
	assert.Equal(t, 4, *numWorkers)
	assert.Equal(t, "samtools", mpileupBin)
	assert.Equal(t, []string{"-v"}, pileupArgs)
	assert.True(t, hasCaller)
	assert.Equal(t, "bcftools", callerBin)
	assert.Equal(t, []string{"call", "-m"}, callerArgs)
}

func TestSplitArgsRequiresSamtools(t *testing.T) {
	resetFlags()
	_, _, _, _, _, _, err := splitArgs([]string{"in.bam"})
	require.Error(t, err)
}

func TestSplitArgsRequiresExactlyOnePositional(t *testing.T) {
	resetFlags()
	_, _, _, _, _, _, err := splitArgs([]string{"a.bam", "b.bam", "--samtools", "samtools"})
	require.Error(t, err)
}
