package pileup

import (
	"bufio"
	"bytes"
	"os/exec"
	"strings"
)

// RuntimeContext is the immutable configuration threaded through the
// Dispatcher and every Worker: the tool names as given (each already checked
// by ProbeTool, which looks it up on PATH), the Recipe table, and
// this process's own executable path for self-invocation (spec.md section
// 4.F). It is built once at startup and never mutated afterwards.
type RuntimeContext struct {
	MpileupBin string
	CallerBin  string
	HasCaller  bool
	SelfPath   string
	BufferSize int64
	Recipes    map[OutputFormat]Recipe
}

// NewRuntimeContext probes mpileupBin and, if callerBin is non-empty,
// callerBin before returning (spec.md section 4.F). The names are stored as
// given; the PATH lookup done by the probe is not kept.
func NewRuntimeContext(mpileupBin, callerBin, selfPath string, bufferSize int64) (*RuntimeContext, error) {
	if err := ProbeTool(mpileupBin); err != nil {
		return nil, err
	}
	hasCaller := callerBin != ""
	if hasCaller {
		if err := ProbeTool(callerBin); err != nil {
			return nil, err
		}
	}
	return &RuntimeContext{
		MpileupBin: mpileupBin,
		CallerBin:  callerBin,
		HasCaller:  hasCaller,
		SelfPath:   selfPath,
		BufferSize: bufferSize,
		Recipes:    Recipes(selfPath),
	}, nil
}

// minSupportedMajor is the version prefix rejected for either tool: a tool
// identifying as "Version: 0.*" predates the output conventions the
// Argument Normalizer and Recipe table assume (spec.md section 4.F).
const minSupportedMajor = "0."

// ProbeTool runs name with no arguments and checks that it exits 1 and the
// third line of its output (stdout and stderr captured together) reads
// "Version: <non-zero major>" (spec.md section 4.F). samtools/bcftools both print this banner when invoked bare; any
// other behavior means the binary is missing, not executable, or too old.
func ProbeTool(name string) error {
	path, err := exec.LookPath(name)
	if err != nil {
		return toolMissingError(name, "not found on PATH")
	}

	cmd := exec.Command(path)
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out
	runErr := cmd.Run()

	exitErr, ok := runErr.(*exec.ExitError)
	if runErr != nil && !ok {
		return toolMissingError(name, "could not execute: "+runErr.Error())
	}
	if ok && exitErr.ExitCode() != 1 {
		return toolMissingError(name, "unexpected exit status probing version")
	}
	if runErr == nil {
		return toolMissingError(name, "unexpected success exit status probing version")
	}

	scanner := bufio.NewScanner(&out)
	var lines []string
	for scanner.Scan() && len(lines) < 3 {
		lines = append(lines, scanner.Text())
	}
	if len(lines) < 3 {
		return toolMissingError(name, "version banner missing")
	}
	third := lines[2]
	if !strings.HasPrefix(third, "Version:") {
		return toolMissingError(name, "third line is not a version banner: "+third)
	}
	if strings.HasPrefix(strings.TrimSpace(strings.TrimPrefix(third, "Version:")), minSupportedMajor) {
		return toolMissingError(name, "version predates supported output conventions: "+third)
	}
	return nil
}
