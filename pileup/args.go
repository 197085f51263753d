package pileup

import (
	"fmt"
	"strings"

	"github.com/grailbio/base/log"
)

// unbundleExclude is the caller-side flag whitelist: tokens beginning with
// these letters are never split, so that e.g. "-Ov" survives intact
// (spec.md section 4.A.1).
const unbundleExclude = "O"

// unbundle splits any token matching "-" followed by two or more characters
// into separate single-letter flags up to the first non-alphabetic
// character; the remainder becomes the value of the last flag. A token
// whose second character is in exclude is preserved whole.
//
// unbundle(["-gu", "-Ob"], "O") == ["-g", "-u", "-Ob"]  (spec.md section 8).
func unbundle(tokens []string, exclude string) []string {
	out := make([]string, 0, len(tokens))
	for _, tok := range tokens {
		if len(tok) < 3 || tok[0] != '-' || tok[1] == '-' {
			out = append(out, tok)
			continue
		}
		if strings.ContainsRune(exclude, rune(tok[1])) {
			out = append(out, tok)
			continue
		}
		rest := tok[1:]
		i := 0
		for i < len(rest) && isAlpha(rest[i]) {
			i++
		}
		if i == 0 {
			out = append(out, tok)
			continue
		}
		for j := 0; j < i-1; j++ {
			out = append(out, "-"+string(rest[j]))
		}
		last := "-" + string(rest[i-1])
		if i < len(rest) {
			out = append(out, last, rest[i:])
		} else {
			out = append(out, last)
		}
	}
	return out
}

func isAlpha(b byte) bool {
	return (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z')
}

// NormalizedArgs is the Argument Normalizer's output: the normalized
// argument vectors, the effective OutputFormat, and a command-line builder
// for one chunk (spec.md section 4.A).
type NormalizedArgs struct {
	PileupArgs []string
	CallerArgs []string
	Format     OutputFormat
	Notes      []string

	mpileupBin string
	callerBin  string
	hasCaller  bool
	recipes    map[OutputFormat]Recipe
	selfPath   string
}

// NormalizeArgsOpts carries the inputs to Normalize.
type NormalizeArgsOpts struct {
	MpileupArgs []string
	CallerArgs  []string
	HasCaller   bool
	MpileupBin  string
	CallerBin   string
	SelfPath    string
	Recipes     map[OutputFormat]Recipe
}

// Normalize performs the Argument Normalizer's operations in order: unbundle,
// forbid -o, pileup-side format rewrite, caller-side format detect, and
// effective-format selection (spec.md section 4.A).
func Normalize(opts NormalizeArgsOpts) (*NormalizedArgs, error) {
	pileupArgs := unbundle(opts.MpileupArgs, unbundleExclude)
	callerArgs := unbundle(opts.CallerArgs, unbundleExclude)

	if tok := findOutputFlag(pileupArgs); tok != "" {
		return nil, argError(tok, "-o/--output-filename is reserved; the core owns final output")
	}
	if tok := findOutputFlag(callerArgs); tok != "" {
		return nil, argError(tok, "-o/--output-filename is reserved; the core owns final output")
	}

	hasG, hasV, hasU := false, false, false
	for _, a := range pileupArgs {
		switch a {
		case "-g":
			hasG = true
		case "-v":
			hasV = true
		case "-u":
			hasU = true
		}
	}
	if hasG && hasV {
		return nil, argError("-g/-v", "-g and -v are mutually exclusive mpileup output flags")
	}

	var notes []string
	if opts.HasCaller {
		pileupArgs = removeTokens(pileupArgs, "-g", "-v", "-u")
		pileupArgs = append(pileupArgs, "-g", "-u")
		note := "downgrading mpileup output to -gu (uncompressed binary) because a caller stage follows"
		notes = append(notes, note)
		log.Printf("sambamba-pileup: %s", note)
		hasG, hasU = true, true
		hasV = false
	}

	pileupFormat := PILEUP
	switch {
	case hasV:
		pileupFormat = VCF
	case hasG && hasU:
		pileupFormat = UncompressedBCF
	case hasG:
		pileupFormat = BCF
	}

	callerFormat, err := detectCallerFormat(callerArgs)
	if err != nil {
		return nil, err
	}

	format := pileupFormat
	if opts.HasCaller {
		format = callerFormat
	}
	if _, ok := opts.Recipes[format]; !ok {
		return nil, unsupportedFormatError(format)
	}

	return &NormalizedArgs{
		PileupArgs: pileupArgs,
		CallerArgs: callerArgs,
		Format:     format,
		Notes:      notes,
		mpileupBin: opts.MpileupBin,
		callerBin:  opts.CallerBin,
		hasCaller:  opts.HasCaller,
		recipes:    opts.Recipes,
		selfPath:   opts.SelfPath,
	}, nil
}

// findOutputFlag returns the first token forbidding direct output control,
// or "" if none is present.
func findOutputFlag(args []string) string {
	for _, a := range args {
		if a == "-o" || a == "--output-filename" || strings.HasPrefix(a, "--output-filename=") {
			return a
		}
	}
	return ""
}

func removeTokens(args []string, remove ...string) []string {
	out := args[:0:0]
	for _, a := range args {
		drop := false
		for _, r := range remove {
			if a == r {
				drop = true
				break
			}
		}
		if !drop {
			out = append(out, a)
		}
	}
	return out
}

// detectCallerFormat scans for -Ov|-Ob|-Ou|-Oz; the last occurrence wins
// (spec.md section 4.A.4). -Oz is rejected as unsupported.
func detectCallerFormat(args []string) (OutputFormat, error) {
	format := VCF
	found := false
	for _, a := range args {
		switch a {
		case "-Ov":
			format, found = VCF, true
		case "-Ob":
			format, found = BCF, true
		case "-Ou":
			format, found = UncompressedBCF, true
		case "-Oz":
			return GzippedVCF, argError("-Oz", "bgzipped VCF output is not supported")
		}
	}
	if !found {
		return VCF, nil
	}
	return format, nil
}

// Recipe returns the Recipe selected for this pipeline's effective format.
func (n *NormalizedArgs) Recipe() Recipe {
	return n.recipes[n.Format]
}

// Build produces the full shell pipeline for one chunk (spec.md section
// 4.A):
//
//	<mpileup> mpileup <fifo> -l <fifo>.bed <norm-pileup-args>
//	  [ | <caller> <norm-caller-args> ]
//	  [ | <strip_header_cmd> ]   (when num != 1)
//	  [ | <compression_cmd> ]   (when the Recipe compresses)
func (n *NormalizedArgs) Build(fifoPath string, num int) string {
	stages := []string{
		fmt.Sprintf("%s mpileup %s -l %s.bed %s",
			shellQuote(n.mpileupBin), shellQuote(fifoPath), shellQuote(fifoPath),
			strings.Join(quoteAll(n.PileupArgs), " ")),
	}
	if n.hasCaller {
		stages = append(stages, fmt.Sprintf("%s %s", shellQuote(n.callerBin), strings.Join(quoteAll(n.CallerArgs), " ")))
	}
	recipe := n.Recipe()
	if num != 1 {
		stages = append(stages, recipe.StripHeaderCmd)
	}
	if recipe.Compressed {
		stages = append(stages, spoolCompressCmd(n.selfPath))
	}
	return strings.Join(stages, " | ")
}

func quoteAll(args []string) []string {
	out := make([]string, len(args))
	for i, a := range args {
		out[i] = shellQuote(a)
	}
	return out
}
