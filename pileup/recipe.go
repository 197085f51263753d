package pileup

import (
	"fmt"
	"io"

	"github.com/grailbio/base/errors"
	"github.com/klauspost/compress/s2"
)

// Recipe is the triple (strip_header_cmd, compression_cmd, decompress) that
// defines how one OutputFormat is spooled and re-emitted (spec.md section
// 4.B). Rather than a function pointer per format, decompression is a branch
// on the Compressed flag in Decompress below — all per-format knowledge about
// spooling lives in this one file.
type Recipe struct {
	// StripHeaderCmd is a shell fragment that reads a full-format stream from
	// stdin and emits it with the leading header region removed. Applied to
	// every chunk except chunk 1.
	StripHeaderCmd string
	// Compressed is true when the post-strip stream is spooled through the s2
	// block codec before being held in memory pending ordered emission.
	Compressed bool
}

// selfInvoke builds the shell fragment that re-executes selfPath as a helper
// subcommand, consuming stdin and producing stdout (spec.md section 4.B).
func selfInvoke(selfPath string, args ...string) string {
	cmd := shellQuote(selfPath)
	for _, a := range args {
		cmd += " " + shellQuote(a)
	}
	return cmd
}

// Recipes returns the static Recipe table for the given self-invocation
// path. It is populated once, at RuntimeContext construction, mirroring
// spec.md section 4.B's "populated once at process start".
func Recipes(selfPath string) map[OutputFormat]Recipe {
	return map[OutputFormat]Recipe{
		PILEUP: {
			StripHeaderCmd: selfInvoke(selfPath, "strip-header", "--vcf"),
			Compressed:     true,
		},
		BCF: {
			StripHeaderCmd: selfInvoke(selfPath, "strip-header", "--bcf"),
			Compressed:     false,
		},
		UncompressedBCF: {
			StripHeaderCmd: selfInvoke(selfPath, "strip-header", "--ubcf"),
			Compressed:     true,
		},
		VCF: {
			StripHeaderCmd: selfInvoke(selfPath, "strip-header", "--vcf"),
			Compressed:     true,
		},
	}
}

// spoolCompressCmd is the shell fragment appended to a chunk's command line
// when its Recipe compresses spooled output (used by NormalizedArgs.Build in
// args.go).
func spoolCompressCmd(selfPath string) string {
	return selfInvoke(selfPath, "spool-compress")
}

// Compress spools bytes through the s2 block codec, the concrete block codec
// standing in for spec.md's out-of-scope "transient compression codec"
// (DESIGN.md / SPEC_FULL.md DOMAIN STACK). It is what a chunk's
// "| <self> spool-compress" pipeline stage runs (the spool-compress
// subcommand in cmd/sambamba-pileup), and tests call it directly.
func Compress(b []byte) []byte {
	return s2.Encode(nil, b)
}

// Decompress inverts Compress (or, for an uncompressed Recipe, copies the
// bytes through unchanged) and writes the result to sink. This is the
// Orderer's per-format knowledge, spec.md section 4.B/4.H.
func (r Recipe) Decompress(b []byte, sink io.Writer) error {
	if !r.Compressed {
		if _, err := sink.Write(b); err != nil {
			return errors.E(err, string(StageIO), "write final sink")
		}
		return nil
	}
	decoded, err := s2.Decode(nil, b)
	if err != nil {
		return errors.E(err, string(StageIO), "s2 decompress spool")
	}
	if _, err := sink.Write(decoded); err != nil {
		return errors.E(err, string(StageIO), "write final sink")
	}
	return nil
}

// shellQuote wraps s in single quotes, escaping any embedded single quote,
// suitable for interpolation into a `sh -c` command line (spec.md section
// 4.A's build(filename) -> shell string).
func shellQuote(s string) string {
	out := make([]byte, 0, len(s)+2)
	out = append(out, '\'')
	for i := 0; i < len(s); i++ {
		if s[i] == '\'' {
			out = append(out, '\'', '\\', '\'', '\'')
			continue
		}
		out = append(out, s[i])
	}
	out = append(out, '\'')
	return string(out)
}

// unsupportedFormatError reports a rejection of an OutputFormat with no
// Recipe (only GzippedVCF today).
func unsupportedFormatError(f OutputFormat) error {
	return errors.E(errors.Invalid, string(StageArgRejected), fmt.Sprintf("output format %v is not supported", f))
}
