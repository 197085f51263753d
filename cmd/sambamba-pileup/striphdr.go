package main

import (
	"bufio"
	"compress/gzip"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/grailbio/bio/encoding/bgzf"
)

// bcfMagic is the 5-byte BCF2 container magic: "BCF" followed by the major
// and minor version bytes, ahead of the 4-byte little-endian l_text length
// and the l_text-byte plain-text VCF header that follows it.
var bcfMagic = [5]byte{'B', 'C', 'F', 2, 2}

// runStripHeader implements the "strip-header" self-invocation subcommand:
// it reads one chunk's full-format tool output from stdin and writes it
// back out with the leading header removed, so that concatenating chunk 1
// (kept whole) with chunk 2..N's stripped output yields a single
// well-formed stream (spec.md section 4.B).
func runStripHeader(format string, in io.Reader, out io.Writer) error {
	switch format {
	case "--vcf":
		return stripVCFHeader(in, out)
	case "--ubcf":
		return stripBCFHeader(in, out)
	case "--bcf":
		return stripCompressedBCFHeader(in, out)
	default:
		return fmt.Errorf("strip-header: unrecognized format flag %q", format)
	}
}

// stripVCFHeader copies in to out, skipping every leading line that begins
// with '#' (the VCF/pileup header block).
func stripVCFHeader(in io.Reader, out io.Writer) error {
	r := bufio.NewReader(in)
	inHeader := true
	for {
		line, err := r.ReadBytes('\n')
		if len(line) > 0 {
			if inHeader && len(line) > 0 && line[0] == '#' {
				// drop header line
			} else {
				inHeader = false
				if _, werr := out.Write(line); werr != nil {
					return werr
				}
			}
		}
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
	}
}

// stripBCFHeader strips a raw (uncompressed, "-Ou") BCF stream's leading
// magic + l_text header block, writing the rest through unchanged.
func stripBCFHeader(in io.Reader, out io.Writer) error {
	body, err := skipBCFHeaderBlock(in)
	if err != nil {
		return err
	}
	_, err = io.Copy(out, body)
	return err
}

// stripCompressedBCFHeader strips a BGZF-compressed ("-Ob") BCF stream's
// header, then recompresses the remainder. BGZF is a sequence of
// independently-gzip-decodable blocks, so the standard library's
// multistream gzip reader decodes it exactly like a dedicated BGZF reader
// would; recompression uses the project's own BGZF writer.
func stripCompressedBCFHeader(in io.Reader, out io.Writer) error {
	gz, err := gzip.NewReader(in)
	if err != nil {
		return fmt.Errorf("strip-header: opening bgzf stream: %w", err)
	}
	defer gz.Close()

	body, err := skipBCFHeaderBlock(gz)
	if err != nil {
		return err
	}

	w, err := bgzf.NewWriter(out, 6)
	if err != nil {
		return fmt.Errorf("strip-header: creating bgzf writer: %w", err)
	}
	if _, err := io.Copy(w, body); err != nil {
		return err
	}
	return w.Close()
}

// skipBCFHeaderBlock reads and discards r's leading BCF2 magic, l_text, and
// header-text fields, returning r positioned at the first record byte.
func skipBCFHeaderBlock(r io.Reader) (io.Reader, error) {
	var magic [5]byte
	if _, err := io.ReadFull(r, magic[:]); err != nil {
		return nil, fmt.Errorf("strip-header: reading bcf magic: %w", err)
	}
	if magic != bcfMagic {
		return nil, fmt.Errorf("strip-header: not a BCF2 stream (got magic %v)", magic)
	}
	var lText uint32
	if err := binary.Read(r, binary.LittleEndian, &lText); err != nil {
		return nil, fmt.Errorf("strip-header: reading l_text: %w", err)
	}
	if _, err := io.CopyN(io.Discard, r, int64(lText)); err != nil {
		return nil, fmt.Errorf("strip-header: skipping header text: %w", err)
	}
	return r, nil
}
