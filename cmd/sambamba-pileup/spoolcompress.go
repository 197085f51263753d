package main

import (
	"io"

	"github.com/grailbio/sambamba-pileup/pileup"
)

// runSpoolCompress implements the "spool-compress" self-invocation
// subcommand: it reads a chunk's fully-formed output from stdin, encodes it
// with the block codec used to hold spooled chunk output pending ordered
// emission, and writes the encoded bytes to stdout (spec.md section 4.B).
func runSpoolCompress(in io.Reader, out io.Writer) error {
	data, err := io.ReadAll(in)
	if err != nil {
		return err
	}
	_, err = out.Write(pileup.Compress(data))
	return err
}
