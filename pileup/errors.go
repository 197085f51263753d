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

// Package pileup implements the parallel chunk-pileup driver core: chunking
// a BAM region into overlapping work units, farming each chunk out to an
// external mpileup/variant-caller pipeline through a FIFO, and reassembling
// the external tools' output into a single ordered stream.
package pileup

import (
	"github.com/grailbio/base/errors"
)

// Stage tags the pipeline phase an error occurred in, so that callers (and
// tests) can distinguish spec error kinds without defining a parallel Kind
// enum on top of errors.Kind.
type Stage string

// These correspond to the error kinds in spec.md section 7.
const (
	StageToolMissing      Stage = "tool missing"
	StageArgRejected      Stage = "argument rejected"
	StageFifoSetup        Stage = "fifo setup"
	StageSubprocessFailed Stage = "subprocess failed"
	StageIO               Stage = "io"
	StageBamRead          Stage = "bam read"
)

// stageErr wraps err with the given stage and context, in the style of
// errors.E(err, "label", detail) used throughout grailbio/bio.
func stageErr(stage Stage, args ...interface{}) error {
	full := append([]interface{}{string(stage)}, args...)
	return errors.E(full...)
}

// argError reports a structured Argument Normalizer failure, citing the
// offending token, per spec.md section 4.A.
func argError(token string, reason string) error {
	return errors.E(errors.Invalid, string(StageArgRejected), reason, "token:", token)
}

// toolMissingError reports a missing or rejected external binary.
func toolMissingError(name, reason string) error {
	return errors.E(errors.NotExist, string(StageToolMissing), name, reason)
}
