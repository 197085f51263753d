package pileup

import (
	// bamprovider.Provider hands back github.com/biogo/hts/sam types, not
	// the github.com/grailbio/hts/sam types bam.Shard's StartRef/EndRef use.
	"github.com/biogo/hts/sam"
	"github.com/grailbio/bio/encoding/bam"
	"github.com/grailbio/bio/encoding/bamprovider"
	"github.com/grailbio/bio/interval"
)

// ChunkOverlapBases is the overlap slack (spec.md's Δ) added on both sides
// of a chunk's tight [start,end) interval when reading its covering reads.
// The external mpileup/caller pipeline is expected to filter by the BED
// region written alongside each chunk, discarding the overlap itself
// (spec.md section 1, item 5; section 3 "Chunk").
const ChunkOverlapBases = 500

// Chunk is an immutable unit of work produced by the Chunker: a genomic
// interval plus the finite ordered sequence of reads covering
// [start-Δ, end+Δ] (spec.md section 3).
type Chunk struct {
	RefID   int
	RefName string
	// Start and End are the tight, 0-based half-open interval this chunk is
	// responsible for. The BED side-car written by the Dispatcher uses these,
	// not the padded read range (spec.md section 9, Open Question: this
	// implementation picks the Start/End convention consistently).
	Start, End int
	Reads      []*sam.Record
}

// Chunker turns an ordered read iterator into a lazy, single-pass,
// non-restartable sequence of overlapping Chunks (spec.md section 4.C). It
// is built on top of bamprovider.Provider's sharding, the alignment
// library's region-overlap collaborator named in spec.md section 1.
type Chunker struct {
	provider bamprovider.Provider
	header   *sam.Header
	shards   []bam.Shard
	next     int
	// regions restricts emitted chunks to those overlapping a BED file
	// (spec.md section 6, -L/--regions); nil means no restriction.
	regions *interval.BEDUnion
}

// NewChunker creates a Chunker over provider, targeting bufferSize bytes per
// chunk (spec.md section 4.C default 64 MB, section 6 -b/--buffer-size). When
// regionsPath is non-empty, it is parsed as a BED file (spec.md section 6,
// -L/--regions) and shards with no overlap are skipped by Next.
func NewChunker(provider bamprovider.Provider, bufferSize int64, regionsPath string) (*Chunker, error) {
	header, err := provider.GetHeader()
	if err != nil {
		return nil, stageErr(StageBamRead, err, "read header")
	}
	shards, err := provider.GenerateShards(bamprovider.GenerateShardsOpts{
		Strategy:      bamprovider.ByteBased,
		BytesPerShard: bufferSize,
		Padding:       ChunkOverlapBases,
	})
	if err != nil {
		return nil, stageErr(StageBamRead, err, "generate shards")
	}

	var regions *interval.BEDUnion
	if regionsPath != "" {
		bedUnion, err := interval.NewBEDUnionFromPath(regionsPath, interval.NewBEDOpts{SAMHeader: header})
		if err != nil {
			return nil, stageErr(StageBamRead, err, "parse regions bed", regionsPath)
		}
		regions = &bedUnion
	}
	return &Chunker{provider: provider, header: header, shards: shards, regions: regions}, nil
}

// Header returns the BAM header shared by all chunks, needed by the FIFO
// Writer to construct the BAM stream for each chunk (spec.md section 4.D).
func (c *Chunker) Header() *sam.Header {
	return c.header
}

// Next returns the next Chunk in iteration order, or ok==false once the
// Chunker is exhausted (spec.md section 4.C: "finite, single-pass, not
// restartable").
func (c *Chunker) Next() (chunk *Chunk, ok bool, err error) {
	var shard bam.Shard
	var refID, start, end int
	var refName string
	for {
		if c.next >= len(c.shards) {
			return nil, false, nil
		}
		shard = c.shards[c.next]
		c.next++

		refID, refName, start, end = shardBounds(shard, c.header)
		if c.regions == nil || intersectsRegion(c.regions, refID, start, end) {
			break
		}
	}

	iter := c.provider.NewIterator(shard)
	reads := make([]*sam.Record, 0, 1024)
	for iter.Scan() {
		reads = append(reads, iter.Record())
	}
	iterErr := iter.Err()
	closeErr := iter.Close()
	if iterErr != nil {
		return nil, false, stageErr(StageBamRead, iterErr, "scan shard", shard.ShardIdx)
	}
	if closeErr != nil {
		return nil, false, stageErr(StageBamRead, closeErr, "close iterator", shard.ShardIdx)
	}
	return &Chunk{
		RefID:   refID,
		RefName: refName,
		Start:   start,
		End:     end,
		Reads:   reads,
	}, true, nil
}

// shardBounds derives the tight (unpadded) reference id, name, and
// [start,end) range for shard, handling the end-of-genome case
// (shard.EndRef == nil) the same way pileup/snp/pileup.go's pileupSNPMain
// does: the Shard's limit reference resolves to -1. In that case, and when
// the shard ends on a later reference, end is the length of the shard's start
// reference, so a chunk never spans past the end of its own reference.
func shardBounds(shard bam.Shard, header *sam.Header) (refID int, refName string, start, end int) {
	refID = shard.StartRef.ID()
	refName = shard.StartRef.Name()
	start = shard.Start

	limitRefID := -1
	if shard.EndRef != nil {
		limitRefID = shard.EndRef.ID()
	}
	if limitRefID < 0 || limitRefID != refID {
		refs := header.Refs()
		end = refs[refID].Len()
	} else {
		end = shard.End
	}
	return
}

// intersectsRegion reports whether [start,end) on refID overlaps regions,
// the same check pileup/snp/pileup.go's intersectionIsEmpty performs against
// a BEDUnion before processing a shard.
func intersectsRegion(regions *interval.BEDUnion, refID, start, end int) bool {
	if end <= start {
		return true
	}
	return regions.Intersects(refID, interval.PosType(start), refID, interval.PosType(end))
}
