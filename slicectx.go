package mpegcore

import (
	"errors"
	"sync"

	"github.com/sirupsen/logrus"
)

const (
	// maxSliceContexts caps the worker pool.
	maxSliceContexts = 16

	// maxBlocks is the per-macroblock coefficient block count ceiling
	// (4 luma + up to 8 chroma across subsampling modes).
	maxBlocks = 12

	// maxScratchBytes bounds a single scratch allocation.
	maxScratchBytes = 1 << 26
)

// codecState is the scalar snapshot shared by all slice contexts of a
// frame. It is copied by value on duplication and update; nothing in
// here may own memory that a single slice writes.
type codecState struct {
	geom geometry

	linesize int

	pictType PictureType
	discard  DiscardLevel

	qscale       int
	chromaQScale int
	yDCScale     int32
	cDCScale     int32

	intraDCPrecision int
	alternateScan    bool
	acPred           bool
	dcBypass         bool
	blockBased       bool

	intraMatrix *[64]uint16
	interMatrix *[64]uint16
	scan        *ScanTable

	dequantIntra dequantFunc
	dequantInter dequantFunc
}

// SliceContext is a per-worker view of the codec state plus privately
// owned scratch memory. Slices write disjoint macroblock row ranges of
// the shared current picture; the scratch buffer is never aliased
// across contexts by construction.
type SliceContext struct {
	codecState

	startRow int
	endRow   int

	// edgeEmu holds the replicated-edge source block when a motion
	// vector reaches past the reference border.
	edgeEmu []byte

	scratchLinesize int

	blocks    [maxBlocks][64]int32
	lastIndex [maxBlocks]int

	// Intra DC predictor cache per component, maintained across
	// intra/inter transitions.
	lastDC [3]int32

	// DC/AC predictor caches for the block-based profile, 8x8 block
	// granularity for luma, macroblock granularity for chroma.
	dcVal [3][]int16
	acVal [3][][16]int16
}

// allocScratch sizes the private edge-emulation buffer from the
// picture stride. An absurd stride surfaces ErrOutOfMemory before
// anything is allocated.
func (sc *SliceContext) allocScratch(linesize int) error {
	if linesize <= 0 {
		return ErrOutOfMemory
	}

	allocSize := (linesize + 32 + 31) &^ 31
	if allocSize*2*24 > maxScratchBytes {
		sc.edgeEmu = nil
		return ErrOutOfMemory
	}

	// Edge emulation needs block size + filter length - 1 rows at full
	// stride, doubled for interlaced reads.
	sc.edgeEmu = make([]byte, allocSize*2*24)
	sc.scratchLinesize = linesize

	return nil
}

func (sc *SliceContext) resetBlocks() {
	for i := range sc.lastIndex {
		sc.lastIndex[i] = -1
	}
}

// clearPending zeroes any block still marked as carrying coefficients.
// The parser assumes a zero-filled block array, so residuals that were
// skipped or discarded must not leak into the next macroblock.
func (sc *SliceContext) clearPending() {
	for i, last := range sc.lastIndex {
		if last >= 0 {
			sc.blocks[i] = [64]int32{}
			sc.lastIndex[i] = -1
		}
	}
}

// SetPredictionMode configures the AC-prediction coefficient range and
// the DC bypass used by the block-based profile.
func (sc *SliceContext) SetPredictionMode(acPred, dcBypass bool) {
	sc.acPred = acPred
	sc.dcBypass = dcBypass
}

// setQScale sets the quantizer scale and the values derived from it.
func (sc *SliceContext) setQScale(qscale int) {
	if qscale < 1 {
		qscale = 1
	} else if qscale > 31 {
		qscale = 31
	}

	sc.qscale = qscale
	sc.chromaQScale = qscale
	if sc.blockBased {
		sc.chromaQScale = int(chromaQScaleTable[qscale])
	}

	sc.yDCScale = int32(dcScaleTable[sc.intraDCPrecision][qscale])
	sc.cDCScale = int32(dcScaleTable[sc.intraDCPrecision][sc.chromaQScale])
}

// duplicateSliceContext derives a worker context from the master:
// value copy of the scalar snapshot, fresh private scratch.
func duplicateSliceContext(master *SliceContext) (*SliceContext, error) {
	dup := &SliceContext{codecState: master.codecState}
	dup.resetBlocks()
	dup.lastDC = master.lastDC

	if err := dup.allocScratch(master.linesize); err != nil {
		return nil, err
	}
	if dup.blockBased {
		dup.allocPredictors(dup.geom)
	}

	return dup, nil
}

// updateSliceContext refreshes dst from a changed master state while
// preserving dst's private scratch buffer and row assignment. Scratch
// is reallocated only when the stride changed underneath it.
func updateSliceContext(dst, src *SliceContext) error {
	startRow, endRow := dst.startRow, dst.endRow
	edgeEmu := dst.edgeEmu
	scratchLinesize := dst.scratchLinesize

	dst.codecState = src.codecState

	dst.startRow, dst.endRow = startRow, endRow
	dst.edgeEmu = edgeEmu
	dst.scratchLinesize = scratchLinesize

	if dst.edgeEmu == nil || dst.scratchLinesize != src.linesize {
		if err := dst.allocScratch(src.linesize); err != nil {
			return err
		}
	}
	if dst.blockBased &&
		(dst.dcVal[0] == nil || len(dst.dcVal[0]) != dst.geom.b8Stride*(2*dst.geom.mbHeight+1)) {
		dst.allocPredictors(dst.geom)
	}

	return nil
}

// clampSliceCount reduces a requested slice count to the pool ceiling
// and the number of macroblock rows.
func clampSliceCount(requested, mbHeight int) int {
	n := requested
	if n < 1 {
		n = 1
	}

	max := maxSliceContexts
	if mbHeight > 0 && mbHeight < max {
		max = mbHeight
	}
	if n > max {
		logrus.WithFields(logrus.Fields{
			"requested": n,
			"reduced":   max,
		}).Warn("Too many slices, reducing")
		n = max
	}

	return n
}

// sliceRowRanges partitions mbHeight rows across n slices. Ranges are
// contiguous, non-overlapping and cover exactly [0, mbHeight); the
// rounding spreads the remainder evenly.
func sliceRowRanges(mbHeight, n int) [][2]int {
	ranges := make([][2]int, n)
	for i := 0; i < n; i++ {
		ranges[i][0] = (mbHeight*i + n/2) / n
		ranges[i][1] = (mbHeight*(i+1) + n/2) / n
	}
	return ranges
}

// runSliceWorkers runs fn once per slice context, one goroutine each,
// and joins the failures. Workers write disjoint row ranges so no
// pixel-level locking is involved.
func runSliceWorkers(slices []*SliceContext, fn func(*SliceContext) error) error {
	if len(slices) == 1 {
		return fn(slices[0])
	}

	errs := make([]error, len(slices))

	var wg sync.WaitGroup
	for i, sc := range slices {
		wg.Add(1)
		go func(i int, sc *SliceContext) {
			defer wg.Done()
			errs[i] = fn(sc)
		}(i, sc)
	}
	wg.Wait()

	return errors.Join(errs...)
}
