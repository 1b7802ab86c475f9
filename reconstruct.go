package mpegcore

import "fmt"

// Prediction direction bits.
const (
	MVForward = 1 << iota
	MVBackward
)

// Macroblock type bits recorded in the per-picture type map.
const (
	mbTypeIntra uint32 = 1 << iota
	mbTypeSkip
	mbTypeForward
	mbTypeBackward
)

// Macroblock is the per-macroblock syntax handed over by the bitstream
// layer: position, coding type, motion info and quantizer scale. The
// residual coefficients travel separately in the slice context's block
// array with their last-coefficient indexes.
type Macroblock struct {
	X int
	Y int

	Intra   bool
	Skipped bool

	QScale int

	// MVDir is a bitmask of MVForward / MVBackward; MV holds one
	// half-pel vector per direction.
	MVDir int
	MV    [2][2]int
}

// ErrorResilienceHook lets an external concealment module replay
// reconstruction for damaged macroblocks with substitute motion data.
// The replay takes the exact path of normal decode and recomputes all
// destination addressing from the given coordinates.
type ErrorResilienceHook interface {
	ReconstructConcealed(sc *SliceContext, mbX, mbY int, mv [2][2]int, mvDir int, intra, skipped bool) error
}

var _ ErrorResilienceHook = (*Engine)(nil)

// blocksPerMacroblock is 6 for 4:2:0 (4 luma + 2 chroma) and 8 for
// 4:2:2 (two extra chroma blocks below).
func blocksPerMacroblock(g geometry) int {
	if g.chromaYShift == 0 {
		return 8
	}
	return 6
}

// lowestReferencedRow computes the worst-case reference macroblock row
// a motion vector may read, used to gate cross-frame reads on the
// reference's progress counter.
func lowestReferencedRow(sc *SliceContext, mbY, mvy int) int {
	my := mvy << 1
	if my < 0 {
		my = -my
	}

	row := mbY + (my+63)>>6
	if row < 0 {
		row = 0
	}
	if max := sc.geom.mbHeight - 1; row > max {
		row = max
	}

	return row
}

func (sc *SliceContext) discardResidual() bool {
	switch sc.discard {
	case DiscardAll:
		return true
	case DiscardNonRef:
		return sc.pictType == PictureTypeB
	}
	return false
}

// allocPredictors sizes the DC/AC predictor caches used by the
// block-based profile. Luma predictors live at 8x8 block granularity,
// chroma at macroblock granularity.
func (sc *SliceContext) allocPredictors(g geometry) {
	ySize := g.b8Stride * (2*g.mbHeight + 1)
	cSize := g.mbStride * (g.mbHeight + 1)

	for i := 0; i < 3; i++ {
		size := cSize
		if i == 0 {
			size = ySize
		}
		sc.dcVal[i] = make([]int16, size)
		for j := range sc.dcVal[i] {
			sc.dcVal[i][j] = 1024
		}
		sc.acVal[i] = make([][16]int16, size)
	}
}

// cleanIntraTableEntries resets the DC and AC predictor caches covering
// the current non-intra macroblock. Stale predictor state would corrupt
// the next intra-coded neighbor.
func (sc *SliceContext) cleanIntraTableEntries(mbIntra []uint8, mbX, mbY int) {
	wrap := sc.geom.b8Stride
	xy := 2*mbY*wrap + 2*mbX

	sc.dcVal[0][xy] = 1024
	sc.dcVal[0][xy+1] = 1024
	sc.dcVal[0][xy+wrap] = 1024
	sc.dcVal[0][xy+1+wrap] = 1024
	sc.acVal[0][xy] = [16]int16{}
	sc.acVal[0][xy+1] = [16]int16{}
	sc.acVal[0][xy+wrap] = [16]int16{}
	sc.acVal[0][xy+1+wrap] = [16]int16{}

	wrap = sc.geom.mbStride
	xy = mbY*wrap + mbX
	sc.dcVal[1][xy] = 1024
	sc.dcVal[2][xy] = 1024
	sc.acVal[1][xy] = [16]int16{}
	sc.acVal[2][xy] = [16]int16{}

	mbIntra[xy] = 0
}

// ReconstructMacroblock applies dequantization, inverse transform and
// motion compensation for one macroblock and writes the result into
// the current picture. The residual is consumed from sc.blocks; blocks
// with no coefficients (lastIndex < 0) are skipped entirely.
func (e *Engine) ReconstructMacroblock(sc *SliceContext, mb *Macroblock) error {
	cur := &e.current
	if !cur.coherent() {
		return fmt.Errorf("no current picture: %w", ErrNoFrameBuffer)
	}

	g := sc.geom
	if mb.X < 0 || mb.X >= g.mbWidth || mb.Y < 0 || mb.Y >= g.mbHeight {
		return fmt.Errorf("macroblock (%d,%d) outside %dx%d: %w",
			mb.X, mb.Y, g.mbWidth, g.mbHeight, ErrInvalidGeometry)
	}

	mbXY := mb.Y*g.mbStride + mb.X

	sc.setQScale(mb.QScale)
	cur.tables.qscale[mbXY] = uint8(sc.qscale)

	// Predictor upkeep on intra/inter transitions.
	if !mb.Intra {
		if sc.blockBased {
			if e.mbIntraTable[mbXY] != 0 {
				sc.cleanIntraTableEntries(e.mbIntraTable, mb.X, mb.Y)
			}
		} else {
			dc := int32(128) << sc.intraDCPrecision
			sc.lastDC = [3]int32{dc, dc, dc}
		}
	} else if sc.blockBased {
		e.mbIntraTable[mbXY] = 1
	}

	// Skip map feeds the next frame's fast path and the concealment
	// bookkeeping. Non-reference output counts as skipped too.
	switch {
	case mb.Skipped:
		cur.tables.skip[mbXY] = 1
	case !cur.reference:
		cur.tables.skip[mbXY] = 1
	default:
		cur.tables.skip[mbXY] = 0
	}

	var mt uint32
	if mb.Intra {
		mt = mbTypeIntra
	}
	if mb.Skipped {
		mt |= mbTypeSkip
	}

	// Destination addressing is recomputed from the coordinates on
	// every call so concealment replays do not depend on loop state.
	lumaIdx := cur.Y.Index(mb.X<<4, mb.Y<<4)
	lumaStride := cur.Y.Stride

	cw := 16 >> g.chromaXShift
	ch := 16 >> g.chromaYShift
	cbIdx := cur.Cb.Index(mb.X*cw, mb.Y*ch)
	crIdx := cur.Cr.Index(mb.X*cw, mb.Y*ch)
	uvStride := cur.Cb.Stride

	if mb.Intra {
		cur.tables.mbType[mbXY] = mt
		for i, idx := range [4]int{
			lumaIdx,
			lumaIdx + 8,
			lumaIdx + 8*lumaStride,
			lumaIdx + 8*lumaStride + 8,
		} {
			if sc.lastIndex[i] < 0 {
				continue
			}
			sc.dequantIntra(sc, &sc.blocks[i], i, sc.qscale)
			idctPut(cur.Y.Data, idx, lumaStride, &sc.blocks[i], sc.lastIndex[i])
		}
		for i := 4; i < blocksPerMacroblock(g); i++ {
			if sc.lastIndex[i] < 0 {
				continue
			}
			dest, idx := cur.Cb.Data, cbIdx
			if i&1 != 0 {
				dest, idx = cur.Cr.Data, crIdx
			}
			if i >= 6 {
				idx += 8 * uvStride
			}
			sc.dequantIntra(sc, &sc.blocks[i], i, sc.chromaQScale)
			idctPut(dest, idx, uvStride, &sc.blocks[i], sc.lastIndex[i])
		}
		sc.clearPending()
		return nil
	}

	// Inter path: motion compensation first. A macroblock without an
	// explicit direction predicts forward with a zero vector.
	dir := mb.MVDir
	if dir == 0 {
		dir = MVForward
	}

	if dir&MVForward != 0 {
		mt |= mbTypeForward
		ref := &e.last
		if !ref.coherent() {
			return fmt.Errorf("forward prediction: %w", ErrNoReference)
		}
		cur.tables.motionVal[0][mbXY] = [2]int16{int16(mb.MV[0][0]), int16(mb.MV[0][1])}
		ref.progress.await(lowestReferencedRow(sc, mb.Y, mb.MV[0][1]))
		sc.motionCompensate(cur, ref, mb.X, mb.Y, mb.MV[0][0], mb.MV[0][1], false)
	}
	if dir&MVBackward != 0 {
		mt |= mbTypeBackward
		ref := &e.next
		if !ref.coherent() {
			return fmt.Errorf("backward prediction: %w", ErrNoReference)
		}
		cur.tables.motionVal[1][mbXY] = [2]int16{int16(mb.MV[1][0]), int16(mb.MV[1][1])}
		ref.progress.await(lowestReferencedRow(sc, mb.Y, mb.MV[1][1]))
		sc.motionCompensate(cur, ref, mb.X, mb.Y, mb.MV[1][0], mb.MV[1][1], dir&MVForward != 0)
	}
	cur.tables.mbType[mbXY] = mt

	if mb.Skipped || sc.discardResidual() {
		sc.clearPending()
		return nil
	}

	for i, idx := range [4]int{
		lumaIdx,
		lumaIdx + 8,
		lumaIdx + 8*lumaStride,
		lumaIdx + 8*lumaStride + 8,
	} {
		if sc.lastIndex[i] < 0 {
			continue
		}
		sc.dequantInter(sc, &sc.blocks[i], i, sc.qscale)
		idctAdd(cur.Y.Data, idx, lumaStride, &sc.blocks[i], sc.lastIndex[i])
	}
	for i := 4; i < blocksPerMacroblock(g); i++ {
		if sc.lastIndex[i] < 0 {
			continue
		}
		dest, idx := cur.Cb.Data, cbIdx
		if i&1 != 0 {
			dest, idx = cur.Cr.Data, crIdx
		}
		if i >= 6 {
			idx += 8 * uvStride
		}
		sc.dequantInter(sc, &sc.blocks[i], i, sc.chromaQScale)
		idctAdd(dest, idx, uvStride, &sc.blocks[i], sc.lastIndex[i])
	}
	sc.clearPending()

	return nil
}

// ReconstructConcealed re-drives reconstruction for a damaged
// macroblock with substitute motion data and an empty residual.
func (e *Engine) ReconstructConcealed(sc *SliceContext, mbX, mbY int, mv [2][2]int, mvDir int, intra, skipped bool) error {
	sc.clearPending()

	mb := Macroblock{
		X:       mbX,
		Y:       mbY,
		Intra:   intra,
		Skipped: skipped,
		QScale:  sc.qscale,
		MVDir:   mvDir,
		MV:      mv,
	}

	return e.ReconstructMacroblock(sc, &mb)
}
