package mpegcore

import (
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"
)

// ChromaFormat selects the chroma subsampling of the stream.
type ChromaFormat int

const (
	Chroma420 ChromaFormat = iota
	Chroma422
)

// Profile selects the dequantization family and scan behavior.
type Profile int

const (
	// ProfileSimple is the simple transform-domain profile with the
	// odd-biased dequantizer.
	ProfileSimple Profile = iota

	// ProfileLegacyInterlace is the legacy interlace-capable profile,
	// optionally with the bit-exact parity correction.
	ProfileLegacyInterlace

	// ProfileBlockBased dequantizes in raster order with the
	// qmul/qadd scheme.
	ProfileBlockBased
)

// DiscardLevel permits skipping residual work when the output will not
// be displayed or referenced.
type DiscardLevel int

const (
	DiscardNone DiscardLevel = iota
	DiscardNonRef
	DiscardAll
)

// Config is supplied by the stream configuration layer, once per
// stream.
type Config struct {
	Width  int
	Height int

	Chroma  ChromaFormat
	Profile Profile

	// BitExact enables the parity-corrected legacy dequantizer.
	BitExact bool

	// AlternateScan selects the alternate vertical scan order.
	AlternateScan bool

	IntraDCPrecision int

	// Slices is the requested worker count; clamped to the pool
	// ceiling and the macroblock row count.
	Slices int

	Discard DiscardLevel

	// Custom quant matrices in raster order; nil selects the defaults.
	IntraMatrix *[64]uint16
	InterMatrix *[64]uint16

	// Debug emits the per-macroblock map after every frame.
	Debug bool
}

// maxDimension is the sanity bound on either axis of the coded size.
const maxDimension = 65535

func checkGeometry(width, height int) error {
	if width <= 0 || height <= 0 || width > maxDimension || height > maxDimension {
		return fmt.Errorf("%dx%d: %w", width, height, ErrInvalidGeometry)
	}
	return nil
}

// Engine is the shared decode/encode core: picture pool, slice
// contexts and the reconstruction entry points. The orchestrating
// layer drives it with StartFrame / ReconstructMacroblock / EndFrame
// and owns the bitstream parsing that fills the slice contexts.
type Engine struct {
	cfg  Config
	geom geometry

	store PictureStore

	intraMatrix [64]uint16
	interMatrix [64]uint16
	scanTable   *ScanTable

	master SliceContext
	slices []*SliceContext

	// Working copies sharing ownership with the pool slots.
	current Picture
	last    Picture
	next    Picture

	currentPtr *Picture
	lastPtr    *Picture
	nextPtr    *Picture

	// Intra-status map for the block-based profile's predictor upkeep.
	// Workers only touch their own rows.
	mbIntraTable []uint8
}

// NewEngine validates the configuration and builds the slice contexts.
func NewEngine(cfg Config) (*Engine, error) {
	if err := checkGeometry(cfg.Width, cfg.Height); err != nil {
		return nil, err
	}
	if cfg.IntraDCPrecision < 0 || cfg.IntraDCPrecision > 3 {
		return nil, fmt.Errorf("intra DC precision %d: %w", cfg.IntraDCPrecision, ErrInvalidGeometry)
	}

	e := &Engine{cfg: cfg}
	e.geom = newGeometry(cfg.Width, cfg.Height, cfg.Chroma)

	e.intraMatrix = defaultIntraQuantMatrix
	if cfg.IntraMatrix != nil {
		e.intraMatrix = *cfg.IntraMatrix
	}
	e.interMatrix = defaultInterQuantMatrix
	if cfg.InterMatrix != nil {
		e.interMatrix = *cfg.InterMatrix
	}

	pattern := ScanZigZag
	if cfg.AlternateScan {
		pattern = ScanAlternateVertical
	}
	e.scanTable = newScanTable(pattern, &identityPermutation)

	e.master = SliceContext{codecState: codecState{
		geom:             e.geom,
		linesize:         e.geom.lumaWidth + 2*edgeWidth,
		discard:          cfg.Discard,
		intraDCPrecision: cfg.IntraDCPrecision,
		alternateScan:    cfg.AlternateScan,
		blockBased:       cfg.Profile == ProfileBlockBased,
		intraMatrix:      &e.intraMatrix,
		interMatrix:      &e.interMatrix,
		scan:             e.scanTable,
	}}
	e.master.resetBlocks()
	e.selectDequantizers()

	if err := e.buildSliceContexts(clampSliceCount(cfg.Slices, e.geom.mbHeight)); err != nil {
		return nil, err
	}

	e.mbIntraTable = make([]uint8, e.geom.mbStride*e.geom.mbHeight)

	logrus.WithFields(logrus.Fields{
		"width":  cfg.Width,
		"height": cfg.Height,
		"slices": len(e.slices),
	}).Debug("Engine initialized")

	return e, nil
}

func (e *Engine) buildSliceContexts(n int) error {
	ranges := sliceRowRanges(e.geom.mbHeight, n)

	slices := make([]*SliceContext, n)
	for i := range slices {
		sc, err := duplicateSliceContext(&e.master)
		if err != nil {
			return fmt.Errorf("slice context %d: %w", i, err)
		}
		sc.startRow, sc.endRow = ranges[i][0], ranges[i][1]
		slices[i] = sc
	}
	e.slices = slices

	return nil
}

// Slices exposes the worker contexts so the bitstream layer can fill
// their coefficient blocks.
func (e *Engine) Slices() []*SliceContext { return e.slices }

// Current returns the picture being reconstructed this frame.
func (e *Engine) Current() *Picture { return &e.current }

// RowRange reports the macroblock rows assigned to this context.
func (sc *SliceContext) RowRange() (int, int) { return sc.startRow, sc.endRow }

// Block returns the i-th coefficient block for the bitstream layer to
// fill; SetLastIndex records its last nonzero scan position (-1 for an
// uncoded block).
func (sc *SliceContext) Block(i int) *[64]int32 { return &sc.blocks[i] }

func (sc *SliceContext) SetLastIndex(i, last int) { sc.lastIndex[i] = last }

func (e *Engine) selectDequantizers() {
	m := &e.master
	switch e.cfg.Profile {
	case ProfileLegacyInterlace:
		m.dequantIntra = dequantLegacyIntra
		if e.cfg.BitExact {
			m.dequantIntra = dequantLegacyIntraBitexact
		}
		m.dequantInter = dequantLegacyInter
	case ProfileBlockBased:
		m.dequantIntra = dequantBlockIntra
		m.dequantInter = dequantBlockInter
	default:
		m.dequantIntra = dequantSimpleIntra
		m.dequantInter = dequantSimpleInter
	}
}

// allocDummyReference builds the synthetic neutral-gray picture
// substituted for a missing reference at stream start. It is never
// read as arbitrary memory: planes are filled and progress is marked
// complete before anyone can reach it.
func (e *Engine) allocDummyReference() (*Picture, error) {
	pic, err := e.store.acquireUnused(false)
	if err != nil {
		return nil, err
	}

	pic.reference = true
	pic.PictType = PictureTypeIntra
	if err := e.store.allocate(pic, e.geom); err != nil {
		return nil, err
	}

	pic.fill(0x80)
	pic.progress.report(maxProgress)

	return pic, nil
}

// StartFrame rotates the reference labels, acquires and allocates the
// current picture and selects the dequantizer pair. Called once per
// frame before any reconstruction.
func (e *Engine) StartFrame(pictType PictureType) error {
	return e.startFrame(pictType, nil)
}

// StartFrameShared begins a frame that reconstructs directly into
// caller-owned plane storage instead of pool-allocated pixels. The
// planes must cover the coded area; they carry no border, so reference
// reads past their bounds go through edge emulation.
func (e *Engine) StartFrameShared(pictType PictureType, y, cb, cr Plane) error {
	if err := checkSharedPlane(&y, e.geom.lumaWidth, e.geom.lumaHeight); err != nil {
		return err
	}
	if err := checkSharedPlane(&cb, e.geom.chromaWidth(), e.geom.chromaHeight()); err != nil {
		return err
	}
	if err := checkSharedPlane(&cr, e.geom.chromaWidth(), e.geom.chromaHeight()); err != nil {
		return err
	}

	return e.startFrame(pictType, &[3]Plane{y, cb, cr})
}

func (e *Engine) startFrame(pictType PictureType, shared *[3]Plane) error {
	s := &e.store

	// Release the superseded last reference.
	if pictType != PictureTypeB && e.lastPtr != nil &&
		e.lastPtr != e.nextPtr && e.lastPtr.coherent() {
		s.release(e.lastPtr)
	}

	// Release forgotten reference slots not reachable from the labels.
	for i := range s.pictures {
		p := &s.pictures[i]
		if p != e.lastPtr && p != e.nextPtr && p.reference && !p.needsRealloc {
			logrus.Warn("Releasing zombie picture")
			s.release(p)
		}
	}

	s.unrefFull(&e.current)
	s.releaseNonReference()

	var pic *Picture
	var err error
	if shared != nil {
		pic, err = s.acquireShared(e.geom, shared[0], shared[1], shared[2])
	} else {
		pic, err = s.acquireUnused(false)
	}
	if err != nil {
		e.teardown()
		return err
	}

	pic.reference = pictType != PictureTypeB
	pic.PictType = pictType
	if err := s.allocate(pic, e.geom); err != nil {
		e.teardown()
		return err
	}
	e.currentPtr = pic

	if err := s.refPicture(&e.current, pic); err != nil {
		e.teardown()
		return err
	}

	if pictType != PictureTypeB {
		e.lastPtr = e.nextPtr
		e.nextPtr = e.currentPtr
	}

	if (e.lastPtr == nil || !e.lastPtr.coherent()) && pictType != PictureTypeIntra {
		logrus.WithFields(logrus.Fields{
			"type": pictType.String(),
		}).Warn("First frame is not a keyframe, substituting gray reference")

		e.lastPtr, err = e.allocDummyReference()
		if err != nil {
			e.teardown()
			return err
		}
	}
	if (e.nextPtr == nil || !e.nextPtr.coherent()) && pictType == PictureTypeB {
		e.nextPtr, err = e.allocDummyReference()
		if err != nil {
			e.teardown()
			return err
		}
	}

	s.unrefFull(&e.last)
	s.unrefFull(&e.next)
	if e.lastPtr != nil && e.lastPtr.coherent() {
		if err := s.refPicture(&e.last, e.lastPtr); err != nil {
			e.teardown()
			return err
		}
	}
	if e.nextPtr != nil && e.nextPtr.coherent() {
		if err := s.refPicture(&e.next, e.nextPtr); err != nil {
			e.teardown()
			return err
		}
	}

	if pictType != PictureTypeIntra && !e.last.coherent() {
		e.teardown()
		return ErrNoReference
	}

	e.master.pictType = pictType
	e.selectDequantizers()

	for _, sc := range e.slices {
		if err := updateSliceContext(sc, &e.master); err != nil {
			e.teardown()
			return err
		}
	}

	return nil
}

// DecodeRows runs fn concurrently, once per slice context over its
// assigned row range. Used for slice-parallel reconstruction; the
// caller's fn loops the rows and macroblocks of its range.
func (e *Engine) DecodeRows(fn func(*SliceContext) error) error {
	return runSliceWorkers(e.slices, fn)
}

// ReportProgress publishes that all macroblock rows up to and
// including row of the current picture are reconstructed, unblocking
// frame-parallel consumers. B pictures are never referenced, so their
// progress is not tracked.
func (e *Engine) ReportProgress(row int) {
	if e.currentPtr != nil && e.current.coherent() && e.current.reference {
		e.currentPtr.progress.report(row)
	}
}

// EndFrame completes the current frame: the progress counter of a
// reference picture is driven to completion so later frames never
// block on it.
func (e *Engine) EndFrame() {
	if e.currentPtr != nil && e.current.coherent() && e.current.reference {
		e.currentPtr.progress.report(maxProgress)
	}

	if e.cfg.Debug {
		logrus.Debug(e.DebugMap())
	}
}

// SetGeometry applies a mid-stream resolution change. Pool slots are
// flagged for reallocation on next use; pictures still referenced at
// the prior resolution keep their storage until released. Slice
// contexts keep their scratch where the stride allows it.
func (e *Engine) SetGeometry(width, height int) error {
	if err := checkGeometry(width, height); err != nil {
		return err
	}

	logrus.WithFields(logrus.Fields{
		"width":  width,
		"height": height,
	}).Info("Resolution change")

	e.cfg.Width, e.cfg.Height = width, height
	e.geom = newGeometry(width, height, e.cfg.Chroma)

	e.master.geom = e.geom
	e.master.linesize = e.geom.lumaWidth + 2*edgeWidth

	e.store.markForRealloc()
	e.mbIntraTable = make([]uint8, e.geom.mbStride*e.geom.mbHeight)

	n := clampSliceCount(e.cfg.Slices, e.geom.mbHeight)
	if n != len(e.slices) {
		return e.buildSliceContexts(n)
	}

	ranges := sliceRowRanges(e.geom.mbHeight, n)
	for i, sc := range e.slices {
		if err := updateSliceContext(sc, &e.master); err != nil {
			return err
		}
		sc.startRow, sc.endRow = ranges[i][0], ranges[i][1]
	}

	return nil
}

// Flush drops all buffered pictures and resets per-stream state. The
// engine is reusable afterwards.
func (e *Engine) Flush() {
	e.store.unrefFull(&e.current)
	e.store.unrefFull(&e.last)
	e.store.unrefFull(&e.next)
	e.currentPtr, e.lastPtr, e.nextPtr = nil, nil, nil

	e.store.flush()

	for i := range e.mbIntraTable {
		e.mbIntraTable[i] = 0
	}
	e.master.lastDC = [3]int32{}
}

// teardown releases all pictures and scratch memory before a fatal
// error propagates, leaving the engine resettable via Flush.
func (e *Engine) teardown() {
	e.Flush()
	for _, sc := range e.slices {
		sc.edgeEmu = nil
		sc.scratchLinesize = 0
	}
}

// DebugMap renders the per-macroblock diagnostics of the current
// picture: type, skip flag and quantizer scale per cell.
func (e *Engine) DebugMap() string {
	if !e.current.coherent() {
		return ""
	}

	t := e.current.tables
	g := e.geom

	var b strings.Builder
	fmt.Fprintf(&b, "New frame, type: %s\n", e.current.PictType)

	for y := 0; y < g.mbHeight; y++ {
		for x := 0; x < g.mbWidth; x++ {
			mbXY := y*g.mbStride + x
			mt := t.mbType[mbXY]

			var c byte
			switch {
			case mt&mbTypeIntra != 0:
				c = 'I'
			case mt&mbTypeSkip != 0:
				c = 'S'
			case mt&mbTypeForward != 0 && mt&mbTypeBackward != 0:
				c = 'X'
			case mt&mbTypeForward != 0:
				c = '>'
			case mt&mbTypeBackward != 0:
				c = '<'
			default:
				c = ' '
			}

			skip := t.skip[mbXY]
			if skip > 9 {
				skip = 9
			}

			fmt.Fprintf(&b, "%c%d%2d ", c, skip, t.qscale[mbXY])
		}
		b.WriteByte('\n')
	}

	return b.String()
}
