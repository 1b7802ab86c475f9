package mpegcore

import (
	"fmt"
	"sync"
	"sync/atomic"
)

// PictureType identifies the coding type of a frame.
type PictureType int

const (
	PictureTypeIntra PictureType = iota + 1
	PictureTypePredictive
	PictureTypeB
)

func (t PictureType) String() string {
	switch t {
	case PictureTypeIntra:
		return "I"
	case PictureTypePredictive:
		return "P"
	case PictureTypeB:
		return "B"
	}
	return "?"
}

// edgeWidth is the border added around reference pictures so motion
// vectors may point slightly outside the coded area.
const edgeWidth = 16

// geometry is the resolution-dependent shape shared by the store and
// the slice contexts.
type geometry struct {
	width, height int

	mbWidth  int
	mbHeight int
	mbStride int
	b8Stride int

	lumaWidth  int
	lumaHeight int

	chromaXShift int
	chromaYShift int
}

func newGeometry(width, height int, chroma ChromaFormat) geometry {
	g := geometry{width: width, height: height}

	g.mbWidth = (width + 15) >> 4
	g.mbHeight = (height + 15) >> 4
	g.mbStride = g.mbWidth + 1
	g.b8Stride = g.mbWidth*2 + 1

	g.lumaWidth = g.mbWidth << 4
	g.lumaHeight = g.mbHeight << 4

	g.chromaXShift = 1
	g.chromaYShift = 1
	if chroma == Chroma422 {
		g.chromaYShift = 0
	}

	return g
}

func (g geometry) chromaWidth() int  { return g.lumaWidth >> g.chromaXShift }
func (g geometry) chromaHeight() int { return g.lumaHeight >> g.chromaYShift }

// Plane is one component of a decoded picture. Data covers the whole
// allocation including any reference border; Origin indexes the
// interior top-left pixel and Stride is the full row length.
type Plane struct {
	Width  int
	Height int
	Stride int
	Origin int
	Data   []byte
}

// Index returns the Data index of interior pixel (x, y). Coordinates
// inside the border range are valid for reads.
func (p *Plane) Index(x, y int) int {
	return p.Origin + y*p.Stride + x
}

// checkSharedPlane rejects caller-supplied planes that cannot hold a
// coded area of w x h pixels.
func checkSharedPlane(p *Plane, w, h int) error {
	if p.Width < w || p.Height < h || p.Stride < w {
		return fmt.Errorf("plane %dx%d stride %d under coded %dx%d: %w",
			p.Width, p.Height, p.Stride, w, h, ErrInvalidGeometry)
	}
	if need := p.Index(w-1, h-1) + 1; p.Origin < 0 || len(p.Data) < need {
		return fmt.Errorf("plane storage %d short of %d: %w", len(p.Data), need, ErrInvalidGeometry)
	}
	return nil
}

// pixelBuffer is the shared, counted pixel storage behind one or more
// Pictures.
type pixelBuffer struct {
	refs atomic.Int32
	data []byte
}

func newPixelBuffer(size int) *pixelBuffer {
	b := &pixelBuffer{data: make([]byte, size)}
	b.refs.Store(1)
	return b
}

func (b *pixelBuffer) ref() *pixelBuffer {
	b.refs.Add(1)
	return b
}

func (b *pixelBuffer) unref() {
	b.refs.Add(-1)
}

// pictureTables holds the per-macroblock side data of a picture:
// quantizer scales, macroblock types, skip flags and the two motion
// vector / reference index tables. Shared between pictures that share
// pixels, with copy-on-write when a shared holder needs to write.
type pictureTables struct {
	refs atomic.Int32

	mbStride int
	mbHeight int

	qscale []uint8
	mbType []uint32
	skip   []uint8

	motionVal [2][][2]int16
	refIndex  [2][]int8
}

func newPictureTables(g geometry) *pictureTables {
	mbArraySize := g.mbStride * g.mbHeight

	t := &pictureTables{
		mbStride: g.mbStride,
		mbHeight: g.mbHeight,
		qscale:   make([]uint8, mbArraySize),
		mbType:   make([]uint32, mbArraySize),
		skip:     make([]uint8, mbArraySize),
	}
	for i := 0; i < 2; i++ {
		t.motionVal[i] = make([][2]int16, mbArraySize)
		t.refIndex[i] = make([]int8, mbArraySize)
	}
	t.refs.Store(1)

	return t
}

func (t *pictureTables) ref() *pictureTables {
	t.refs.Add(1)
	return t
}

func (t *pictureTables) unref() {
	t.refs.Add(-1)
}

func (t *pictureTables) matches(g geometry) bool {
	return t.mbStride == g.mbStride && t.mbHeight == g.mbHeight
}

// clone returns a private copy for copy-on-write table reuse.
func (t *pictureTables) clone() *pictureTables {
	c := &pictureTables{
		mbStride: t.mbStride,
		mbHeight: t.mbHeight,
		qscale:   append([]uint8(nil), t.qscale...),
		mbType:   append([]uint32(nil), t.mbType...),
		skip:     append([]uint8(nil), t.skip...),
	}
	for i := 0; i < 2; i++ {
		c.motionVal[i] = append([][2]int16(nil), t.motionVal[i]...)
		c.refIndex[i] = append([]int8(nil), t.refIndex[i]...)
	}
	c.refs.Store(1)

	return c
}

// progressCounter tracks how many macroblock rows of a picture have
// been fully reconstructed. Reports are monotonic; waiters block until
// the requested row is reached.
type progressCounter struct {
	mu   sync.Mutex
	cond *sync.Cond
	row  int
}

func newProgressCounter() *progressCounter {
	c := &progressCounter{row: -1}
	c.cond = sync.NewCond(&c.mu)
	return c
}

// report raises the decoded-up-to row. Lower values are ignored so the
// counter never goes backwards.
func (c *progressCounter) report(row int) {
	c.mu.Lock()
	if row > c.row {
		c.row = row
		c.cond.Broadcast()
	}
	c.mu.Unlock()
}

// await blocks until at least row rows have been reported.
func (c *progressCounter) await(row int) {
	c.mu.Lock()
	for c.row < row {
		c.cond.Wait()
	}
	c.mu.Unlock()
}

func (c *progressCounter) current() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.row
}

// maxProgress marks a picture as fully decoded.
const maxProgress = int(^uint(0) >> 1)

// Picture is an owned, counted frame buffer plus its per-macroblock
// side data. A Picture is coherent when pixels and tables are present
// together; reconstruction never observes a half-allocated picture.
type Picture struct {
	Y  Plane
	Cb Plane
	Cr Plane

	Width  int
	Height int

	PictType PictureType

	buf      *pixelBuffer
	tables   *pictureTables
	progress *progressCounter

	reference    bool
	shared       bool
	needsRealloc bool

	edge int
}

func (p *Picture) coherent() bool {
	return p.buf != nil && p.tables != nil
}

// allocPlanes sizes and slices the three planes out of one base
// allocation. Reference pictures get an edge border on every side.
func (p *Picture) allocPlanes(g geometry, edge int) error {
	lumaStride := g.lumaWidth + 2*edge
	lumaRows := g.lumaHeight + 2*edge

	chromaEdgeX := edge >> g.chromaXShift
	chromaEdgeY := edge >> g.chromaYShift
	chromaStride := g.chromaWidth() + 2*chromaEdgeX
	chromaRows := g.chromaHeight() + 2*chromaEdgeY

	lumaSize := lumaStride * lumaRows
	chromaSize := chromaStride * chromaRows
	frameSize := lumaSize + 2*chromaSize

	if frameSize <= 0 || frameSize > maxFrameBytes {
		return ErrOutOfMemory
	}

	p.buf = newPixelBuffer(frameSize)
	base := p.buf.data

	p.Width = g.width
	p.Height = g.height
	p.edge = edge

	p.Y = Plane{
		Width:  g.lumaWidth,
		Height: g.lumaHeight,
		Stride: lumaStride,
		Origin: edge*lumaStride + edge,
		Data:   base[0:lumaSize:lumaSize],
	}
	p.Cb = Plane{
		Width:  g.chromaWidth(),
		Height: g.chromaHeight(),
		Stride: chromaStride,
		Origin: chromaEdgeY*chromaStride + chromaEdgeX,
		Data:   base[lumaSize : lumaSize+chromaSize : lumaSize+chromaSize],
	}
	p.Cr = Plane{
		Width:  g.chromaWidth(),
		Height: g.chromaHeight(),
		Stride: chromaStride,
		Origin: chromaEdgeY*chromaStride + chromaEdgeX,
		Data:   base[lumaSize+chromaSize : frameSize : frameSize],
	}

	return nil
}

// fill paints every plane with a single value. Used for the synthetic
// neutral-gray reference substituted at stream start.
func (p *Picture) fill(value byte) {
	if p.buf == nil {
		return
	}
	for i := range p.buf.data {
		p.buf.data[i] = value
	}
}

// maxFrameBytes bounds a single picture allocation; anything larger is
// treated as an allocation failure rather than attempted.
const maxFrameBytes = 1 << 30
