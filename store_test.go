package mpegcore

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAllocPlanesEdgeBorder(t *testing.T) {
	g := newGeometry(64, 48, Chroma420)

	var ref Picture
	ref.reference = true
	require.NoError(t, ref.allocPlanes(g, edgeWidth))

	assert.Equal(t, g.lumaWidth+2*edgeWidth, ref.Y.Stride)
	assert.Equal(t, edgeWidth*ref.Y.Stride+edgeWidth, ref.Y.Origin)
	assert.Equal(t, g.chromaWidth()+edgeWidth, ref.Cb.Stride)

	var plain Picture
	require.NoError(t, plain.allocPlanes(g, 0))
	assert.Equal(t, g.lumaWidth, plain.Y.Stride)
	assert.Equal(t, 0, plain.Y.Origin)
}

func TestAllocPlanesTooLarge(t *testing.T) {
	g := newGeometry(40000, 40000, Chroma420)

	var p Picture
	assert.ErrorIs(t, p.allocPlanes(g, 0), ErrOutOfMemory)
}

func TestStoreExhaustion(t *testing.T) {
	var s PictureStore
	g := newGeometry(32, 32, Chroma420)

	for i := 0; i < maxPictureCount; i++ {
		p, err := s.acquireUnused(false)
		require.NoError(t, err)
		p.reference = true
		require.NoError(t, s.allocate(p, g))
	}

	_, err := s.acquireUnused(false)
	assert.ErrorIs(t, err, ErrNoFrameBuffer)
}

func TestRefPictureSharesStorage(t *testing.T) {
	var s PictureStore
	g := newGeometry(32, 32, Chroma420)

	p, err := s.acquireUnused(false)
	require.NoError(t, err)
	p.reference = true
	require.NoError(t, s.allocate(p, g))

	var w Picture
	require.NoError(t, s.refPicture(&w, p))

	p.Y.Data[p.Y.Index(3, 3)] = 77
	assert.Equal(t, byte(77), w.Y.Data[w.Y.Index(3, 3)])
	assert.Equal(t, int32(2), p.buf.refs.Load())
	assert.Equal(t, int32(2), p.tables.refs.Load())

	// Refing into an occupied picture is a caller bug.
	assert.ErrorIs(t, s.refPicture(&w, p), ErrNoFrameBuffer)

	s.unrefFull(&w)
	assert.Equal(t, int32(1), p.buf.refs.Load())
}

func TestTablesCopyOnWrite(t *testing.T) {
	var s PictureStore
	g := newGeometry(32, 32, Chroma420)

	p, err := s.acquireUnused(false)
	require.NoError(t, err)
	p.reference = true
	require.NoError(t, s.allocate(p, g))

	var w Picture
	require.NoError(t, s.refPicture(&w, p))
	shared := p.tables

	// Releasing the slot keeps its tables attached for reuse.
	s.release(p)
	assert.Nil(t, p.buf)
	assert.Same(t, shared, p.tables)

	// Reallocating while the working copy still holds a reference must
	// clone instead of scribbling over the shared tables.
	p2, err := s.acquireUnused(false)
	require.NoError(t, err)
	require.Same(t, p, p2)
	p2.reference = true
	require.NoError(t, s.allocate(p2, g))

	assert.NotSame(t, shared, p2.tables)
	assert.Equal(t, int32(1), p2.tables.refs.Load())
	assert.Equal(t, int32(1), shared.refs.Load())

	s.unrefFull(&w)
	s.unrefFull(p2)
}

func TestTablesReusedWhenExclusive(t *testing.T) {
	var s PictureStore
	g := newGeometry(32, 32, Chroma420)

	p, err := s.acquireUnused(false)
	require.NoError(t, err)
	p.reference = true
	require.NoError(t, s.allocate(p, g))
	tables := p.tables

	s.release(p)
	p2, err := s.acquireUnused(false)
	require.NoError(t, err)
	require.Same(t, p, p2)
	p2.reference = true
	require.NoError(t, s.allocate(p2, g))

	assert.Same(t, tables, p2.tables)
}

func TestStrideMismatch(t *testing.T) {
	var s PictureStore

	p, err := s.acquireUnused(false)
	require.NoError(t, err)
	p.reference = true
	require.NoError(t, s.allocate(p, newGeometry(64, 64, Chroma420)))

	p2, err := s.acquireUnused(false)
	require.NoError(t, err)
	p2.reference = true
	assert.ErrorIs(t, s.allocate(p2, newGeometry(128, 64, Chroma420)), ErrStrideMismatch)
}

func TestMarkForReallocPreservesReferences(t *testing.T) {
	var s PictureStore
	g := newGeometry(32, 32, Chroma420)

	ref, err := s.acquireUnused(false)
	require.NoError(t, err)
	ref.reference = true
	require.NoError(t, s.allocate(ref, g))

	other, err := s.acquireUnused(false)
	require.NoError(t, err)
	require.NoError(t, s.allocate(other, g))

	s.markForRealloc()
	assert.Equal(t, 0, s.linesize)

	// The referenced picture keeps its storage and is not handed out.
	p, err := s.acquireUnused(false)
	require.NoError(t, err)
	assert.NotSame(t, ref, p)
	assert.NotNil(t, ref.buf)

	// The non-reference slot is recycled with its stale state dropped.
	assert.Same(t, other, p)
	assert.Nil(t, p.buf)
	assert.Nil(t, p.tables)
	assert.False(t, p.needsRealloc)
}

func TestStoreFlush(t *testing.T) {
	var s PictureStore
	g := newGeometry(32, 32, Chroma420)

	for i := 0; i < 3; i++ {
		p, err := s.acquireUnused(false)
		require.NoError(t, err)
		p.reference = true
		require.NoError(t, s.allocate(p, g))
	}

	s.flush()
	for i := range s.pictures {
		assert.Nil(t, s.pictures[i].buf)
		assert.Nil(t, s.pictures[i].tables)
		assert.False(t, s.pictures[i].reference)
	}
	assert.Equal(t, 0, s.linesize)
}

func makeCallerPlane(w, h int) Plane {
	return Plane{Width: w, Height: h, Stride: w, Data: make([]byte, w*h)}
}

func TestAcquireShared(t *testing.T) {
	var s PictureStore
	g := newGeometry(32, 32, Chroma420)

	// Shared mode only accepts slots with no pixel storage at all.
	occupied, err := s.acquireUnused(false)
	require.NoError(t, err)
	occupied.reference = true
	require.NoError(t, s.allocate(occupied, g))

	y := makeCallerPlane(32, 32)
	cb := makeCallerPlane(16, 16)
	cr := makeCallerPlane(16, 16)

	p, err := s.acquireShared(g, y, cb, cr)
	require.NoError(t, err)
	require.NotSame(t, occupied, p)

	assert.True(t, p.shared)
	assert.Equal(t, 0, p.edge)
	require.NotNil(t, p.buf)
	require.NotNil(t, p.progress)

	// The caller's storage is wrapped, not copied.
	p.Y.Data[p.Y.Index(0, 0)] = 42
	assert.Equal(t, byte(42), y.Data[0])

	require.NoError(t, s.allocate(p, g))
	assert.NotNil(t, p.tables)

	// Releasing the slot drops the wrapper, never the caller's pixels.
	s.unrefFull(p)
	assert.Nil(t, p.buf)
	assert.Equal(t, byte(42), y.Data[0])
}

func TestAllocateSharedWithoutPixels(t *testing.T) {
	var s PictureStore
	p := &Picture{shared: true}
	assert.ErrorIs(t, s.allocate(p, newGeometry(32, 32, Chroma420)), ErrNoFrameBuffer)
}

func TestProgressCounter(t *testing.T) {
	c := newProgressCounter()
	assert.Equal(t, -1, c.current())

	done := make(chan struct{})
	go func() {
		c.await(5)
		close(done)
	}()

	c.report(3)
	select {
	case <-done:
		t.Fatal("await returned before row 5 was reported")
	case <-time.After(10 * time.Millisecond):
	}

	c.report(5)
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("await did not return after row 5 was reported")
	}

	// Reports never regress.
	c.report(2)
	assert.Equal(t, 5, c.current())
}
