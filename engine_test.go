package mpegcore

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewEngineValidation(t *testing.T) {
	_, err := NewEngine(Config{Width: 0, Height: 64})
	assert.ErrorIs(t, err, ErrInvalidGeometry)

	_, err = NewEngine(Config{Width: 64, Height: -1})
	assert.ErrorIs(t, err, ErrInvalidGeometry)

	_, err = NewEngine(Config{Width: maxDimension + 1, Height: 64})
	assert.ErrorIs(t, err, ErrInvalidGeometry)

	_, err = NewEngine(Config{Width: 64, Height: 64, IntraDCPrecision: 4})
	assert.ErrorIs(t, err, ErrInvalidGeometry)
}

func TestSliceCountClampedToRows(t *testing.T) {
	e := newTestEngine(t, Config{Width: 64, Height: 64, Slices: 100})
	// 4 macroblock rows cannot keep more than 4 workers busy.
	assert.Len(t, e.Slices(), 4)

	start, _ := e.Slices()[0].RowRange()
	assert.Equal(t, 0, start)
	_, end := e.Slices()[3].RowRange()
	assert.Equal(t, e.geom.mbHeight, end)
}

func TestFrameRotation(t *testing.T) {
	e := newTestEngine(t, Config{Width: 32, Height: 32})

	require.NoError(t, e.StartFrame(PictureTypeIntra))
	assert.True(t, e.Current().reference)
	assert.Equal(t, PictureTypeIntra, e.Current().PictType)
	e.EndFrame()

	require.NoError(t, e.StartFrame(PictureTypePredictive))
	assert.True(t, e.Current().reference)
	require.True(t, e.last.coherent())
	assert.Equal(t, PictureTypeIntra, e.last.PictType)
	e.EndFrame()

	require.NoError(t, e.StartFrame(PictureTypeB))
	assert.False(t, e.Current().reference)
	require.True(t, e.last.coherent())
	require.True(t, e.next.coherent())
	assert.Equal(t, PictureTypeIntra, e.last.PictType)
	assert.Equal(t, PictureTypePredictive, e.next.PictType)
}

func TestProgressReporting(t *testing.T) {
	e := newTestEngine(t, Config{Width: 32, Height: 32})

	require.NoError(t, e.StartFrame(PictureTypeIntra))
	e.ReportProgress(1)
	assert.Equal(t, 1, e.currentPtr.progress.current())

	e.EndFrame()
	assert.Equal(t, maxProgress, e.currentPtr.progress.current())

	// B pictures are never referenced; their progress is not tracked.
	require.NoError(t, e.StartFrame(PictureTypePredictive))
	e.EndFrame()
	require.NoError(t, e.StartFrame(PictureTypeB))
	e.ReportProgress(1)
	assert.Equal(t, -1, e.currentPtr.progress.current())
}

func TestDebugMap(t *testing.T) {
	e := newTestEngine(t, Config{Width: 32, Height: 32, Debug: true})
	decodeIntraDCFrame(t, e)

	m := e.DebugMap()
	assert.True(t, strings.HasPrefix(m, "New frame, type: I\n"))
	assert.Contains(t, m, "I0 8")
	// One line per macroblock row plus the header.
	assert.Equal(t, e.geom.mbHeight+1, strings.Count(m, "\n"))
}

func TestFlushAndReuse(t *testing.T) {
	e := newTestEngine(t, Config{Width: 32, Height: 32})
	decodeIntraDCFrame(t, e)
	require.NoError(t, e.StartFrame(PictureTypePredictive))
	e.EndFrame()

	e.Flush()
	for i := range e.store.pictures {
		assert.Nil(t, e.store.pictures[i].buf)
	}
	assert.False(t, e.current.coherent())
	assert.Equal(t, 0, e.store.linesize)

	// The engine is reusable after a flush.
	decodeIntraDCFrame(t, e)
	require.NoError(t, e.StartFrame(PictureTypePredictive))
	assert.True(t, e.last.coherent())
}

func TestSetGeometry(t *testing.T) {
	e := newTestEngine(t, Config{Width: 64, Height: 64, Slices: 2})
	decodeIntraDCFrame(t, e)

	require.NoError(t, e.SetGeometry(128, 128))
	assert.Equal(t, 128, e.geom.width)
	assert.Equal(t, e.geom.lumaWidth+2*edgeWidth, e.master.linesize)

	// The picture still referenced at the old resolution keeps its
	// storage until released.
	require.NotNil(t, e.nextPtr)
	assert.True(t, e.nextPtr.needsRealloc)
	assert.NotNil(t, e.nextPtr.buf)
	assert.Equal(t, 64, e.nextPtr.Width)

	_, end := e.Slices()[len(e.Slices())-1].RowRange()
	assert.Equal(t, e.geom.mbHeight, end)

	// The next frame predicts across the resolution change.
	require.NoError(t, e.StartFrame(PictureTypePredictive))
	assert.Equal(t, 128, e.Current().Width)
	assert.Equal(t, 64, e.last.Width)

	sc := e.Slices()[0]
	mb := Macroblock{X: 0, Y: 0, Skipped: true, QScale: 8}
	require.NoError(t, e.ReconstructMacroblock(sc, &mb))
	assert.Equal(t, byte(4), e.Current().Y.Data[e.Current().Y.Index(0, 0)])
}

func TestSetGeometryInvalid(t *testing.T) {
	e := newTestEngine(t, Config{Width: 64, Height: 64})
	assert.ErrorIs(t, e.SetGeometry(0, 64), ErrInvalidGeometry)
	assert.ErrorIs(t, e.SetGeometry(64, maxDimension+1), ErrInvalidGeometry)
}

func TestStartFrameShared(t *testing.T) {
	e := newTestEngine(t, Config{Width: 32, Height: 32})

	y := makeCallerPlane(32, 32)
	cb := makeCallerPlane(16, 16)
	cr := makeCallerPlane(16, 16)

	require.NoError(t, e.StartFrameShared(PictureTypeIntra, y, cb, cr))
	require.True(t, e.Current().shared)

	sc := e.Slices()[0]
	sc.Block(0)[0] = 4
	sc.SetLastIndex(0, 0)
	mb := Macroblock{X: 0, Y: 0, Intra: true, QScale: 8}
	require.NoError(t, e.ReconstructMacroblock(sc, &mb))

	// The reconstruction landed directly in the caller's storage.
	assert.Equal(t, byte(4), y.Data[0])
	e.EndFrame()

	// The shared picture serves as a reference for the next frame.
	require.NoError(t, e.StartFrame(PictureTypePredictive))
	assert.Equal(t, PictureTypeIntra, e.last.PictType)

	skip := Macroblock{X: 0, Y: 0, Skipped: true, QScale: 8}
	require.NoError(t, e.ReconstructMacroblock(sc, &skip))
	assert.Equal(t, byte(4), e.Current().Y.Data[e.Current().Y.Index(0, 0)])
}

func TestStartFrameSharedRejectsShortPlanes(t *testing.T) {
	e := newTestEngine(t, Config{Width: 32, Height: 32})

	small := makeCallerPlane(16, 16)
	cb := makeCallerPlane(16, 16)
	cr := makeCallerPlane(16, 16)
	assert.ErrorIs(t, e.StartFrameShared(PictureTypeIntra, small, cb, cr), ErrInvalidGeometry)

	truncated := Plane{Width: 32, Height: 32, Stride: 32, Data: make([]byte, 100)}
	assert.ErrorIs(t, e.StartFrameShared(PictureTypeIntra, truncated, cb, cr), ErrInvalidGeometry)
}

func TestCustomQuantMatrices(t *testing.T) {
	var flat [64]uint16
	for i := range flat {
		flat[i] = 16
	}

	e := newTestEngine(t, Config{Width: 32, Height: 32, IntraMatrix: &flat, InterMatrix: &flat})
	assert.Equal(t, flat, e.intraMatrix)
	assert.Equal(t, flat, e.interMatrix)

	// Defaults apply when no matrices are supplied.
	e2 := newTestEngine(t, Config{Width: 32, Height: 32})
	assert.Equal(t, defaultIntraQuantMatrix, e2.intraMatrix)
	assert.Equal(t, defaultInterQuantMatrix, e2.interMatrix)
}

func TestAlternateScanSelection(t *testing.T) {
	e := newTestEngine(t, Config{Width: 32, Height: 32, AlternateScan: true})
	assert.Equal(t, alternateVerticalScan, e.scanTable.Scantable)

	e2 := newTestEngine(t, Config{Width: 32, Height: 32})
	assert.Equal(t, zigZagScan, e2.scanTable.Scantable)
}
