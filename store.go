package mpegcore

import (
	"fmt"

	"github.com/sirupsen/logrus"
)

// maxPictureCount bounds the number of concurrently held pictures.
// Callers must never need more pictures referenced at once than this.
const maxPictureCount = 8

// PictureStore is a fixed-capacity pool of Pictures. Slot acquisition
// happens only on the orchestrating thread between frames, so the pool
// itself needs no locking; workers only touch the pictures handed to
// them.
type PictureStore struct {
	pictures [maxPictureCount]Picture

	// Strides established by the first reference allocation of the
	// stream. Zero until then, reset on a declared geometry change.
	linesize   int
	uvlinesize int
}

func (s *PictureStore) isUnused(p *Picture) bool {
	if p.buf == nil {
		return true
	}
	if p.needsRealloc && !p.reference {
		return true
	}
	return false
}

// acquireUnused returns a free slot. In shared mode only slots without
// pixel storage qualify; otherwise slots whose contents are unused by
// current or pending reference use also qualify, with any stale
// allocation dropped before handing the slot out.
func (s *PictureStore) acquireUnused(shared bool) (*Picture, error) {
	for i := range s.pictures {
		p := &s.pictures[i]

		if shared {
			if p.buf == nil {
				return p, nil
			}
			continue
		}

		if s.isUnused(p) {
			if p.needsRealloc {
				p.needsRealloc = false
				if p.tables != nil {
					p.tables.unref()
					p.tables = nil
				}
				s.release(p)
			}
			return p, nil
		}
	}

	logrus.WithFields(logrus.Fields{
		"capacity": maxPictureCount,
	}).Error("Picture pool exhausted")

	return nil, ErrNoFrameBuffer
}

// acquireShared wraps caller-owned plane storage in a pool slot. The
// pool never allocates or frees the pixels; the slot only carries the
// ownership count, the side tables and the progress counter. Shared
// pictures skip the edge border and the stride pinning.
func (s *PictureStore) acquireShared(g geometry, y, cb, cr Plane) (*Picture, error) {
	p, err := s.acquireUnused(true)
	if err != nil {
		return nil, err
	}

	p.shared = true
	p.Y, p.Cb, p.Cr = y, cb, cr
	p.Width, p.Height = g.width, g.height
	p.edge = 0
	p.buf = newPixelBuffer(0)
	p.progress = newProgressCounter()

	return p, nil
}

// allocate gives p pixel storage and per-macroblock tables for the
// given geometry. Reference pictures are padded with an edge border so
// out-of-bounds motion vectors stay readable. Table storage from a
// prior coherent allocation at the same geometry is reused
// copy-on-write.
func (s *PictureStore) allocate(p *Picture, g geometry) error {
	if p.shared {
		if p.buf == nil {
			return fmt.Errorf("shared picture without pixels: %w", ErrNoFrameBuffer)
		}
	} else if p.buf == nil {
		edge := 0
		if p.reference {
			edge = edgeWidth
		}

		if err := p.allocPlanes(g, edge); err != nil {
			s.unrefFull(p)
			return fmt.Errorf("picture allocation: %w", err)
		}
		p.progress = newProgressCounter()

		if p.reference {
			if s.linesize == 0 {
				s.linesize = p.Y.Stride
				s.uvlinesize = p.Cb.Stride
			} else if s.linesize != p.Y.Stride || s.uvlinesize != p.Cb.Stride {
				logrus.WithFields(logrus.Fields{
					"want": s.linesize,
					"got":  p.Y.Stride,
				}).Error("Picture stride changed mid-stream")
				s.unrefFull(p)
				return ErrStrideMismatch
			}
		}
	}

	switch {
	case p.tables == nil:
		p.tables = newPictureTables(g)
	case !p.tables.matches(g):
		p.tables.unref()
		p.tables = newPictureTables(g)
	default:
		s.makeTablesWritable(p)
	}

	return nil
}

func (s *PictureStore) makeTablesWritable(p *Picture) {
	if p.tables.refs.Load() > 1 {
		old := p.tables
		old.unref()
		p.tables = old.clone()
	}
}

// release detaches a slot's pixel storage. Table storage stays attached
// for copy-on-write reuse unless the slot was flagged for reallocation
// after a geometry change.
func (s *PictureStore) release(p *Picture) {
	if p.buf != nil {
		p.buf.unref()
		p.buf = nil
	}
	if p.needsRealloc && p.tables != nil {
		p.tables.unref()
		p.tables = nil
	}
	p.Y, p.Cb, p.Cr = Plane{}, Plane{}, Plane{}
	p.progress = nil
	p.reference = false
	p.shared = false
	p.needsRealloc = false
}

// unrefFull fully detaches a picture, tables included. Used for the
// engine's working copies and for teardown.
func (s *PictureStore) unrefFull(p *Picture) {
	if p.tables != nil {
		p.tables.unref()
		p.tables = nil
	}
	p.needsRealloc = false
	s.release(p)
}

// refPicture makes dst share ownership of src's pixels and tables.
func (s *PictureStore) refPicture(dst, src *Picture) error {
	if dst.buf != nil {
		return fmt.Errorf("ref into occupied picture: %w", ErrNoFrameBuffer)
	}
	if !src.coherent() {
		return fmt.Errorf("ref of incoherent picture: %w", ErrNoFrameBuffer)
	}

	dst.buf = src.buf.ref()
	if dst.tables != nil {
		dst.tables.unref()
	}
	dst.tables = src.tables.ref()

	dst.Y, dst.Cb, dst.Cr = src.Y, src.Cb, src.Cr
	dst.Width, dst.Height = src.Width, src.Height
	dst.PictType = src.PictType
	dst.progress = src.progress
	dst.reference = src.reference
	dst.shared = src.shared
	dst.needsRealloc = src.needsRealloc
	dst.edge = src.edge

	return nil
}

// releaseNonReference drops every slot not held as a reference.
func (s *PictureStore) releaseNonReference() {
	for i := range s.pictures {
		if !s.pictures[i].reference {
			s.release(&s.pictures[i])
		}
	}
}

// markForRealloc flags all allocated slots so their storage is rebuilt
// on next use. Still-referenced pictures keep their current buffers
// untouched until released.
func (s *PictureStore) markForRealloc() {
	for i := range s.pictures {
		if s.pictures[i].buf != nil {
			s.pictures[i].needsRealloc = true
		}
	}
	s.linesize = 0
	s.uvlinesize = 0
}

// flush drops every slot unconditionally and resets the pinned stride.
func (s *PictureStore) flush() {
	for i := range s.pictures {
		s.unrefFull(&s.pictures[i])
	}
	s.linesize = 0
	s.uvlinesize = 0
}
