package mpegcore

// Half-pel motion compensation primitives. These are the pixel ops the
// reconstructor invokes; put overwrites the destination, avg rounds
// toward the mean for bidirectional prediction.

// emuStride is the row length of the edge-emulation staging block.
// Half-pel interpolation of a 16-wide block reads at most 17 columns.
const emuStride = 24

// edgeX and edgeY report how far outside the interior a plane may be
// read, derived from the allocation border.
func (p *Plane) edgeX() int { return p.Origin % p.Stride }
func (p *Plane) edgeY() int { return p.Origin / p.Stride }

// emulateEdge copies a (w x h) region at (sx, sy) of src into buf,
// replicating border pixels for coordinates beyond the readable area.
func emulateEdge(buf []byte, src *Plane, sx, sy, w, h int) {
	minX, maxX := -src.edgeX(), src.Width+src.edgeX()-1
	minY, maxY := -src.edgeY(), src.Height+src.edgeY()-1

	for y := 0; y < h; y++ {
		cy := sy + y
		if cy < minY {
			cy = minY
		} else if cy > maxY {
			cy = maxY
		}
		for x := 0; x < w; x++ {
			cx := sx + x
			if cx < minX {
				cx = minX
			} else if cx > maxX {
				cx = maxX
			}
			buf[y*emuStride+x] = src.Data[src.Index(cx, cy)]
		}
	}
}

// mcBlock samples a (w x h) block with half-pel interpolation from
// src at si and puts or averages it into dst at di.
func mcBlock(dst []byte, di, dstStride int, src []byte, si, srcStride, w, h int, oddH, oddV, avg bool) {
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			s := si + x
			var v int
			switch {
			case oddH && oddV:
				v = (int(src[s]) + int(src[s+1]) + int(src[s+srcStride]) + int(src[s+srcStride+1]) + 2) >> 2
			case oddH:
				v = (int(src[s]) + int(src[s+1]) + 1) >> 1
			case oddV:
				v = (int(src[s]) + int(src[s+srcStride]) + 1) >> 1
			default:
				v = int(src[s])
			}
			if avg {
				v = (int(dst[di+x]) + v + 1) >> 1
			}
			dst[di+x] = byte(v)
		}
		di += dstStride
		si += srcStride
	}
}

// motionCompPlane compensates one (w x h) block of a plane. dx, dy is
// the destination position in interior coordinates; mvx, mvy is the
// half-pel motion vector. Sources outside the reference border are
// staged through the edge-emulation buffer.
func motionCompPlane(dst, src *Plane, dx, dy, mvx, mvy, w, h int, avg bool, edgeEmu []byte) {
	hp, vp := mvx>>1, mvy>>1
	oddH, oddV := mvx&1 != 0, mvy&1 != 0

	sx, sy := dx+hp, dy+vp

	// Interpolation reads one extra row/column on the odd sides.
	readW, readH := w, h
	if oddH {
		readW++
	}
	if oddV {
		readH++
	}

	di := dst.Index(dx, dy)

	if sx < -src.edgeX() || sy < -src.edgeY() ||
		sx+readW > src.Width+src.edgeX() || sy+readH > src.Height+src.edgeY() {
		emulateEdge(edgeEmu, src, sx, sy, readW, readH)
		mcBlock(dst.Data, di, dst.Stride, edgeEmu, 0, emuStride, w, h, oddH, oddV, avg)
		return
	}

	mcBlock(dst.Data, di, dst.Stride, src.Data, src.Index(sx, sy), src.Stride, w, h, oddH, oddV, avg)
}

// motionCompensate predicts the macroblock at (mbX, mbY) of dst from
// ref using the given half-pel vector. Chroma vectors are derived by
// the subsampling shifts with the legacy truncating division.
func (sc *SliceContext) motionCompensate(dst, ref *Picture, mbX, mbY, mvx, mvy int, avg bool) {
	g := sc.geom

	motionCompPlane(&dst.Y, &ref.Y, mbX<<4, mbY<<4, mvx, mvy, 16, 16, avg, sc.edgeEmu)

	cw := 16 >> g.chromaXShift
	ch := 16 >> g.chromaYShift
	cmvx := mvx / (1 << g.chromaXShift)
	cmvy := mvy / (1 << g.chromaYShift)
	cx := mbX * cw
	cy := mbY * ch

	motionCompPlane(&dst.Cb, &ref.Cb, cx, cy, cmvx, cmvy, cw, ch, avg, sc.edgeEmu)
	motionCompPlane(&dst.Cr, &ref.Cr, cx, cy, cmvx, cmvy, cw, ch, avg, sc.edgeEmu)
}
