package mpegcore

// Inverse transform kernel, fixed point. The kernel consumes blocks in
// natural raster order (identity coefficient permutation); the scale
// normalization is folded into a per-position premultiplier.

var premultiplierMatrix = [64]int32{
	32, 44, 42, 38, 32, 25, 17, 9,
	44, 62, 58, 52, 44, 35, 24, 12,
	42, 58, 55, 49, 42, 33, 23, 12,
	38, 52, 49, 44, 38, 30, 20, 10,
	32, 44, 42, 38, 32, 25, 17, 9,
	25, 35, 33, 30, 25, 20, 14, 7,
	17, 24, 23, 20, 17, 14, 9, 5,
	9, 12, 12, 10, 9, 7, 5, 2,
}

func clamp(n int32) byte {
	if n > 255 {
		n = 255
	} else if n < 0 {
		n = 0
	}
	return byte(n)
}

func idct(block *[64]int32) {
	for i := range block {
		block[i] *= premultiplierMatrix[i]
	}

	var b1, b3, b4, b6, b7, tmp1, tmp2, m0,
		x0, x1, x2, x3, x4, y3, y4, y5, y6, y7 int32

	// Transform columns
	for i := 0; i < 8; i++ {
		b1 = block[4*8+i]
		b3 = block[2*8+i] + block[6*8+i]
		b4 = block[5*8+i] - block[3*8+i]
		tmp1 = block[1*8+i] + block[7*8+i]
		tmp2 = block[3*8+i] + block[5*8+i]
		b6 = block[1*8+i] - block[7*8+i]
		b7 = tmp1 + tmp2
		m0 = block[0*8+i]
		x4 = ((b6*473 - b4*196 + 128) >> 8) - b7
		x0 = x4 - (((tmp1-tmp2)*362 + 128) >> 8)
		x1 = m0 - b1
		x2 = (((block[2*8+i]-block[6*8+i])*362 + 128) >> 8) - b3
		x3 = m0 + b1
		y3 = x1 + x2
		y4 = x3 + b3
		y5 = x1 - x2
		y6 = x3 - b3
		y7 = -x0 - ((b4*473 + b6*196 + 128) >> 8)
		block[0*8+i] = b7 + y4
		block[1*8+i] = x4 + y3
		block[2*8+i] = y5 - x0
		block[3*8+i] = y6 - y7
		block[4*8+i] = y6 + y7
		block[5*8+i] = x0 + y5
		block[6*8+i] = y3 - x4
		block[7*8+i] = y4 - b7
	}

	// Transform rows
	for i := 0; i < 64; i += 8 {
		b1 = block[4+i]
		b3 = block[2+i] + block[6+i]
		b4 = block[5+i] - block[3+i]
		tmp1 = block[1+i] + block[7+i]
		tmp2 = block[3+i] + block[5+i]
		b6 = block[1+i] - block[7+i]
		b7 = tmp1 + tmp2
		m0 = block[0+i]
		x4 = ((b6*473 - b4*196 + 128) >> 8) - b7
		x0 = x4 - (((tmp1-tmp2)*362 + 128) >> 8)
		x1 = m0 - b1
		x2 = (((block[2+i]-block[6+i])*362 + 128) >> 8) - b3
		x3 = m0 + b1
		y3 = x1 + x2
		y4 = x3 + b3
		y5 = x1 - x2
		y6 = x3 - b3
		y7 = -x0 - ((b4*473 + b6*196 + 128) >> 8)
		block[0+i] = (b7 + y4 + 128) >> 8
		block[1+i] = (x4 + y3 + 128) >> 8
		block[2+i] = (y5 - x0 + 128) >> 8
		block[3+i] = (y6 - y7 + 128) >> 8
		block[4+i] = (y6 + y7 + 128) >> 8
		block[5+i] = (x0 + y5 + 128) >> 8
		block[6+i] = (y3 - x4 + 128) >> 8
		block[7+i] = (y4 - b7 + 128) >> 8
	}
}

// idctPut transforms block and overwrites the 8x8 destination. A
// DC-only block short-circuits to a flat fill. The block is cleared
// for reuse. The bit-exact dequantizers may toggle block[63] on a
// DC-only block, which forces the full transform.
func idctPut(dest []byte, index, stride int, block *[64]int32, lastIndex int) {
	if lastIndex == 0 && block[63] == 0 {
		value := clamp((block[0]*premultiplierMatrix[0] + 128) >> 8)
		for n := 0; n < 8; n++ {
			for x := 0; x < 8; x++ {
				dest[index+x] = value
			}
			index += stride
		}
		block[0] = 0
		return
	}

	idct(block)
	for n := 0; n < 64; n += 8 {
		for x := 0; x < 8; x++ {
			dest[index+x] = clamp(block[n+x])
		}
		index += stride
	}
	for i := range block {
		block[i] = 0
	}
}

// idctAdd transforms block and adds the residual onto the 8x8
// destination.
func idctAdd(dest []byte, index, stride int, block *[64]int32, lastIndex int) {
	if lastIndex == 0 && block[63] == 0 {
		value := (block[0]*premultiplierMatrix[0] + 128) >> 8
		for n := 0; n < 8; n++ {
			for x := 0; x < 8; x++ {
				dest[index+x] = clamp(int32(dest[index+x]) + value)
			}
			index += stride
		}
		block[0] = 0
		return
	}

	idct(block)
	for n := 0; n < 64; n += 8 {
		for x := 0; x < 8; x++ {
			dest[index+x] = clamp(int32(dest[index+x]) + block[n+x])
		}
		index += stride
	}
	for i := range block {
		block[i] = 0
	}
}
