package mpegcore

// dequantFunc applies inverse quantization to one coefficient block in
// place. n is the block index within the macroblock (blocks 0-3 are
// luma). The active (intra, inter) pair is selected once per frame.
type dequantFunc func(sc *SliceContext, block *[64]int32, n int, qscale int)

// Simple-profile intra dequantization. DC is scaled by the luma or
// chroma DC scale, AC coefficients by the quant matrix with an odd bias
// to keep the dead-zone symmetric.
func dequantSimpleIntra(sc *SliceContext, block *[64]int32, n int, qscale int) {
	nCoeffs := sc.lastIndex[n]

	if n < 4 {
		block[0] *= sc.yDCScale
	} else {
		block[0] *= sc.cDCScale
	}

	quantMatrix := sc.intraMatrix
	for i := 1; i <= nCoeffs; i++ {
		j := sc.scan.Permutated[i]
		level := block[j]
		if level != 0 {
			if level < 0 {
				level = -level
				level = (level * int32(qscale) * int32(quantMatrix[j])) >> 3
				level = (level - 1) | 1
				level = -level
			} else {
				level = (level * int32(qscale) * int32(quantMatrix[j])) >> 3
				level = (level - 1) | 1
			}
			block[j] = level
		}
	}
}

// Simple-profile inter dequantization. All positions, DC included, use
// the (2*level+1) scaling with the same odd bias.
func dequantSimpleInter(sc *SliceContext, block *[64]int32, n int, qscale int) {
	nCoeffs := sc.lastIndex[n]

	quantMatrix := sc.interMatrix
	for i := 0; i <= nCoeffs; i++ {
		j := sc.scan.Permutated[i]
		level := block[j]
		if level != 0 {
			if level < 0 {
				level = -level
				level = ((level<<1 + 1) * int32(qscale) * int32(quantMatrix[j])) >> 4
				level = (level - 1) | 1
				level = -level
			} else {
				level = ((level<<1 + 1) * int32(qscale) * int32(quantMatrix[j])) >> 4
				level = (level - 1) | 1
			}
			block[j] = level
		}
	}
}

// Legacy-interlace intra dequantization: the simple scaling without the
// odd bias. With alternate scan the full coefficient range is covered
// regardless of the last scan position.
func dequantLegacyIntra(sc *SliceContext, block *[64]int32, n int, qscale int) {
	nCoeffs := sc.lastIndex[n]
	if sc.alternateScan {
		nCoeffs = 63
	}

	if n < 4 {
		block[0] *= sc.yDCScale
	} else {
		block[0] *= sc.cDCScale
	}

	quantMatrix := sc.intraMatrix
	for i := 1; i <= nCoeffs; i++ {
		j := sc.scan.Permutated[i]
		level := block[j]
		if level != 0 {
			if level < 0 {
				level = -level
				level = (level * int32(qscale) * int32(quantMatrix[j])) >> 3
				level = -level
			} else {
				level = (level * int32(qscale) * int32(quantMatrix[j])) >> 3
			}
			block[j] = level
		}
	}
}

// Bit-exact legacy intra variant. The parity of the sum of all nonzero
// dequantized levels is folded into the low bit of the last raster
// position. Deliberate compatibility quirk of the legacy reference
// decoder; must not be "fixed".
func dequantLegacyIntraBitexact(sc *SliceContext, block *[64]int32, n int, qscale int) {
	var sum int32 = -1

	nCoeffs := sc.lastIndex[n]
	if sc.alternateScan {
		nCoeffs = 63
	}

	if n < 4 {
		block[0] *= sc.yDCScale
	} else {
		block[0] *= sc.cDCScale
	}

	quantMatrix := sc.intraMatrix
	for i := 1; i <= nCoeffs; i++ {
		j := sc.scan.Permutated[i]
		level := block[j]
		if level != 0 {
			if level < 0 {
				level = -level
				level = (level * int32(qscale) * int32(quantMatrix[j])) >> 3
				level = -level
			} else {
				level = (level * int32(qscale) * int32(quantMatrix[j])) >> 3
			}
			block[j] = level
			sum += level
		}
	}

	block[63] ^= sum & 1
}

// Legacy-interlace inter dequantization, also bit-exact corrected.
func dequantLegacyInter(sc *SliceContext, block *[64]int32, n int, qscale int) {
	var sum int32 = -1

	nCoeffs := sc.lastIndex[n]
	if sc.alternateScan {
		nCoeffs = 63
	}

	quantMatrix := sc.interMatrix
	for i := 0; i <= nCoeffs; i++ {
		j := sc.scan.Permutated[i]
		level := block[j]
		if level != 0 {
			if level < 0 {
				level = -level
				level = ((level<<1 + 1) * int32(qscale) * int32(quantMatrix[j])) >> 4
				level = -level
			} else {
				level = ((level<<1 + 1) * int32(qscale) * int32(quantMatrix[j])) >> 4
			}
			block[j] = level
			sum += level
		}
	}

	block[63] ^= sum & 1
}

// Block-based intra dequantization. Operates in raster order, not scan
// order: level*qmul +/- qadd. The DC scale and bias are bypassed when
// AC prediction carries the DC through the predictor instead.
func dequantBlockIntra(sc *SliceContext, block *[64]int32, n int, qscale int) {
	qmul := int32(qscale) << 1
	var qadd int32

	if !sc.dcBypass {
		if n < 4 {
			block[0] *= sc.yDCScale
		} else {
			block[0] *= sc.cDCScale
		}
		qadd = int32((qscale - 1) | 1)
	}

	nCoeffs := 63
	if !sc.acPred {
		nCoeffs = int(sc.scan.RasterEnd[sc.lastIndex[n]])
	}

	for i := 1; i <= nCoeffs; i++ {
		level := block[i]
		if level != 0 {
			if level < 0 {
				level = level*qmul - qadd
			} else {
				level = level*qmul + qadd
			}
			block[i] = level
		}
	}
}

// Block-based inter dequantization, raster order over the raster-end
// bounded range.
func dequantBlockInter(sc *SliceContext, block *[64]int32, n int, qscale int) {
	qmul := int32(qscale) << 1
	qadd := int32((qscale - 1) | 1)

	nCoeffs := int(sc.scan.RasterEnd[sc.lastIndex[n]])

	for i := 0; i <= nCoeffs; i++ {
		level := block[i]
		if level != 0 {
			if level < 0 {
				level = level*qmul - qadd
			} else {
				level = level*qmul + qadd
			}
			block[i] = level
		}
	}
}
