package mpegcore

// ScanPattern selects the coefficient scan order for a stream.
type ScanPattern int

const (
	ScanZigZag ScanPattern = iota
	ScanAlternateVertical
	ScanAlternateHorizontal
)

// ScanTable maps scan positions to the storage order expected by the
// transform kernel. Built once per configured scan order and shared
// read-only between slice contexts.
type ScanTable struct {
	// Scantable is the raw scan pattern, raster position per scan index.
	Scantable [64]uint8

	// Permutated composes the scan pattern with the kernel's coefficient
	// permutation, so dequantizers can write coefficients directly in
	// the kernel's native layout.
	Permutated [64]uint8

	// RasterEnd[i] is the highest raster position reached by any of the
	// first i+1 scan positions. Formats that truncate coefficient runs
	// by raster position instead of scan length bound their loops with
	// this.
	RasterEnd [64]uint8
}

func newScanTable(pattern ScanPattern, permutation *[64]uint8) *ScanTable {
	st := &ScanTable{}

	switch pattern {
	case ScanAlternateVertical:
		st.Scantable = alternateVerticalScan
	case ScanAlternateHorizontal:
		st.Scantable = alternateHorizontalScan
	default:
		st.Scantable = zigZagScan
	}

	for i := 0; i < 64; i++ {
		st.Permutated[i] = permutation[st.Scantable[i]]
	}

	end := -1
	for i := 0; i < 64; i++ {
		if j := int(st.Permutated[i]); j > end {
			end = j
		}
		st.RasterEnd[i] = uint8(end)
	}

	return st
}
