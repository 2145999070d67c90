package main

// Attention masks use 1.0 for positions that may be attended to and 0.0 for
// positions that must be blocked. Blocked positions have their attention
// scores replaced with a large negative value before the softmax, so they
// receive effectively zero weight.

const maskedScore = -1e9

// CausalMask returns an n×n mask where position (i, j) is allowed iff j <= i:
// lower-triangular including the diagonal. A token may attend to itself and
// to earlier tokens, never to later ones.
func CausalMask(n int) *Tensor {
	mask := NewTensor(n, n)
	for i := 0; i < n; i++ {
		for j := 0; j <= i; j++ {
			mask.data[i*n+j] = 1.0
		}
	}
	return mask
}

// PaddingMask returns a length-len(ids) vector mask marking non-PAD positions.
func PaddingMask(ids []int, padID int) *Tensor {
	mask := NewTensor(len(ids))
	for i, id := range ids {
		if id != padID {
			mask.data[i] = 1.0
		}
	}
	return mask
}

// CombineMasks joins an n×n causal mask with a length-n padding mask by
// logical AND: position (i, j) is allowed only when it is both causally
// reachable and not padding. This is the decoder self-attention mask.
func CombineMasks(causal, padding *Tensor) *Tensor {
	if len(causal.shape) != 2 || causal.shape[0] != causal.shape[1] {
		panic("mask: CombineMasks requires a square 2D causal mask")
	}
	n := causal.shape[0]
	if padding.Size() != n {
		panic("mask: padding mask length does not match causal mask size")
	}

	out := NewTensor(n, n)
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			out.data[i*n+j] = causal.data[i*n+j] * padding.data[j]
		}
	}
	return out
}

// applyMask overwrites blocked positions of an attention score matrix
// in place. The mask may be nil (no-op), a vector masking key positions
// for every query row, or a full (queries × keys) matrix.
func applyMask(scores, mask *Tensor) {
	if mask == nil {
		return
	}

	rows, cols := scores.shape[0], scores.shape[1]

	switch len(mask.shape) {
	case 1:
		if mask.Size() != cols {
			panic("mask: key mask length does not match score columns")
		}
		for i := 0; i < rows; i++ {
			for j := 0; j < cols; j++ {
				if mask.data[j] == 0 {
					scores.data[i*cols+j] = maskedScore
				}
			}
		}
	case 2:
		if mask.shape[0] != rows || mask.shape[1] != cols {
			panic("mask: mask shape does not match score shape")
		}
		for i := range scores.data {
			if mask.data[i] == 0 {
				scores.data[i] = maskedScore
			}
		}
	default:
		panic("mask: mask must be 1D or 2D")
	}
}

// zeroMaskedGrad clears score gradients at blocked positions. Masked scores
// are overwritten constants in the forward pass, so no gradient flows
// through them.
func zeroMaskedGrad(gradScores, mask *Tensor) {
	if mask == nil {
		return
	}

	rows, cols := gradScores.shape[0], gradScores.shape[1]

	switch len(mask.shape) {
	case 1:
		for i := 0; i < rows; i++ {
			for j := 0; j < cols; j++ {
				if mask.data[j] == 0 {
					gradScores.data[i*cols+j] = 0
				}
			}
		}
	case 2:
		for i := range gradScores.data {
			if mask.data[i] == 0 {
				gradScores.data[i] = 0
			}
		}
	}
}
