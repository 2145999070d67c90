package main

import (
	"math"
)

// Backward operations for backpropagation. Each op in tensor.go that
// appears on the training path has a matching gradient implementation here.

// MatMulBackward computes gradients for C = A @ B.
//
//	gradA = ∂L/∂A = gradC @ B^T
//	gradB = ∂L/∂B = A^T @ gradC
func MatMulBackward(a, b, gradC *Tensor) (gradA, gradB *Tensor) {
	gradA = MatMul(gradC, Transpose(b))
	gradB = MatMul(Transpose(a), gradC)
	return gradA, gradB
}

// GELUBackward computes the gradient of the GELU activation using the
// analytic derivative of the tanh approximation.
func GELUBackward(x, gradY *Tensor) *Tensor {
	const (
		sqrt2OverPi = 0.7978845608028654
		coeff       = 0.044715
	)

	gradX := NewTensor(x.shape...)
	for i := range x.data {
		v := x.data[i]

		inner := sqrt2OverPi * (v + coeff*v*v*v)
		tanhInner := math.Tanh(inner)

		tanhDeriv := 1.0 - tanhInner*tanhInner
		innerDeriv := sqrt2OverPi * (1.0 + 3.0*coeff*v*v)
		geluDeriv := 0.5*(1.0+tanhInner) + 0.5*v*tanhDeriv*innerDeriv

		gradX.data[i] = gradY.data[i] * geluDeriv
	}

	return gradX
}

// SoftmaxBackward computes the gradient of a row-wise softmax.
//
// With Y = softmax(X):
//
//	gradX[i] = Y[i] * (gradY[i] - Σ_j gradY[j] * Y[j])
func SoftmaxBackward(y, gradY *Tensor) *Tensor {
	if len(y.shape) != 2 {
		panic("SoftmaxBackward: requires 2D tensor")
	}

	rows := y.shape[0]
	cols := y.shape[1]

	gradX := NewTensor(y.shape...)

	for r := 0; r < rows; r++ {
		dot := 0.0
		for c := 0; c < cols; c++ {
			dot += gradY.data[r*cols+c] * y.data[r*cols+c]
		}
		for c := 0; c < cols; c++ {
			gradX.data[r*cols+c] = y.data[r*cols+c] * (gradY.data[r*cols+c] - dot)
		}
	}

	return gradX
}

// LayerNormBackward computes gradients for layer normalization
// y = gamma * (x - mean) / std + beta, recomputing the per-row statistics.
func LayerNormBackward(x, gamma *Tensor, gradY *Tensor, epsilon float64) (gradX, gradGamma, gradBeta *Tensor) {
	if len(x.shape) != 2 {
		panic("LayerNormBackward: requires 2D tensor")
	}

	rows := x.shape[0]
	features := x.shape[1]

	gradX = NewTensor(x.shape...)
	gradGamma = NewTensor(gamma.shape...)
	gradBeta = NewTensor(gamma.shape...)

	n := float64(features)

	for r := 0; r < rows; r++ {
		row := x.data[r*features : (r+1)*features]
		gRow := gradY.data[r*features : (r+1)*features]

		mean := 0.0
		for _, v := range row {
			mean += v
		}
		mean /= n

		variance := 0.0
		for _, v := range row {
			diff := v - mean
			variance += diff * diff
		}
		variance /= n

		std := math.Sqrt(variance + epsilon)

		// Parameter gradients accumulate across rows.
		for f := 0; f < features; f++ {
			xNorm := (row[f] - mean) / std
			gradGamma.data[f] += gRow[f] * xNorm
			gradBeta.data[f] += gRow[f]
		}

		// Input gradient via the standard normalization backward formula.
		sumGradY := 0.0
		sumGradYXNorm := 0.0
		for f := 0; f < features; f++ {
			xNorm := (row[f] - mean) / std
			sumGradY += gRow[f] * gamma.data[f]
			sumGradYXNorm += gRow[f] * gamma.data[f] * xNorm
		}

		for f := 0; f < features; f++ {
			xNorm := (row[f] - mean) / std
			gradXNorm := gRow[f] * gamma.data[f]
			gradX.data[r*features+f] = (n*gradXNorm - sumGradY - xNorm*sumGradYXNorm) / (n * std)
		}
	}

	return gradX, gradGamma, gradBeta
}

// AccumulateGrad adds grad to the tensor's gradient buffer.
// Used when a tensor contributes to the loss through multiple paths.
func (t *Tensor) AccumulateGrad(grad *Tensor) {
	if !shapeEqual(t.shape, grad.shape) {
		panic("AccumulateGrad: shape mismatch")
	}

	for i := range t.grad {
		t.grad[i] += grad.data[i]
	}
}
