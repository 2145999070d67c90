package main

import (
	"math"
	"testing"
)

// TestTensorBasics tests basic tensor creation and access.
func TestTensorBasics(t *testing.T) {
	tensor := NewTensor(2, 3)

	shape := tensor.Shape()
	if len(shape) != 2 || shape[0] != 2 || shape[1] != 3 {
		t.Errorf("expected shape [2 3], got %v", shape)
	}
	if tensor.Size() != 6 {
		t.Errorf("expected size 6, got %d", tensor.Size())
	}

	tensor.Set(1.5, 0, 0)
	tensor.Set(2.5, 1, 2)

	if v := tensor.At(0, 0); v != 1.5 {
		t.Errorf("expected 1.5, got %f", v)
	}
	if v := tensor.At(1, 2); v != 2.5 {
		t.Errorf("expected 2.5, got %f", v)
	}

	// Row is a view, not a copy.
	row := tensor.Row(1)
	row[0] = 9.0
	if v := tensor.At(1, 0); v != 9.0 {
		t.Errorf("Row should alias tensor data, got %f", v)
	}
}

// TestMatMul tests matrix multiplication.
func TestMatMul(t *testing.T) {
	a := NewTensor(2, 3)
	b := NewTensor(3, 2)
	for i := 0; i < 6; i++ {
		a.data[i] = float64(i + 1)
		b.data[i] = float64(i + 1)
	}

	c := MatMul(a, b)

	shape := c.Shape()
	if shape[0] != 2 || shape[1] != 2 {
		t.Fatalf("expected shape [2 2], got %v", shape)
	}

	// C[0,0] = 1*1 + 2*3 + 3*5 = 22, etc.
	expected := [][]float64{
		{22, 28},
		{49, 64},
	}
	for i := 0; i < 2; i++ {
		for j := 0; j < 2; j++ {
			if v := c.At(i, j); v != expected[i][j] {
				t.Errorf("C[%d,%d]: expected %f, got %f", i, j, expected[i][j], v)
			}
		}
	}
}

// TestMatMulShapeMismatch verifies that incompatible shapes panic.
func TestMatMulShapeMismatch(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("expected panic for incompatible shapes")
		}
	}()
	MatMul(NewTensor(2, 3), NewTensor(2, 3))
}

// TestTranspose tests matrix transpose.
func TestTranspose(t *testing.T) {
	a := NewTensor(2, 3)
	for i := 0; i < 6; i++ {
		a.data[i] = float64(i + 1)
	}

	aT := Transpose(a)

	shape := aT.Shape()
	if shape[0] != 3 || shape[1] != 2 {
		t.Fatalf("expected shape [3 2], got %v", shape)
	}
	if v := aT.At(0, 0); v != 1 {
		t.Errorf("expected 1, got %f", v)
	}
	if v := aT.At(1, 0); v != 2 {
		t.Errorf("expected 2, got %f", v)
	}
	if v := aT.At(2, 1); v != 6 {
		t.Errorf("expected 6, got %f", v)
	}
}

// TestSoftmax tests row-wise softmax.
func TestSoftmax(t *testing.T) {
	x := NewTensor(1, 3)
	x.Set(1.0, 0, 0)
	x.Set(2.0, 0, 1)
	x.Set(3.0, 0, 2)

	out := Softmax(x)

	sum := 0.0
	for i := 0; i < 3; i++ {
		sum += out.At(0, i)
	}
	if math.Abs(sum-1.0) > 1e-6 {
		t.Errorf("softmax should sum to 1, got %f", sum)
	}
	if out.At(0, 2) <= out.At(0, 1) || out.At(0, 2) <= out.At(0, 0) {
		t.Errorf("softmax should give highest probability to largest input")
	}
}

// TestSoftmaxStability verifies softmax survives large scores, including
// masked ones.
func TestSoftmaxStability(t *testing.T) {
	x := NewTensor(1, 3)
	x.Set(1000.0, 0, 0)
	x.Set(maskedScore, 0, 1)
	x.Set(999.0, 0, 2)

	out := Softmax(x)
	for i := 0; i < 3; i++ {
		if math.IsNaN(out.At(0, i)) || math.IsInf(out.At(0, i), 0) {
			t.Fatalf("softmax produced %f at %d", out.At(0, i), i)
		}
	}
	if out.At(0, 1) > 1e-6 {
		t.Errorf("masked score should get ~0 probability, got %f", out.At(0, 1))
	}
}

// TestGELU tests the GELU activation.
func TestGELU(t *testing.T) {
	x := NewTensor(1, 3)
	x.Set(-10.0, 0, 0)
	x.Set(0.0, 0, 1)
	x.Set(10.0, 0, 2)

	out := GELU(x)

	// Far negative saturates to ~0, zero stays zero, far positive ~identity.
	if v := out.At(0, 0); math.Abs(v) > 1e-3 {
		t.Errorf("GELU(-10) should be ~0, got %f", v)
	}
	if v := out.At(0, 1); v != 0 {
		t.Errorf("GELU(0) should be 0, got %f", v)
	}
	if v := out.At(0, 2); math.Abs(v-10.0) > 1e-3 {
		t.Errorf("GELU(10) should be ~10, got %f", v)
	}
}

// TestAddAndBias tests elementwise add and bias broadcast.
func TestAddAndBias(t *testing.T) {
	a := NewTensor(2, 2)
	b := NewTensor(2, 2)
	for i := range a.data {
		a.data[i] = float64(i)
		b.data[i] = 10.0
	}

	c := Add(a, b)
	if c.At(1, 1) != 13.0 {
		t.Errorf("expected 13, got %f", c.At(1, 1))
	}

	bias := NewTensor(2)
	bias.data[0] = 1.0
	bias.data[1] = -1.0
	d := addBias(a, bias)
	if d.At(0, 0) != 1.0 || d.At(1, 1) != 2.0 {
		t.Errorf("bias broadcast wrong: %f, %f", d.At(0, 0), d.At(1, 1))
	}
}

// TestReshapeSharesData verifies reshape is a view over the same buffer.
func TestReshapeSharesData(t *testing.T) {
	a := NewTensor(2, 3)
	r := a.Reshape(3, 2)
	r.Set(7.0, 2, 1)
	if a.At(1, 2) != 7.0 {
		t.Errorf("reshape should share data, got %f", a.At(1, 2))
	}
}
