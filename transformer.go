package main

import (
	"fmt"
	"math"
)

// ===========================================================================
// WHAT'S GOING ON HERE
// ===========================================================================
//
// This file implements an encoder-decoder transformer for neural machine
// translation - the architecture from "Attention Is All You Need".
//
// The shape of the computation:
//
//   1. The ENCODER reads the whole source sentence at once. Each source
//      position attends to every other real source position (padding is
//      masked out) and produces a contextual representation, the "memory".
//
//   2. The DECODER produces the target sentence one position at a time.
//      Each decoder position attends to earlier target positions (causal
//      self-attention) and to the full encoder memory (cross-attention).
//
//   3. A final linear PROJECTION maps each decoder position to a score per
//      target vocabulary token.
//
// Blocks are pre-norm: x = x + Sublayer(LayerNorm(x)). Pre-norm trains
// stably without a warmup schedule, which matters here because the
// optimizer runs at a fixed learning rate.
//
// This is a learning implementation - prioritizing clarity over
// performance. The matrix multiplications bottom out in gonum (tensor.go),
// everything else is plain loops.
//
// RECOMMENDED READING:
//
// - "Attention Is All You Need" by Vaswani et al. (2017)
//   https://arxiv.org/abs/1706.03762
//
// - "The Annotated Transformer" by Sasha Rush
//   https://nlp.seas.harvard.edu/annotated-transformer/
// ===========================================================================

// Config holds hyperparameters for the translation model.
type Config struct {
	SrcVocabSize int // Source language vocabulary size
	TgtVocabSize int // Target language vocabulary size
	SeqLen       int // Fixed sequence length (context window)
	EmbedDim     int // Embedding dimension (d_model)
	NumHeads     int // Number of attention heads
	NumLayers    int // Number of encoder and of decoder blocks
	FFHidden     int // Feed-forward hidden dimension (typically 4 * EmbedDim)
}

// DefaultConfig returns a small translation model configuration.
func DefaultConfig() Config {
	return Config{
		SrcVocabSize: 1000,
		TgtVocabSize: 1000,
		SeqLen:       128,
		EmbedDim:     256,
		NumHeads:     4,
		NumLayers:    4,
		FFHidden:     1024,
	}
}

// Validate checks that the configuration is internally consistent.
func (c Config) Validate() error {
	if c.SrcVocabSize < 1 || c.TgtVocabSize < 1 {
		return fmt.Errorf("config: vocabulary sizes must be positive, got src=%d tgt=%d", c.SrcVocabSize, c.TgtVocabSize)
	}
	if c.SeqLen < 2 {
		return fmt.Errorf("config: seq_len must be at least 2, got %d", c.SeqLen)
	}
	if c.EmbedDim < 1 || c.NumHeads < 1 || c.NumLayers < 1 || c.FFHidden < 1 {
		return fmt.Errorf("config: dimensions must be positive")
	}
	if c.EmbedDim%c.NumHeads != 0 {
		return fmt.Errorf("config: embed_dim %d not divisible by num_heads %d", c.EmbedDim, c.NumHeads)
	}
	return nil
}

// Seq2SeqModel is the surface the decoding and validation loops need.
// Encode runs once per sentence; Decode and Project run once per generated
// token. *Transformer is the real implementation; tests substitute scripted
// stand-ins.
type Seq2SeqModel interface {
	// Encode maps source token IDs to the encoder memory (len(src) × d_model).
	Encode(src []int, srcMask *Tensor) *Tensor
	// Decode runs the decoder over a target prefix against the memory,
	// returning one d_model vector per target position.
	Decode(memory, srcMask *Tensor, tgt []int, tgtMask *Tensor) *Tensor
	// Project maps decoder outputs to per-token scores (n × tgt_vocab).
	Project(dec *Tensor) *Tensor
}

const layerNormEpsilon = 1e-5

// LayerNorm normalizes each row to zero mean and unit variance, then
// applies a learned per-dimension scale and shift.
type LayerNorm struct {
	Gamma *Tensor // scale, shape (dim,)
	Beta  *Tensor // shift, shape (dim,)
}

// NewLayerNorm creates a layer norm initialized to the identity transform.
func NewLayerNorm(dim int) *LayerNorm {
	ln := &LayerNorm{
		Gamma: NewTensor(dim),
		Beta:  NewTensor(dim),
	}
	for i := range ln.Gamma.data {
		ln.Gamma.data[i] = 1.0
	}
	return ln
}

// Forward normalizes x row by row. Input and output are (n, dim).
func (ln *LayerNorm) Forward(x *Tensor) *Tensor {
	n, dim := x.shape[0], x.shape[1]
	out := NewTensor(n, dim)

	for i := 0; i < n; i++ {
		row := x.Row(i)

		mean := 0.0
		for _, v := range row {
			mean += v
		}
		mean /= float64(dim)

		variance := 0.0
		for _, v := range row {
			d := v - mean
			variance += d * d
		}
		variance /= float64(dim)

		invStd := 1.0 / math.Sqrt(variance+layerNormEpsilon)
		outRow := out.Row(i)
		for j, v := range row {
			outRow[j] = (v-mean)*invStd*ln.Gamma.data[j] + ln.Beta.data[j]
		}
	}
	return out
}

// Attention implements multi-head scaled dot-product attention.
//
// The same module serves both roles in this model:
//   - self-attention: query and kv are the same sequence
//   - cross-attention: query is the decoder sequence, kv is the encoder
//     memory
//
// Mechanism per head:
//   1. Project to Query, Key, Value
//   2. scores = Q·K^T / √d_head, masked positions forced to -1e9
//   3. output = softmax(scores)·V
//
// The h head outputs are concatenated and mixed by an output projection.
type Attention struct {
	Wq, Wk, Wv *Tensor // (embedDim, embedDim) projections
	Wo         *Tensor // (embedDim, embedDim) output projection

	numHeads int
	headDim  int
}

// NewAttention creates a multi-head attention module.
func NewAttention(embedDim, numHeads int) *Attention {
	if embedDim%numHeads != 0 {
		panic(fmt.Sprintf("attention: embed dim %d not divisible by %d heads", embedDim, numHeads))
	}
	return &Attention{
		Wq:       NewTensorRand(embedDim, embedDim),
		Wk:       NewTensorRand(embedDim, embedDim),
		Wv:       NewTensorRand(embedDim, embedDim),
		Wo:       NewTensorRand(embedDim, embedDim),
		numHeads: numHeads,
		headDim:  embedDim / numHeads,
	}
}

// sliceCols copies columns [start, start+width) of a 2-D tensor.
func sliceCols(t *Tensor, start, width int) *Tensor {
	rows := t.shape[0]
	out := NewTensor(rows, width)
	for i := 0; i < rows; i++ {
		copy(out.Row(i), t.Row(i)[start:start+width])
	}
	return out
}

// setCols writes src into columns [start, start+width) of dst.
func setCols(dst, src *Tensor, start, width int) {
	for i := 0; i < dst.shape[0]; i++ {
		copy(dst.Row(i)[start:start+width], src.Row(i))
	}
}

// Forward computes attention from query positions over kv positions.
// query is (qLen, embedDim), kv is (kvLen, embedDim). mask follows the
// applyMask convention: nil for none, a length-kvLen vector to hide key
// columns, or a (qLen, kvLen) matrix for per-pair control.
func (a *Attention) Forward(query, kv, mask *Tensor) *Tensor {
	qLen := query.shape[0]
	embedDim := query.shape[1]

	Q := MatMul(query, a.Wq)
	K := MatMul(kv, a.Wk)
	V := MatMul(kv, a.Wv)

	scale := 1.0 / math.Sqrt(float64(a.headDim))

	concat := NewTensor(qLen, embedDim)
	for h := 0; h < a.numHeads; h++ {
		offset := h * a.headDim
		qh := sliceCols(Q, offset, a.headDim)
		kh := sliceCols(K, offset, a.headDim)
		vh := sliceCols(V, offset, a.headDim)

		scores := Scale(MatMul(qh, Transpose(kh)), scale)
		applyMask(scores, mask)
		weights := Softmax(scores)

		setCols(concat, MatMul(weights, vh), offset, a.headDim)
	}

	return MatMul(concat, a.Wo)
}

// FeedForward is the position-wise two-layer network applied after
// attention: expand to the hidden dimension, GELU, project back.
type FeedForward struct {
	W1 *Tensor // (embedDim, ffHidden)
	B1 *Tensor // (ffHidden,)
	W2 *Tensor // (ffHidden, embedDim)
	B2 *Tensor // (embedDim,)
}

// NewFeedForward creates a feed-forward module.
func NewFeedForward(embedDim, ffHidden int) *FeedForward {
	return &FeedForward{
		W1: NewTensorRand(embedDim, ffHidden),
		B1: NewTensor(ffHidden),
		W2: NewTensorRand(ffHidden, embedDim),
		B2: NewTensor(embedDim),
	}
}

// Forward applies the network to each row independently.
func (ff *FeedForward) Forward(x *Tensor) *Tensor {
	hidden := GELU(addBias(MatMul(x, ff.W1), ff.B1))
	return addBias(MatMul(hidden, ff.W2), ff.B2)
}

// EncoderBlock is one encoder layer: masked self-attention plus
// feed-forward, each wrapped in a pre-norm residual.
type EncoderBlock struct {
	LN1      *LayerNorm
	SelfAttn *Attention
	LN2      *LayerNorm
	FF       *FeedForward
}

// NewEncoderBlock creates an encoder layer.
func NewEncoderBlock(embedDim, numHeads, ffHidden int) *EncoderBlock {
	return &EncoderBlock{
		LN1:      NewLayerNorm(embedDim),
		SelfAttn: NewAttention(embedDim, numHeads),
		LN2:      NewLayerNorm(embedDim),
		FF:       NewFeedForward(embedDim, ffHidden),
	}
}

// Forward runs the block. srcMask hides padded source columns.
func (b *EncoderBlock) Forward(x, srcMask *Tensor) *Tensor {
	normed := b.LN1.Forward(x)
	x = Add(x, b.SelfAttn.Forward(normed, normed, srcMask))
	x = Add(x, b.FF.Forward(b.LN2.Forward(x)))
	return x
}

// DecoderBlock is one decoder layer: causal self-attention, cross-attention
// over the encoder memory, then feed-forward, all pre-norm residuals.
type DecoderBlock struct {
	LN1       *LayerNorm
	SelfAttn  *Attention
	LN2       *LayerNorm
	CrossAttn *Attention
	LN3       *LayerNorm
	FF        *FeedForward
}

// NewDecoderBlock creates a decoder layer.
func NewDecoderBlock(embedDim, numHeads, ffHidden int) *DecoderBlock {
	return &DecoderBlock{
		LN1:       NewLayerNorm(embedDim),
		SelfAttn:  NewAttention(embedDim, numHeads),
		LN2:       NewLayerNorm(embedDim),
		CrossAttn: NewAttention(embedDim, numHeads),
		LN3:       NewLayerNorm(embedDim),
		FF:        NewFeedForward(embedDim, ffHidden),
	}
}

// Forward runs the block. tgtMask combines the causal and target padding
// masks; srcMask hides padded memory columns in cross-attention.
func (b *DecoderBlock) Forward(x, memory, srcMask, tgtMask *Tensor) *Tensor {
	normed := b.LN1.Forward(x)
	x = Add(x, b.SelfAttn.Forward(normed, normed, tgtMask))
	x = Add(x, b.CrossAttn.Forward(b.LN2.Forward(x), memory, srcMask))
	x = Add(x, b.FF.Forward(b.LN3.Forward(x)))
	return x
}

// Transformer is the full translation model.
type Transformer struct {
	Config Config

	SrcEmbed *Tensor // (srcVocab, embedDim) source token embeddings
	SrcPos   *Tensor // (seqLen, embedDim) source position embeddings
	TgtEmbed *Tensor // (tgtVocab, embedDim) target token embeddings
	TgtPos   *Tensor // (seqLen, embedDim) target position embeddings

	Encoder []*EncoderBlock
	EncNorm *LayerNorm
	Decoder []*DecoderBlock
	DecNorm *LayerNorm

	Proj *Tensor // (embedDim, tgtVocab) output projection
}

// NewTransformer creates a model with random weights.
func NewTransformer(config Config) *Transformer {
	if err := config.Validate(); err != nil {
		panic(err)
	}

	t := &Transformer{
		Config:   config,
		SrcEmbed: NewTensorRand(config.SrcVocabSize, config.EmbedDim),
		SrcPos:   NewTensorRand(config.SeqLen, config.EmbedDim),
		TgtEmbed: NewTensorRand(config.TgtVocabSize, config.EmbedDim),
		TgtPos:   NewTensorRand(config.SeqLen, config.EmbedDim),
		EncNorm:  NewLayerNorm(config.EmbedDim),
		DecNorm:  NewLayerNorm(config.EmbedDim),
		Proj:     NewTensorRand(config.EmbedDim, config.TgtVocabSize),
	}
	for i := 0; i < config.NumLayers; i++ {
		t.Encoder = append(t.Encoder, NewEncoderBlock(config.EmbedDim, config.NumHeads, config.FFHidden))
		t.Decoder = append(t.Decoder, NewDecoderBlock(config.EmbedDim, config.NumHeads, config.FFHidden))
	}
	return t
}

// embedSequence looks up token embeddings and adds position embeddings.
func embedSequence(ids []int, table, pos *Tensor) *Tensor {
	n := len(ids)
	embedDim := table.shape[1]
	if n > pos.shape[0] {
		panic(fmt.Sprintf("transformer: sequence length %d exceeds maximum %d", n, pos.shape[0]))
	}

	out := NewTensor(n, embedDim)
	for i, id := range ids {
		if id < 0 || id >= table.shape[0] {
			panic(fmt.Sprintf("transformer: token ID %d out of range [0, %d)", id, table.shape[0]))
		}
		row := out.Row(i)
		copy(row, table.Row(id))
		posRow := pos.Row(i)
		for j := range row {
			row[j] += posRow[j]
		}
	}
	return out
}

// Encode runs the encoder stack over the source sequence.
func (t *Transformer) Encode(src []int, srcMask *Tensor) *Tensor {
	x := embedSequence(src, t.SrcEmbed, t.SrcPos)
	for _, block := range t.Encoder {
		x = block.Forward(x, srcMask)
	}
	return t.EncNorm.Forward(x)
}

// Decode runs the decoder stack over a target prefix against the memory.
func (t *Transformer) Decode(memory, srcMask *Tensor, tgt []int, tgtMask *Tensor) *Tensor {
	x := embedSequence(tgt, t.TgtEmbed, t.TgtPos)
	for _, block := range t.Decoder {
		x = block.Forward(x, memory, srcMask, tgtMask)
	}
	return t.DecNorm.Forward(x)
}

// Project maps decoder outputs to raw per-token scores. Softmax is left to
// the loss, and greedy decoding takes the argmax directly.
func (t *Transformer) Project(dec *Tensor) *Tensor {
	return MatMul(dec, t.Proj)
}

// Parameters returns every learnable tensor in a fixed order. The
// optimizer, the gradient pass, and the checkpoint format all depend on
// this order staying stable.
func (t *Transformer) Parameters() []*Tensor {
	params := []*Tensor{t.SrcEmbed, t.SrcPos, t.TgtEmbed, t.TgtPos}

	for _, b := range t.Encoder {
		params = append(params,
			b.LN1.Gamma, b.LN1.Beta,
			b.SelfAttn.Wq, b.SelfAttn.Wk, b.SelfAttn.Wv, b.SelfAttn.Wo,
			b.LN2.Gamma, b.LN2.Beta,
			b.FF.W1, b.FF.B1, b.FF.W2, b.FF.B2,
		)
	}
	params = append(params, t.EncNorm.Gamma, t.EncNorm.Beta)

	for _, b := range t.Decoder {
		params = append(params,
			b.LN1.Gamma, b.LN1.Beta,
			b.SelfAttn.Wq, b.SelfAttn.Wk, b.SelfAttn.Wv, b.SelfAttn.Wo,
			b.LN2.Gamma, b.LN2.Beta,
			b.CrossAttn.Wq, b.CrossAttn.Wk, b.CrossAttn.Wv, b.CrossAttn.Wo,
			b.LN3.Gamma, b.LN3.Beta,
			b.FF.W1, b.FF.B1, b.FF.W2, b.FF.B2,
		)
	}
	params = append(params, t.DecNorm.Gamma, t.DecNorm.Beta, t.Proj)

	return params
}

// NumParameters returns the total number of learnable scalars.
func (t *Transformer) NumParameters() int {
	total := 0
	for _, p := range t.Parameters() {
		total += p.Size()
	}
	return total
}
