package main

import (
	"math"
)

// ===========================================================================
// WHAT'S GOING ON HERE
// ===========================================================================
//
// This file implements backpropagation through the encoder-decoder model.
//
// GRADIENT FLOW:
//
// Forward:  src → Encoder → memory ─┐
//           tgt → Decoder ←─────────┘ → Projection → Logits → Loss
//
// Backward: Loss → ∂Logits → ∂Decoder → ∂tgt embeddings
//                                └→ ∂memory → ∂Encoder → ∂src embeddings
//
// Cross-attention is the one wrinkle an encoder-decoder adds over a
// decoder-only model: every decoder layer reads the same encoder memory,
// so the memory gradient is the SUM of the key/value gradients from all
// decoder layers. Only after the full decoder backward does the encoder
// backward start, seeded by that accumulated memory gradient.
//
// RESIDUAL CONNECTIONS:
//
// Pre-norm residual: y = x + Sublayer(LayerNorm(x))
// Backward: gradX = gradY + LayerNormBackward(SublayerBackward(gradY))
//
// Gradients add at the join - the residual path carries gradY through
// untouched, which is what keeps deep stacks trainable.
//
// MASKING:
//
// Masked attention scores are overwritten with a constant in the forward
// pass, so no gradient flows through them. zeroMaskedGrad enforces this
// before the score gradient reaches Q and K.
//
// MEMORY MANAGEMENT:
//
// The backward pass needs the forward activations, so ForwardWithCache
// stores every sublayer input on the way up. Training uses several times
// the memory of plain inference for this reason.
// ===========================================================================

// AttentionCache stores activations from one attention forward pass.
type AttentionCache struct {
	query *Tensor // query-side input
	kv    *Tensor // key/value-side input (same tensor as query for self-attention)
	mask  *Tensor

	q, k, v *Tensor // full-width projections

	headWeights []*Tensor // softmaxed attention weights, one per head
	concat      *Tensor   // concatenated head outputs, input to Wo
}

// FFCache stores activations from one feed-forward pass.
type FFCache struct {
	input         *Tensor
	preActivation *Tensor // before GELU
	hidden        *Tensor // after GELU
}

// EncoderBlockCache stores activations for one encoder layer.
type EncoderBlockCache struct {
	input     *Tensor // block input, feeds LN1
	attnCache *AttentionCache
	afterAttn *Tensor // after the attention residual, feeds LN2
	ffCache   *FFCache
}

// DecoderBlockCache stores activations for one decoder layer.
type DecoderBlockCache struct {
	input      *Tensor
	selfCache  *AttentionCache
	afterSelf  *Tensor
	crossCache *AttentionCache
	afterCross *Tensor
	ffCache    *FFCache
}

// TranslationCache stores everything Backward needs from one forward pass
// over a (source, target prefix) pair.
type TranslationCache struct {
	srcIDs []int
	tgtIDs []int

	srcMask *Tensor
	tgtMask *Tensor

	encCaches    []*EncoderBlockCache
	encNormInput *Tensor
	memory       *Tensor

	decCaches    []*DecoderBlockCache
	decNormInput *Tensor
	decOutput    *Tensor // normalized decoder output, input to the projection
}

// ForwardWithCache runs attention while recording activations.
// Same computation as Forward.
func (a *Attention) ForwardWithCache(query, kv, mask *Tensor) (*Tensor, *AttentionCache) {
	qLen := query.shape[0]
	embedDim := query.shape[1]

	cache := &AttentionCache{
		query:       query,
		kv:          kv,
		mask:        mask,
		headWeights: make([]*Tensor, a.numHeads),
	}

	cache.q = MatMul(query, a.Wq)
	cache.k = MatMul(kv, a.Wk)
	cache.v = MatMul(kv, a.Wv)

	scale := 1.0 / math.Sqrt(float64(a.headDim))

	concat := NewTensor(qLen, embedDim)
	for h := 0; h < a.numHeads; h++ {
		offset := h * a.headDim
		qh := sliceCols(cache.q, offset, a.headDim)
		kh := sliceCols(cache.k, offset, a.headDim)
		vh := sliceCols(cache.v, offset, a.headDim)

		scores := Scale(MatMul(qh, Transpose(kh)), scale)
		applyMask(scores, mask)
		weights := Softmax(scores)
		cache.headWeights[h] = weights

		setCols(concat, MatMul(weights, vh), offset, a.headDim)
	}
	cache.concat = concat

	return MatMul(concat, a.Wo), cache
}

// Backward propagates through attention. Returns separate gradients for
// the query-side and kv-side inputs: for self-attention the caller adds
// them (both sides are the same tensor), for cross-attention the kv
// gradient flows into the encoder memory.
func (a *Attention) Backward(gradOutput *Tensor, cache *AttentionCache) (gradQuery, gradKV *Tensor) {
	qLen := cache.query.shape[0]
	embedDim := cache.query.shape[1]
	kvLen := cache.kv.shape[0]

	// Output projection: output = concat @ Wo
	gradConcat, gradWo := MatMulBackward(cache.concat, a.Wo, gradOutput)
	a.Wo.AccumulateGrad(gradWo)

	scale := 1.0 / math.Sqrt(float64(a.headDim))

	gradQ := NewTensor(qLen, embedDim)
	gradK := NewTensor(kvLen, embedDim)
	gradV := NewTensor(kvLen, embedDim)

	for h := 0; h < a.numHeads; h++ {
		offset := h * a.headDim
		qh := sliceCols(cache.q, offset, a.headDim)
		kh := sliceCols(cache.k, offset, a.headDim)
		vh := sliceCols(cache.v, offset, a.headDim)
		weights := cache.headWeights[h]
		gradConcatHead := sliceCols(gradConcat, offset, a.headDim)

		// context = weights @ V
		gradWeights, gradVh := MatMulBackward(weights, vh, gradConcatHead)

		// weights = softmax(scores)
		gradScores := SoftmaxBackward(weights, gradWeights)

		// Masked scores were overwritten with a constant in the forward
		// pass, so nothing propagates through them.
		zeroMaskedGrad(gradScores, cache.mask)

		gradScores = Scale(gradScores, scale)

		// scores = qh @ kh^T
		gradQh, gradKT := MatMulBackward(qh, Transpose(kh), gradScores)
		gradKh := Transpose(gradKT)

		setCols(gradQ, gradQh, offset, a.headDim)
		setCols(gradK, gradKh, offset, a.headDim)
		setCols(gradV, gradVh, offset, a.headDim)
	}

	// Q projection reads the query input; K and V projections both read
	// the kv input, so their input gradients add.
	gradQuery, gradWq := MatMulBackward(cache.query, a.Wq, gradQ)
	a.Wq.AccumulateGrad(gradWq)

	gradKVFromK, gradWk := MatMulBackward(cache.kv, a.Wk, gradK)
	a.Wk.AccumulateGrad(gradWk)

	gradKVFromV, gradWv := MatMulBackward(cache.kv, a.Wv, gradV)
	a.Wv.AccumulateGrad(gradWv)

	return gradQuery, Add(gradKVFromK, gradKVFromV)
}

// ForwardWithCache runs the feed-forward network while recording
// activations.
func (ff *FeedForward) ForwardWithCache(x *Tensor) (*Tensor, *FFCache) {
	cache := &FFCache{input: x}

	cache.preActivation = addBias(MatMul(x, ff.W1), ff.B1)
	cache.hidden = GELU(cache.preActivation)

	return addBias(MatMul(cache.hidden, ff.W2), ff.B2), cache
}

// Backward propagates through the feed-forward network.
func (ff *FeedForward) Backward(gradOutput *Tensor, cache *FFCache) *Tensor {
	// output = hidden @ W2 + b2
	gradHidden, gradW2 := MatMulBackward(cache.hidden, ff.W2, gradOutput)
	ff.W2.AccumulateGrad(gradW2)
	accumulateBiasGrad(ff.B2, gradOutput)

	gradPre := GELUBackward(cache.preActivation, gradHidden)

	// preActivation = x @ W1 + b1
	gradInput, gradW1 := MatMulBackward(cache.input, ff.W1, gradPre)
	ff.W1.AccumulateGrad(gradW1)
	accumulateBiasGrad(ff.B1, gradPre)

	return gradInput
}

// accumulateBiasGrad sums the row gradients into a bias vector's gradient.
func accumulateBiasGrad(bias, gradOutput *Tensor) {
	width := bias.Size()
	for i, g := range gradOutput.data {
		bias.grad[i%width] += g
	}
}

// ForwardWithCache runs one encoder layer while recording activations.
func (b *EncoderBlock) ForwardWithCache(x, srcMask *Tensor) (*Tensor, *EncoderBlockCache) {
	cache := &EncoderBlockCache{input: x}

	normed := b.LN1.Forward(x)
	attnOut, attnCache := b.SelfAttn.ForwardWithCache(normed, normed, srcMask)
	cache.attnCache = attnCache
	x = Add(x, attnOut)
	cache.afterAttn = x

	ffOut, ffCache := b.FF.ForwardWithCache(b.LN2.Forward(x))
	cache.ffCache = ffCache

	return Add(x, ffOut), cache
}

// Backward propagates through one encoder layer.
func (b *EncoderBlock) Backward(gradOut *Tensor, cache *EncoderBlockCache) *Tensor {
	// Feed-forward residual.
	gradNormed := b.FF.Backward(gradOut, cache.ffCache)
	gradLN, gradGamma, gradBeta := LayerNormBackward(cache.afterAttn, b.LN2.Gamma, gradNormed, layerNormEpsilon)
	b.LN2.Gamma.AccumulateGrad(gradGamma)
	b.LN2.Beta.AccumulateGrad(gradBeta)
	gradX := Add(gradOut, gradLN)

	// Self-attention residual. Query and kv are the same normed tensor.
	gradQuery, gradKV := b.SelfAttn.Backward(gradX, cache.attnCache)
	gradNormed = Add(gradQuery, gradKV)
	gradLN, gradGamma, gradBeta = LayerNormBackward(cache.input, b.LN1.Gamma, gradNormed, layerNormEpsilon)
	b.LN1.Gamma.AccumulateGrad(gradGamma)
	b.LN1.Beta.AccumulateGrad(gradBeta)

	return Add(gradX, gradLN)
}

// ForwardWithCache runs one decoder layer while recording activations.
func (b *DecoderBlock) ForwardWithCache(x, memory, srcMask, tgtMask *Tensor) (*Tensor, *DecoderBlockCache) {
	cache := &DecoderBlockCache{input: x}

	normed := b.LN1.Forward(x)
	selfOut, selfCache := b.SelfAttn.ForwardWithCache(normed, normed, tgtMask)
	cache.selfCache = selfCache
	x = Add(x, selfOut)
	cache.afterSelf = x

	crossOut, crossCache := b.CrossAttn.ForwardWithCache(b.LN2.Forward(x), memory, srcMask)
	cache.crossCache = crossCache
	x = Add(x, crossOut)
	cache.afterCross = x

	ffOut, ffCache := b.FF.ForwardWithCache(b.LN3.Forward(x))
	cache.ffCache = ffCache

	return Add(x, ffOut), cache
}

// Backward propagates through one decoder layer. Returns the gradient for
// the block input and the gradient for the encoder memory contributed by
// this layer's cross-attention.
func (b *DecoderBlock) Backward(gradOut *Tensor, cache *DecoderBlockCache) (gradX, gradMemory *Tensor) {
	// Feed-forward residual.
	gradNormed := b.FF.Backward(gradOut, cache.ffCache)
	gradLN, gradGamma, gradBeta := LayerNormBackward(cache.afterCross, b.LN3.Gamma, gradNormed, layerNormEpsilon)
	b.LN3.Gamma.AccumulateGrad(gradGamma)
	b.LN3.Beta.AccumulateGrad(gradBeta)
	gradX = Add(gradOut, gradLN)

	// Cross-attention residual. The kv gradient belongs to the encoder
	// memory, not to this block's input.
	gradQuery, gradMem := b.CrossAttn.Backward(gradX, cache.crossCache)
	gradLN, gradGamma, gradBeta = LayerNormBackward(cache.afterSelf, b.LN2.Gamma, gradQuery, layerNormEpsilon)
	b.LN2.Gamma.AccumulateGrad(gradGamma)
	b.LN2.Beta.AccumulateGrad(gradBeta)
	gradX = Add(gradX, gradLN)

	// Self-attention residual.
	gradQuery, gradKV := b.SelfAttn.Backward(gradX, cache.selfCache)
	gradNormed = Add(gradQuery, gradKV)
	gradLN, gradGamma, gradBeta = LayerNormBackward(cache.input, b.LN1.Gamma, gradNormed, layerNormEpsilon)
	b.LN1.Gamma.AccumulateGrad(gradGamma)
	b.LN1.Beta.AccumulateGrad(gradBeta)

	return Add(gradX, gradLN), gradMem
}

// ForwardWithCache runs the full model over one example and returns the
// logits plus everything Backward needs.
func (t *Transformer) ForwardWithCache(src []int, srcMask *Tensor, tgt []int, tgtMask *Tensor) (*Tensor, *TranslationCache) {
	cache := &TranslationCache{
		srcIDs:    src,
		tgtIDs:    tgt,
		srcMask:   srcMask,
		tgtMask:   tgtMask,
		encCaches: make([]*EncoderBlockCache, len(t.Encoder)),
		decCaches: make([]*DecoderBlockCache, len(t.Decoder)),
	}

	// Encoder.
	x := embedSequence(src, t.SrcEmbed, t.SrcPos)
	for i, block := range t.Encoder {
		x, cache.encCaches[i] = block.ForwardWithCache(x, srcMask)
	}
	cache.encNormInput = x
	cache.memory = t.EncNorm.Forward(x)

	// Decoder.
	y := embedSequence(tgt, t.TgtEmbed, t.TgtPos)
	for i, block := range t.Decoder {
		y, cache.decCaches[i] = block.ForwardWithCache(y, cache.memory, srcMask, tgtMask)
	}
	cache.decNormInput = y
	cache.decOutput = t.DecNorm.Forward(y)

	return MatMul(cache.decOutput, t.Proj), cache
}

// Backward propagates the logit gradient through the whole model,
// accumulating into every parameter's gradient buffer.
func (t *Transformer) Backward(gradLogits *Tensor, cache *TranslationCache) {
	embedDim := t.Config.EmbedDim

	// Projection: logits = decOutput @ Proj
	gradDecOut, gradProj := MatMulBackward(cache.decOutput, t.Proj, gradLogits)
	t.Proj.AccumulateGrad(gradProj)

	// Final decoder norm.
	gradY, gradGamma, gradBeta := LayerNormBackward(cache.decNormInput, t.DecNorm.Gamma, gradDecOut, layerNormEpsilon)
	t.DecNorm.Gamma.AccumulateGrad(gradGamma)
	t.DecNorm.Beta.AccumulateGrad(gradBeta)

	// Decoder blocks in reverse. Every layer's cross-attention adds its
	// share of the memory gradient.
	gradMemory := NewTensor(cache.memory.shape...)
	for i := len(t.Decoder) - 1; i >= 0; i-- {
		var gradMem *Tensor
		gradY, gradMem = t.Decoder[i].Backward(gradY, cache.decCaches[i])
		gradMemory = Add(gradMemory, gradMem)
	}

	// Target embeddings: scatter-add by token ID, position rows directly.
	for i, id := range cache.tgtIDs {
		row := gradY.Row(i)
		for d := 0; d < embedDim; d++ {
			t.TgtEmbed.grad[id*embedDim+d] += row[d]
			t.TgtPos.grad[i*embedDim+d] += row[d]
		}
	}

	// Final encoder norm, seeded by the accumulated memory gradient.
	gradX, gradGamma, gradBeta := LayerNormBackward(cache.encNormInput, t.EncNorm.Gamma, gradMemory, layerNormEpsilon)
	t.EncNorm.Gamma.AccumulateGrad(gradGamma)
	t.EncNorm.Beta.AccumulateGrad(gradBeta)

	// Encoder blocks in reverse.
	for i := len(t.Encoder) - 1; i >= 0; i-- {
		gradX = t.Encoder[i].Backward(gradX, cache.encCaches[i])
	}

	// Source embeddings.
	for i, id := range cache.srcIDs {
		row := gradX.Row(i)
		for d := 0; d < embedDim; d++ {
			t.SrcEmbed.grad[id*embedDim+d] += row[d]
			t.SrcPos.grad[i*embedDim+d] += row[d]
		}
	}
}
