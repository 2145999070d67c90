package main

// ===========================================================================
// WHAT'S GOING ON HERE
// ===========================================================================
//
// This file implements the training loop for the translation model.
//
// THE TRAINING PROCESS:
//
// 1. Forward Pass:
//    - Source tokens → Encoder → memory
//    - Target prefix → Decoder → Projection → Logits
//    - Logits vs shifted target → masked, label-smoothed cross-entropy
//
// 2. Backward Pass:
//    - Loss gradient → logits gradient → chain rule through the decoder,
//      the encoder memory, and the encoder itself
//    - Every parameter accumulates ∂Loss/∂Parameter
//
// 3. Optimization:
//    - Adam at a fixed learning rate: momentum plus adaptive per-weight
//      step sizes with bias correction
//
// 4. Iteration:
//    - Teacher forcing: the decoder always sees the true target prefix
//      during training, never its own predictions
//    - One optimizer step per batch, one validation pass and one
//      checkpoint per epoch
//
// LABEL SMOOTHING:
//
// The target distribution puts 1-ε on the true token and spreads ε evenly
// over the whole vocabulary. Without it the model drives logits toward
// infinity to chase a one-hot target and overfits token identities.
//
// PADDING:
//
// Padded label positions carry no information. They are skipped in both
// the loss average and the gradient, so sentence length never changes the
// effective learning rate.
// ===========================================================================

import (
	"context"
	"fmt"
	"math"
	"strconv"

	"github.com/schollz/progressbar/v3"
	"gonum.org/v1/gonum/floats"
)

const labelSmoothing = 0.1

// AdamOptimizer implements the Adam update rule:
//
//	m_t = beta1 * m_{t-1} + (1 - beta1) * grad
//	v_t = beta2 * v_{t-1} + (1 - beta2) * grad²
//	m_hat = m_t / (1 - beta1^t)
//	v_hat = v_t / (1 - beta2^t)
//	param -= lr * m_hat / (sqrt(v_hat) + epsilon)
//
// The moment tensors are training state: checkpoints carry them so a
// resumed run continues with the same adaptive step sizes.
type AdamOptimizer struct {
	lr      float64
	beta1   float64
	beta2   float64
	epsilon float64

	params []*Tensor
	m      []*Tensor // first moment (momentum)
	v      []*Tensor // second moment (variance)
	t      int       // step count, for bias correction
}

// NewAdamOptimizer creates an Adam optimizer over the given parameters.
func NewAdamOptimizer(params []*Tensor, lr float64) *AdamOptimizer {
	m := make([]*Tensor, len(params))
	v := make([]*Tensor, len(params))
	for i, p := range params {
		m[i] = NewTensor(p.shape...)
		v[i] = NewTensor(p.shape...)
	}

	return &AdamOptimizer{
		lr:      lr,
		beta1:   0.9,
		beta2:   0.999,
		epsilon: 1e-9,
		params:  params,
		m:       m,
		v:       v,
	}
}

// Step applies one Adam update from the accumulated gradients.
func (opt *AdamOptimizer) Step() {
	opt.t++

	bias1 := 1.0 - math.Pow(opt.beta1, float64(opt.t))
	bias2 := 1.0 - math.Pow(opt.beta2, float64(opt.t))

	for i, p := range opt.params {
		m := opt.m[i].data
		v := opt.v[i].data
		for j := range p.data {
			grad := p.grad[j]

			m[j] = opt.beta1*m[j] + (1.0-opt.beta1)*grad
			v[j] = opt.beta2*v[j] + (1.0-opt.beta2)*grad*grad

			mHat := m[j] / bias1
			vHat := v[j] / bias2

			p.data[j] -= opt.lr * mHat / (math.Sqrt(vHat) + opt.epsilon)
		}
	}
}

// ZeroGrad clears every parameter gradient.
func (opt *AdamOptimizer) ZeroGrad() {
	for _, p := range opt.params {
		p.ZeroGrad()
	}
}

// MaskedCrossEntropy computes label-smoothed cross-entropy over one
// sequence, ignoring padded label positions.
//
// logits is (seqLen, vocabSize), labels has seqLen entries. Positions
// whose label is padID contribute nothing to the loss or the gradient.
// The returned gradient has the shape of logits.
func MaskedCrossEntropy(logits *Tensor, labels []int, padID int, smoothing float64) (float64, *Tensor, error) {
	if logits.Dims() != 2 {
		panic("loss: logits must be 2-D")
	}
	seqLen, vocabSize := logits.shape[0], logits.shape[1]
	if len(labels) != seqLen {
		return 0, nil, fmt.Errorf("loss: %d labels for %d logit rows", len(labels), seqLen)
	}

	grad := NewTensor(seqLen, vocabSize)
	totalLoss := 0.0
	count := 0

	uniform := smoothing / float64(vocabSize)
	confidence := 1.0 - smoothing

	for i, label := range labels {
		if label == padID {
			continue
		}
		if label < 0 || label >= vocabSize {
			return 0, nil, fmt.Errorf("loss: label %d out of range [0, %d)", label, vocabSize)
		}
		count++

		row := logits.Row(i)

		// Stable log-softmax.
		maxLogit := floats.Max(row)
		sumExp := 0.0
		for _, l := range row {
			sumExp += math.Exp(l - maxLogit)
		}
		logSumExp := maxLogit + math.Log(sumExp)

		// Smoothed target: confidence on the label, uniform elsewhere.
		// loss = -Σ target_c * logprob_c
		loss := 0.0
		gRow := grad.Row(i)
		for c, l := range row {
			logProb := l - logSumExp
			target := uniform
			if c == label {
				target += confidence
			}
			loss -= target * logProb
			gRow[c] = math.Exp(logProb) - target
		}
		totalLoss += loss
	}

	if count == 0 {
		return 0, grad, nil
	}

	// Average over real positions, so padding never changes the scale.
	invCount := 1.0 / float64(count)
	floats.Scale(invCount, grad.data)
	return totalLoss * invCount, grad, nil
}

// TrainingSession is the mutable state of a training run: the model, the
// optimizer, and where the run is. Checkpoints serialize exactly this.
type TrainingSession struct {
	Model     *Transformer
	Optimizer *AdamOptimizer

	Epoch      int // next epoch to run
	GlobalStep int // optimizer steps taken so far
}

// NewTrainingSession starts a run, either fresh or from a checkpoint
// selected by cfg.Preload ("", "latest", or an epoch number).
func NewTrainingSession(cfg TrainConfig, model Config) (*TrainingSession, error) {
	path := ""
	switch cfg.Preload {
	case "":
	case "latest":
		path = LatestWeightsFilePath(cfg)
	default:
		epoch, err := strconv.Atoi(cfg.Preload)
		if err != nil {
			return nil, fmt.Errorf("train: preload must be \"latest\" or an epoch number, got %q", cfg.Preload)
		}
		path = cfg.WeightsFilePath(epoch)
	}

	if path == "" {
		t := NewTransformer(model)
		return &TrainingSession{
			Model:     t,
			Optimizer: NewAdamOptimizer(t.Parameters(), cfg.LearningRate),
		}, nil
	}

	fmt.Printf("Preloading model %s\n", path)
	t, opt, epoch, globalStep, err := LoadCheckpoint(path, cfg.LearningRate)
	if err != nil {
		return nil, err
	}
	return &TrainingSession{
		Model:      t,
		Optimizer:  opt,
		Epoch:      epoch + 1,
		GlobalStep: globalStep,
	}, nil
}

// TrainStep runs one batch: forward, loss, backward for every example,
// then a single optimizer step on the summed gradients. Returns the mean
// loss over the batch.
func TrainStep(session *TrainingSession, batch Batch, padID int) (float64, error) {
	session.Optimizer.ZeroGrad()

	totalLoss := 0.0
	invBatch := 1.0 / float64(len(batch))

	for _, ex := range batch {
		logits, cache := session.Model.ForwardWithCache(
			ex.EncoderInput, ex.EncoderMask, ex.DecoderInput, ex.DecoderMask)

		loss, gradLogits, err := MaskedCrossEntropy(logits, ex.Label, padID, labelSmoothing)
		if err != nil {
			return 0, err
		}
		totalLoss += loss

		// Mean over the batch, so batch size does not scale the step.
		floats.Scale(invBatch, gradLogits.data)
		session.Model.Backward(gradLogits, cache)
	}

	session.Optimizer.Step()
	session.GlobalStep++

	return totalLoss * invBatch, nil
}

// TrainModel is the whole pipeline: corpus, tokenizers, model, epochs,
// validation, checkpoints.
func TrainModel(ctx context.Context, cfg TrainConfig) error {
	pairs, err := LoadSentencePairs(cfg.CorpusFile())
	if err != nil {
		return err
	}

	srcSentences := make([]string, len(pairs))
	tgtSentences := make([]string, len(pairs))
	for i, p := range pairs {
		srcSentences[i] = p.Src
		tgtSentences[i] = p.Tgt
	}

	srcTok, err := GetOrBuildTokenizer(cfg.TokenizerPath(cfg.LangSrc), srcSentences, cfg.MinFreq)
	if err != nil {
		return err
	}
	tgtTok, err := GetOrBuildTokenizer(cfg.TokenizerPath(cfg.LangTgt), tgtSentences, cfg.MinFreq)
	if err != nil {
		return err
	}

	maxSrc, maxTgt := MaxTokenLengths(srcTok, tgtTok, pairs)
	fmt.Printf("Max length of source sentence: %d\n", maxSrc)
	fmt.Printf("Max length of target sentence: %d\n", maxTgt)

	trainPairs, valPairs := SplitPairs(pairs, cfg.Seed)

	trainExamples, err := EncodePairs(srcTok, tgtTok, trainPairs, cfg.SeqLen)
	if err != nil {
		return err
	}
	valExamples, err := EncodePairs(srcTok, tgtTok, valPairs, cfg.SeqLen)
	if err != nil {
		return err
	}

	trainBatches := MakeBatches(trainExamples, cfg.BatchSize)
	valBatches := MakeBatches(valExamples, 1)

	session, err := NewTrainingSession(cfg, cfg.ModelConfig(srcTok.VocabSize(), tgtTok.VocabSize()))
	if err != nil {
		return err
	}
	fmt.Printf("Model has %d parameters\n", session.Model.NumParameters())

	metrics, err := NewMetricWriter(cfg.ExperimentName)
	if err != nil {
		return err
	}
	defer metrics.Close()

	padID := tgtTok.PadID()

	for epoch := session.Epoch; epoch < cfg.NumEpochs; epoch++ {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("train: %w", err)
		}
		session.Epoch = epoch

		bar := progressbar.NewOptions(len(trainBatches),
			progressbar.OptionSetDescription(fmt.Sprintf("Processing Epoch %02d", epoch)),
			progressbar.OptionShowCount(),
			progressbar.OptionShowIts(),
		)

		for _, batch := range trainBatches {
			if err := ctx.Err(); err != nil {
				return fmt.Errorf("train: %w", err)
			}

			loss, err := TrainStep(session, batch, padID)
			if err != nil {
				return err
			}

			bar.Describe(fmt.Sprintf("Processing Epoch %02d loss=%6.3f", epoch, loss))
			if err := bar.Add(1); err != nil {
				return fmt.Errorf("train: %w", err)
			}
			if err := metrics.WriteScalar("train loss", loss, session.GlobalStep); err != nil {
				return err
			}
		}
		fmt.Println()

		printMsg := func(s string) { fmt.Println(s) }
		if err := RunValidation(ctx, session.Model, valBatches, srcTok, tgtTok,
			cfg.SeqLen, cfg.NumExamples, printMsg); err != nil {
			return err
		}

		path := cfg.WeightsFilePath(epoch)
		if err := SaveCheckpoint(path, epoch, session.GlobalStep, session.Model, session.Optimizer); err != nil {
			return err
		}
	}

	return nil
}
