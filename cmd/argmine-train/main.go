// argmine-train fine-tunes and evaluates the argument-component tagger on a
// tokenized thread corpus.
//
// It downloads the tokenizer and the ONNX encoder from a HuggingFace
// repository, builds the CRF head over the configured tag scheme, then
// alternates training and evaluation epochs over parquet thread shards,
// reporting Krippendorff's alpha after each evaluation pass.
//
// Usage:
//
//	argmine-train --model=dslim/bert-base-NER --train=train.parquet --eval=test.parquet
package main

import (
	"flag"
	"fmt"
	"math/rand"
	"os"

	"github.com/gomlx/go-huggingface/hub"
	"github.com/gomlx/go-huggingface/tokenizers/hftokenizer"
	"github.com/janpfeifer/must"
	"k8s.io/klog/v2"

	"github.com/gomlx/argmining/agreement"
	"github.com/gomlx/argmining/dataset"
	"github.com/gomlx/argmining/encoder/bertonnx"
	"github.com/gomlx/argmining/head"
	"github.com/gomlx/argmining/labels"
	"github.com/gomlx/argmining/tokens"
	"github.com/gomlx/argmining/train"
)

var (
	flagModel = flag.String("model", "", "HuggingFace repository with the tokenizer and ONNX encoder")
	flagTrain = flag.String("train", "", "Parquet shard with tokenized training threads")
	flagEval  = flag.String("eval", "", "Parquet shard with tokenized evaluation threads")

	flagEpochs        = flag.Int("epochs", 20, "Number of training epochs")
	flagMaxUsers      = flag.Int("max_users", 8, "Number of enumerated thread participants")
	flagThreadsPer    = flag.Int("threads_per_batch", 4, "Threads per thread-level batch")
	flagBatchSize     = flag.Int("batch_size", 8, "Comments per training batch")
	flagMaxLen        = flag.Int("max_len", 512, "Comment truncation length")
	flagLearningRate  = flag.Float64("lr", 2e-5, "Adam learning rate")
	flagMajorClaims   = flag.Bool("major_claims", false, "Tag major claims in addition to claims and premises")
	flagCrossEntropy  = flag.Bool("cross_entropy", true, "Add the class-weighted cross-entropy loss term")
	flagKeepRemainder = flag.Bool("keep_remainder", false, "Train on the final short comment batch instead of dropping it")
	flagSeed          = flag.Int64("seed", 42, "Head initialization seed")
)

func main() {
	klog.InitFlags(nil)
	flag.Parse()
	if *flagModel == "" || *flagTrain == "" || *flagEval == "" {
		fmt.Fprintln(os.Stderr, "--model, --train and --eval are required")
		flag.Usage()
		os.Exit(2)
	}

	cfg := train.DefaultConfig()
	cfg.MaxLen = *flagMaxLen
	cfg.BatchSize = *flagBatchSize
	cfg.LearningRate = *flagLearningRate
	cfg.MajorClaims = *flagMajorClaims
	cfg.KeepRemainder = *flagKeepRemainder
	if *flagCrossEntropy && !*flagMajorClaims {
		// The corpus class weights were estimated for the 5-tag scheme.
		cfg.ClassWeights = train.DefaultClassWeights()
	}

	repo := hub.New(*flagModel).WithAuth(os.Getenv("HF_TOKEN"))
	tok := must.M1(hftokenizer.New(nil, repo))
	threadTok := must.M1(tokens.NewThreadTokenizer(tok, tokens.UserMarkers(*flagMaxUsers)))

	enc := must.M1(bertonnx.New(repo))
	defer enc.Finalize()

	scheme := labels.NewScheme(cfg.MajorClaims)
	rng := rand.New(rand.NewSource(*flagSeed))
	h := must.M1(head.New(enc.HiddenSize(), scheme, rng))
	if cfg.ClassWeights != nil {
		h.WithClassWeights(cfg.ClassWeights)
	}

	run := must.M1(train.NewRun(threadTok, enc, h, scheme, cfg))
	klog.Infof("Run %s: model %s, %d tags", run.ID, *flagModel, scheme.NumTags())

	for epoch := 1; epoch <= *flagEpochs; epoch++ {
		klog.Infof("Epoch %d/%d", epoch, *flagEpochs)
		must.M(run.Train(dataset.ThreadBatches(*flagTrain, *flagThreadsPer)))
		alpha := must.M1(run.Evaluate(dataset.ThreadBatches(*flagEval, *flagThreadsPer), agreement.New()))
		fmt.Printf("epoch %d: agreement %.4f\n", epoch, alpha)
	}
}
