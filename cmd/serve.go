package cmd

import (
	"math/rand"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/megha95/vllm/core"
)

var (
	serveConfigFile   string
	serveRate         float64
	serveHorizonTicks int64
	servePromptMean   int
	serveOutputMean   int
	serveSeed         int64
	serveLogEvery     int64
	serveEOSTokenID   int
	serveVocabSize    int
	serveKVBlocks     int
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Drive the request-engine core against a synthetic Poisson workload",
	Run: func(cmd *cobra.Command, args []string) {
		cfg := core.DefaultEngineConfig()
		if serveConfigFile != "" {
			loaded, err := loadEngineConfig(serveConfigFile)
			if err != nil {
				logrus.Fatalf("serve: %v", err)
			}
			cfg = loaded
		}

		executor := core.NewReferenceExecutor(serveKVBlocks, serveKVBlocks/4, serveVocabSize, serveEOSTokenID)
		tokenizer := identityTokenizer{}
		stopChecker := core.DefaultStopChecker{EOSTokenID: serveEOSTokenID}

		engine, err := core.NewEngine(cfg, executor, tokenizer, stopChecker, nil)
		if err != nil {
			logrus.Fatalf("serve: failed to build engine: %v", err)
		}
		engine.Stats = &core.Stats{}

		rng := rand.New(rand.NewSource(serveSeed))
		arrivals := poissonArrivalTicks(rng, serveRate, serveHorizonTicks)
		nextArrival := 0

		logrus.Infof("serve: starting, horizon=%d ticks, rate=%.3f req/tick, %d arrivals scheduled",
			serveHorizonTicks, serveRate, len(arrivals))

		var tick int64
		for tick = 0; tick < serveHorizonTicks; tick++ {
			for nextArrival < len(arrivals) && arrivals[nextArrival] <= tick {
				id := core.RequestID(randRequestID(rng))
				promptLen := sampleBounded(rng, servePromptMean, 1, servePromptMean*4+1)
				outputLen := sampleBounded(rng, serveOutputMean, 1, serveOutputMean*4+1)
				prompt := randomTokenIDs(rng, promptLen, serveVocabSize)
				params := core.RequestParams{Sampling: &core.SamplingParams{
					N: 1, BestOf: 1, MaxTokens: outputLen, Temperature: 1.0,
				}}
				if err := engine.AddRequest(id, core.PromptInputs{Kind: core.PromptDecoderOnly, PromptTokenIDs: prompt}, params); err != nil {
					logrus.Warnf("serve: reject %s: %v", id, err)
				}
				nextArrival++
			}

			if !engine.HasUnfinishedRequests() && nextArrival >= len(arrivals) {
				break
			}

			if _, err := engine.Step(); err != nil {
				logrus.Fatalf("serve: step %d failed: %v", tick, err)
			}

			if serveLogEvery > 0 && tick%serveLogEvery == 0 {
				logrus.Infof("[tick %d] unfinished=%d", tick, engine.NumUnfinishedRequests())
			}
		}

		logrus.Infof("serve: done after %d ticks", tick)
		engine.Stats.Print()
	},
}

// identityTokenizer is a no-op tokenizer, since serve has no real
// vocabulary: Encode returns no ids and Decode returns empty text, so
// stop strings never match.
type identityTokenizer struct{}

func (identityTokenizer) Encode(prompt string, lora *core.LoRARequest) ([]int, error) {
	return nil, nil
}
func (identityTokenizer) Decode(tokenIDs []int, lora *core.LoRARequest) (string, error) {
	return "", nil
}
func (identityTokenizer) GetLoRATokenizer(lora *core.LoRARequest) core.Tokenizer { return identityTokenizer{} }
func (identityTokenizer) Ping() error                                           { return nil }

func poissonArrivalTicks(rng *rand.Rand, rate float64, horizon int64) []int64 {
	if rate <= 0 {
		return nil
	}
	var ticks []int64
	var t float64
	for {
		t += rng.ExpFloat64() / rate
		if int64(t) >= horizon {
			break
		}
		ticks = append(ticks, int64(t))
	}
	return ticks
}

func sampleBounded(rng *rand.Rand, mean, min, max int) int {
	if mean <= 0 {
		mean = 1
	}
	n := mean + rng.Intn(mean+1) - mean/2
	if n < min {
		n = min
	}
	if n > max {
		n = max
	}
	return n
}

func randomTokenIDs(rng *rand.Rand, n, vocabSize int) []int {
	ids := make([]int, n)
	for i := range ids {
		ids[i] = rng.Intn(vocabSize)
	}
	return ids
}

func randRequestID(rng *rand.Rand) string {
	const alphabet = "abcdefghijklmnopqrstuvwxyz0123456789"
	b := make([]byte, 12)
	for i := range b {
		b[i] = alphabet[rng.Intn(len(alphabet))]
	}
	return "req-" + string(b)
}

func init() {
	serveCmd.Flags().StringVar(&serveConfigFile, "config", "", "optional scheduler/cache/model YAML config file")
	serveCmd.Flags().Float64Var(&serveRate, "rate", 0.1, "Poisson arrival rate (requests per tick)")
	serveCmd.Flags().Int64Var(&serveHorizonTicks, "horizon", 10000, "number of engine ticks to run")
	serveCmd.Flags().IntVar(&servePromptMean, "prompt-tokens", 64, "mean prompt length in tokens")
	serveCmd.Flags().IntVar(&serveOutputMean, "output-tokens", 32, "mean output length in tokens")
	serveCmd.Flags().Int64Var(&serveSeed, "seed", 1, "random seed for the synthetic workload")
	serveCmd.Flags().Int64Var(&serveLogEvery, "log-every", 100, "log unfinished-request count every N ticks (0 disables)")
	serveCmd.Flags().IntVar(&serveEOSTokenID, "eos-token", 2, "end-of-sequence token id for the reference executor")
	serveCmd.Flags().IntVar(&serveVocabSize, "vocab-size", 32000, "vocabulary size for the reference executor")
	serveCmd.Flags().IntVar(&serveKVBlocks, "kv-blocks", 1024, "number of device KV-cache blocks the reference executor reports (host pool is a quarter of this)")
}
