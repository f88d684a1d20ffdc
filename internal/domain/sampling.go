package domain

// SamplingConfig carries generation parameters. The service layer passes it
// through to the inference backend without interpreting it.
type SamplingConfig struct {
	DoSample          bool    `json:"do_sample"`
	Temperature       float64 `json:"temperature"`
	TopP              float64 `json:"top_p"`
	TopK              int     `json:"top_k"`
	NumBeams          int     `json:"num_beams"`
	MaxNewTokens      int     `json:"max_new_tokens"`
	RepetitionPenalty float64 `json:"repetition_penalty"`
}

// DefaultSampling mirrors the values the bot has always generated with.
func DefaultSampling() SamplingConfig {
	return SamplingConfig{
		DoSample:          true,
		Temperature:       0.3,
		TopP:              0.85,
		TopK:              40,
		NumBeams:          1,
		MaxNewTokens:      600,
		RepetitionPenalty: 1.2,
	}
}
