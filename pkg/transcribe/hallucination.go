package transcribe

import "strings"

// HallucinationConfig controls the repeated-token rejection rules.
type HallucinationConfig struct {
	// MinTokenRun is the contiguous token-sequence length that triggers
	// rejection once it repeats MinRepeatCount times (default 3).
	MinTokenRun int
	// MinRepeatCount is how many times a run (or a single repeated token)
	// must repeat contiguously before the text is rejected (default 3).
	MinRepeatCount int
}

// DefaultHallucinationConfig matches the defaults named for the filter:
// a 3-token run repeating 3 times, or a single token repeating 3 times.
func DefaultHallucinationConfig() HallucinationConfig {
	return HallucinationConfig{
		MinTokenRun:    3,
		MinRepeatCount: 3,
	}
}

// HallucinationFilter flags model output that looks like a degenerate
// repeat loop rather than real speech, a known failure mode of streaming
// Whisper-family models on silence or noise.
type HallucinationFilter struct {
	cfg HallucinationConfig
}

func NewHallucinationFilter(cfg HallucinationConfig) *HallucinationFilter {
	if cfg.MinTokenRun <= 0 {
		cfg.MinTokenRun = 3
	}
	if cfg.MinRepeatCount <= 0 {
		cfg.MinRepeatCount = 3
	}
	return &HallucinationFilter{cfg: cfg}
}

// IsHallucination reports whether text should be rejected under either
// rule: a length-L token run repeating >= R times contiguously, or the
// whitespace-normalized text being a single token repeated >= R times.
func (f *HallucinationFilter) IsHallucination(text string) bool {
	tokens := strings.Fields(text)
	if len(tokens) == 0 {
		return false
	}

	if f.singleTokenRepeated(tokens) {
		return true
	}
	return f.tokenRunRepeats(tokens)
}

func (f *HallucinationFilter) singleTokenRepeated(tokens []string) bool {
	if len(tokens) < f.cfg.MinRepeatCount {
		return false
	}
	first := tokens[0]
	for _, tok := range tokens {
		if tok != first {
			return false
		}
	}
	return true
}

// tokenRunRepeats reports whether any contiguous run of length MinTokenRun
// appears MinRepeatCount times back to back, e.g. ["a","b","a","b","a","b"]
// with MinTokenRun=2, MinRepeatCount=3.
func (f *HallucinationFilter) tokenRunRepeats(tokens []string) bool {
	l := f.cfg.MinTokenRun
	r := f.cfg.MinRepeatCount
	need := l * r
	if len(tokens) < need {
		return false
	}

	for start := 0; start+need <= len(tokens); start++ {
		run := tokens[start : start+l]
		repeats := 1
		for next := start + l; next+l <= len(tokens); next += l {
			if !equalRun(run, tokens[next:next+l]) {
				break
			}
			repeats++
			if repeats >= r {
				return true
			}
		}
	}
	return false
}

func equalRun(a, b []string) bool {
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
