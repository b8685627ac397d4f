package logging

import "strings"

// ProgressSampler decides which progress samples are worth recording. A
// sample passes when the stage changes or when the percentage reaches the
// next multiple of the step. Negative percentages mean "unknown" and only
// pass on a stage change.
type ProgressSampler struct {
	step  float64
	stage string
	// next is the lowest percentage that passes within the current stage.
	next float64
}

// NewProgressSampler returns a sampler with the given step, 5 when unset.
func NewProgressSampler(step float64) *ProgressSampler {
	if step <= 0 {
		step = 5
	}
	return &ProgressSampler{step: step}
}

// ShouldLog reports whether the sample passes and advances the sampler. A nil
// sampler passes everything.
func (s *ProgressSampler) ShouldLog(percent float64, stage string) bool {
	if s == nil {
		return true
	}
	pass := false
	if stage = strings.TrimSpace(stage); stage != "" && stage != s.stage {
		s.stage = stage
		s.next = 0
		pass = true
	}
	if percent < 0 || percent < s.next {
		return pass
	}
	if percent >= 100 {
		s.next = 100 + s.step
		return true
	}
	steps := int(percent / s.step)
	s.next = float64(steps+1) * s.step
	return true
}

// Reset forgets the current stage and threshold.
func (s *ProgressSampler) Reset() {
	if s != nil {
		s.stage, s.next = "", 0
	}
}
