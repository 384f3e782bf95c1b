package beacon

import (
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// rateSampler admits events while the token bucket has capacity.
type rateSampler struct {
	limiter *rate.Limiter
}

func (s *rateSampler) Sample(zerolog.Level) bool {
	return s.limiter.Allow()
}

// newRateSampler limits DEBUG, INFO and WARNING records to perSecond with an
// equal burst. Higher levels are always kept.
func newRateSampler(perSecond int) zerolog.Sampler {
	rs := &rateSampler{limiter: rate.NewLimiter(rate.Limit(perSecond), perSecond)}
	return zerolog.LevelSampler{
		TraceSampler: rs,
		DebugSampler: rs,
		InfoSampler:  rs,
		WarnSampler:  rs,
	}
}
