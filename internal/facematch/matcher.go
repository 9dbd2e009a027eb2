package facematch

import (
	"encoding/json"

	"go.uber.org/zap"
)

// Identity is an enrolled person as handed to the matcher by the storage layer.
type Identity struct {
	ID         uint            `json:"id"`
	Name       string          `json:"name"`
	Email      string          `json:"email"`
	Active     bool            `json:"active"`
	Descriptor json.RawMessage `json:"descriptor"`
}

// MatchResult is the outcome of a single match attempt.
type MatchResult struct {
	Matched    bool
	Identity   *Identity
	Distance   float64
	Confidence float64
	// Compared counts descriptor comparisons; Skipped counts identities with no usable
	// descriptors.
	Compared int
	Skipped  int
}

// Option configures a Matcher.
type Option func(*Matcher)

// WithThreshold sets the match threshold. Non-positive values keep the default.
func WithThreshold(threshold float64) Option {
	return func(m *Matcher) {
		if threshold > 0 {
			m.threshold = threshold
		}
	}
}

// WithStopAtFirstMatch selects between first-found-wins (true) and best-of-all (false).
func WithStopAtFirstMatch(stop bool) Option {
	return func(m *Matcher) {
		m.stopAtFirstMatch = stop
	}
}

// Matcher finds the enrolled identity closest to a probe descriptor. It holds no
// mutable state and is safe for concurrent use.
type Matcher struct {
	threshold        float64
	stopAtFirstMatch bool
	logger           *zap.Logger
}

// NewMatcher builds a matcher using DefaultMatchThreshold and first-found-wins unless
// overridden.
func NewMatcher(logger *zap.Logger, opts ...Option) *Matcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &Matcher{
		threshold:        DefaultMatchThreshold,
		stopAtFirstMatch: true,
		logger:           logger.Named("facematch"),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Threshold returns the configured match threshold.
func (m *Matcher) Threshold() float64 {
	return m.threshold
}

// Match parses probe and compares it against identities. Only a malformed probe is an
// error; identities with unusable payloads are skipped.
func (m *Matcher) Match(probe any, identities []Identity) (MatchResult, error) {
	vector, err := ParseProbe(probe)
	if err != nil {
		return MatchResult{}, err
	}
	return m.MatchVector(vector, identities), nil
}

// MatchVector compares an already normalized probe against identities in order.
// Inactive identities are ignored. A descriptor matches when its distance is strictly
// below the threshold.
func (m *Matcher) MatchVector(probe FeatureVector, identities []Identity) MatchResult {
	result := MatchResult{}
	bestIdx := -1
	bestDistance := 0.0

	for i := range identities {
		identity := &identities[i]
		if !identity.Active {
			continue
		}

		descriptors, err := DecodeDescriptors(identity.Descriptor)
		if err != nil || len(descriptors) == 0 {
			result.Skipped++
			m.logger.Warn("skipping identity without usable descriptors",
				zap.Uint("identity_id", identity.ID),
				zap.String("kind", Classify(identity.Descriptor).String()),
				zap.Error(err),
			)
			continue
		}

		for _, d := range descriptors {
			distance := Distance(probe, d)
			result.Compared++
			if bestIdx < 0 || distance < bestDistance {
				bestIdx = i
				bestDistance = distance
			}
			if m.stopAtFirstMatch && distance < m.threshold {
				return m.matched(result, identity, distance)
			}
		}
	}

	if bestIdx >= 0 {
		result.Distance = bestDistance
		if bestDistance < m.threshold {
			return m.matched(result, &identities[bestIdx], bestDistance)
		}
	}
	return result
}

func (m *Matcher) matched(result MatchResult, identity *Identity, distance float64) MatchResult {
	matched := *identity
	result.Matched = true
	result.Identity = &matched
	result.Distance = distance
	result.Confidence = Confidence(distance, m.threshold)
	return result
}
