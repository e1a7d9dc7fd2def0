// Package rng provides the unbiased random number generator behind every
// deal, spin and shuffle.
// Compliant with GLI-19 Chapter 3: RNG Requirements
package rng

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"sync"
	"time"

	"github.com/alexbotov/casino-core/internal/domain"
)

// Service provides random number generation over an entropy reader.
// A read failure latches the service into a failed state; every later draw
// returns domain.ErrEntropyUnavailable until a health check passes.
// GLI-19 §3.2: General RNG Requirements
// GLI-19 §3.3: RNG Strength and Monitoring
type Service struct {
	entropy io.Reader
	mode    string
	mu      sync.Mutex

	failed   bool
	failedAt time.Time

	// Statistics for monitoring
	lastHealthCheck  time.Time
	samplesGenerated int64
	onFailure        func(error)
}

// New creates a new RNG service using crypto/rand
func New() *Service {
	return NewFromReader(rand.Reader, ModeCrypto)
}

// NewFromReader creates a service over an arbitrary entropy reader
func NewFromReader(r io.Reader, mode string) *Service {
	return &Service{
		entropy:         r,
		mode:            mode,
		lastHealthCheck: time.Now(),
	}
}

// OnFailure registers a callback invoked once per entropy failure
func (s *Service) OnFailure(fn func(error)) {
	s.mu.Lock()
	s.onFailure = fn
	s.mu.Unlock()
}

// Mode returns the configured entropy mode
func (s *Service) Mode() string {
	return s.mode
}

// Healthy reports whether the generator is accepting draws
func (s *Service) Healthy() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.failed
}

// GenerateBytes returns n random bytes
// GLI-19 §3.3.1: RNG Strength for Outcome Determination
func (s *Service) GenerateBytes(n int) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.failed {
		return nil, domain.ErrEntropyUnavailable
	}

	buf := make([]byte, n)
	if err := s.read(buf); err != nil {
		return nil, err
	}

	s.samplesGenerated++
	return buf, nil
}

// GenerateInt returns a random integer in range [0, max)
// Uses rejection sampling to eliminate modulo bias (GLI-19 §3.2.3)
func (s *Service) GenerateInt(max int64) (int64, error) {
	if max <= 0 {
		return 0, fmt.Errorf("max must be positive")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.failed {
		return 0, domain.ErrEntropyUnavailable
	}
	return s.generateInt(max)
}

// generateInt must be called with s.mu held
func (s *Service) generateInt(max int64) (int64, error) {
	// Values at or above threshold would bias the low residues
	threshold := uint64(1<<63-1) - (uint64(1<<63-1) % uint64(max))

	buf := make([]byte, 8)
	for {
		if err := s.read(buf); err != nil {
			return 0, err
		}

		n := binary.BigEndian.Uint64(buf) >> 1 // Use 63 bits for positive range

		if n < threshold {
			s.samplesGenerated++
			return int64(n % uint64(max)), nil
		}
	}
}

// read fills buf or latches the failed state
func (s *Service) read(buf []byte) error {
	if _, err := io.ReadFull(s.entropy, buf); err != nil {
		s.failed = true
		s.failedAt = time.Now()
		if s.onFailure != nil {
			s.onFailure(err)
		}
		return fmt.Errorf("%w: %v", domain.ErrEntropyUnavailable, err)
	}
	return nil
}

// GenerateIntRange returns a random integer in range [min, max]
func (s *Service) GenerateIntRange(min, max int64) (int64, error) {
	if min > max {
		return 0, fmt.Errorf("min cannot be greater than max")
	}

	n, err := s.GenerateInt(max - min + 1)
	if err != nil {
		return 0, err
	}

	return min + n, nil
}

// Shuffle performs a Fisher-Yates shuffle on a slice of integers
// GLI-19 §3.2.1: Source Code Review for shuffling algorithms
func (s *Service) Shuffle(slice []int) error {
	for i := len(slice) - 1; i > 0; i-- {
		j, err := s.GenerateInt(int64(i + 1))
		if err != nil {
			return err
		}
		slice[i], slice[int(j)] = slice[int(j)], slice[i]
	}
	return nil
}

// SelectWeighted selects an index with probability weight[i]/sum(weights).
// Integer weights keep the selection exact.
// GLI-19 §3.2.3: Distribution - non-uniform distribution support
func (s *Service) SelectWeighted(weights []int) (int, error) {
	if len(weights) == 0 {
		return 0, fmt.Errorf("weights cannot be empty")
	}

	var total int64
	for _, w := range weights {
		if w < 0 {
			return 0, fmt.Errorf("weights cannot be negative")
		}
		total += int64(w)
	}
	if total <= 0 {
		return 0, fmt.Errorf("total weight must be positive")
	}

	target, err := s.GenerateInt(total)
	if err != nil {
		return 0, err
	}

	var cumulative int64
	for i, w := range weights {
		cumulative += int64(w)
		if target < cumulative {
			return i, nil
		}
	}

	return len(weights) - 1, nil
}

// HealthCheck verifies the RNG is functioning correctly. A passing check
// clears a previously latched entropy failure.
// GLI-19 §3.3.3: Dynamic Output Monitoring
func (s *Service) HealthCheck() (*HealthResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.lastHealthCheck = time.Now()

	const sampleSize = 1000
	samples := make([]int64, sampleSize)

	for i := 0; i < sampleSize; i++ {
		n, err := s.generateInt(100)
		if err != nil {
			return &HealthResult{
				Healthy:   false,
				Mode:      s.mode,
				Timestamp: time.Now(),
				Error:     err.Error(),
			}, err
		}
		samples[i] = n
	}

	chiSquare, passed := chiSquareTest(samples, 100)
	if passed {
		s.failed = false
	}

	return &HealthResult{
		Healthy:          passed && !s.failed,
		Mode:             s.mode,
		Timestamp:        time.Now(),
		SamplesGenerated: s.samplesGenerated,
		ChiSquare:        chiSquare,
		ChiSquarePassed:  passed,
	}, nil
}

// chiSquareTest performs a basic chi-square test for uniformity
// GLI-19 §3.2.2: Statistical Analysis
func chiSquareTest(samples []int64, bins int) (float64, bool) {
	counts := make([]int, bins)
	for _, sample := range samples {
		counts[int(sample)%bins]++
	}

	expected := float64(len(samples)) / float64(bins)

	var chiSquare float64
	for _, count := range counts {
		diff := float64(count) - expected
		chiSquare += (diff * diff) / expected
	}

	// 99 degrees of freedom at 99% confidence
	criticalValue := 134.6
	if bins != 100 {
		criticalValue = float64(bins-1) + 2.576*math.Sqrt(2.0*float64(bins-1))
	}

	return chiSquare, chiSquare < criticalValue
}

// HealthResult contains RNG health check results
type HealthResult struct {
	Healthy          bool      `json:"healthy"`
	Mode             string    `json:"mode"`
	Timestamp        time.Time `json:"timestamp"`
	SamplesGenerated int64     `json:"samples_generated"`
	ChiSquare        float64   `json:"chi_square"`
	ChiSquarePassed  bool      `json:"chi_square_passed"`
	Error            string    `json:"error,omitempty"`
}
