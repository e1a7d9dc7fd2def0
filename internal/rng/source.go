package rng

import (
	"fmt"

	"github.com/alexbotov/casino-core/internal/domain"
)

// DomainKind selects how Draw interprets a Domain
type DomainKind int

const (
	// KindPermutation draws without replacement from 0..Size-1 (card decks)
	KindPermutation DomainKind = iota
	// KindUniform draws with replacement from 0..Size-1 (wheel numbers)
	KindUniform
	// KindWeighted draws indexes of Weights with replacement (reel symbols)
	KindWeighted
)

// Domain describes the value space of one draw
type Domain struct {
	Kind    DomainKind
	Size    int
	Weights []int
}

// Deck is a domain of size distinct values drawn without replacement
func Deck(size int) Domain { return Domain{Kind: KindPermutation, Size: size} }

// Uniform is a domain of values 0..size-1 drawn with replacement
func Uniform(size int) Domain { return Domain{Kind: KindUniform, Size: size} }

// Weighted is a domain of weight indexes drawn with replacement
func Weighted(weights []int) Domain { return Domain{Kind: KindWeighted, Weights: weights} }

// Source is the entropy collaborator consumed by game engines
type Source interface {
	Draw(n int, d Domain) ([]int, error)
}

var _ Source = (*Service)(nil)

// Draw returns n values from the domain. Permutation draws return the first
// n positions of a full Fisher-Yates shuffle.
func (s *Service) Draw(n int, d Domain) ([]int, error) {
	if n < 0 {
		return nil, fmt.Errorf("draw count must not be negative")
	}

	switch d.Kind {
	case KindPermutation:
		if d.Size <= 0 || n > d.Size {
			return nil, fmt.Errorf("cannot draw %d values without replacement from %d", n, d.Size)
		}
		perm := make([]int, d.Size)
		for i := range perm {
			perm[i] = i
		}
		if err := s.Shuffle(perm); err != nil {
			return nil, err
		}
		return perm[:n], nil

	case KindUniform:
		if d.Size <= 0 {
			return nil, fmt.Errorf("domain size must be positive")
		}
		out := make([]int, n)
		for i := range out {
			v, err := s.GenerateInt(int64(d.Size))
			if err != nil {
				return nil, err
			}
			out[i] = int(v)
		}
		return out, nil

	case KindWeighted:
		out := make([]int, n)
		for i := range out {
			v, err := s.SelectWeighted(d.Weights)
			if err != nil {
				return nil, err
			}
			out[i] = v
		}
		return out, nil
	}

	return nil, fmt.Errorf("unknown domain kind %d", d.Kind)
}

// Failing is a Source whose entropy is permanently unavailable
type Failing struct{}

func (Failing) Draw(int, Domain) ([]int, error) { return nil, domain.ErrEntropyUnavailable }
