// Package oracletest provides a scripted oracle for tests.
package oracletest

import (
	"context"
	"fmt"
	"math"
	"sync"

	"github.com/nikhilbhutani/esignature/internal/apperr"
	"github.com/nikhilbhutani/esignature/internal/oracle"
)

// Stub maps image bytes to fixed embeddings. Images it does not know get
// Default. Compare reports the Euclidean distance between the two mapped
// embeddings.
type Stub struct {
	mu       sync.Mutex
	vectors  map[string][]float32
	Default  []float32
	Down     bool
	ExtractN int
	CompareN int
}

func New() *Stub {
	return &Stub{vectors: map[string][]float32{}}
}

// Set registers the embedding returned for images whose content is data.
func (s *Stub) Set(data []byte, vec []float32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.vectors[string(data)] = vec
}

func (s *Stub) Calls() (extract, compare int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ExtractN, s.CompareN
}

func (s *Stub) lookup(img oracle.Image) ([]float32, error) {
	if s.Down {
		return nil, fmt.Errorf("%w: stub is down", apperr.ErrOracleUnavailable)
	}
	if v, ok := s.vectors[string(img.Data)]; ok {
		return v, nil
	}
	if s.Default != nil {
		return s.Default, nil
	}
	return nil, fmt.Errorf("%w: no embedding scripted for %q", apperr.ErrOracleUnavailable, img.Name)
}

func (s *Stub) Extract(_ context.Context, img oracle.Image) ([]float32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ExtractN++
	return s.lookup(img)
}

func (s *Stub) Compare(_ context.Context, a, b oracle.Image, threshold float64) (*oracle.Comparison, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CompareN++
	va, err := s.lookup(a)
	if err != nil {
		return nil, err
	}
	vb, err := s.lookup(b)
	if err != nil {
		return nil, err
	}
	var sum float64
	for i := range va {
		if i >= len(vb) {
			break
		}
		d := float64(va[i]) - float64(vb[i])
		sum += d * d
	}
	dist := math.Sqrt(sum)
	return &oracle.Comparison{Match: dist <= threshold, Distance: dist}, nil
}
