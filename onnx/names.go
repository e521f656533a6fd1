package onnx

import (
	"fmt"

	"github.com/gomlx/gomlx/pkg/support/sets"
)

// NameGenerator allocates unique tensor and node names within a graph scope.
//
// It keeps a counter per prefix, and skips names that were reserved (e.g. user declared inputs).
type NameGenerator struct {
	counters map[string]int
	used     sets.Set[string]
}

// NewNameGenerator creates an empty NameGenerator.
func NewNameGenerator() *NameGenerator {
	return &NameGenerator{
		counters: make(map[string]int),
		used:     sets.Make[string](),
	}
}

// Get returns a new name of the form "<prefix>_<n>".
func (g *NameGenerator) Get(prefix string) string {
	if prefix == "" {
		prefix = "tmp"
	}
	for {
		n := g.counters[prefix]
		g.counters[prefix] = n + 1
		name := fmt.Sprintf("%s_%d", prefix, n)
		if !g.used.Has(name) {
			g.used.Insert(name)
			return name
		}
	}
}

// Reserve marks the names as used, so Get never returns them.
func (g *NameGenerator) Reserve(names ...string) {
	for _, name := range names {
		if name != "" {
			g.used.Insert(name)
		}
	}
}

// Reset forgets all counters and reserved names.
func (g *NameGenerator) Reset() {
	g.counters = make(map[string]int)
	g.used = sets.Make[string]()
}
