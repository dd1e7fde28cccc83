package engine

import (
	"fmt"
	"sync"
)

// Generator produces the value of one array element from its global index.
// Generators replace the remote code strings of fromfunction-style array
// construction: clients name a generator and pass numeric parameters, and
// every engine evaluates it over the indices it owns.
type Generator func(global []int, params map[string]float64) float64

var (
	generatorMu sync.RWMutex
	generators  = map[string]Generator{
		"zeros": func([]int, map[string]float64) float64 { return 0 },
		"ones":  func([]int, map[string]float64) float64 { return 1 },
		"constant": func(_ []int, params map[string]float64) float64 {
			return params["value"]
		},
		// indexsum is the classic fromfunction example: the value of an
		// element is the sum of its index coordinates.
		"indexsum": func(global []int, _ map[string]float64) float64 {
			sum := 0
			for _, g := range global {
				sum += g
			}
			return float64(sum)
		},
	}
)

// RegisterGenerator makes a generator available under name to every engine
// built into this binary. Registering an existing name is an error.
func RegisterGenerator(name string, fn Generator) error {
	generatorMu.Lock()
	defer generatorMu.Unlock()
	if _, ok := generators[name]; ok {
		return fmt.Errorf("generator %q already registered", name)
	}
	generators[name] = fn
	return nil
}

// LookupGenerator resolves a generator by name.
func LookupGenerator(name string) (Generator, error) {
	generatorMu.RLock()
	defer generatorMu.RUnlock()
	fn, ok := generators[name]
	if !ok {
		return nil, fmt.Errorf("generator %q: %w", name, ErrUnknownGenerator)
	}
	return fn, nil
}
