package localarray

import "fmt"

// NDArray is a plain dense array, used as the gather and scatter carrier
// between clients and engines. Data is row-major.
type NDArray struct {
	Shape []int     `json:"shape"`
	Data  []float64 `json:"data"`
}

// NewNDArray allocates a zeroed dense array.
func NewNDArray(shape []int) (*NDArray, error) {
	size := 1
	for dim, n := range shape {
		if n <= 0 {
			return nil, fmt.Errorf("dimension %d has non-positive size %d", dim, n)
		}
		size *= n
	}
	return &NDArray{Shape: append([]int(nil), shape...), Data: make([]float64, size)}, nil
}

// Size returns the number of elements.
func (a *NDArray) Size() int { return len(a.Data) }

func (a *NDArray) flat(index []int) (int, error) {
	if len(index) != len(a.Shape) {
		return 0, fmt.Errorf("index has %d dimensions, array has %d", len(index), len(a.Shape))
	}
	flat := 0
	for dim, i := range index {
		if i < 0 || i >= a.Shape[dim] {
			return 0, fmt.Errorf("index %d outside dimension %d of size %d", i, dim, a.Shape[dim])
		}
		flat = flat*a.Shape[dim] + i
	}
	return flat, nil
}

// At reads one element.
func (a *NDArray) At(index ...int) (float64, error) {
	flat, err := a.flat(index)
	if err != nil {
		return 0, err
	}
	return a.Data[flat], nil
}

// Set writes one element.
func (a *NDArray) Set(v float64, index ...int) error {
	flat, err := a.flat(index)
	if err != nil {
		return err
	}
	a.Data[flat] = v
	return nil
}

// Each calls fn for every element in row-major order.
func (a *NDArray) Each(fn func(index []int, v float64)) {
	index := make([]int, len(a.Shape))
	for flat, v := range a.Data {
		remainder := flat
		for dim := len(a.Shape) - 1; dim >= 0; dim-- {
			index[dim] = remainder % a.Shape[dim]
			remainder /= a.Shape[dim]
		}
		fn(index, v)
	}
}
