package features

import "fmt"

// Window is a fixed-size ring buffer over the most recent k values of a
// series. It backs the autoregressive forecast loop: each prediction is
// pushed in and the oldest value falls out.
type Window struct {
	buf  []float64
	next int
}

// NewWindow seeds a window of size k with the last k of values.
func NewWindow(values []float64, k int) (*Window, error) {
	if k < 1 {
		return nil, fmt.Errorf("window size must be >= 1, got %d", k)
	}
	if len(values) < k {
		return nil, &InsufficientDataError{Need: k, Got: len(values)}
	}
	buf := make([]float64, k)
	copy(buf, values[len(values)-k:])
	return &Window{buf: buf}, nil
}

// Size returns k.
func (w *Window) Size() int {
	return len(w.buf)
}

// Push appends v and evicts the oldest value.
func (w *Window) Push(v float64) {
	w.buf[w.next] = v
	w.next = (w.next + 1) % len(w.buf)
}

// Lags returns the window most recent first: lag_1, lag_2, …, lag_k.
func (w *Window) Lags() []float64 {
	k := len(w.buf)
	lags := make([]float64, k)
	for i := range k {
		lags[i] = w.buf[(w.next-1-i+k)%k]
	}
	return lags
}
