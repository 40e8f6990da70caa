//go:build !highs

package highs

import (
	"context"

	"bess-dispatch/internal/optimize"
)

// Available reports whether the binary links libhighs.
const Available = false

func (s *Solver) Solve(ctx context.Context, m *optimize.Model) (*optimize.Solution, error) {
	return nil, &optimize.SolveError{Status: optimize.StatusError, Err: ErrUnavailable}
}
