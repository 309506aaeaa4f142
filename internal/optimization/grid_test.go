package optimization_test

import (
	"testing"

	"github.com/atlas-desktop/backtest-engine/internal/optimization"
	"github.com/atlas-desktop/backtest-engine/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseGrid(t *testing.T) {
	grid, err := optimization.ParseGrid("fast=5,10; slow=30 ;position_size=0.5,1")
	require.NoError(t, err)

	assert.Equal(t, optimization.ParamGrid{
		{Name: "fast", Values: []float64{5, 10}},
		{Name: "slow", Values: []float64{30}},
		{Name: "position_size", Values: []float64{0.5, 1}},
	}, grid)
	assert.Len(t, grid.Combinations(), 4)
	assert.Equal(t, "fast=5,10;slow=30;position_size=0.5,1", grid.String())
}

func TestParseGridErrors(t *testing.T) {
	for _, text := range []string{"", "fast", "=1", "fast=a", "fast=1;fast=2", "fast=1,"} {
		_, err := optimization.ParseGrid(text)
		assert.ErrorIs(t, err, types.ErrMalformedInput, text)
	}
}
