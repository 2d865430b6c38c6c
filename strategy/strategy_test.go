package strategy

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTryCall(t *testing.T) {
	ctx := context.Background()

	res := TryCall(ctx, func(context.Context) (*big.Int, error) { return big.NewInt(5), nil })
	require.True(t, res.OK())
	require.Equal(t, int64(5), res.Value.Int64())

	boom := errors.New("boom")
	res = TryCall(ctx, func(context.Context) (*big.Int, error) { return big.NewInt(5), boom })
	require.False(t, res.OK())
	require.ErrorIs(t, res.Err, boom)
	require.Equal(t, int64(0), res.Value.Int64())

	res = TryCall(ctx, func(context.Context) (*big.Int, error) { panic("venue exploded") })
	require.False(t, res.OK())
	require.Contains(t, res.Err.Error(), "venue exploded")
	require.Equal(t, int64(0), res.Value.Int64())

	res = TryCall(ctx, func(context.Context) (*big.Int, error) { return nil, nil })
	require.True(t, res.OK())
	require.Equal(t, int64(0), res.Value.Int64())
}
