package common

import (
	"context"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"
)

// TestPaginationWithNoParams tests if the default pagination
// values are set correctly in the default case.
func TestPaginationWithNoParams(t *testing.T) {
	ctx := context.Background()

	r, err := http.NewRequestWithContext(ctx, "GET", "https://fake-api.com/v1/events", nil)
	require.Nil(t, err)

	p, err := NewPagination(r)
	require.Nil(t, err)

	require.Equal(t, DefaultLimit, p.Limit)
	require.Equal(t, DefaultOffset, p.Offset)
}

// TestPaginationWithValidParams tests if the pagination values
// are set correctly when providing query params.
func TestPaginationWithValidParams(t *testing.T) {
	ctx := context.Background()

	limit := uint64(10)
	offset := uint64(20)

	r, err := http.NewRequestWithContext(ctx, "GET", fmt.Sprintf("https://fake-api.com/v1/events?limit=%d&offset=%d", limit, offset), nil)
	require.Nil(t, err)

	p, err := NewPagination(r)
	require.Nil(t, err)

	require.Equal(t, limit, p.Limit)
	require.Equal(t, offset, p.Offset)
}

// TestPaginationWithInvalidParams tests that malformed query params are
// reported as bad requests.
func TestPaginationWithInvalidParams(t *testing.T) {
	ctx := context.Background()

	r, err := http.NewRequestWithContext(ctx, "GET", "https://fake-api.com/v1/events?limit=nonsense", nil)
	require.Nil(t, err)

	_, err = NewPagination(r)
	require.ErrorIs(t, err, ErrBadRequest)

	r, err = http.NewRequestWithContext(ctx, "GET", "https://fake-api.com/v1/events?offset=-1", nil)
	require.Nil(t, err)

	_, err = NewPagination(r)
	require.ErrorIs(t, err, ErrBadRequest)
}

// TestPaginationWithTooHighLimit tests that the limit is clamped.
func TestPaginationWithTooHighLimit(t *testing.T) {
	ctx := context.Background()

	limit := uint64(100000000000)
	offset := uint64(20)

	r, err := http.NewRequestWithContext(ctx, "GET", fmt.Sprintf("https://fake-api.com/v1/events?limit=%d&offset=%d", limit, offset), nil)
	require.Nil(t, err)

	p, err := NewPagination(r)
	require.Nil(t, err)

	require.Equal(t, MaximumLimit, p.Limit)
	require.Equal(t, offset, p.Offset)
}
