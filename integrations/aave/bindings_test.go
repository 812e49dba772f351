package aave

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRevertErrorsStayMatchable(t *testing.T) {
	reverted := fmt.Errorf("%w: transfer (tx 0xabc)", errExecutionReverted)
	require.ErrorIs(t, reverted, errExecutionReverted)

	transport := fmt.Errorf("aave: transfer: %w", context.DeadlineExceeded)
	require.NotErrorIs(t, transport, errExecutionReverted)
}
