package telemetry

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSetup_NoEndpointIsNoop(t *testing.T) {
	shutdown, err := Setup(t.Context(), "", "bridge")
	require.NoError(t, err)
	require.NoError(t, shutdown(t.Context()))
}
