package nats

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestConnect_Reuse(t *testing.T) {
	connect := ReuseConnection(NewTestContainer(t))

	c1, err := connect()
	require.NoError(t, err)
	require.NotNil(t, c1)
	require.Equal(t, "CONNECTED", c1.NATS().Status().String())

	c2, err := connect()
	require.NoError(t, err)
	require.Same(t, c1.NATS(), c2.NATS())

	c1.Close()
	require.Equal(t, "CONNECTED", c2.NATS().Status().String())
	c2.Close()
	require.Equal(t, "CLOSED", c2.NATS().Status().String())

	// a fresh lease reconnects
	c3, err := connect()
	require.NoError(t, err)
	require.NotNil(t, c3)
	require.Equal(t, "CONNECTED", c3.NATS().Status().String())
	c3.Close()
}
