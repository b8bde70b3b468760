package ros

import (
	"net"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPortRangeUnset(t *testing.T) {
	os.Unsetenv("ROS_IP_RANGE_START")
	os.Unsetenv("ROS_IP_RANGE_END")
	_, _, ok := portRange()
	assert.False(t, ok)
}

func TestPortRangeSet(t *testing.T) {
	withEnv(t, "ROS_IP_RANGE_START", "40000")
	withEnv(t, "ROS_IP_RANGE_END", "40010")
	start, end, ok := portRange()
	require.True(t, ok)
	assert.Equal(t, 40000, start)
	assert.Equal(t, 40010, end)
}

func TestPortRangeInvalidIsIgnored(t *testing.T) {
	withEnv(t, "ROS_IP_RANGE_START", "not-a-number")
	withEnv(t, "ROS_IP_RANGE_END", "40010")
	_, _, ok := portRange()
	assert.False(t, ok)
}

func TestPortRangeEndBeforeStartIsIgnored(t *testing.T) {
	withEnv(t, "ROS_IP_RANGE_START", "40010")
	withEnv(t, "ROS_IP_RANGE_END", "40000")
	_, _, ok := portRange()
	assert.False(t, ok)
}

func TestListenEphemeralPortWithoutRange(t *testing.T) {
	os.Unsetenv("ROS_IP_RANGE_START")
	os.Unsetenv("ROS_IP_RANGE_END")

	l, err := listenEphemeralPort("127.0.0.1")
	require.NoError(t, err)
	defer l.Close()
	tcpAddr, ok := l.Addr().(*net.TCPAddr)
	require.True(t, ok)
	assert.NotEqual(t, 0, tcpAddr.Port)
}

func TestListenEphemeralPortWithinRange(t *testing.T) {
	withEnv(t, "ROS_IP_RANGE_START", "41000")
	withEnv(t, "ROS_IP_RANGE_END", "41050")

	l, err := listenEphemeralPort("127.0.0.1")
	require.NoError(t, err)
	defer l.Close()
	tcpAddr, ok := l.Addr().(*net.TCPAddr)
	require.True(t, ok)
	assert.GreaterOrEqual(t, tcpAddr.Port, 41000)
	assert.LessOrEqual(t, tcpAddr.Port, 41050)
}
