package ros

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
)

func withEnv(t *testing.T, key, value string) {
	t.Helper()
	old, had := os.LookupEnv(key)
	if value == "" {
		os.Unsetenv(key)
	} else {
		os.Setenv(key, value)
	}
	t.Cleanup(func() {
		if had {
			os.Setenv(key, old)
		} else {
			os.Unsetenv(key)
		}
	})
}

func TestDetermineHostPrefersROSIP(t *testing.T) {
	withEnv(t, "ROS_IP", "10.0.0.5")
	withEnv(t, "ROS_HOSTNAME", "")

	host, loopback := determineHost()
	assert.Equal(t, "10.0.0.5", host)
	assert.False(t, loopback)
}

func TestDetermineHostROSIPLoopback(t *testing.T) {
	withEnv(t, "ROS_IP", "127.0.0.1")
	withEnv(t, "ROS_HOSTNAME", "")

	host, loopback := determineHost()
	assert.Equal(t, "127.0.0.1", host)
	assert.True(t, loopback)
}

func TestDetermineHostFallsBackToROSHostname(t *testing.T) {
	withEnv(t, "ROS_IP", "")
	withEnv(t, "ROS_HOSTNAME", "robot.local")

	host, loopback := determineHost()
	assert.Equal(t, "robot.local", host)
	assert.False(t, loopback)
}

func TestDetermineHostROSHostnameLocalhost(t *testing.T) {
	withEnv(t, "ROS_IP", "")
	withEnv(t, "ROS_HOSTNAME", "localhost")

	host, loopback := determineHost()
	assert.Equal(t, "localhost", host)
	assert.True(t, loopback)
}

func TestDetermineHostFallsBackToOSHostname(t *testing.T) {
	withEnv(t, "ROS_IP", "")
	withEnv(t, "ROS_HOSTNAME", "")

	host, _ := determineHost()
	assert.NotEmpty(t, host)
}
