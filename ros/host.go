package ros

import (
	"os"
	"strings"
)

// determineHost resolves the hostname advertised in the Slave-API and
// service URIs: ROS_IP, then ROS_HOSTNAME, then the OS
// hostname. __ip/__hostname remapping special keys take priority over
// both and are applied by the caller (newDefaultNode) before falling back
// here. The second return value says whether the resolved host is
// loopback-only, which callers use to decide whether to bind 127.0.0.1 or
// 0.0.0.0.
func determineHost() (string, bool) {
	if ip := os.Getenv("ROS_IP"); len(ip) > 0 {
		return ip, ip == "::1" || strings.HasPrefix(ip, "127.")
	}
	if hostname := os.Getenv("ROS_HOSTNAME"); len(hostname) > 0 {
		return hostname, hostname == "localhost"
	}
	hostname, err := os.Hostname()
	if err != nil || len(hostname) == 0 {
		return "localhost", true
	}
	return hostname, false
}
