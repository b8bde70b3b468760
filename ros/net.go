package ros

import (
	"fmt"
	"net"
	"os"
	"strconv"

	"github.com/pkg/errors"
)

// listenEphemeralPort binds a TCP listener on ip. If ROS_IP_RANGE_START and
// ROS_IP_RANGE_END are both set the port is chosen from within that range
// with collision-retry; otherwise the OS picks a free ephemeral port
// directly.
func listenEphemeralPort(ip string) (net.Listener, error) {
	start, end, ok := portRange()
	if !ok {
		return net.Listen("tcp", fmt.Sprintf("%s:0", ip))
	}
	var lastErr error
	for port := start; port <= end; port++ {
		l, err := net.Listen("tcp", fmt.Sprintf("%s:%d", ip, port))
		if err == nil {
			return l, nil
		}
		lastErr = err
	}
	return nil, errors.Wrapf(lastErr, "exhausted port range [%d,%d]", start, end)
}

func portRange() (start, end int, ok bool) {
	s := os.Getenv("ROS_IP_RANGE_START")
	e := os.Getenv("ROS_IP_RANGE_END")
	if s == "" || e == "" {
		return 0, 0, false
	}
	startN, err1 := strconv.Atoi(s)
	endN, err2 := strconv.Atoi(e)
	if err1 != nil || err2 != nil || startN <= 0 || endN < startN {
		return 0, 0, false
	}
	return startN, endN, true
}
