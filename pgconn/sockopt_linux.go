package pgconn

import (
	"syscall"
	"time"

	"golang.org/x/sys/unix"
)

// makeDialControlFunc builds a dialer Control function applying the socket options that net.Dialer cannot express:
// tcp_user_timeout, keepalives_interval, and keepalives_retries.
func makeDialControlFunc(config *Config) func(network, address string, c syscall.RawConn) error {
	tcpUserTimeout := config.TCPUserTimeout
	keepalive := config.Keepalive

	if tcpUserTimeout == 0 && keepalive.Interval == 0 && keepalive.Retries == 0 {
		return nil
	}

	return func(network, address string, c syscall.RawConn) error {
		if network == "unix" {
			return nil
		}

		var sockErr error
		err := c.Control(func(fd uintptr) {
			if tcpUserTimeout > 0 {
				ms := int(tcpUserTimeout / time.Millisecond)
				if err := unix.SetsockoptInt(int(fd), unix.IPPROTO_TCP, unix.TCP_USER_TIMEOUT, ms); err != nil {
					sockErr = err
					return
				}
			}
			if keepalive.Interval > 0 {
				secs := int(keepalive.Interval / time.Second)
				if err := unix.SetsockoptInt(int(fd), unix.IPPROTO_TCP, unix.TCP_KEEPINTVL, secs); err != nil {
					sockErr = err
					return
				}
			}
			if keepalive.Retries > 0 {
				if err := unix.SetsockoptInt(int(fd), unix.IPPROTO_TCP, unix.TCP_KEEPCNT, keepalive.Retries); err != nil {
					sockErr = err
					return
				}
			}
		})
		if err != nil {
			return err
		}
		return sockErr
	}
}
