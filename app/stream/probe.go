package stream

import (
	"errors"
	"net"
	"time"
)

// ConnProbe watches a client connection for a close. Each check reads with
// a short deadline: a timeout means the peer is still there, EOF or a reset
// means it left. A byte read here is lost, so the connection must not be
// reused for another request afterwards.
func ConnProbe(conn net.Conn, wait time.Duration) Probe {
	if conn == nil {
		return nil
	}
	if wait <= 0 {
		wait = time.Millisecond
	}
	buf := make([]byte, 1)

	return func() bool {
		if err := conn.SetReadDeadline(time.Now().Add(wait)); err != nil {
			return true
		}
		n, err := conn.Read(buf)
		_ = conn.SetReadDeadline(time.Time{})

		if n > 0 || err == nil {
			return false
		}
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return false
		}
		return true
	}
}

// AnyGone reports gone as soon as one of the probes does. Nil probes are
// skipped.
func AnyGone(probes ...Probe) Probe {
	return func() bool {
		for _, p := range probes {
			if p != nil && p() {
				return true
			}
		}
		return false
	}
}
