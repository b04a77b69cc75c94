package probe

import (
	"context"
	"fmt"
	"net"
)

// TCP checks health by opening a connection.
type TCP struct{}

func (TCP) Check(ctx context.Context, host string, port int) error {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", fmt.Sprintf("%s:%d", host, port))
	if err != nil {
		return err
	}
	return conn.Close()
}
