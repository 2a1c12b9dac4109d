package testutil

import (
	"bufio"
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/tidwall/gjson"
)

// LineClient speaks the newline-delimited JSON protocol to a TCP listener.
type LineClient struct {
	conn   net.Conn
	reader *bufio.Reader
	t      *testing.T
}

// NewLineClient dials addr.
//
// Precondition: addr must be a listening TCP address.
// Postcondition: Returns a connected client that is closed on test cleanup.
func NewLineClient(t *testing.T, addr string) *LineClient {
	t.Helper()
	start := time.Now()

	conn, err := net.DialTimeout("tcp", addr, 2*time.Second)
	if err != nil {
		t.Fatalf("connecting to %s: %v", addr, err)
	}
	t.Cleanup(func() { _ = conn.Close() })

	t.Logf("line client connected to %s [%s]", addr, time.Since(start))
	return &LineClient{conn: conn, reader: bufio.NewReader(conn), t: t}
}

// Send writes text followed by a newline.
func (c *LineClient) Send(text string) {
	c.t.Helper()
	_ = c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	if _, err := fmt.Fprintf(c.conn, "%s\n", text); err != nil {
		c.t.Fatalf("sending %q: %v", text, err)
	}
}

// ReadLine returns the next line without its terminator.
//
// Postcondition: Returns the line, or a non-nil error on timeout or close.
func (c *LineClient) ReadLine(timeout time.Duration) (string, error) {
	_ = c.conn.SetReadDeadline(time.Now().Add(timeout))
	line, err := c.reader.ReadString('\n')
	if err != nil {
		return "", err
	}
	return line[:len(line)-1], nil
}

// Expect reads the next line and fails the test unless its "type" is msgType.
func (c *LineClient) Expect(msgType string) string {
	c.t.Helper()
	line, err := c.ReadLine(2 * time.Second)
	if err != nil {
		c.t.Fatalf("waiting for %q: %v", msgType, err)
	}
	if got := gjson.Get(line, "type").String(); got != msgType {
		c.t.Fatalf("expected %q message, got %q: %s", msgType, got, line)
	}
	return line
}

// Close closes the underlying connection.
func (c *LineClient) Close() error {
	return c.conn.Close()
}
