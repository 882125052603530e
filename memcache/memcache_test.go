package memcache

import (
	"net"
	"testing"

	"github.com/sandrolain/httpcaching/test"
)

const testServer = "localhost:11211"

func TestMemcacheStore(t *testing.T) {
	conn, err := net.Dial("tcp", testServer)
	if err != nil {
		t.Skipf("skipping test; no server running at %s", testServer)
	}
	_, _ = conn.Write([]byte("flush_all\r\n"))
	_ = conn.Close()

	test.Store(t, New(testServer))
}
