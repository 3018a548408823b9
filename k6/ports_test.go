package k6

import (
	"net"
	"strconv"
	"testing"
)

func TestPortPool_NoRangeReturnsEphemeral(t *testing.T) {
	pool := NewPortPool(0, 0, "127.0.0.1")
	port, release, err := pool.Allocate()
	if err != nil {
		t.Fatal(err)
	}
	defer release()
	if port != 0 {
		t.Errorf("port = %d, want 0 (ephemeral)", port)
	}
}

func TestPortPool_AllocatesDistinctPorts(t *testing.T) {
	pool := NewPortPool(37100, 8, "127.0.0.1")

	p1, r1, err := pool.Allocate()
	if err != nil {
		t.Fatal(err)
	}
	defer r1()
	p2, r2, err := pool.Allocate()
	if err != nil {
		t.Fatal(err)
	}
	defer r2()

	if p1 == p2 {
		t.Errorf("both allocations returned %d", p1)
	}
	if pool.Reserved() != 2 {
		t.Errorf("reserved = %d, want 2", pool.Reserved())
	}
}

func TestPortPool_ReleaseReturnsPort(t *testing.T) {
	pool := NewPortPool(37200, 1, "127.0.0.1")

	p1, release, err := pool.Allocate()
	if err != nil {
		t.Fatal(err)
	}
	if _, _, err := pool.Allocate(); err == nil {
		t.Fatal("single-port pool should exhaust")
	}
	release()

	p2, release2, err := pool.Allocate()
	if err != nil {
		t.Fatal(err)
	}
	defer release2()
	if p2 != p1 {
		t.Errorf("released port not reused: %d vs %d", p2, p1)
	}
}

func TestPortPool_SkipsBoundPorts(t *testing.T) {
	pool := NewPortPool(37300, 4, "127.0.0.1")

	l, err := net.Listen("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(37300)))
	if err != nil {
		t.Skipf("cannot bind test port: %v", err)
	}
	defer l.Close()

	port, release, err := pool.Allocate()
	if err != nil {
		t.Fatal(err)
	}
	defer release()
	if port == 37300 {
		t.Error("pool handed out a bound port")
	}
}

func TestPortPool_ExhaustionErrors(t *testing.T) {
	pool := NewPortPool(37400, 2, "127.0.0.1")
	_, r1, err := pool.Allocate()
	if err != nil {
		t.Fatal(err)
	}
	defer r1()
	_, r2, err := pool.Allocate()
	if err != nil {
		t.Fatal(err)
	}
	defer r2()

	if _, _, err := pool.Allocate(); err == nil {
		t.Error("exhausted pool should error")
	}
}
