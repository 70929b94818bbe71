package session

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/zion-network/zminer/internal/hasher"
	"github.com/zion-network/zminer/internal/mining"
	"github.com/zion-network/zminer/internal/stats"
	"github.com/zion-network/zminer/internal/stratum"
	"github.com/zion-network/zminer/pkg/log"
)

// fakePool accepts any number of sequential connections, answers the
// handshake, pushes one job per connection and accepts every share.
type fakePool struct {
	ln net.Listener

	mu          sync.Mutex
	conn        net.Conn
	connections int
}

func startFakePool(t *testing.T) *fakePool {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}

	p := &fakePool{ln: ln}
	go p.acceptLoop()
	t.Cleanup(func() { _ = ln.Close() })
	return p
}

func (p *fakePool) acceptLoop() {
	for {
		conn, err := p.ln.Accept()
		if err != nil {
			return
		}
		p.mu.Lock()
		p.conn = conn
		p.connections++
		n := p.connections
		p.mu.Unlock()
		p.serve(conn, n)
	}
}

func (p *fakePool) serve(conn net.Conn, connNum int) {
	defer func() { _ = conn.Close() }()

	scanner := bufio.NewScanner(conn)
	for scanner.Scan() {
		msg, err := stratum.ParseMessage(scanner.Bytes())
		if err != nil {
			continue
		}
		id, _ := msg.ResponseID()

		switch msg.Method {
		case stratum.MethodSubscribe:
			fmt.Fprintf(conn, `{"id":%d,"result":[[["mining.notify","s1"]],"0800",4]}`+"\n", id)
		case stratum.MethodAuthorize:
			fmt.Fprintf(conn, `{"id":%d,"result":{"status":"OK"}}`+"\n", id)
			fmt.Fprintf(conn,
				`{"id":null,"method":"mining.notify","params":["job-%d","%s","seed","",100,1,true]}`+"\n",
				connNum, "00112233445566778899aabbccddeeff")
		case stratum.MethodSubmit:
			fmt.Fprintf(conn, `{"id":%d,"result":{"status":"OK"}}`+"\n", id)
		}
	}
}

func (p *fakePool) dropClient() {
	p.mu.Lock()
	conn := p.conn
	p.mu.Unlock()
	if conn != nil {
		_ = conn.Close()
	}
}

func (p *fakePool) connectionCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.connections
}

func testController(t *testing.T, pool *fakePool) (*Controller, *stats.SessionStats) {
	t.Helper()

	st := stats.New()
	logger := log.New("zminer-test", "dev", "error", "text")

	c := New(Config{
		PoolAddr:        pool.ln.Addr().String(),
		Wallet:          "ZXw1",
		Worker:          "rig1",
		UserAgent:       "zminer-test/1.0",
		Algorithm:       mining.AlgoCosmicHarmony,
		CPUThreads:      1,
		ProviderVariant: hasher.VariantDev,
	}, logger, st, nil)

	return c, st
}

func waitFor(t *testing.T, what string, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestControllerMinesAndQuits(t *testing.T) {
	pool := startFakePool(t)
	c, st := testController(t, pool)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	waitFor(t, "mining state", 5*time.Second, func() bool {
		return c.State() == StateMining
	})
	waitFor(t, "accepted shares", 5*time.Second, func() bool {
		return st.Accepted() > 0
	})

	c.Send(CmdQuit)
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("controller did not quit")
	}
	if c.State() != StateQuitting {
		t.Errorf("final state = %v, want quitting", c.State())
	}
}

func TestControllerReconnectPreservesCounters(t *testing.T) {
	pool := startFakePool(t)
	c, st := testController(t, pool)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	waitFor(t, "first accepts", 5*time.Second, func() bool {
		return st.Accepted() > 10
	})
	beforeDrop := st.Accepted()
	versionBefore := c.Jobs().Version()

	pool.dropClient()

	waitFor(t, "second connection", 5*time.Second, func() bool {
		return pool.connectionCount() >= 2
	})
	waitFor(t, "accepts after reconnect", 5*time.Second, func() bool {
		return st.Accepted() > beforeDrop
	})

	if c.Jobs().Version() <= versionBefore {
		t.Error("job version should keep increasing across reconnects")
	}

	c.Send(CmdQuit)
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("controller did not quit")
	}
}

func TestControllerPauseResume(t *testing.T) {
	pool := startFakePool(t)
	c, st := testController(t, pool)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	waitFor(t, "mining", 5*time.Second, func() bool {
		return c.State() == StateMining
	})

	c.Send(CmdPause)
	waitFor(t, "paused", 2*time.Second, func() bool {
		return c.State() == StatePaused
	})

	// Hashing stops once in-flight batches drain.
	time.Sleep(200 * time.Millisecond)
	before := st.TotalHashes()
	time.Sleep(200 * time.Millisecond)
	if st.TotalHashes() != before {
		t.Error("hashing continued while paused")
	}

	c.Send(CmdPause)
	waitFor(t, "resumed", 2*time.Second, func() bool {
		return c.State() == StateMining
	})

	c.Send(CmdQuit)
	<-done
}

func TestControllerGPUDesiredPersists(t *testing.T) {
	pool := startFakePool(t)
	c, _ := testController(t, pool)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	waitFor(t, "mining", 5*time.Second, func() bool {
		return c.State() == StateMining
	})

	if c.GPUDesired() {
		t.Fatal("gpu should start disabled")
	}
	c.Send(CmdToggleGPU)
	waitFor(t, "gpu desired", 2*time.Second, c.GPUDesired)

	// Preference survives a reconnect.
	c.Send(CmdReconnect)
	waitFor(t, "reconnected", 5*time.Second, func() bool {
		return pool.connectionCount() >= 2 && c.State() == StateMining
	})
	if !c.GPUDesired() {
		t.Error("gpu preference lost across reconnect")
	}

	c.Send(CmdQuit)
	<-done
}

func TestControllerDurationBound(t *testing.T) {
	pool := startFakePool(t)

	st := stats.New()
	logger := log.New("zminer-test", "dev", "error", "text")
	c := New(Config{
		PoolAddr:        pool.ln.Addr().String(),
		Wallet:          "ZXw1",
		Algorithm:       mining.AlgoCosmicHarmony,
		CPUThreads:      1,
		ProviderVariant: hasher.VariantDev,
		Duration:        500 * time.Millisecond,
	}, logger, st, nil)

	done := make(chan error, 1)
	go func() { done <- c.Run(context.Background()) }()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("duration bound never fired")
	}
}
