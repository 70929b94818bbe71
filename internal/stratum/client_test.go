package stratum

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/zion-network/zminer/internal/stats"
	"github.com/zion-network/zminer/pkg/log"
)

// fakePool is a minimal single-connection pool for exercising the client.
type fakePool struct {
	t  *testing.T
	ln net.Listener

	mu   sync.Mutex
	conn net.Conn

	// handle returns response lines for one request; nil lines are skipped.
	handle func(method string, id float64) []string
}

func startFakePool(t *testing.T, handle func(method string, id float64) []string) *fakePool {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}

	p := &fakePool{t: t, ln: ln, handle: handle}
	go p.serve()
	t.Cleanup(func() { _ = ln.Close() })
	return p
}

func (p *fakePool) serve() {
	conn, err := p.ln.Accept()
	if err != nil {
		return
	}
	p.mu.Lock()
	p.conn = conn
	p.mu.Unlock()

	scanner := bufio.NewScanner(conn)
	for scanner.Scan() {
		msg, err := ParseMessage(scanner.Bytes())
		if err != nil {
			continue
		}
		id, _ := msg.ResponseID()
		for _, line := range p.handle(msg.Method, float64(id)) {
			p.push(line)
		}
	}
}

// push writes one line to the connected client.
func (p *fakePool) push(line string) {
	deadline := time.Now().Add(2 * time.Second)
	for {
		p.mu.Lock()
		conn := p.conn
		p.mu.Unlock()
		if conn != nil {
			_, _ = conn.Write([]byte(line + "\n"))
			return
		}
		if time.Now().After(deadline) {
			p.t.Error("fake pool never got a connection")
			return
		}
		time.Sleep(5 * time.Millisecond)
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

func defaultHandler(method string, id float64) []string {
	switch method {
	case MethodSubscribe:
		return []string{fmt.Sprintf(
			`{"id":%.0f,"result":[[["mining.notify","s1"]],"08000002",4]}`, id)}
	case MethodAuthorize:
		return []string{fmt.Sprintf(`{"id":%.0f,"result":{"status":"OK"}}`, id)}
	case MethodSubmit:
		return []string{fmt.Sprintf(`{"id":%.0f,"result":{"status":"OK"}}`, id)}
	default:
		return nil
	}
}

func testClient(t *testing.T, pool *fakePool) (*Client, *stats.SessionStats) {
	t.Helper()

	st := stats.New()
	logger := log.New("zminer-test", "dev", "error", "text")
	c := NewClient(pool.ln.Addr().String(), "wallet.rig1", logger, st)

	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c, st
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestClientHandshake(t *testing.T) {
	pool := startFakePool(t, defaultHandler)
	c, _ := testClient(t, pool)
	ctx := context.Background()

	res, err := c.Subscribe(ctx, "zminer/1.0")
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	if res.ExtraNonce1 != "08000002" || res.ExtraNonce2Size != 4 {
		t.Errorf("subscribe result = %+v", res)
	}
	if sub := c.Subscription(); sub == nil || sub.ExtraNonce1 != "08000002" {
		t.Errorf("Subscription() = %+v, want stored subscribe result", sub)
	}

	if err := c.Authorize(ctx, "wallet", "rig1", "cosmic_harmony"); err != nil {
		t.Fatalf("Authorize: %v", err)
	}
}

func TestClientHandshakeError(t *testing.T) {
	pool := startFakePool(t, func(method string, id float64) []string {
		if method == MethodAuthorize {
			return []string{fmt.Sprintf(
				`{"id":%.0f,"result":null,"error":{"code":24,"message":"unauthorized"}}`, id)}
		}
		return defaultHandler(method, id)
	})
	c, _ := testClient(t, pool)

	err := c.Authorize(context.Background(), "wallet", "rig1", "randomx")
	if err == nil {
		t.Fatal("authorize should fail on error response")
	}
	if !strings.Contains(err.Error(), "unauthorized") {
		t.Errorf("error = %v, want pool message surfaced", err)
	}
}

func TestClientJobDelivery(t *testing.T) {
	pool := startFakePool(t, defaultHandler)
	c, _ := testClient(t, pool)

	pool.push(`{"id":null,"method":"mining.notify","params":["j1","aabbcc","s","",10,100,false]}`)

	job := c.WaitForJob(context.Background(), 2*time.Second)
	if job == nil {
		t.Fatal("no job delivered")
	}
	if job.JobID != "j1" {
		t.Errorf("job id = %q, want j1", job.JobID)
	}
	if c.Difficulty() != 100 {
		t.Errorf("difficulty = %d, want 100", c.Difficulty())
	}
}

func TestClientLatestJobWins(t *testing.T) {
	pool := startFakePool(t, defaultHandler)
	c, _ := testClient(t, pool)

	pool.push(`{"id":null,"method":"mining.notify","params":["old","aa","s","",1,1,false]}`)
	pool.push(`{"id":null,"method":"mining.notify","params":["new","bb","s","",2,1,true]}`)

	// Wait for both notifies to land before consuming.
	waitFor(t, "second job", func() bool {
		c.mu.Lock()
		defer c.mu.Unlock()
		return c.pendingJob != nil && c.pendingJob.JobID == "new"
	})

	job := c.NextJob()
	if job.JobID != "new" {
		t.Errorf("job id = %q, want new (latest wins)", job.JobID)
	}
	if c.NextJob() != nil {
		t.Error("older job should have been discarded, not queued")
	}
}

func TestClientSubmitAccepted(t *testing.T) {
	pool := startFakePool(t, defaultHandler)
	c, st := testClient(t, pool)

	var digest [32]byte
	if err := c.SubmitShare("j1", 255, digest); err != nil {
		t.Fatalf("SubmitShare: %v", err)
	}

	if st.Sent() != 1 {
		t.Errorf("sent = %d, want 1", st.Sent())
	}
	waitFor(t, "accept", func() bool { return st.Accepted() == 1 })
}

func TestClientSubmitRejected(t *testing.T) {
	pool := startFakePool(t, func(method string, id float64) []string {
		if method == MethodSubmit {
			return []string{fmt.Sprintf(
				`{"id":%.0f,"result":null,"error":{"code":23,"message":"low difficulty share"}}`, id)}
		}
		return defaultHandler(method, id)
	})
	c, st := testClient(t, pool)

	var digest [32]byte
	if err := c.SubmitShare("j1", 1, digest); err != nil {
		t.Fatalf("SubmitShare: %v", err)
	}

	waitFor(t, "reject", func() bool { return st.Rejected() == 1 })
	if got := st.Snapshot().LastShareError; got != "low difficulty share" {
		t.Errorf("last share error = %q", got)
	}
}

func TestClientDetectsDisconnect(t *testing.T) {
	pool := startFakePool(t, defaultHandler)
	c, _ := testClient(t, pool)

	waitFor(t, "pool conn", func() bool {
		pool.mu.Lock()
		defer pool.mu.Unlock()
		return pool.conn != nil
	})
	pool.dropClient()

	waitFor(t, "disconnect", func() bool { return !c.Connected() })
	if c.DisconnectReason() == "" {
		t.Error("disconnect reason should be recorded")
	}
}

func TestClientConcurrentSubmits(t *testing.T) {
	pool := startFakePool(t, defaultHandler)
	c, st := testClient(t, pool)

	const n = 20
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(nonce uint32) {
			defer wg.Done()
			var digest [32]byte
			_ = c.SubmitShare("j1", nonce, digest)
		}(uint32(i))
	}
	wg.Wait()

	waitFor(t, "all accepts", func() bool { return st.Accepted() == n })
}
