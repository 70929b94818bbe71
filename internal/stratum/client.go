package stratum

import (
	"bufio"
	"context"
	"net"
	"sync"
	"time"

	"github.com/zion-network/zminer/internal/stats"
	"github.com/zion-network/zminer/pkg/errors"
	"github.com/zion-network/zminer/pkg/log"
)

const (
	dialTimeout     = 10 * time.Second
	responseTimeout = 5 * time.Second
	writeTimeout    = 10 * time.Second

	// Reject log rate limiting window.
	rejectLogInterval = 10 * time.Second

	// Accepted shares are logged on the first accept and then every Nth.
	acceptLogEvery = 10

	maxLineSize = 1024 * 1024
)

// Client is one connection to a pool. It owns the socket, a listener
// goroutine and the request-id bookkeeping. It never reconnects on its
// own; the session controller tears it down and builds a new one.
type Client struct {
	addr     string
	workerID string
	logger   *log.Logger
	stats    *stats.SessionStats

	conn net.Conn

	// Guards writes to the socket. Workers submit shares concurrently
	// with the controller's handshake calls.
	sendMu sync.Mutex

	// Guards request ids, response waiters, pending submits and the
	// job mailbox.
	mu             sync.Mutex
	nextID         uint64
	waiters        map[uint64]chan *Message
	pendingSubmits map[uint64]pendingSubmit

	// One-slot mailbox: only the newest unconsumed job is kept.
	pendingJob *JobNotification
	jobSignal  chan struct{}

	difficulty uint64
	subscribed *SubscribeResult

	connected  bool
	discReason string
	listenerWG sync.WaitGroup

	// Reject log rate limiting.
	lastRejectLog time.Time
	rejectsHeld   int
}

type pendingSubmit struct {
	jobID string
	nonce string
	sent  time.Time
}

// NewClient creates a client for one pool endpoint. workerID is the
// pool-side miner identity sent with every share.
func NewClient(addr, workerID string, logger *log.Logger, st *stats.SessionStats) *Client {
	return &Client{
		addr:           addr,
		workerID:       workerID,
		logger:         logger.WithComponent("stratum"),
		stats:          st,
		waiters:        make(map[uint64]chan *Message),
		pendingSubmits: make(map[uint64]pendingSubmit),
		jobSignal:      make(chan struct{}, 1),
	}
}

// Connect dials the pool and starts the listener goroutine.
func (c *Client) Connect(ctx context.Context) error {
	d := net.Dialer{Timeout: dialTimeout}
	conn, err := d.DialContext(ctx, "tcp", c.addr)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeConnection, "connect",
			"failed to dial pool").WithContext("addr", c.addr)
	}

	c.mu.Lock()
	c.conn = conn
	c.connected = true
	c.discReason = ""
	c.mu.Unlock()

	c.logger.LogConnection("connected", c.addr)

	c.listenerWG.Add(1)
	go c.readLoop()

	return nil
}

// Subscribe performs mining.subscribe and returns the parsed result.
func (c *Client) Subscribe(ctx context.Context, userAgent string) (*SubscribeResult, error) {
	resp, err := c.call(ctx, MethodSubscribe, []any{userAgent})
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeProtocol, "subscribe",
			"subscribe failed")
	}
	if resp.Error != nil {
		return nil, errors.New(errors.ErrorTypeProtocol, "subscribe",
			resp.Error.Message).WithContext("code", resp.Error.Code)
	}

	res := ParseSubscribeResult(resp.Result)
	c.mu.Lock()
	c.subscribed = res
	c.mu.Unlock()
	return res, nil
}

// Subscription returns the extranonce assignment from the subscribe
// handshake, or nil before Subscribe completes.
func (c *Client) Subscription() *SubscribeResult {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.subscribed
}

// Authorize performs mining.authorize with the wallet.worker login.
func (c *Client) Authorize(ctx context.Context, wallet, worker, algorithm string) error {
	login := wallet
	if worker != "" {
		login = wallet + "." + worker
	}

	resp, err := c.call(ctx, MethodAuthorize, []any{login, algorithm})
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeProtocol, "authorize",
			"authorize failed")
	}
	if resp.Error != nil {
		return errors.New(errors.ErrorTypeProtocol, "authorize",
			resp.Error.Message).WithContext("code", resp.Error.Code)
	}
	return nil
}

// SubmitShare sends a found share. Fire and forget: the accept or
// reject lands asynchronously in the session counters when the pool
// responds to the tracked request id.
func (c *Client) SubmitShare(jobID string, nonce uint32, digest [32]byte) error {
	nonceHex := FormatNonce(nonce)

	c.mu.Lock()
	c.nextID++
	id := c.nextID
	c.pendingSubmits[id] = pendingSubmit{jobID: jobID, nonce: nonceHex, sent: time.Now()}
	c.mu.Unlock()

	msg := NewRequest(id, MethodSubmit, SubmitParams{
		ID:     c.workerID,
		JobID:  jobID,
		Nonce:  nonceHex,
		Result: FormatDigest(digest),
	})

	if err := c.send(msg); err != nil {
		c.mu.Lock()
		delete(c.pendingSubmits, id)
		c.mu.Unlock()
		return errors.Wrap(err, errors.ErrorTypeSubmit, "submit_share",
			"failed to send share").WithContext("job_id", jobID)
	}

	c.stats.ShareSent()
	return nil
}

// NextJob pops the newest unconsumed job, or nil when none is pending.
func (c *Client) NextJob() *JobNotification {
	c.mu.Lock()
	defer c.mu.Unlock()

	job := c.pendingJob
	c.pendingJob = nil
	return job
}

// WaitForJob blocks until a job is pending or the timeout elapses.
func (c *Client) WaitForJob(ctx context.Context, timeout time.Duration) *JobNotification {
	if job := c.NextJob(); job != nil {
		return job
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		select {
		case <-c.jobSignal:
			if job := c.NextJob(); job != nil {
				return job
			}
		case <-timer.C:
			return nil
		case <-ctx.Done():
			return nil
		}
	}
}

// Connected reports whether the socket is still up.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// DisconnectReason returns why the listener exited, if it has.
func (c *Client) DisconnectReason() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.discReason
}

// Difficulty returns the last difficulty pushed by the pool.
func (c *Client) Difficulty() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.difficulty
}

// Close shuts the socket and waits for the listener to exit.
func (c *Client) Close() error {
	c.mu.Lock()
	conn := c.conn
	c.connected = false
	if c.discReason == "" {
		c.discReason = "closed by client"
	}
	c.mu.Unlock()

	var err error
	if conn != nil {
		err = conn.Close()
	}
	c.listenerWG.Wait()
	return err
}

// call sends a request and waits for its response.
func (c *Client) call(ctx context.Context, method string, params any) (*Message, error) {
	c.mu.Lock()
	if !c.connected {
		c.mu.Unlock()
		return nil, errors.New(errors.ErrorTypeConnection, method, "not connected")
	}
	c.nextID++
	id := c.nextID
	ch := make(chan *Message, 1)
	c.waiters[id] = ch
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.waiters, id)
		c.mu.Unlock()
	}()

	if err := c.send(NewRequest(id, method, params)); err != nil {
		return nil, err
	}

	timer := time.NewTimer(responseTimeout)
	defer timer.Stop()

	select {
	case resp := <-ch:
		if resp == nil {
			return nil, errors.New(errors.ErrorTypeConnection, method,
				"connection lost while waiting for response")
		}
		return resp, nil
	case <-timer.C:
		return nil, errors.New(errors.ErrorTypeTimeout, method,
			"no response from pool").WithContext("timeout", responseTimeout.String())
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// send marshals and writes one line under the send lock.
func (c *Client) send(msg *Message) error {
	data, err := MarshalMessage(msg)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeInternal, "send", "marshal failed")
	}

	c.mu.Lock()
	conn := c.conn
	connected := c.connected
	c.mu.Unlock()

	if !connected || conn == nil {
		return errors.New(errors.ErrorTypeConnection, "send", "not connected")
	}

	c.logger.LogStratumMessage("out", string(data))

	c.sendMu.Lock()
	defer c.sendMu.Unlock()

	_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if _, err := conn.Write(append(data, '\n')); err != nil {
		return errors.Wrap(err, errors.ErrorTypeConnection, "send", "write failed")
	}
	return nil
}

// readLoop consumes newline-delimited JSON until the socket dies.
// Malformed lines are dropped; a read error or EOF marks the client
// disconnected and wakes all response waiters.
func (c *Client) readLoop() {
	defer c.listenerWG.Done()

	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 64*1024), maxLineSize)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		c.logger.LogStratumMessage("in", string(line))

		msg, err := ParseMessage(line)
		if err != nil {
			c.logger.WithError(err).Warn("dropping malformed line")
			continue
		}

		c.dispatch(msg)
	}

	reason := "connection closed by pool"
	if err := scanner.Err(); err != nil {
		reason = err.Error()
	}
	c.markDisconnected(reason)
}

func (c *Client) dispatch(msg *Message) {
	switch {
	case msg.IsNotification():
		c.handleNotification(msg)
	case msg.IsResponse():
		c.handleResponse(msg)
	}
}

func (c *Client) handleNotification(msg *Message) {
	switch msg.Method {
	case MethodNotify:
		job, err := ParseJobNotification(msg.Params)
		if err != nil {
			c.logger.WithError(err).Warn("dropping bad job notification")
			return
		}
		c.installJob(job)

	case MethodSetDifficulty:
		if arr, ok := msg.Params.([]any); ok && len(arr) > 0 {
			if d, ok := arr[0].(float64); ok {
				c.mu.Lock()
				c.difficulty = uint64(d)
				c.mu.Unlock()
				c.logger.Info("difficulty updated", "difficulty", uint64(d))
			}
		}

	case MethodBlockFound:
		c.logger.Info("pool reports block found")

	default:
		c.logger.Debug("unhandled notification", "method", msg.Method)
	}
}

// installJob places a job in the one-slot mailbox. A newer job always
// replaces an unconsumed older one; clean_jobs additionally signals the
// pool invalidated earlier work.
func (c *Client) installJob(job *JobNotification) {
	c.mu.Lock()
	dropped := c.pendingJob
	c.pendingJob = job
	if job.Difficulty > 0 {
		c.difficulty = job.Difficulty
	}
	c.mu.Unlock()

	if dropped != nil {
		c.logger.Debug("superseding unconsumed job",
			"dropped", dropped.JobID, "new", job.JobID)
	}

	select {
	case c.jobSignal <- struct{}{}:
	default:
	}
}

func (c *Client) handleResponse(msg *Message) {
	id, ok := msg.ResponseID()
	if !ok {
		c.logger.Debug("response with non-numeric id dropped")
		return
	}

	c.mu.Lock()
	if ch, waiting := c.waiters[id]; waiting {
		delete(c.waiters, id)
		c.mu.Unlock()
		ch <- msg
		return
	}
	sub, isSubmit := c.pendingSubmits[id]
	if isSubmit {
		delete(c.pendingSubmits, id)
	}
	c.mu.Unlock()

	if !isSubmit {
		c.logger.Debug("response for unknown request id", "id", id)
		return
	}

	c.resolveSubmit(sub, msg)
}

func (c *Client) resolveSubmit(sub pendingSubmit, msg *Message) {
	if msg.Accepted() {
		accepted := c.stats.ShareAccepted()
		// Log the first accept, then every tenth.
		if accepted == 1 || accepted%acceptLogEvery == 0 {
			c.logger.LogShareResult("accepted",
				accepted, c.stats.Rejected(), c.stats.Sent())
		}
		return
	}

	reason := "unknown"
	if msg.Error != nil {
		reason = msg.Error.Message
	}
	rejected := c.stats.ShareRejected(reason)

	c.mu.Lock()
	now := time.Now()
	if now.Sub(c.lastRejectLog) < rejectLogInterval {
		c.rejectsHeld++
		c.mu.Unlock()
		return
	}
	held := c.rejectsHeld
	c.rejectsHeld = 0
	c.lastRejectLog = now
	c.mu.Unlock()

	logger := c.logger.WithFields("reason", reason, "job_id", sub.jobID, "nonce", sub.nonce)
	if held > 0 {
		logger = logger.WithFields("suppressed", held)
	}
	logger.Warn("share rejected",
		"rejected", rejected, "accepted", c.stats.Accepted())
}

// markDisconnected flips the connected flag once and fails every
// in-flight response waiter.
func (c *Client) markDisconnected(reason string) {
	c.mu.Lock()
	wasConnected := c.connected
	c.connected = false
	if c.discReason == "" {
		c.discReason = reason
	}
	waiters := c.waiters
	c.waiters = make(map[uint64]chan *Message)
	c.mu.Unlock()

	for _, ch := range waiters {
		select {
		case ch <- nil:
		default:
		}
	}

	if wasConnected {
		c.logger.LogConnection("disconnected", c.addr)
	}
}
