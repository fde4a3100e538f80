// live.go implements the live broker gateway client: a REST command path
// and a WebSocket event feed.
//
// Command methods never block the engine thread: they encode the request,
// enqueue it, and return. A sender goroutine drains the queue through the
// per-category rate limiter. Transport failures surface asynchronously as
// error logs; broker-level refusals come back as OrderRejected or
// OrderCancelReject events on the feed like any other event.
package exchange

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"

	"tradecore/internal/engine"
)

const commandQueueSize = 1024

// outbound is one REST command waiting for the sender goroutine.
type outbound struct {
	method string
	path   string
	bucket *TokenBucket
	body   any
}

// LiveClient is the production ExecutionClient. It speaks the gateway's
// REST API for commands and ingests events from the gateway's WebSocket
// feed into the engine.
type LiveClient struct {
	http   *resty.Client
	auth   *Auth
	rl     *RateLimiter
	engine *engine.Engine
	logger *slog.Logger

	wsURL string
	feed  *Feed

	mu     sync.Mutex
	cmdCh  chan outbound
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewLiveClient creates a live client against the given REST and WebSocket
// endpoints.
func NewLiveClient(restURL, wsURL string, auth *Auth, eng *engine.Engine, logger *slog.Logger) *LiveClient {
	httpClient := resty.New().
		SetBaseURL(restURL).
		SetTimeout(10 * time.Second).
		SetRetryCount(3).
		SetRetryWaitTime(500 * time.Millisecond).
		SetRetryMaxWaitTime(5 * time.Second).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			if err != nil {
				return true
			}
			return r.StatusCode() >= 500
		}).
		SetHeader("Content-Type", "application/json")

	return &LiveClient{
		http:   httpClient,
		auth:   auth,
		rl:     NewRateLimiter(),
		engine: eng,
		logger: logger.With("component", "exec_client"),
		wsURL:  wsURL,
	}
}

// Connect starts the sender goroutine and the event feed.
func (c *LiveClient) Connect() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancel != nil {
		return fmt.Errorf("connect: already connected")
	}

	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	c.cmdCh = make(chan outbound, commandQueueSize)
	c.feed = NewFeed(c.wsURL, c.auth, c.engine.OnEvent, c.logger)

	c.wg.Add(2)
	go func() {
		defer c.wg.Done()
		c.senderLoop(ctx, c.cmdCh)
	}()
	go func() {
		defer c.wg.Done()
		if err := c.feed.Run(ctx); err != nil && ctx.Err() == nil {
			c.logger.Error("event feed stopped", "error", err)
		}
	}()

	c.logger.Info("connected", "ws_url", c.wsURL)
	return nil
}

// Disconnect stops the sender and the feed, dropping any queued commands.
func (c *LiveClient) Disconnect() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancel == nil {
		return nil
	}
	c.cancel()
	c.cancel = nil
	c.wg.Wait()
	c.logger.Info("disconnected")
	return nil
}

// Dispose releases the client. It must not be reused afterwards.
func (c *LiveClient) Dispose() {
	_ = c.Disconnect()
}

// Reset drops any queued commands without disconnecting.
func (c *LiveClient) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cmdCh == nil {
		return
	}
	for {
		select {
		case <-c.cmdCh:
		default:
			return
		}
	}
}

// AccountInquiry requests a fresh account state snapshot.
func (c *LiveClient) AccountInquiry(cmd *engine.AccountInquiry) error {
	return c.enqueue(outbound{method: http.MethodGet, path: "/account", bucket: c.rl.Account})
}

// SubmitOrder sends a single order.
func (c *LiveClient) SubmitOrder(cmd *engine.SubmitOrder) error {
	o := cmd.Order
	body := encodeOrder(o.ID, o.Symbol, o.Label, o.Side, o.Type, o.Quantity, o.Price, o.TimeInForce, o.ExpireTime)
	return c.enqueue(outbound{method: http.MethodPost, path: "/orders", bucket: c.rl.Order, body: body})
}

// SubmitAtomicOrder sends an atomic order as one payload so the gateway
// can stage the children.
func (c *LiveClient) SubmitAtomicOrder(cmd *engine.SubmitAtomicOrder) error {
	a := cmd.AtomicOrder
	body := wireAtomicOrder{
		Entry:    encodeOrder(a.Entry.ID, a.Entry.Symbol, a.Entry.Label, a.Entry.Side, a.Entry.Type, a.Entry.Quantity, a.Entry.Price, a.Entry.TimeInForce, a.Entry.ExpireTime),
		StopLoss: encodeOrder(a.StopLoss.ID, a.StopLoss.Symbol, a.StopLoss.Label, a.StopLoss.Side, a.StopLoss.Type, a.StopLoss.Quantity, a.StopLoss.Price, a.StopLoss.TimeInForce, a.StopLoss.ExpireTime),
	}
	if a.HasTakeProfit() {
		tp := encodeOrder(a.TakeProfit.ID, a.TakeProfit.Symbol, a.TakeProfit.Label, a.TakeProfit.Side, a.TakeProfit.Type, a.TakeProfit.Quantity, a.TakeProfit.Price, a.TakeProfit.TimeInForce, a.TakeProfit.ExpireTime)
		body.TakeProfit = &tp
	}
	return c.enqueue(outbound{method: http.MethodPost, path: "/orders/atomic", bucket: c.rl.Order, body: body})
}

// ModifyOrder amends a working order.
func (c *LiveClient) ModifyOrder(cmd *engine.ModifyOrder) error {
	body := wireModify{Quantity: int64(cmd.ModifiedQuantity), Price: cmd.ModifiedPrice.String()}
	return c.enqueue(outbound{
		method: http.MethodPut,
		path:   "/orders/" + string(cmd.OrderID),
		bucket: c.rl.Cancel,
		body:   body,
	})
}

// CancelOrder cancels a working order.
func (c *LiveClient) CancelOrder(cmd *engine.CancelOrder) error {
	return c.enqueue(outbound{
		method: http.MethodDelete,
		path:   "/orders/" + string(cmd.OrderID),
		bucket: c.rl.Cancel,
	})
}

func (c *LiveClient) enqueue(o outbound) error {
	c.mu.Lock()
	ch := c.cmdCh
	c.mu.Unlock()
	if ch == nil {
		return fmt.Errorf("%s %s: client not connected", o.method, o.path)
	}
	select {
	case ch <- o:
		return nil
	default:
		return fmt.Errorf("%s %s: command queue full", o.method, o.path)
	}
}

func (c *LiveClient) senderLoop(ctx context.Context, ch chan outbound) {
	for {
		select {
		case <-ctx.Done():
			return
		case o := <-ch:
			if err := c.send(ctx, o); err != nil {
				c.logger.Error("command send failed", "method", o.method, "path", o.path, "error", err)
			}
		}
	}
}

func (c *LiveClient) send(ctx context.Context, o outbound) error {
	if err := o.bucket.Wait(ctx); err != nil {
		return err
	}

	req := c.http.R().SetContext(ctx)
	bodyStr := ""
	if o.body != nil {
		data, err := json.Marshal(o.body)
		if err != nil {
			return fmt.Errorf("encode body: %w", err)
		}
		bodyStr = string(data)
		req.SetBody(data)
	}
	headers, err := c.auth.Headers(o.method, o.path, bodyStr)
	if err != nil {
		return err
	}
	req.SetHeaders(headers)

	var result wireCommandResponse
	req.SetResult(&result)

	var resp *resty.Response
	switch o.method {
	case http.MethodGet:
		resp, err = req.Get(o.path)
	case http.MethodPost:
		resp, err = req.Post(o.path)
	case http.MethodPut:
		resp, err = req.Put(o.path)
	case http.MethodDelete:
		resp, err = req.Delete(o.path)
	default:
		return fmt.Errorf("unsupported method %s", o.method)
	}
	if err != nil {
		return err
	}
	if resp.StatusCode() != http.StatusOK {
		return fmt.Errorf("status %d: %s", resp.StatusCode(), resp.String())
	}
	if !result.Success && result.ErrorMsg != "" {
		// The gateway accepted the request but refused the command; the
		// authoritative refusal arrives as an event on the feed.
		c.logger.Warn("command refused by gateway", "path", o.path, "error", result.ErrorMsg)
	}
	return nil
}
