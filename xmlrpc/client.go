package xmlrpc

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
)

// ResponseError is the error value a Call returns when the remote replied
// with the standard ROS [statusCode, statusMessage, value] 3-tuple and
// statusCode != 1 (success). Callers that need the raw value (e.g. the
// Master API's lookupService returning an empty string on failure) can
// type-assert for it.
type ResponseError struct {
	StatusCode    int32
	StatusMessage string
	Value         interface{}
}

func (e *ResponseError) Error() string {
	return fmt.Sprintf("xmlrpc: status %d: %s", e.StatusCode, e.StatusMessage)
}

// call is one entry in a Client's FIFO.
type call struct {
	id          string
	method      string
	params      []interface{}
	maxAttempts int
	result      chan callResult
}

type callResult struct {
	value interface{}
	err   error
}

// Client is the XML-RPC call surface used for both the Master API and
// peer-to-peer Slave API calls. Each Client owns exactly one
// FIFO for its endpoint: calls run strictly one at a time, in submission
// order, so a caller that cares about ordering just needs one Client per
// remote endpoint.
type Client struct {
	endpoint   string
	httpClient *http.Client
	jobs       chan *call
	ctx        context.Context
	cancel     context.CancelFunc
	closeOnce  sync.Once
}

// NewClient returns a Client bound to one remote XML-RPC endpoint
// (typically a Master URI or a peer's Slave API URI) and starts its
// single-worker dispatch loop.
func NewClient(endpoint string) *Client {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Client{
		endpoint:   endpoint,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		jobs:       make(chan *call, 64),
		ctx:        ctx,
		cancel:     cancel,
	}
	go c.run()
	return c
}

// Call enqueues an XML-RPC call and blocks until it resolves, fails
// terminally, or the client is cleared/closed. A standard 3-tuple
// response with statusCode != 1 is converted to a *ResponseError; the raw
// third element otherwise is the returned value.
func (c *Client) Call(method string, params ...interface{}) (interface{}, error) {
	return c.CallWithAttempts(method, DefaultMaxAttempts, params...)
}

// CallWithAttempts is Call with an explicit retry ceiling for
// connection-refused errors.
func (c *Client) CallWithAttempts(method string, maxAttempts int, params ...interface{}) (interface{}, error) {
	job := &call{
		id:          uuid.NewString(),
		method:      method,
		params:      params,
		maxAttempts: maxAttempts,
		result:      make(chan callResult, 1),
	}
	select {
	case c.jobs <- job:
	case <-c.ctx.Done():
		return nil, errors.New("xmlrpc: client closed")
	}
	select {
	case r := <-job.result:
		return r.value, r.err
	case <-c.ctx.Done():
		return nil, errors.New("xmlrpc: client closed")
	}
}

// Clear rejects the in-flight call (if any) and drops every queued call,
// used at node shutdown.
func (c *Client) Clear() {
	c.closeOnce.Do(func() {
		c.cancel()
	})
}

func (c *Client) run() {
	for {
		select {
		case job := <-c.jobs:
			c.process(job)
		case <-c.ctx.Done():
			c.drain()
			return
		}
	}
}

func (c *Client) drain() {
	for {
		select {
		case job := <-c.jobs:
			job.result <- callResult{err: errors.New("xmlrpc: client closed")}
		default:
			return
		}
	}
}

// process runs one call to completion, including connection-refused
// retries, before the worker loop moves on to the next queued call — this
// is what keeps a refused call at the head of the FIFO instead of
// requeuing it behind calls submitted later.
func (c *Client) process(job *call) {
	attempt := 0
	for {
		value, err := c.doCall(job.method, job.params)
		if err == nil {
			job.result <- callResult{value: value}
			return
		}
		if !isConnRefused(err) {
			job.result <- callResult{err: err}
			return
		}
		attempt++
		if attempt >= job.maxAttempts {
			job.result <- callResult{err: fmt.Errorf("xmlrpc: %s: exhausted %d attempts: %w", job.method, attempt, err)}
			return
		}
		select {
		case <-time.After(backoffDelay(attempt - 1)):
		case <-c.ctx.Done():
			job.result <- callResult{err: errors.New("xmlrpc: client closed")}
			return
		}
	}
}

func (c *Client) doCall(method string, params []interface{}) (interface{}, error) {
	body, err := marshalCall(method, params)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(c.ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "text/xml")
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var buf bytes.Buffer
	if _, err := buf.ReadFrom(resp.Body); err != nil {
		return nil, err
	}
	value, err := unmarshalResponse(buf.Bytes())
	if err != nil {
		return nil, err
	}
	return normalizeROSResponse(value)
}

// normalizeROSResponse converts the standard ROS [statusCode, statusMessage,
// value] response tuple into (value, nil) on success or (nil,
// *ResponseError) otherwise. Non-ROS-shaped responses pass through as-is,
// since a handful of calls don't follow the convention.
func normalizeROSResponse(value interface{}) (interface{}, error) {
	tuple, ok := value.([]interface{})
	if !ok || len(tuple) != 3 {
		return value, nil
	}
	code, ok := tuple[0].(int32)
	if !ok {
		return value, nil
	}
	msg, _ := tuple[1].(string)
	if code == 1 {
		return tuple[2], nil
	}
	return nil, &ResponseError{StatusCode: code, StatusMessage: msg, Value: tuple[2]}
}

func isConnRefused(err error) bool {
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return errors.Is(opErr.Err, syscall.ECONNREFUSED)
	}
	return errors.Is(err, syscall.ECONNREFUSED)
}
