package ros

import (
	"bytes"
	"context"
	"net"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// defaultServiceClient implements ServiceClient. A
// non-persistent client dials, handshakes, sends one request, reads one
// response, and closes the socket on every Call; a persistent client keeps
// its socket open across calls. Every client, persistent or not, guards
// Call with a "calling" flag: a Call made while another is in flight is
// rejected at once with ErrCallInProgress, without opening a socket.
type defaultServiceClient struct {
	logger     Logger
	callerID   string
	masterURI  string
	service    string
	srvType    ServiceType
	tcpTimeout time.Duration
	persistent bool

	mu      sync.Mutex
	conn    net.Conn
	calling bool
	down    bool
}

func newDefaultServiceClient(logger Logger, callerID, masterURI, service string, srvType ServiceType, opts ...ServiceClientOption) *defaultServiceClient {
	c := &defaultServiceClient{
		logger:     withFields(logger, logrus.Fields{"service": service}),
		callerID:   callerID,
		masterURI:  masterURI,
		service:    service,
		srvType:    srvType,
		tcpTimeout: 10 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ServiceClientPersistent keeps the TCPROS connection to the service
// provider open across calls instead of reconnecting every time.
func ServiceClientPersistent() ServiceClientOption {
	return func(c *defaultServiceClient) {
		c.persistent = true
	}
}

func (c *defaultServiceClient) Call(srv Service) error {
	c.mu.Lock()
	if c.down {
		c.mu.Unlock()
		return ErrShutdown
	}
	if c.calling {
		c.mu.Unlock()
		return ErrCallInProgress
	}
	c.calling = true
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		c.calling = false
		c.mu.Unlock()
	}()

	conn, err := c.connection()
	if err != nil {
		return err
	}

	var reqBuf bytes.Buffer
	if err := srv.ReqMessage().Serialize(&reqBuf); err != nil {
		return errors.Wrap(err, "serializing request")
	}
	errChan := make(chan error, 1)
	go writeTCPRosMessage(context.Background(), conn, reqBuf.Bytes(), errChan)
	if err := <-errChan; err != nil {
		c.dropConnection(conn)
		return errors.Wrap(err, "writing request")
	}

	status, payload, err := readServiceResponse(conn)
	if err != nil {
		c.dropConnection(conn)
		return errors.Wrap(err, "reading response")
	}
	if status == serviceResponseFailure {
		c.maybeDropConnection(conn)
		return errors.Errorf("service call failed: %s", string(payload))
	}
	if err := srv.ResMessage().Deserialize(NewReader(payload)); err != nil {
		c.maybeDropConnection(conn)
		return errors.Wrap(err, "deserializing response")
	}
	c.maybeDropConnection(conn)
	return nil
}

// servicePollInterval is how often WaitForService re-polls the Master.
const servicePollInterval = 500 * time.Millisecond

// WaitForService polls lookupService until the Master resolves this
// client's service or timeout elapses; timeout <= 0 waits indefinitely.
func (c *defaultServiceClient) WaitForService(timeout time.Duration) bool {
	var deadline time.Time
	hasDeadline := timeout > 0
	if hasDeadline {
		deadline = time.Now().Add(timeout)
	}
	for {
		c.mu.Lock()
		down := c.down
		c.mu.Unlock()
		if down {
			return false
		}
		if c.serviceResolved() {
			return true
		}
		if hasDeadline && time.Now().After(deadline) {
			return false
		}
		time.Sleep(servicePollInterval)
	}
}

func (c *defaultServiceClient) serviceResolved() bool {
	master := newMasterAPIClient(c.masterURI, c.callerID)
	defer master.close()
	uri, err := master.lookupService(c.service)
	return err == nil && uri != ""
}

func (c *defaultServiceClient) Shutdown() {
	c.mu.Lock()
	c.down = true
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()
	if conn != nil {
		conn.Close()
	}
}

// connection returns the client's persistent connection, dialing and
// handshaking it lazily, or dials a fresh one-shot connection when not
// persistent.
func (c *defaultServiceClient) connection() (net.Conn, error) {
	c.mu.Lock()
	if c.persistent && c.conn != nil {
		conn := c.conn
		c.mu.Unlock()
		return conn, nil
	}
	c.mu.Unlock()

	conn, err := c.dial()
	if err != nil {
		return nil, err
	}
	if c.persistent {
		c.mu.Lock()
		c.conn = conn
		c.mu.Unlock()
	}
	return conn, nil
}

func (c *defaultServiceClient) dial() (net.Conn, error) {
	master := newMasterAPIClient(c.masterURI, c.callerID)
	defer master.close()
	uri, err := master.lookupService(c.service)
	if err != nil || uri == "" {
		return nil, errors.Wrapf(ErrNoSuchService, "%s", c.service)
	}
	host, port, err := parseROSRPCURI(uri)
	if err != nil {
		return nil, err
	}

	conn, err := net.DialTimeout("tcp", net.JoinHostPort(host, port), 10*time.Second)
	if err != nil {
		return nil, errors.Wrap(err, "dialing service provider")
	}

	headers := []header{
		{"callerid", c.callerID},
		{"service", c.service},
		{"md5sum", c.srvType.MD5Sum()},
	}
	if c.persistent {
		headers = append(headers, header{"persistent", "1"})
	}
	if err := writeConnectionHeader(headers, conn); err != nil {
		conn.Close()
		return nil, errors.Wrap(err, "writing connection header")
	}
	respHeaders, err := readConnectionHeader(conn)
	if err != nil {
		conn.Close()
		return nil, errors.Wrap(err, "reading connection header")
	}
	resp := headerMap(respHeaders)
	if errMsg, ok := resp["error"]; ok {
		conn.Close()
		return nil, errors.Errorf("service provider refused connection: %s", errMsg)
	}
	return conn, nil
}

// dropConnection closes conn unconditionally, clearing it from c.conn first
// if it is the client's current persistent connection.
func (c *defaultServiceClient) dropConnection(conn net.Conn) {
	c.mu.Lock()
	if c.conn == conn {
		c.conn = nil
	}
	c.mu.Unlock()
	conn.Close()
}

// maybeDropConnection closes conn after a call unless it is a persistent
// client's connection, which stays open for the next call.
func (c *defaultServiceClient) maybeDropConnection(conn net.Conn) {
	if c.persistent {
		return
	}
	c.dropConnection(conn)
}

// parseROSRPCURI splits a "rosrpc://host:port" service-provider URI.
func parseROSRPCURI(uri string) (host, port string, err error) {
	const prefix = "rosrpc://"
	if len(uri) <= len(prefix) || uri[:len(prefix)] != prefix {
		return "", "", errors.Errorf("malformed rosrpc URI: %s", uri)
	}
	return net.SplitHostPort(uri[len(prefix):])
}
