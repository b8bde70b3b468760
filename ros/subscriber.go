package ros

import (
	"context"
	"net"
	"reflect"
	"strconv"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// subscriberConnection is one open TCPROS socket to a publisher.
type subscriberConnection struct {
	pubURI     string
	peerID     string
	conn       net.Conn
	cancel     context.CancelFunc
	connHeader map[string]string
}

// subscriberDelivery bundles a decoded message with the MessageEvent handed
// to two-argument callbacks.
type subscriberDelivery struct {
	msg   Message
	event MessageEvent
}

// defaultSubscriber implements Subscriber. It keeps one
// subscriberConnection per connected publisher and reconciles that set
// against whatever publisherUpdate/registerSubscriber last reported.
type defaultSubscriber struct {
	logger    Logger
	node      *defaultNode
	topic     string
	msgType   MessageType
	spinnerID string

	queueSize  int
	throttle   time.Duration
	tcpNoDelay bool

	mu          sync.Mutex
	callbacks   []interface{}
	connections map[string]*subscriberConnection
	enabled     bool
	down        bool
}

func newDefaultSubscriber(node *defaultNode, topic string, msgType MessageType, callback interface{}, opts ...SubscriberOption) *defaultSubscriber {
	s := &defaultSubscriber{
		logger:      withFields(node.logger, logrus.Fields{"topic": topic}),
		node:        node,
		topic:       topic,
		msgType:     msgType,
		spinnerID:   subscriberSpinnerID(topic),
		queueSize:   1,
		enabled:     true,
		connections: make(map[string]*subscriberConnection),
	}
	if callback != nil {
		s.callbacks = append(s.callbacks, callback)
	}
	for _, opt := range opts {
		opt(s)
	}
	node.spinner.addClient(s.spinnerID, s.queueSize, s.throttle, s.dispatch)
	return s
}

func (s *defaultSubscriber) addCallback(cb interface{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.callbacks = append(s.callbacks, cb)
}

func (s *defaultSubscriber) GetNumPublishers() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.connections)
}

// Enable toggles whether dispatch() actually invokes the registered
// callbacks; readers keep draining the wire regardless so a disabled
// subscriber doesn't stall its publishers.
func (s *defaultSubscriber) Enable(enabled bool) {
	s.mu.Lock()
	s.enabled = enabled
	s.mu.Unlock()
}

func (s *defaultSubscriber) Shutdown() {
	s.mu.Lock()
	if s.down {
		s.mu.Unlock()
		return
	}
	s.down = true
	conns := s.connections
	s.connections = make(map[string]*subscriberConnection)
	s.mu.Unlock()

	for _, c := range conns {
		c.cancel()
		c.conn.Close()
	}
	s.node.spinner.disconnect(s.spinnerID)
	if err := s.node.master.unregisterSubscriber(s.topic, s.node.xmlrpcURI); err != nil {
		s.logger.Warnf("unregisterSubscriber failed: %v", err)
	}
}

// updatePublisherList reconciles the connection set against the URIs the
// Master (registerSubscriber) or a publisherUpdate call most recently
// reported: URIs with no open connection are dialed, connections whose URI
// fell out of the set are torn down.
func (s *defaultSubscriber) updatePublisherList(uris []string) {
	wanted := make(map[string]bool, len(uris))
	for _, u := range uris {
		wanted[u] = true
	}

	s.mu.Lock()
	if s.down {
		s.mu.Unlock()
		return
	}
	var toRemove []*subscriberConnection
	for uri, c := range s.connections {
		if !wanted[uri] {
			toRemove = append(toRemove, c)
			delete(s.connections, uri)
		}
	}
	var toAdd []string
	for uri := range wanted {
		if _, ok := s.connections[uri]; !ok {
			toAdd = append(toAdd, uri)
		}
	}
	s.mu.Unlock()

	for _, c := range toRemove {
		c.cancel()
		c.conn.Close()
	}
	for _, uri := range toAdd {
		go s.connectToPublisher(uri)
	}
}

// connectToPublisher performs the Slave-API requestTopic round trip, then
// the TCPROS header handshake, then runs the read loop until the
// connection fails or is superseded.
func (s *defaultSubscriber) connectToPublisher(uri string) {
	host, port, err := s.requestTopic(uri)
	if err != nil {
		s.logger.Warnf("requestTopic(%s, %s) failed: %v", uri, s.topic, err)
		return
	}

	conn, err := net.DialTimeout("tcp", net.JoinHostPort(host, port), 10*time.Second)
	if err != nil {
		s.logger.Warnf("dial publisher %s at %s:%s failed: %v", uri, host, port, err)
		return
	}

	if s.tcpNoDelay {
		if tc, ok := conn.(*net.TCPConn); ok {
			tc.SetNoDelay(true)
		}
	}

	reqHeaders := []header{
		{"callerid", s.node.qualifiedName},
		{"topic", s.topic},
		{"md5sum", s.msgType.MD5Sum()},
		{"type", s.msgType.Name()},
	}
	if s.tcpNoDelay {
		reqHeaders = append(reqHeaders, header{"tcp_nodelay", "1"})
	}
	if err := writeConnectionHeader(reqHeaders, conn); err != nil {
		s.logger.Warnf("writing connection header to %s failed: %v", uri, err)
		conn.Close()
		return
	}
	respHeaders, err := readConnectionHeader(conn)
	if err != nil {
		s.logger.Warnf("reading connection header from %s failed: %v", uri, err)
		conn.Close()
		return
	}
	resp := headerMap(respHeaders)
	if errMsg, ok := resp["error"]; ok {
		s.logger.Warnf("publisher %s refused connection: %s", uri, errMsg)
		conn.Close()
		return
	}
	if t, ok := resp["type"]; ok && !typeMatches(t, s.msgType.Name()) {
		s.logger.Warnf("publisher %s: %v: %s", uri, ErrIncompatibleType, t)
		conn.Close()
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &subscriberConnection{pubURI: uri, peerID: conn.RemoteAddr().String(), conn: conn, cancel: cancel, connHeader: resp}

	s.mu.Lock()
	if s.down {
		s.mu.Unlock()
		cancel()
		conn.Close()
		return
	}
	s.connections[uri] = c
	s.mu.Unlock()

	s.runConnection(ctx, c)
}

// requestTopic calls the publisher node's Slave API to learn which ephemeral
// port its shared TCPROS acceptor listens on.
func (s *defaultSubscriber) requestTopic(uri string) (host, port string, err error) {
	client := s.node.peers.get(uri)
	protocols := []interface{}{[]interface{}{"TCPROS"}}
	v, err := client.Call("requestTopic", s.node.qualifiedName, s.topic, protocols)
	if err != nil {
		return "", "", err
	}
	proto, ok := v.([]interface{})
	if !ok || len(proto) < 3 {
		return "", "", errors.Errorf("requestTopic: unexpected response %#v", v)
	}
	h, ok := proto[1].(string)
	if !ok {
		return "", "", errors.Errorf("requestTopic: unexpected host %#v", proto[1])
	}
	switch p := proto[2].(type) {
	case int32:
		return h, strconv.Itoa(int(p)), nil
	case int:
		return h, strconv.Itoa(p), nil
	default:
		return "", "", errors.Errorf("requestTopic: unexpected port %#v", proto[2])
	}
}

// runConnection reads one frame at a time off the wire and feeds every
// successful read through the spinner (or straight to dispatch when
// throttle < 0), until the stream ends or is canceled.
func (s *defaultSubscriber) runConnection(ctx context.Context, c *subscriberConnection) {
	defer s.removeConnection(c)
	for {
		resultChan := make(chan TCPRosReadResult, 1)
		go readTCPRosMessage(ctx, c.conn, resultChan)
		select {
		case res := <-resultChan:
			if res.Err != nil {
				s.logger.Debugf("subscriber connection to %s ended: %v (%v)", c.pubURI, res.Err, errorToReadResult(res.Err))
				return
			}
			s.deliver(c, res.Buf)
		case <-ctx.Done():
			return
		}
	}
}

func (s *defaultSubscriber) deliver(c *subscriberConnection, buf []byte) {
	msg := s.msgType.NewMessage()
	if err := msg.Deserialize(NewReader(buf)); err != nil {
		s.logger.Errorf("failed to deserialize message on %s: %v", s.topic, err)
		return
	}
	delivery := subscriberDelivery{
		msg: msg,
		event: MessageEvent{
			PublisherName:    c.pubURI,
			ReceiptTime:      time.Now(),
			ConnectionHeader: c.connHeader,
		},
	}
	if s.throttle < 0 {
		s.dispatch([]interface{}{delivery})
		return
	}
	s.node.spinner.ping(s.spinnerID, delivery)
}

func (s *defaultSubscriber) removeConnection(c *subscriberConnection) {
	s.mu.Lock()
	if existing, ok := s.connections[c.pubURI]; ok && existing == c {
		delete(s.connections, c.pubURI)
	}
	s.mu.Unlock()
	c.conn.Close()
}

// dispatch is the spinner handler (or, with throttle<0, is called directly):
// it invokes every registered callback in order for every queued delivery.
func (s *defaultSubscriber) dispatch(batch []interface{}) {
	s.mu.Lock()
	enabled := s.enabled
	callbacks := make([]interface{}, len(s.callbacks))
	copy(callbacks, s.callbacks)
	s.mu.Unlock()
	if !enabled {
		return
	}
	for _, item := range batch {
		delivery, ok := item.(subscriberDelivery)
		if !ok {
			continue
		}
		for _, cb := range callbacks {
			s.invokeRecovering(cb, delivery)
		}
	}
}

// invokeRecovering isolates one callback invocation: a panicking callback
// is logged and skipped, so later messages on the stream (and the reader
// goroutine feeding them) are unaffected whether dispatch runs inline or
// on the spinner.
func (s *defaultSubscriber) invokeRecovering(cb interface{}, delivery subscriberDelivery) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Errorf("subscriber callback panicked on %s: %v", s.topic, r)
		}
	}()
	invokeSubscriberCallback(cb, delivery)
}

// invokeSubscriberCallback calls cb with 0, 1, or 2 arguments depending on
// its declared arity, matching the generated-code convention documented on
// Node.NewSubscriber.
func invokeSubscriberCallback(cb interface{}, delivery subscriberDelivery) {
	fn := reflect.ValueOf(cb)
	numIn := fn.Type().NumIn()
	args := []reflect.Value{reflect.ValueOf(delivery.msg), reflect.ValueOf(delivery.event)}
	if numIn > len(args) {
		numIn = len(args)
	}
	fn.Call(args[0:numIn])
}
