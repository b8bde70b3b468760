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

// sessionQueueSize bounds the per-subscriber fan-out channel so one slow
// reader can't back-pressure every other subscriber; overflow drops the
// oldest queued frame, same ring semantics as the publish-side queue.
const sessionQueueSize = 64

// publisherSession is one connected subscriber socket, keyed by its
// "addr:port" peer id.
type publisherSession struct {
	peerID string
	conn   net.Conn
	out    chan []byte
	done   chan struct{}
}

func newPublisherSession(peerID string, conn net.Conn) *publisherSession {
	return &publisherSession{
		peerID: peerID,
		conn:   conn,
		out:    make(chan []byte, sessionQueueSize),
		done:   make(chan struct{}),
	}
}

func (s *publisherSession) enqueue(buf []byte) {
	select {
	case s.out <- buf:
		return
	default:
	}
	// Overflow: drop the oldest queued frame and retry once.
	select {
	case <-s.out:
	default:
	}
	select {
	case s.out <- buf:
	default:
	}
}

func (s *publisherSession) writeLoop() {
	for {
		select {
		case buf, ok := <-s.out:
			if !ok {
				return
			}
			resultChan := make(chan error, 1)
			go writeTCPRosMessage(context.Background(), s.conn, buf, resultChan)
			if err := <-resultChan; err != nil {
				return
			}
		case <-s.done:
			return
		}
	}
}

func (s *publisherSession) close() {
	select {
	case <-s.done:
	default:
		close(s.done)
	}
	s.conn.Close()
}

// defaultPublisher implements Publisher and SingleSubscriberPublisher
// (through singleSubscriberPublisher).
type defaultPublisher struct {
	logger             Logger
	node               *defaultNode
	topic              string
	msgType            MessageType
	connectCallback    func(SingleSubscriberPublisher)
	disconnectCallback func(SingleSubscriberPublisher)

	latching   bool
	tcpNoDelay bool
	queueSize  int
	throttle   time.Duration

	mu            sync.Mutex
	pending       []Message
	sessions      map[string]*publisherSession
	lastMessage   []byte
	hasLast       bool
	debounceTimer *time.Timer
	lastFlush     time.Time
	down          bool
}

func newDefaultPublisher(node *defaultNode, topic string, msgType MessageType, connectCB, disconnectCB func(SingleSubscriberPublisher), opts ...PublisherOption) *defaultPublisher {
	p := &defaultPublisher{
		logger:             withFields(node.logger, logrus.Fields{"topic": topic}),
		node:               node,
		topic:              topic,
		msgType:            msgType,
		connectCallback:    connectCB,
		disconnectCallback: disconnectCB,
		queueSize:          1,
		throttle:           -1,
		sessions:           make(map[string]*publisherSession),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Publish appends msg to the outbound ring buffer and flushes immediately
// (throttle < 0) or arms a debounce timer.
func (p *defaultPublisher) Publish(msg Message) {
	p.mu.Lock()
	if p.down {
		p.mu.Unlock()
		return
	}
	if len(p.pending) >= p.queueSize {
		p.pending = p.pending[1:]
	}
	p.pending = append(p.pending, msg)

	if p.throttle < 0 {
		p.mu.Unlock()
		p.flush()
		return
	}

	if p.debounceTimer != nil {
		p.mu.Unlock()
		return
	}
	delay := p.throttle - time.Since(p.lastFlush)
	if delay < 0 {
		delay = 0
	}
	p.debounceTimer = time.AfterFunc(delay, p.flush)
	p.mu.Unlock()
}

// flush serializes every currently queued message once and writes the
// resulting buffer to every connected session; on a latching publisher the
// last serialized buffer is retained for future subscribers.
func (p *defaultPublisher) flush() {
	p.mu.Lock()
	batch := p.pending
	p.pending = nil
	p.debounceTimer = nil
	p.lastFlush = time.Now()
	sessions := make([]*publisherSession, 0, len(p.sessions))
	for _, s := range p.sessions {
		sessions = append(sessions, s)
	}
	p.mu.Unlock()

	for _, msg := range batch {
		var buf bytes.Buffer
		if err := msg.Serialize(&buf); err != nil {
			p.logger.Errorf("failed to serialize message: %v", err)
			continue
		}
		payload := buf.Bytes()
		for _, s := range sessions {
			s.enqueue(payload)
		}
		if p.latching {
			p.mu.Lock()
			p.lastMessage = payload
			p.hasLast = true
			p.mu.Unlock()
		}
	}
}

func (p *defaultPublisher) GetNumSubscribers() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.sessions)
}

func (p *defaultPublisher) Shutdown() {
	p.mu.Lock()
	if p.down {
		p.mu.Unlock()
		return
	}
	p.down = true
	if p.debounceTimer != nil {
		p.debounceTimer.Stop()
	}
	sessions := p.sessions
	p.sessions = make(map[string]*publisherSession)
	p.mu.Unlock()

	for _, s := range sessions {
		s.close()
	}
	if err := p.node.master.unregisterPublisher(p.topic, p.node.xmlrpcURI); err != nil {
		p.logger.Warnf("unregisterPublisher failed: %v", err)
	}
}

// acceptSubscriber validates a subscriber's connection header and, on
// success, admits it to the fan-out set.
func (p *defaultPublisher) acceptSubscriber(conn net.Conn, headers map[string]string) {
	if headers["type"] != "" && !typeMatches(headers["type"], p.msgType.Name()) {
		writeHandshakeError(conn, errors.Wrap(ErrIncompatibleType, headers["type"]).Error())
		conn.Close()
		return
	}
	if headers["md5sum"] != "" && !typeMatches(headers["md5sum"], p.msgType.MD5Sum()) {
		writeHandshakeError(conn, errors.Wrap(ErrIncompatibleType, headers["md5sum"]).Error())
		conn.Close()
		return
	}

	respHeaders := []header{
		{"callerid", p.node.qualifiedName},
		{"md5sum", p.msgType.MD5Sum()},
		{"type", p.msgType.Name()},
		{"message_definition", p.msgType.Text()},
	}
	if p.latching {
		respHeaders = append(respHeaders, header{"latching", "1"})
	}
	if err := writeConnectionHeader(respHeaders, conn); err != nil {
		p.logger.Warnf("failed to write response header: %v", err)
		conn.Close()
		return
	}

	if p.tcpNoDelay || headers["tcp_nodelay"] == "1" {
		if tc, ok := conn.(*net.TCPConn); ok {
			tc.SetNoDelay(true)
		}
	}

	peerID := conn.RemoteAddr().String()
	session := newPublisherSession(peerID, conn)

	p.mu.Lock()
	if p.down {
		p.mu.Unlock()
		conn.Close()
		return
	}
	if old, exists := p.sessions[peerID]; exists {
		old.close()
	}
	p.sessions[peerID] = session
	if p.hasLast {
		session.enqueue(p.lastMessage)
	}
	p.mu.Unlock()

	go session.writeLoop()
	go p.detectDisconnect(session)

	if p.connectCallback != nil {
		go p.connectCallback(&singleSubscriberPublisher{pub: p, peerID: peerID})
	}
}

// detectDisconnect blocks on a one-byte read to notice when the
// subscriber closes its half of the (otherwise one-directional) socket.
func (p *defaultPublisher) detectDisconnect(session *publisherSession) {
	buf := make([]byte, 1)
	session.conn.Read(buf)
	p.removeSession(session.peerID)
}

func (p *defaultPublisher) removeSession(peerID string) {
	p.mu.Lock()
	session, ok := p.sessions[peerID]
	if ok {
		delete(p.sessions, peerID)
	}
	p.mu.Unlock()
	if !ok {
		return
	}
	session.close()
	if p.disconnectCallback != nil {
		go p.disconnectCallback(&singleSubscriberPublisher{pub: p, peerID: peerID})
	}
}

// writeHandshakeError writes the TCPROS error frame used by every
// handshake-validating acceptor (publisher, service server): an ordinary
// connection header carrying only an "error" field.
func writeHandshakeError(conn net.Conn, message string) {
	_ = writeConnectionHeader([]header{{"error", message}}, conn)
}

// singleSubscriberPublisher implements SingleSubscriberPublisher, handed to
// connect/disconnect callbacks: it only
// ever touches its one session, never the publisher's full session set.
type singleSubscriberPublisher struct {
	pub    *defaultPublisher
	peerID string
}

func (s *singleSubscriberPublisher) Publish(msg Message) {
	var buf bytes.Buffer
	if err := msg.Serialize(&buf); err != nil {
		s.pub.logger.Errorf("failed to serialize message: %v", err)
		return
	}
	s.pub.mu.Lock()
	session, ok := s.pub.sessions[s.peerID]
	s.pub.mu.Unlock()
	if ok {
		session.enqueue(buf.Bytes())
	}
}

func (s *singleSubscriberPublisher) GetSubscriberName() string { return s.peerID }
func (s *singleSubscriberPublisher) GetTopic() string          { return s.pub.topic }
