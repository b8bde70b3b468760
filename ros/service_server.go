package ros

import (
	"bytes"
	"context"
	"net"
	"reflect"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// defaultServiceServer implements ServiceServer. Handler is a
// generated-code function of the shape
//
//	func(req *ReqType, res *ResType) bool
//
// returning false on application-level failure (written back as a
// serviceResponseFailure frame whose payload is the error string
// "service handler returned false"; res's content is not sent); a handler that needs to report a transport-level fault should
// panic, which is recovered and reported via serviceResponseFailure with
// the panic value as the error string.
type defaultServiceServer struct {
	logger     Logger
	node       *defaultNode
	service    string
	srvType    ServiceType
	handler    interface{}
	tcpTimeout time.Duration

	mu   sync.Mutex
	down bool
}

func newDefaultServiceServer(node *defaultNode, service string, srvType ServiceType, handler interface{}, opts ...ServiceServerOption) *defaultServiceServer {
	fn := reflect.ValueOf(handler)
	if fn.Kind() != reflect.Func || fn.Type().NumIn() != 2 || fn.Type().NumOut() != 1 {
		node.logger.Errorf("NewServiceServer(%s): handler must be func(req, res) bool", service)
		return nil
	}

	s := &defaultServiceServer{
		logger:     withFields(node.logger, logrus.Fields{"service": service}),
		node:       node,
		service:    service,
		srvType:    srvType,
		handler:    handler,
		tcpTimeout: 10 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(s)
	}

	if err := node.master.registerService(service, node.serviceURI(), node.xmlrpcURI); err != nil {
		s.logger.Errorf("registerService failed: %v", err)
	}
	return s
}

func (s *defaultServiceServer) Shutdown() {
	s.mu.Lock()
	if s.down {
		s.mu.Unlock()
		return
	}
	s.down = true
	s.mu.Unlock()

	if err := s.node.master.unregisterService(s.service, s.node.serviceURI()); err != nil {
		s.logger.Warnf("unregisterService failed: %v", err)
	}
}

// acceptClient validates a service client's connection header and, on
// success, processes one request and closes the socket. When the client's
// header carries persistent=1, it instead keeps serving requests on the
// same socket until a request read fails or the client disconnects.
func (s *defaultServiceServer) acceptClient(conn net.Conn, headers map[string]string) {
	if headers["md5sum"] != "" && !typeMatches(headers["md5sum"], s.srvType.MD5Sum()) {
		writeHandshakeError(conn, errors.Wrap(ErrIncompatibleType, headers["md5sum"]).Error())
		conn.Close()
		return
	}

	if s.tcpTimeout > 0 {
		conn.SetWriteDeadline(time.Now().Add(s.tcpTimeout))
	}
	respHeaders := []header{
		{"callerid", s.node.qualifiedName},
		{"md5sum", s.srvType.MD5Sum()},
		{"type", s.srvType.Name()},
	}
	if err := writeConnectionHeader(respHeaders, conn); err != nil {
		s.logger.Warnf("failed to write response header: %v", err)
		conn.Close()
		return
	}
	conn.SetWriteDeadline(time.Time{})

	persistent := headers["persistent"] == "1"
	defer conn.Close()
	for {
		if !s.handleOneRequest(conn) {
			return
		}
		if !persistent {
			return
		}
	}
}

// handleOneRequest reads one request frame, invokes the handler, and
// writes one response frame. It returns false when the connection should
// be closed (read failure or EOF).
func (s *defaultServiceServer) handleOneRequest(conn net.Conn) bool {
	resultChan := make(chan TCPRosReadResult, 1)
	go readTCPRosMessage(context.Background(), conn, resultChan)
	res := <-resultChan
	if res.Err != nil {
		return false
	}

	srv := s.srvType.NewService()
	if err := srv.ReqMessage().Deserialize(NewReader(res.Buf)); err != nil {
		s.writeFailure(conn, errors.Wrap(err, "deserializing request").Error())
		return true
	}

	ok, errMsg := s.invoke(srv)
	if !ok {
		s.writeFailure(conn, errMsg)
		return true
	}

	var buf bytes.Buffer
	if err := srv.ResMessage().Serialize(&buf); err != nil {
		s.writeFailure(conn, errors.Wrap(err, "serializing response").Error())
		return true
	}
	if err := writeServiceResponse(conn, serviceResponseSuccess, buf.Bytes()); err != nil {
		s.logger.Warnf("writing service response failed: %v", err)
		return false
	}
	return true
}

func (s *defaultServiceServer) writeFailure(conn net.Conn, message string) {
	if err := writeServiceResponse(conn, serviceResponseFailure, []byte(message)); err != nil {
		s.logger.Warnf("writing service failure response failed: %v", err)
	}
}

// invoke reflect-calls the handler, recovering a panic into a failure
// response instead of taking the node down.
func (s *defaultServiceServer) invoke(srv Service) (ok bool, errMsg string) {
	defer func() {
		if r := recover(); r != nil {
			ok = false
			errMsg = errors.Errorf("service handler panicked: %v", r).Error()
		}
	}()
	fn := reflect.ValueOf(s.handler)
	out := fn.Call([]reflect.Value{reflect.ValueOf(srv.ReqMessage()), reflect.ValueOf(srv.ResMessage())})
	return out[0].Bool(), "service handler returned false"
}
