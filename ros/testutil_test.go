package ros

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
)

// masterSuccessXML is a canned XML-RPC methodResponse carrying the standard
// ROS [1, "Success", []] 3-tuple, used to stub out Master API calls in
// publisher/subscriber/service unit tests.
const masterSuccessXML = `<?xml version="1.0"?><methodResponse><params><param><value><array><data>` +
	`<value><int>1</int></value><value><string>Success</string></value><value><array><data></data></array></value>` +
	`</data></array></value></param></params></methodResponse>`

// recordingLogger is a Logger that captures error-level lines so tests can
// assert a failure was actually logged, not just survived.
type recordingLogger struct {
	mu     sync.Mutex
	errors []string
}

func (l *recordingLogger) record(format string, v ...interface{}) {
	l.mu.Lock()
	l.errors = append(l.errors, fmt.Sprintf(format, v...))
	l.mu.Unlock()
}

func (l *recordingLogger) containsError(substr string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, e := range l.errors {
		if strings.Contains(e, substr) {
			return true
		}
	}
	return false
}

func (l *recordingLogger) lastError() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.errors) == 0 {
		return ""
	}
	return l.errors[len(l.errors)-1]
}

func (l *recordingLogger) Debug(v ...interface{})                 {}
func (l *recordingLogger) Debugf(format string, v ...interface{}) {}
func (l *recordingLogger) Info(v ...interface{})                  {}
func (l *recordingLogger) Infof(format string, v ...interface{})  {}
func (l *recordingLogger) Warn(v ...interface{})                  {}
func (l *recordingLogger) Warnf(format string, v ...interface{})  {}
func (l *recordingLogger) Error(v ...interface{})                 { l.record("%v", v) }
func (l *recordingLogger) Errorf(format string, v ...interface{}) { l.record(format, v...) }
func (l *recordingLogger) Fatal(v ...interface{})                 { l.record("%v", v) }
func (l *recordingLogger) Fatalf(format string, v ...interface{}) { l.record(format, v...) }

// newStubMaster starts an in-process Master API stand-in that reports
// success for every call, so publisher/subscriber/service unit tests can
// exercise register/unregister without a real roscore.
func newStubMaster(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/xml")
		w.Write([]byte(masterSuccessXML))
	}))
	t.Cleanup(srv.Close)
	return srv
}

// newTestNode builds a *defaultNode with just enough wiring for
// publisher/subscriber/service unit tests: no real XML-RPC or TCPROS
// listener of its own, a stub Master, and an empty peer pool.
func newTestNode(t *testing.T, masterURL string) *defaultNode {
	t.Helper()
	logger := NewDefaultLogger()
	node := &defaultNode{
		name:          "tester",
		namespace:     "/",
		qualifiedName: "/tester",
		masterURI:     masterURL,
		xmlrpcURI:     "http://127.0.0.1:0/",
		hostname:      "127.0.0.1",
		tcprosPort:    "0",
		master:        newMasterAPIClient(masterURL, "/tester"),
		peers:         newPeerClientPool(),
		spinner:       newSpinner(0, logger),
		subscribers:   make(map[string]*defaultSubscriber),
		publishers:    make(map[string]*defaultPublisher),
		servers:       make(map[string]*defaultServiceServer),
		logger:        logger,
		nameResolver:  newNameResolver("/", "tester", NameMap{}),
	}
	node.ok = true
	t.Cleanup(node.master.close)
	return node
}
