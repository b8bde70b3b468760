package ros

import (
	"errors"
	"sync"

	"github.com/fetchrobotics/rosgo/xmlrpc"
)

// wrapMasterErr converts an xmlrpc.ResponseError from the underlying
// transport into the ros package's own masterAPIError, so callers that
// only import ros (not xmlrpc) can still errors.As for ErrMasterAPI.
func wrapMasterErr(err error) error {
	var respErr *xmlrpc.ResponseError
	if errors.As(err, &respErr) {
		return newMasterAPIError(respErr.StatusCode, respErr.StatusMessage, respErr.Value)
	}
	return err
}

// masterAPIClient is the thin mapping of Master-API methods.
// Every call is routed through the one xmlrpc.Client bound to the node's
// Master URI, so calls execute strictly in submission order.
type masterAPIClient struct {
	callerID string
	client   *xmlrpc.Client
}

func newMasterAPIClient(masterURI, callerID string) *masterAPIClient {
	return &masterAPIClient{callerID: callerID, client: xmlrpc.NewClient(masterURI)}
}

func (m *masterAPIClient) close() {
	m.client.Clear()
}

func (m *masterAPIClient) registerPublisher(topic, msgType, callerAPI string) ([]interface{}, error) {
	v, err := m.client.Call("registerPublisher", m.callerID, topic, msgType, callerAPI)
	return toInterfaceSlice(v), wrapMasterErr(err)
}

func (m *masterAPIClient) unregisterPublisher(topic, callerAPI string) error {
	_, err := m.client.Call("unregisterPublisher", m.callerID, topic, callerAPI)
	return wrapMasterErr(err)
}

func (m *masterAPIClient) registerSubscriber(topic, msgType, callerAPI string) ([]interface{}, error) {
	v, err := m.client.Call("registerSubscriber", m.callerID, topic, msgType, callerAPI)
	return toInterfaceSlice(v), wrapMasterErr(err)
}

func (m *masterAPIClient) unregisterSubscriber(topic, callerAPI string) error {
	_, err := m.client.Call("unregisterSubscriber", m.callerID, topic, callerAPI)
	return wrapMasterErr(err)
}

func (m *masterAPIClient) registerService(service, serviceAPI, callerAPI string) error {
	_, err := m.client.Call("registerService", m.callerID, service, serviceAPI, callerAPI)
	return wrapMasterErr(err)
}

func (m *masterAPIClient) unregisterService(service, serviceAPI string) error {
	_, err := m.client.Call("unregisterService", m.callerID, service, serviceAPI)
	return wrapMasterErr(err)
}

func (m *masterAPIClient) lookupNode(name string) (string, error) {
	v, err := m.client.Call("lookupNode", m.callerID, name)
	if err != nil {
		return "", wrapMasterErr(err)
	}
	s, _ := v.(string)
	return s, nil
}

func (m *masterAPIClient) lookupService(service string) (string, error) {
	v, err := m.client.Call("lookupService", m.callerID, service)
	if err != nil {
		return "", wrapMasterErr(err)
	}
	s, _ := v.(string)
	return s, nil
}

func (m *masterAPIClient) getURI() (string, error) {
	v, err := m.client.Call("getUri", m.callerID)
	if err != nil {
		return "", wrapMasterErr(err)
	}
	s, _ := v.(string)
	return s, nil
}

func (m *masterAPIClient) setParam(key string, value interface{}) error {
	_, err := m.client.Call("setParam", m.callerID, key, value)
	return wrapMasterErr(err)
}

func (m *masterAPIClient) getParam(key string) (interface{}, error) {
	v, err := m.client.Call("getParam", m.callerID, key)
	return v, wrapMasterErr(err)
}

func (m *masterAPIClient) hasParam(key string) (bool, error) {
	v, err := m.client.Call("hasParam", m.callerID, key)
	if err != nil {
		return false, wrapMasterErr(err)
	}
	b, _ := v.(bool)
	return b, nil
}

func (m *masterAPIClient) deleteParam(key string) error {
	_, err := m.client.Call("deleteParam", m.callerID, key)
	return wrapMasterErr(err)
}

func (m *masterAPIClient) searchParam(key string) (string, error) {
	v, err := m.client.Call("searchParam", m.callerID, key)
	if err != nil {
		return "", wrapMasterErr(err)
	}
	s, _ := v.(string)
	return s, nil
}

func toInterfaceSlice(v interface{}) []interface{} {
	s, _ := v.([]interface{})
	return s
}

// peerClientPool hands out one xmlrpc.Client per remote Slave-API URI and
// keeps it around for the node's lifetime, so peer-to-peer calls (e.g.
// requestTopic issued by every subscriber connecting to the same
// publisher node) share the client's one-FIFO-per-endpoint ordering
// guarantee.
type peerClientPool struct {
	mu      sync.Mutex
	clients map[string]*xmlrpc.Client
}

func newPeerClientPool() *peerClientPool {
	return &peerClientPool{clients: make(map[string]*xmlrpc.Client)}
}

func (p *peerClientPool) get(uri string) *xmlrpc.Client {
	p.mu.Lock()
	defer p.mu.Unlock()
	c, ok := p.clients[uri]
	if !ok {
		c = xmlrpc.NewClient(uri)
		p.clients[uri] = c
	}
	return c
}

func (p *peerClientPool) closeAll() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, c := range p.clients {
		c.Clear()
	}
}
