package ros

import (
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/fetchrobotics/rosgo/xmlrpc"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"
)

const (
	APIStatusError   = -1
	APIStatusFailure = 0
	APIStatusSuccess = 1
	Remap            = ":="
)

func buildRosAPIResult(code int32, message string, value interface{}) []interface{} {
	return []interface{}{code, message, value}
}

func processArguments(args []string) (NameMap, NameMap, NameMap, []string) {
	mapping := make(NameMap)
	params := make(NameMap)
	specials := make(NameMap)
	rest := make([]string, 0)
	for _, arg := range args {
		components := strings.SplitN(arg, Remap, 2)
		if len(components) == 2 {
			key := components[0]
			value := components[1]
			switch {
			case strings.HasPrefix(key, "__"):
				specials[key] = value
			case strings.HasPrefix(key, "_"):
				params[key[1:]] = value
			default:
				mapping[key] = value
			}
		} else {
			rest = append(rest, arg)
		}
	}
	return mapping, params, specials, rest
}

// defaultNode implements Node. Every publisher, subscriber, and
// service server it owns shares the node's single TCPROS acceptor; incoming
// connections are dispatched by the "topic" or "service" connection-header
// field instead of each object running its own listener.
type defaultNode struct {
	name          string
	namespace     string
	qualifiedName string
	masterURI     string

	xmlrpcURI      string
	xmlrpcListener net.Listener
	xmlrpcHandler  *xmlrpc.Handler

	tcprosListener net.Listener
	tcprosPort     string

	master  *masterAPIClient
	peers   *peerClientPool
	spinner *spinner

	subscribersMutex sync.RWMutex
	subscribers      map[string]*defaultSubscriber
	publishersMutex  sync.RWMutex
	publishers       map[string]*defaultPublisher
	serversMutex     sync.RWMutex
	servers          map[string]*defaultServiceServer

	interruptChan chan os.Signal
	logger        Logger
	ok            bool
	okMutex       sync.RWMutex
	waitGroup     sync.WaitGroup

	logDir       string
	hostname     string
	listenIP     string
	homeDir      string
	nameResolver *nameResolver
	nonRosArgs   []string

	srvClientOpts []ServiceClientOption
	srvServerOpts []ServiceServerOption
	paramsFile    string
}

func newDefaultNode(name string, args []string, opts ...NodeOption) (*defaultNode, error) {
	node := new(defaultNode)
	for _, opt := range opts {
		opt(node)
	}

	namespace, nodeName, err := qualifyNodeName(name)
	if err != nil {
		return nil, err
	}

	remapping, params, specials, rest := processArguments(args)

	node.homeDir = filepath.Join(os.Getenv("HOME"), ".ros")
	if homeDir := os.Getenv("ROS_HOME"); len(homeDir) > 0 {
		node.homeDir = homeDir
	}

	node.name = nodeName
	if value, ok := specials["__name"]; ok {
		node.name = value
	}

	node.namespace = namespace
	if ns := os.Getenv("ROS_NAMESPACE"); len(ns) > 0 {
		node.namespace = ns
	}
	if value, ok := specials["__ns"]; ok {
		node.namespace = value
	}
	node.logDir = filepath.Join(node.homeDir, "log")
	if logDir := os.Getenv("ROS_LOG_DIR"); len(logDir) > 0 {
		node.logDir = logDir
	}
	if value, ok := specials["__log"]; ok {
		node.logDir = value
	}

	var onlyLocalhost bool
	node.hostname, onlyLocalhost = determineHost()
	if value, ok := specials["__hostname"]; ok {
		node.hostname = value
		onlyLocalhost = value == "localhost"
	} else if value, ok := specials["__ip"]; ok {
		node.hostname = value
		onlyLocalhost = value == "::1" || strings.HasPrefix(value, "127.")
	}
	if onlyLocalhost {
		node.listenIP = "127.0.0.1"
	} else {
		node.listenIP = "0.0.0.0"
	}

	node.masterURI = os.Getenv("ROS_MASTER_URI")
	if value, ok := specials["__master"]; ok {
		node.masterURI = value
	}

	node.nameResolver = newNameResolver(node.namespace, node.name, remapping)
	node.nonRosArgs = rest

	node.qualifiedName = node.namespace + "/" + node.name
	if node.namespace == "/" {
		node.qualifiedName = "/" + node.name
	}

	node.subscribers = make(map[string]*defaultSubscriber)
	node.publishers = make(map[string]*defaultPublisher)
	node.servers = make(map[string]*defaultServiceServer)
	node.interruptChan = make(chan os.Signal, 1)
	node.ok = true

	if node.logger == nil {
		node.logger = NewDefaultLogger()
	}
	logger := node.logger

	node.spinner = newSpinner(0, logger)
	node.master = newMasterAPIClient(node.masterURI, node.qualifiedName)
	node.peers = newPeerClientPool()

	signal.Notify(node.interruptChan, os.Interrupt)
	go func() {
		<-node.interruptChan
		logger.Info("Interrupted")
		node.okMutex.Lock()
		node.ok = false
		node.okMutex.Unlock()
	}()

	logger.Debugf("Master URI = %s", node.masterURI)

	var g errgroup.Group
	g.Go(node.startXMLRPCServer)
	g.Go(node.startTCPROSAcceptor)
	if err := g.Wait(); err != nil {
		return nil, err
	}

	// Master calls only go out once both listeners are bound, so the
	// callerApi we report is always connectable.
	for k, v := range params {
		value, err := loadParamFromString(v)
		if err != nil {
			value = v
		}
		if err := node.master.setParam(node.nameResolver.resolve("~"+k), value); err != nil {
			return nil, err
		}
	}
	if node.paramsFile != "" {
		if err := node.loadParamsFile(node.paramsFile); err != nil {
			return nil, err
		}
	}

	logger.Debugf("Started %s", node.qualifiedName)
	return node, nil
}

// loadParamsFile reads a flat or nested YAML document and pushes every leaf
// value to the Master via setParam, mirroring `rosparam load` without
// implementing roslaunch XML.
func (node *defaultNode) loadParamsFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return errors.Wrapf(err, "reading params file %s", path)
	}
	var doc map[string]interface{}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return errors.Wrapf(err, "parsing params file %s", path)
	}
	return node.pushParamTree("", doc)
}

func (node *defaultNode) pushParamTree(prefix string, value interface{}) error {
	switch v := value.(type) {
	case map[string]interface{}:
		for k, child := range v {
			key := k
			if prefix != "" {
				key = prefix + "/" + k
			}
			if err := node.pushParamTree(key, child); err != nil {
				return err
			}
		}
		return nil
	default:
		if prefix == "" {
			return nil
		}
		return node.master.setParam(node.nameResolver.resolve("~"+prefix), v)
	}
}

func (node *defaultNode) startXMLRPCServer() error {
	listener, err := net.Listen("tcp", node.listenIP+":0")
	if err != nil {
		return errors.Wrap(err, "listening for XML-RPC")
	}
	_, port, err := net.SplitHostPort(listener.Addr().String())
	if err != nil {
		panic(err)
	}
	node.xmlrpcURI = fmt.Sprintf("http://%s:%s", node.hostname, port)
	node.xmlrpcListener = listener

	methods := map[string]xmlrpc.Method{
		"getBusStats":      func(callerID string) (interface{}, error) { return node.getBusStats(callerID) },
		"getBusInfo":       func(callerID string) (interface{}, error) { return node.getBusInfo(callerID) },
		"getMasterUri":     func(callerID string) (interface{}, error) { return node.getMasterURI(callerID) },
		"shutdown":         func(callerID string, msg string) (interface{}, error) { return node.slaveShutdown(callerID, msg) },
		"getPid":           func(callerID string) (interface{}, error) { return node.getPid(callerID) },
		"getSubscriptions": func(callerID string) (interface{}, error) { return node.getSubscriptions(callerID) },
		"getPublications":  func(callerID string) (interface{}, error) { return node.getPublications(callerID) },
		"paramUpdate": func(callerID string, key string, value interface{}) (interface{}, error) {
			return node.paramUpdate(callerID, key, value)
		},
		"publisherUpdate": func(callerID string, topic string, publishers []interface{}) (interface{}, error) {
			return node.publisherUpdate(callerID, topic, publishers)
		},
		"requestTopic": func(callerID string, topic string, protocols []interface{}) (interface{}, error) {
			return node.requestTopic(callerID, topic, protocols)
		},
	}
	node.xmlrpcHandler = xmlrpc.NewHandler(methods)
	go http.Serve(node.xmlrpcListener, node.xmlrpcHandler)
	node.logger.Debugf("Slave API listening on %s", node.xmlrpcURI)
	return nil
}

// startTCPROSAcceptor binds the one TCP listener every publisher and
// service server on this node shares; connections are routed by header
// after the handshake frame is read.
func (node *defaultNode) startTCPROSAcceptor() error {
	listener, err := listenEphemeralPort(node.listenIP)
	if err != nil {
		return errors.Wrap(err, "listening for TCPROS")
	}
	_, port, err := net.SplitHostPort(listener.Addr().String())
	if err != nil {
		panic(err)
	}
	node.tcprosListener = listener
	node.tcprosPort = port

	node.waitGroup.Add(1)
	go func() {
		defer node.waitGroup.Done()
		for {
			conn, err := listener.Accept()
			if err != nil {
				return
			}
			go node.handleTCPROSConnection(conn)
		}
	}()
	return nil
}

func (node *defaultNode) handleTCPROSConnection(conn net.Conn) {
	connID := uuid.NewString()
	logger := withFields(node.logger, logrus.Fields{"conn": connID, "remote": conn.RemoteAddr().String()})

	headers, err := readConnectionHeader(conn)
	if err != nil {
		logger.Debugf("TCPROS handshake failed: %v", err)
		conn.Close()
		return
	}
	m := headerMap(headers)

	if topic, ok := m["topic"]; ok {
		node.publishersMutex.RLock()
		pub, ok := node.publishers[topic]
		node.publishersMutex.RUnlock()
		if !ok {
			logger.Debugf("%v: %s", ErrNoSuchTopic, topic)
			writeHandshakeError(conn, errors.Wrap(ErrNoSuchTopic, topic).Error())
			conn.Close()
			return
		}
		pub.acceptSubscriber(conn, m)
		return
	}
	if service, ok := m["service"]; ok {
		node.serversMutex.RLock()
		server, ok := node.servers[service]
		node.serversMutex.RUnlock()
		if !ok {
			logger.Debugf("%v: %s", ErrNoSuchService, service)
			writeHandshakeError(conn, errors.Wrap(ErrNoSuchService, service).Error())
			conn.Close()
			return
		}
		server.acceptClient(conn, m)
		return
	}
	logger.Debugf("connection header carries neither topic nor service")
	writeHandshakeError(conn, "connection header carries neither topic nor service")
	conn.Close()
}

// serviceURI is the rosrpc:// endpoint advertised to the Master for every
// service this node provides; services share the node's TCPROS acceptor.
func (node *defaultNode) serviceURI() string {
	return fmt.Sprintf("rosrpc://%s:%s", node.hostname, node.tcprosPort)
}

func (node *defaultNode) OK() bool {
	node.okMutex.RLock()
	ok := node.ok
	node.okMutex.RUnlock()
	return ok
}

func (node *defaultNode) getBusStats(callerID string) (interface{}, error) {
	return buildRosAPIResult(APIStatusError, "Not implemented", 0), nil
}

func (node *defaultNode) getBusInfo(callerID string) (interface{}, error) {
	return buildRosAPIResult(APIStatusError, "Not implemented", 0), nil
}

func (node *defaultNode) getMasterURI(callerID string) (interface{}, error) {
	return buildRosAPIResult(APIStatusSuccess, "Success", node.masterURI), nil
}

func (node *defaultNode) slaveShutdown(callerID string, msg string) (interface{}, error) {
	node.okMutex.Lock()
	node.ok = false
	node.okMutex.Unlock()
	return buildRosAPIResult(APIStatusSuccess, "Success", 0), nil
}

func (node *defaultNode) getPid(callerID string) (interface{}, error) {
	return buildRosAPIResult(APIStatusSuccess, "Success", os.Getpid()), nil
}

func (node *defaultNode) getSubscriptions(callerID string) (interface{}, error) {
	node.subscribersMutex.RLock()
	defer node.subscribersMutex.RUnlock()
	result := []interface{}{}
	for t, s := range node.subscribers {
		result = append(result, []interface{}{t, s.msgType.Name()})
	}
	return buildRosAPIResult(APIStatusSuccess, "Success", result), nil
}

func (node *defaultNode) getPublications(callerID string) (interface{}, error) {
	node.publishersMutex.RLock()
	defer node.publishersMutex.RUnlock()
	result := []interface{}{}
	for t, p := range node.publishers {
		result = append(result, []interface{}{t, p.msgType.Name()})
	}
	return buildRosAPIResult(APIStatusSuccess, "Success", result), nil
}

func (node *defaultNode) paramUpdate(callerID string, key string, value interface{}) (interface{}, error) {
	return buildRosAPIResult(APIStatusSuccess, "Success", 0), nil
}

func (node *defaultNode) publisherUpdate(callerID string, topic string, publishers []interface{}) (interface{}, error) {
	node.subscribersMutex.RLock()
	sub, ok := node.subscribers[topic]
	node.subscribersMutex.RUnlock()
	if !ok {
		return buildRosAPIResult(APIStatusFailure, "No such topic", 0), nil
	}
	uris := make([]string, 0, len(publishers))
	for _, v := range publishers {
		if s, ok := v.(string); ok {
			uris = append(uris, s)
		}
	}
	sub.updatePublisherList(uris)
	return buildRosAPIResult(APIStatusSuccess, "Success", 0), nil
}

func (node *defaultNode) requestTopic(callerID string, topic string, protocols []interface{}) (interface{}, error) {
	node.publishersMutex.RLock()
	_, ok := node.publishers[topic]
	node.publishersMutex.RUnlock()
	if !ok {
		return buildRosAPIResult(APIStatusFailure, "No such topic", nil), nil
	}

	for _, v := range protocols {
		entry, ok := v.([]interface{})
		if !ok || len(entry) == 0 {
			continue
		}
		name, _ := entry[0].(string)
		if name != "TCPROS" {
			continue
		}
		port, err := strconv.Atoi(node.tcprosPort)
		if err != nil {
			return nil, err
		}
		selected := []interface{}{"TCPROS", node.hostname, port}
		return buildRosAPIResult(APIStatusSuccess, "Success", selected), nil
	}
	return buildRosAPIResult(APIStatusFailure, "No supported protocol", nil), nil
}

func (node *defaultNode) NewPublisher(topic string, msgType MessageType) Publisher {
	return node.NewPublisherWithCallbacks(topic, msgType, nil, nil)
}

func (node *defaultNode) NewLatchedPublisher(topic string, msgType MessageType) Publisher {
	return node.NewPublisherWithOptions(topic, msgType, PublisherLatched())
}

func (node *defaultNode) NewPublisherWithCallbacks(topic string, msgType MessageType, connectCallback, disconnectCallback func(SingleSubscriberPublisher)) Publisher {
	return node.newPublisher(topic, msgType, connectCallback, disconnectCallback)
}

func (node *defaultNode) NewPublisherWithOptions(topic string, msgType MessageType, opts ...PublisherOption) Publisher {
	return node.newPublisher(topic, msgType, nil, nil, opts...)
}

func (node *defaultNode) newPublisher(topic string, msgType MessageType, connectCallback, disconnectCallback func(SingleSubscriberPublisher), opts ...PublisherOption) Publisher {
	name := node.nameResolver.remap(topic)

	node.publishersMutex.Lock()
	defer node.publishersMutex.Unlock()

	pub, ok := node.publishers[name]
	if ok {
		return pub
	}

	pub = newDefaultPublisher(node, name, msgType, connectCallback, disconnectCallback, opts...)
	node.publishers[name] = pub

	if _, err := node.master.registerPublisher(name, msgType.Name(), node.xmlrpcURI); err != nil {
		node.logger.Errorf("registerPublisher(%s) failed: %v", name, err)
	}
	return pub
}

func (node *defaultNode) NewSubscriber(topic string, msgType MessageType, callback interface{}) Subscriber {
	return node.NewSubscriberWithOptions(topic, msgType, callback)
}

func (node *defaultNode) NewSubscriberWithOptions(topic string, msgType MessageType, callback interface{}, opts ...SubscriberOption) Subscriber {
	name := node.nameResolver.remap(topic)

	node.subscribersMutex.Lock()
	defer node.subscribersMutex.Unlock()

	sub, ok := node.subscribers[name]
	if ok {
		if callback != nil {
			sub.addCallback(callback)
		}
		return sub
	}

	sub = newDefaultSubscriber(node, name, msgType, callback, opts...)
	node.subscribers[name] = sub

	uris, err := node.master.registerSubscriber(name, msgType.Name(), node.xmlrpcURI)
	if err != nil {
		node.logger.Errorf("registerSubscriber(%s) failed: %v", name, err)
		return sub
	}
	publisherURIs := make([]string, 0, len(uris))
	for _, v := range uris {
		if s, ok := v.(string); ok {
			publisherURIs = append(publisherURIs, s)
		}
	}
	sub.updatePublisherList(publisherURIs)
	return sub
}

// ServiceClientOption customizes service client instances.
type ServiceClientOption func(c *defaultServiceClient)

// ServiceClientTCPTimeout replaces the client's stored 10ms default timeout with the specified one.
// The client does not apply this value to its TCP operations: dialing uses a fixed 10s timeout, and
// header, request and response reads and writes run without a deadline.
func ServiceClientTCPTimeout(t time.Duration) ServiceClientOption {
	return func(c *defaultServiceClient) {
		c.tcpTimeout = t
	}
}

func (node *defaultNode) NewServiceClient(service string, srvType ServiceType, options ...ServiceClientOption) ServiceClient {
	name := node.nameResolver.remap(service)
	opts := append([]ServiceClientOption{}, node.srvClientOpts...)
	opts = append(opts, options...)
	return newDefaultServiceClient(node.logger, node.qualifiedName, node.masterURI, name, srvType, opts...)
}

// ServiceServerOption customizes service server instances.
type ServiceServerOption func(c *defaultServiceServer)

// ServiceServerTCPTimeout changes default timeout of 10ms to the specified timeout. The server uses it
// only as the write deadline for sending its connection header to a client; reading requests and writing
// responses run without a deadline.
func ServiceServerTCPTimeout(t time.Duration) ServiceServerOption {
	return func(s *defaultServiceServer) {
		s.tcpTimeout = t
	}
}

func (node *defaultNode) NewServiceServer(service string, srvType ServiceType, handler ServiceHandler, options ...ServiceServerOption) ServiceServer {
	name := node.nameResolver.remap(service)

	node.serversMutex.Lock()
	defer node.serversMutex.Unlock()

	if existing, ok := node.servers[name]; ok {
		existing.Shutdown()
	}

	opts := append([]ServiceServerOption{}, node.srvServerOpts...)
	opts = append(opts, options...)

	server := newDefaultServiceServer(node, name, srvType, handler, opts...)
	if server == nil {
		return nil
	}
	node.servers[name] = server
	return server
}

// SpinOnce yields briefly; message dispatch runs on the spinner's own
// timer, so spinning only keeps the calling goroutine parked.
func (node *defaultNode) SpinOnce() {
	time.Sleep(10 * time.Millisecond)
}

// Spin blocks until the node is shut down or interrupted.
func (node *defaultNode) Spin() {
	for node.OK() {
		time.Sleep(100 * time.Millisecond)
	}
}

func (node *defaultNode) Shutdown() {
	node.logger.Debug("Shutting node down")
	node.okMutex.Lock()
	node.ok = false
	node.okMutex.Unlock()

	node.subscribersMutex.RLock()
	subs := make([]*defaultSubscriber, 0, len(node.subscribers))
	for _, s := range node.subscribers {
		subs = append(subs, s)
	}
	node.subscribersMutex.RUnlock()
	for _, s := range subs {
		s.Shutdown()
	}

	node.publishersMutex.RLock()
	pubs := make([]*defaultPublisher, 0, len(node.publishers))
	for _, p := range node.publishers {
		pubs = append(pubs, p)
	}
	node.publishersMutex.RUnlock()
	for _, p := range pubs {
		p.Shutdown()
	}

	node.serversMutex.RLock()
	servers := make([]*defaultServiceServer, 0, len(node.servers))
	for _, s := range node.servers {
		servers = append(servers, s)
	}
	node.serversMutex.RUnlock()
	for _, s := range servers {
		s.Shutdown()
	}

	node.tcprosListener.Close()
	node.xmlrpcListener.Close()
	node.waitGroup.Wait()
	node.xmlrpcHandler.WaitForShutdown()

	node.master.close()
	node.peers.closeAll()
	node.logger.Debug("Shutting node down completed")
}

func (node *defaultNode) GetParam(key string) (interface{}, error) {
	return node.master.getParam(node.nameResolver.remap(key))
}

func (node *defaultNode) SetParam(key string, value interface{}) error {
	return node.master.setParam(node.nameResolver.remap(key), value)
}

func (node *defaultNode) HasParam(key string) (bool, error) {
	return node.master.hasParam(node.nameResolver.remap(key))
}

func (node *defaultNode) SearchParam(key string) (string, error) {
	return node.master.searchParam(key)
}

func (node *defaultNode) DeleteParam(key string) error {
	return node.master.deleteParam(node.nameResolver.remap(key))
}

func (node *defaultNode) Logger() Logger {
	return node.logger
}

func (node *defaultNode) NonRosArgs() []string {
	return node.nonRosArgs
}

func (node *defaultNode) Name() string {
	return node.name
}

func loadParamFromString(s string) (interface{}, error) {
	decoder := json.NewDecoder(strings.NewReader(s))
	var value interface{}
	if err := decoder.Decode(&value); err != nil {
		return nil, err
	}
	return value, nil
}
