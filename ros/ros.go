package ros

import (
	"time"
)

// Node defines interface for a ros node
type Node interface {

	// NewPublisher creates a publisher for specified topic and message type.
	NewPublisher(topic string, msgType MessageType) Publisher

	// NewPublisherWithCallbacks creates a publisher which gives you callbacks when subscribers
	// connect and disconnect.  The callbacks are called in their own
	// goroutines, so they don't need to return immediately to let the
	// connection proceed.
	NewPublisherWithCallbacks(topic string, msgType MessageType, connectCallback, disconnectCallback func(SingleSubscriberPublisher)) Publisher

	// NewLatchedPublisher creates a publisher that replays its last message
	// to every newly connected subscriber.
	NewLatchedPublisher(topic string, msgType MessageType) Publisher

	// NewPublisherWithOptions is the fully configurable publisher
	// constructor (queue size, throttle, latching, TCP_NODELAY); NewPublisher
	// and NewLatchedPublisher are thin wrappers over it.
	NewPublisherWithOptions(topic string, msgType MessageType, opts ...PublisherOption) Publisher

	// NewSubscriber creates a subscriber to specified topic, where
	// the messages are of a given type. callback should be a function
	// which takes 0, 1, or 2 arguments.If it takes 0 arguments, it will
	// simply be called without the message.  1-argument functions are
	// the normal case, and the argument should be of the generated message type.
	// If the function takes 2 arguments, the first argument should be of the
	// generated message type and the second argument should be of type MessageEvent.
	NewSubscriber(topic string, msgType MessageType, callback interface{}) Subscriber

	// NewSubscriberWithOptions is the fully configurable subscriber
	// constructor (queue size, throttle).
	NewSubscriberWithOptions(topic string, msgType MessageType, callback interface{}, opts ...SubscriberOption) Subscriber
	NewServiceClient(service string, srvType ServiceType, options ...ServiceClientOption) ServiceClient
	NewServiceServer(service string, srvType ServiceType, callback ServiceHandler, options ...ServiceServerOption) ServiceServer

	OK() bool
	SpinOnce()
	Spin()
	Shutdown()

	GetParam(name string) (interface{}, error)
	SetParam(name string, value interface{}) error
	HasParam(name string) (bool, error)
	SearchParam(name string) (string, error)
	DeleteParam(name string) error

	Logger() Logger

	NonRosArgs() []string
	Name() string
}

// NodeOption allows to customize created nodes.
type NodeOption func(n *defaultNode)

// NodeServiceClientOptions specifies default options applied to the service clients created in this node.
func NodeServiceClientOptions(opts ...ServiceClientOption) NodeOption {
	return func(n *defaultNode) {
		n.srvClientOpts = opts
	}
}

// NodeServiceServerOptions specifies default options applied to the service servers created in this node.
func NodeServiceServerOptions(opts ...ServiceServerOption) NodeOption {
	return func(n *defaultNode) {
		n.srvServerOpts = opts
	}
}

// NodeLogger injects a custom Logger implementation in place of the default
// logrus-backed one.
func NodeLogger(logger Logger) NodeOption {
	return func(n *defaultNode) {
		n.logger = logger
	}
}

// NodeParamsFile loads an initial parameter set from a YAML file and pushes
// each entry to the Master via setParam before the node finishes starting,
// mirroring roslaunch's `rosparam load` without implementing launch files.
func NodeParamsFile(path string) NodeOption {
	return func(n *defaultNode) {
		n.paramsFile = path
	}
}

func NewNode(name string, args []string, opts ...NodeOption) (Node, error) {
	return newDefaultNode(name, args, opts...)
}

type Publisher interface {
	Publish(msg Message)
	GetNumSubscribers() int
	Shutdown()
}

// SingleSubscriberPublisher is a publisher which only sends to one specific subscriber.
// This is sent as an argument to the connect and disconnect callback
// functions passed to Node.NewPublisherWithCallbacks().
type SingleSubscriberPublisher interface {
	Publish(msg Message)
	GetSubscriberName() string
	GetTopic() string
}

type Subscriber interface {
	GetNumPublishers() int
	// Enable toggles flow control for every connection this subscriber
	// currently holds; disabled connections keep reading off the wire but
	// stop delivering to the callback.
	Enable(enabled bool)
	Shutdown()
}

// MessageEvent is an optional second argument to a Subscriber callback.
type MessageEvent struct {
	PublisherName    string
	ReceiptTime      time.Time
	ConnectionHeader map[string]string
}

// ServiceHandler is the generated-code handler function registered with
// NewServiceServer: func(req *ReqType, res *ResType) bool.
type ServiceHandler interface{}

type ServiceServer interface {
	Shutdown()
}

type ServiceClient interface {
	Call(srv Service) error

	// WaitForService polls the Master for this client's service at roughly
	// 500ms intervals until it resolves or timeout elapses; a non-positive
	// timeout waits indefinitely. It returns true once the service is
	// found, false on timeout.
	WaitForService(timeout time.Duration) bool

	Shutdown()
}

// PublisherOption customizes a publisher built via NewPublisherWithOptions.
type PublisherOption func(p *defaultPublisher)

// PublisherQueueSize sets the outbound ring-buffer capacity (minimum 1).
func PublisherQueueSize(n int) PublisherOption {
	return func(p *defaultPublisher) {
		if n < 1 {
			n = 1
		}
		p.queueSize = n
	}
}

// PublisherThrottleMS sets the minimum interval between flushes; a negative
// value means every Publish() call flushes synchronously.
func PublisherThrottleMS(ms int) PublisherOption {
	return func(p *defaultPublisher) {
		p.throttle = time.Duration(ms) * time.Millisecond
	}
}

// PublisherLatched marks the publisher as latching: the most recent
// message is replayed to every newly connected subscriber.
func PublisherLatched() PublisherOption {
	return func(p *defaultPublisher) {
		p.latching = true
	}
}

// PublisherTCPNoDelay requests TCP_NODELAY on every accepted subscriber
// socket.
func PublisherTCPNoDelay() PublisherOption {
	return func(p *defaultPublisher) {
		p.tcpNoDelay = true
	}
}

// SubscriberOption customizes a subscriber built via NewSubscriberWithOptions.
type SubscriberOption func(s *defaultSubscriber)

// SubscriberQueueSize sets the inbound ring-buffer capacity handed to the
// spinner for this subscriber.
func SubscriberQueueSize(n int) SubscriberOption {
	return func(s *defaultSubscriber) {
		if n < 1 {
			n = 1
		}
		s.queueSize = n
	}
}

// SubscriberThrottleMS sets the spinner throttle; a negative value invokes
// the callback inline on the reader goroutine instead of via the spinner.
func SubscriberThrottleMS(ms int) SubscriberOption {
	return func(s *defaultSubscriber) {
		s.throttle = time.Duration(ms) * time.Millisecond
	}
}

// SubscriberTCPNoDelay requests TCP_NODELAY when connecting to publishers.
func SubscriberTCPNoDelay() SubscriberOption {
	return func(s *defaultSubscriber) {
		s.tcpNoDelay = true
	}
}
