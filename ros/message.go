package ros

import (
	"bytes"
)

// MessageType is the external collaborator the code generator produces for
// every `.msg` file. The node runtime never parses `.msg` text itself; it
// only ever calls through this interface.
type MessageType interface {
	Text() string
	MD5Sum() string
	Name() string
	NewMessage() Message
}

// Message is a single decoded/encodable value of a MessageType.
type Message interface {
	GetType() MessageType
	Serialize(buf *bytes.Buffer) error
	Deserialize(buf *Reader) error
}

// ServiceType is the generated counterpart of MessageType for `.srv` files.
// MD5Sum is computed over the concatenated request+response definition.
type ServiceType interface {
	MD5Sum() string
	Name() string
	RequestType() MessageType
	ResponseType() MessageType
	NewService() Service
}

// Service bundles a request/response pair so a handler can be invoked with
// one value and return one value.
type Service interface {
	ReqMessage() Message
	ResMessage() Message
}

// ActionType is the generated counterpart for `.action` files; actionlib
// layers goal/feedback/result messages on top of four plain topics, so it
// needs the message types for each, plus the combined md5sum used in the
// goal/result/feedback wrapper message definitions.
type ActionType interface {
	MD5Sum() string
	Name() string
	GoalType() MessageType
	FeedbackType() MessageType
	ResultType() MessageType
	NewGoalMessage() Message
	NewFeedbackMessage() Message
	NewResultMessage() Message
}
