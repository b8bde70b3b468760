// Package actionlib implements the actionlib goal-lifecycle protocol
// on top of four plain topics (goal, cancel, feedback, result)
// plus one status topic, the way actionlib itself is "just" a convention
// layered over ros.Publisher/ros.Subscriber rather than a new transport.
package actionlib

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"time"

	"github.com/fetchrobotics/rosgo/ros"
)

// Goal status values, numerically identical to actionlib_msgs/GoalStatus.
const (
	StatusPending    uint8 = 0
	StatusActive     uint8 = 1
	StatusPreempted  uint8 = 2
	StatusSucceeded  uint8 = 3
	StatusAborted    uint8 = 4
	StatusRejected   uint8 = 5
	StatusPreempting uint8 = 6
	StatusRecalling  uint8 = 7
	StatusRecalled   uint8 = 8
	StatusLost       uint8 = 9
)

// IsTerminal reports whether status is one a goal cannot leave once entered.
func IsTerminal(status uint8) bool {
	switch status {
	case StatusPreempted, StatusSucceeded, StatusAborted, StatusRejected, StatusRecalled, StatusLost:
		return true
	default:
		return false
	}
}

func writeString(buf *bytes.Buffer, s string) error {
	if err := binary.Write(buf, binary.LittleEndian, uint32(len(s))); err != nil {
		return err
	}
	_, err := buf.WriteString(s)
	return err
}

func readString(r *ros.Reader) (string, error) {
	var n uint32
	if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
		return "", err
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", err
	}
	return string(buf), nil
}

func writeTime(buf *bytes.Buffer, t time.Time) error {
	secs := uint32(t.Unix())
	nsecs := uint32(t.Nanosecond())
	if err := binary.Write(buf, binary.LittleEndian, secs); err != nil {
		return err
	}
	return binary.Write(buf, binary.LittleEndian, nsecs)
}

func readTime(r *ros.Reader) (time.Time, error) {
	var secs, nsecs uint32
	if err := binary.Read(r, binary.LittleEndian, &secs); err != nil {
		return time.Time{}, err
	}
	if err := binary.Read(r, binary.LittleEndian, &nsecs); err != nil {
		return time.Time{}, err
	}
	return time.Unix(int64(secs), int64(nsecs)), nil
}

// GoalID mirrors actionlib_msgs/GoalID: a goal's unique identifier and the
// time it was generated, formatted by NewGoalID as
// "<callerID>-<counter>-<secs>.<nsecs>".
type GoalID struct {
	Stamp time.Time
	ID    string
}

func (g *GoalID) Serialize(buf *bytes.Buffer) error {
	if err := writeTime(buf, g.Stamp); err != nil {
		return err
	}
	return writeString(buf, g.ID)
}

func (g *GoalID) Deserialize(r *ros.Reader) error {
	stamp, err := readTime(r)
	if err != nil {
		return err
	}
	id, err := readString(r)
	if err != nil {
		return err
	}
	g.Stamp = stamp
	g.ID = id
	return nil
}

// NewGoalID builds a goal id unique for this node: the node's
// qualified name, a monotonically increasing per-client counter, and the
// generation timestamp.
func NewGoalID(callerID string, counter uint64, now time.Time) GoalID {
	return GoalID{
		Stamp: now,
		ID:    fmt.Sprintf("%s-%d-%d.%09d", callerID, counter, now.Unix(), now.Nanosecond()),
	}
}

// GoalStatus mirrors actionlib_msgs/GoalStatus.
type GoalStatus struct {
	GoalID GoalID
	Status uint8
	Text   string
}

func (s *GoalStatus) Serialize(buf *bytes.Buffer) error {
	if err := s.GoalID.Serialize(buf); err != nil {
		return err
	}
	if err := buf.WriteByte(s.Status); err != nil {
		return err
	}
	return writeString(buf, s.Text)
}

func (s *GoalStatus) Deserialize(r *ros.Reader) error {
	if err := s.GoalID.Deserialize(r); err != nil {
		return err
	}
	status, err := r.ReadByte()
	if err != nil {
		return err
	}
	text, err := readString(r)
	if err != nil {
		return err
	}
	s.Status = status
	s.Text = text
	return nil
}

// GoalStatusArray carries the status_list of actionlib_msgs/GoalStatusArray,
// the message published on the "<ns>/status" topic. The message's header
// field is not encoded.
type GoalStatusArray struct {
	StatusList []GoalStatus
}

func (a *GoalStatusArray) Serialize(buf *bytes.Buffer) error {
	if err := binary.Write(buf, binary.LittleEndian, uint32(len(a.StatusList))); err != nil {
		return err
	}
	for i := range a.StatusList {
		if err := a.StatusList[i].Serialize(buf); err != nil {
			return err
		}
	}
	return nil
}

func (a *GoalStatusArray) Deserialize(r *ros.Reader) error {
	var n uint32
	if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
		return err
	}
	list := make([]GoalStatus, n)
	for i := range list {
		if err := list[i].Deserialize(r); err != nil {
			return err
		}
	}
	a.StatusList = list
	return nil
}

// wireMessageType is a minimal ros.MessageType for the wrapper messages
// this package defines itself (goal/cancel/feedback/result/status), which
// have no generated .msg counterpart to borrow identity from.
type wireMessageType struct {
	name   string
	md5sum string
	text   string
	newMsg func() ros.Message
}

func (t *wireMessageType) Name() string            { return t.name }
func (t *wireMessageType) MD5Sum() string          { return t.md5sum }
func (t *wireMessageType) Text() string            { return t.text }
func (t *wireMessageType) NewMessage() ros.Message { return t.newMsg() }

func goalIDMessageType() ros.MessageType {
	return &wireMessageType{
		name: "actionlib_msgs/GoalID", md5sum: "302881f31927c1df708a2dbab0e80ee8",
		text:   "time stamp\nstring id",
		newMsg: func() ros.Message { return &goalIDMessage{} },
	}
}

// goalIDMessage adapts GoalID to ros.Message so it can travel alone on the
// "<ns>/cancel" topic.
type goalIDMessage struct {
	GoalID
}

func (m *goalIDMessage) GetType() ros.MessageType { return goalIDMessageType() }

func statusArrayMessageType() ros.MessageType {
	return &wireMessageType{
		name: "actionlib_msgs/GoalStatusArray", md5sum: "8b2b82f13216d0a8ea88bd3af735e619",
		text:   "Header header\nGoalStatus[] status_list",
		newMsg: func() ros.Message { return &statusArrayMessage{} },
	}
}

type statusArrayMessage struct {
	GoalStatusArray
}

func (m *statusArrayMessage) GetType() ros.MessageType { return statusArrayMessageType() }

// actionGoalMessage is the wrapper published on "<ns>/goal": goal id + the
// user's Goal payload (ActionType.GoalType()); no header is encoded.
type actionGoalMessage struct {
	GoalID GoalID
	Goal   ros.Message
	typ    ros.MessageType
}

func newActionGoalMessage(actionType ros.ActionType) *actionGoalMessage {
	m := &actionGoalMessage{Goal: actionType.NewGoalMessage()}
	m.typ = wrapperType(actionType, "Goal", func() ros.Message { return newActionGoalMessage(actionType) })
	return m
}

func (m *actionGoalMessage) GetType() ros.MessageType { return m.typ }
func (m *actionGoalMessage) Serialize(buf *bytes.Buffer) error {
	if err := m.GoalID.Serialize(buf); err != nil {
		return err
	}
	return m.Goal.Serialize(buf)
}
func (m *actionGoalMessage) Deserialize(r *ros.Reader) error {
	if err := m.GoalID.Deserialize(r); err != nil {
		return err
	}
	return m.Goal.Deserialize(r)
}

// actionFeedbackMessage is the wrapper published on "<ns>/feedback".
type actionFeedbackMessage struct {
	Status   GoalStatus
	Feedback ros.Message
	typ      ros.MessageType
}

func newActionFeedbackMessage(actionType ros.ActionType) *actionFeedbackMessage {
	m := &actionFeedbackMessage{Feedback: actionType.NewFeedbackMessage()}
	m.typ = wrapperType(actionType, "Feedback", func() ros.Message { return newActionFeedbackMessage(actionType) })
	return m
}

func (m *actionFeedbackMessage) GetType() ros.MessageType { return m.typ }
func (m *actionFeedbackMessage) Serialize(buf *bytes.Buffer) error {
	if err := m.Status.Serialize(buf); err != nil {
		return err
	}
	return m.Feedback.Serialize(buf)
}
func (m *actionFeedbackMessage) Deserialize(r *ros.Reader) error {
	if err := m.Status.Deserialize(r); err != nil {
		return err
	}
	return m.Feedback.Deserialize(r)
}

// actionResultMessage is the wrapper published on "<ns>/result".
type actionResultMessage struct {
	Status GoalStatus
	Result ros.Message
	typ    ros.MessageType
}

func newActionResultMessage(actionType ros.ActionType) *actionResultMessage {
	m := &actionResultMessage{Result: actionType.NewResultMessage()}
	m.typ = wrapperType(actionType, "Result", func() ros.Message { return newActionResultMessage(actionType) })
	return m
}

func (m *actionResultMessage) GetType() ros.MessageType { return m.typ }
func (m *actionResultMessage) Serialize(buf *bytes.Buffer) error {
	if err := m.Status.Serialize(buf); err != nil {
		return err
	}
	return m.Result.Serialize(buf)
}
func (m *actionResultMessage) Deserialize(r *ros.Reader) error {
	if err := m.Status.Deserialize(r); err != nil {
		return err
	}
	return m.Result.Deserialize(r)
}

func wrapperType(actionType ros.ActionType, suffix string, newMsg func() ros.Message) ros.MessageType {
	return &wireMessageType{
		name:   actionType.Name() + suffix,
		md5sum: actionType.MD5Sum(),
		text:   actionType.Name() + " " + suffix + " wrapper",
		newMsg: newMsg,
	}
}
