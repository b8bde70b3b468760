package actionlib

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fetchrobotics/rosgo/ros"
)

// fakeGoalMessage is a minimal ros.Message used to exercise the
// actionGoalMessage/actionFeedbackMessage/actionResultMessage wrappers.
type fakeGoalMessage struct {
	Value int32
}

func (m *fakeGoalMessage) GetType() ros.MessageType { return fakeActionType{} }
func (m *fakeGoalMessage) Serialize(buf *bytes.Buffer) error {
	var b [4]byte
	b[0] = byte(m.Value)
	b[1] = byte(m.Value >> 8)
	b[2] = byte(m.Value >> 16)
	b[3] = byte(m.Value >> 24)
	_, err := buf.Write(b[:])
	return err
}
func (m *fakeGoalMessage) Deserialize(r *ros.Reader) error {
	var b [4]byte
	if _, err := r.Read(b[:]); err != nil {
		return err
	}
	m.Value = int32(b[0]) | int32(b[1])<<8 | int32(b[2])<<16 | int32(b[3])<<24
	return nil
}

// fakeActionType doubles as the ros.MessageType for its own goal/feedback/
// result payloads, which keeps the fixture to one type.
type fakeActionType struct{}

func (fakeActionType) MD5Sum() string                  { return "fakeactionmd5" }
func (fakeActionType) Name() string                    { return "test_actions/Fake" }
func (fakeActionType) Text() string                    { return "int32 value" }
func (fakeActionType) NewMessage() ros.Message         { return &fakeGoalMessage{} }
func (fakeActionType) GoalType() ros.MessageType       { return fakeActionType{} }
func (fakeActionType) FeedbackType() ros.MessageType   { return fakeActionType{} }
func (fakeActionType) ResultType() ros.MessageType     { return fakeActionType{} }
func (fakeActionType) NewGoalMessage() ros.Message     { return &fakeGoalMessage{} }
func (fakeActionType) NewFeedbackMessage() ros.Message { return &fakeGoalMessage{} }
func (fakeActionType) NewResultMessage() ros.Message   { return &fakeGoalMessage{} }

// serdeMessage is the subset of ros.Message that roundTripMessage exercises,
// allowing it to accept wire types (e.g. GoalID) that don't implement
// GetType on their own.
type serdeMessage interface {
	Serialize(buf *bytes.Buffer) error
	Deserialize(r *ros.Reader) error
}

func roundTripMessage(t *testing.T, out, in serdeMessage) {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, out.Serialize(&buf))
	require.NoError(t, in.Deserialize(ros.NewReader(buf.Bytes())))
}

func TestGoalIDRoundTrip(t *testing.T) {
	now := time.Unix(1700000000, 123000000)
	id := NewGoalID("/talker", 7, now)
	assert.Equal(t, "/talker-7-1700000000.123000000", id.ID)

	var decoded GoalID
	roundTripMessage(t, &id, &decoded)
	assert.Equal(t, id.ID, decoded.ID)
	assert.Equal(t, id.Stamp.Unix(), decoded.Stamp.Unix())
}

func TestGoalStatusRoundTrip(t *testing.T) {
	status := GoalStatus{GoalID: NewGoalID("/c", 1, time.Unix(1, 0)), Status: StatusActive, Text: "running"}
	var decoded GoalStatus
	roundTripMessage(t, &status, &decoded)
	assert.Equal(t, status.Status, decoded.Status)
	assert.Equal(t, status.Text, decoded.Text)
	assert.Equal(t, status.GoalID.ID, decoded.GoalID.ID)
}

func TestGoalStatusArrayRoundTrip(t *testing.T) {
	arr := GoalStatusArray{StatusList: []GoalStatus{
		{GoalID: NewGoalID("/c", 1, time.Unix(1, 0)), Status: StatusPending},
		{GoalID: NewGoalID("/c", 2, time.Unix(2, 0)), Status: StatusSucceeded, Text: "done"},
	}}
	var decoded GoalStatusArray
	roundTripMessage(t, &arr, &decoded)
	require.Len(t, decoded.StatusList, 2)
	assert.Equal(t, StatusPending, decoded.StatusList[0].Status)
	assert.Equal(t, "done", decoded.StatusList[1].Text)
}

func TestIsTerminal(t *testing.T) {
	terminal := []uint8{StatusPreempted, StatusSucceeded, StatusAborted, StatusRejected, StatusRecalled, StatusLost}
	for _, s := range terminal {
		assert.True(t, IsTerminal(s))
	}
	nonTerminal := []uint8{StatusPending, StatusActive, StatusPreempting, StatusRecalling}
	for _, s := range nonTerminal {
		assert.False(t, IsTerminal(s))
	}
}

func TestActionGoalMessageRoundTrip(t *testing.T) {
	at := fakeActionType{}
	out := newActionGoalMessage(at)
	out.GoalID = NewGoalID("/c", 1, time.Unix(5, 0))
	out.Goal = &fakeGoalMessage{Value: 42}

	in := newActionGoalMessage(at)
	roundTripMessage(t, out, in)

	assert.Equal(t, out.GoalID.ID, in.GoalID.ID)
	assert.Equal(t, int32(42), in.Goal.(*fakeGoalMessage).Value)
	assert.Equal(t, "test_actions/FakeGoal", out.GetType().Name())
}

func TestActionFeedbackMessageRoundTrip(t *testing.T) {
	at := fakeActionType{}
	out := newActionFeedbackMessage(at)
	out.Status = GoalStatus{GoalID: NewGoalID("/c", 1, time.Unix(5, 0)), Status: StatusActive}
	out.Feedback = &fakeGoalMessage{Value: 7}

	in := newActionFeedbackMessage(at)
	roundTripMessage(t, out, in)

	assert.Equal(t, StatusActive, in.Status.Status)
	assert.Equal(t, int32(7), in.Feedback.(*fakeGoalMessage).Value)
}

func TestActionResultMessageRoundTrip(t *testing.T) {
	at := fakeActionType{}
	out := newActionResultMessage(at)
	out.Status = GoalStatus{GoalID: NewGoalID("/c", 1, time.Unix(5, 0)), Status: StatusSucceeded, Text: "ok"}
	out.Result = &fakeGoalMessage{Value: 99}

	in := newActionResultMessage(at)
	roundTripMessage(t, out, in)

	assert.Equal(t, StatusSucceeded, in.Status.Status)
	assert.Equal(t, "ok", in.Status.Text)
	assert.Equal(t, int32(99), in.Result.(*fakeGoalMessage).Value)
}
