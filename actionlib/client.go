package actionlib

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/fetchrobotics/rosgo/ros"
)

// CommState is the client-side goal communication state.
type CommState int

const (
	WaitingForGoalAck CommState = iota
	Pending
	Active
	WaitingForResult
	WaitingForCancelAck
	Recalling
	Preempting
	Done
)

// SimpleState collapses CommState into the three buckets SimpleActionClient
// exposes.
type SimpleState int

const (
	SimplePending SimpleState = iota
	SimpleActive
	SimpleDone
)

// ClientGoalHandle tracks one outstanding goal from the client's side: its
// id, most recently received status, and comm-state.
type ClientGoalHandle struct {
	client *ActionClient
	id     GoalID

	mu           sync.Mutex
	state        CommState
	latestStatus GoalStatus
	result       ros.Message
	transitionCB func(*ClientGoalHandle)
	feedbackCB   func(*ClientGoalHandle, ros.Message)
}

// GoalID returns the handle's goal identifier.
func (h *ClientGoalHandle) GoalID() GoalID { return h.id }

// State returns the handle's current comm-state.
func (h *ClientGoalHandle) State() CommState {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

// SimpleState collapses State() into the three-bucket view SimpleActionClient uses.
func (h *ClientGoalHandle) SimpleState() SimpleState {
	switch h.State() {
	case WaitingForGoalAck, Pending:
		return SimplePending
	case Done:
		return SimpleDone
	default:
		return SimpleActive
	}
}

// Result returns the last received result message, or nil before one
// arrives.
func (h *ClientGoalHandle) Result() ros.Message {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.result
}

// Cancel requests cancellation of this one goal, transitioning it to
// WaitingForCancelAck before the cancel message goes out.
func (h *ClientGoalHandle) Cancel() {
	h.transitionToCancelAck()
	h.client.cancelGoal(h.id)
}

// transitionToCancelAck moves the handle to WaitingForCancelAck unless it
// has already reached Done.
func (h *ClientGoalHandle) transitionToCancelAck() {
	h.mu.Lock()
	state := h.state
	h.mu.Unlock()
	if state == Done {
		return
	}
	h.setState(WaitingForCancelAck)
}

func (h *ClientGoalHandle) setState(s CommState) {
	h.mu.Lock()
	h.state = s
	cb := h.transitionCB
	h.mu.Unlock()
	if cb != nil {
		cb(h)
	}
}

// advance applies one received GoalStatus update, following the actionlib
// client transition table. The table used here covers the
// transitions a well-behaved server produces; out-of-band statuses just
// move the handle directly to the state implied by the status.
func (h *ClientGoalHandle) advance(status GoalStatus) {
	h.mu.Lock()
	h.latestStatus = status
	state := h.state
	h.mu.Unlock()

	if state == Done {
		return
	}

	switch status.Status {
	case StatusPending:
		h.setState(Pending)
	case StatusActive:
		h.setState(Active)
	case StatusPreempting:
		h.setState(Preempting)
	case StatusRecalling:
		h.setState(Recalling)
	case StatusPreempted, StatusSucceeded, StatusAborted, StatusRejected, StatusRecalled, StatusLost:
		switch state {
		case WaitingForGoalAck:
			// A goal can finish before the ack round-trip completes; the
			// transition table still passes through Active so observers
			// (e.g. SimpleActionClient) see the goal become active before
			// it is done.
			h.setState(Active)
			h.setState(WaitingForResult)
		case Pending, Active, Preempting, WaitingForCancelAck, Recalling:
			h.setState(WaitingForResult)
		}
	}
}

func (h *ClientGoalHandle) applyResult(status GoalStatus, result ros.Message) {
	h.mu.Lock()
	h.latestStatus = status
	h.result = result
	h.mu.Unlock()
	h.setState(Done)
	if h.client != nil {
		h.client.forgetGoal(h.id.ID)
	}
}

func (h *ClientGoalHandle) applyFeedback(feedback ros.Message) {
	h.mu.Lock()
	cb := h.feedbackCB
	h.mu.Unlock()
	if cb != nil {
		cb(h, feedback)
	}
}

// ActionClient is the client half of the actionlib protocol:
// it publishes on "<ns>/goal" and "<ns>/cancel" and subscribes to
// "<ns>/status", "<ns>/feedback", and "<ns>/result".
type ActionClient struct {
	node       ros.Node
	namespace  string
	actionType ros.ActionType

	goalPub   ros.Publisher
	cancelPub ros.Publisher

	counter uint64

	mu    sync.Mutex
	goals map[string]*ClientGoalHandle
}

// NewActionClient wires up the five topics that make up one action
// namespace and starts listening for status/feedback/result.
func NewActionClient(node ros.Node, namespace string, actionType ros.ActionType) *ActionClient {
	c := &ActionClient{
		node:       node,
		namespace:  namespace,
		actionType: actionType,
		goals:      make(map[string]*ClientGoalHandle),
	}

	c.goalPub = node.NewPublisherWithOptions(namespace+"/goal", wrapperType(actionType, "Goal", func() ros.Message { return newActionGoalMessage(actionType) }))
	c.cancelPub = node.NewPublisher(namespace+"/cancel", goalIDMessageType())

	node.NewSubscriber(namespace+"/status", statusArrayMessageType(), func(msg ros.Message) {
		c.onStatus(msg.(*statusArrayMessage))
	})
	node.NewSubscriber(namespace+"/feedback", wrapperType(actionType, "Feedback", func() ros.Message { return newActionFeedbackMessage(actionType) }), func(msg ros.Message) {
		c.onFeedback(msg.(*actionFeedbackMessage))
	})
	node.NewSubscriber(namespace+"/result", wrapperType(actionType, "Result", func() ros.Message { return newActionResultMessage(actionType) }), func(msg ros.Message) {
		c.onResult(msg.(*actionResultMessage))
	})

	return c
}

// SendGoal publishes a new goal and returns a handle tracking it.
// transitionCB, if non-nil, is invoked on every comm-state change;
// feedbackCB, if non-nil, on every feedback message.
func (c *ActionClient) SendGoal(goal ros.Message, transitionCB func(*ClientGoalHandle), feedbackCB func(*ClientGoalHandle, ros.Message)) *ClientGoalHandle {
	n := atomic.AddUint64(&c.counter, 1)
	id := NewGoalID(c.node.Name(), n, time.Now())

	handle := &ClientGoalHandle{client: c, id: id, state: WaitingForGoalAck, transitionCB: transitionCB, feedbackCB: feedbackCB}

	c.mu.Lock()
	c.goals[id.ID] = handle
	c.mu.Unlock()

	wrapper := newActionGoalMessage(c.actionType)
	wrapper.GoalID = id
	wrapper.Goal = goal
	c.goalPub.Publish(wrapper)

	return handle
}

// CancelAll cancels every outstanding goal (an empty id, zero-stamp
// GoalID).
func (c *ActionClient) CancelAll() {
	c.transitionAllToCancelAck(time.Time{})
	c.cancelPub.Publish(&goalIDMessage{})
}

// CancelAllBefore cancels every goal stamped strictly earlier than t.
func (c *ActionClient) CancelAllBefore(t time.Time) {
	c.transitionAllToCancelAck(t)
	c.cancelPub.Publish(&goalIDMessage{GoalID: GoalID{Stamp: t}})
}

func (c *ActionClient) cancelGoal(id GoalID) {
	c.cancelPub.Publish(&goalIDMessage{GoalID: id})
}

// transitionAllToCancelAck moves every tracked goal stamped strictly
// before cutoff (a zero cutoff means "every goal") to WaitingForCancelAck,
// matching the cancel message CancelAll/CancelAllBefore is about to publish.
func (c *ActionClient) transitionAllToCancelAck(cutoff time.Time) {
	c.mu.Lock()
	handles := make([]*ClientGoalHandle, 0, len(c.goals))
	for _, h := range c.goals {
		handles = append(handles, h)
	}
	c.mu.Unlock()
	for _, h := range handles {
		if cutoff.IsZero() || h.id.Stamp.Before(cutoff) {
			h.transitionToCancelAck()
		}
	}
}

func (c *ActionClient) handle(id string) *ClientGoalHandle {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.goals[id]
}

// forgetGoal drops a goal's handle once it has reached Done; the server's
// status list stops reporting it on its own timeout, but the
// client removes it as soon as it has the result, rather than waiting on
// that timeout.
func (c *ActionClient) forgetGoal(id string) {
	c.mu.Lock()
	delete(c.goals, id)
	c.mu.Unlock()
}

func (c *ActionClient) onStatus(msg *statusArrayMessage) {
	for _, status := range msg.StatusList {
		if h := c.handle(status.GoalID.ID); h != nil {
			h.advance(status)
		}
	}
}

func (c *ActionClient) onFeedback(msg *actionFeedbackMessage) {
	if h := c.handle(msg.Status.GoalID.ID); h != nil {
		h.applyFeedback(msg.Feedback)
	}
}

func (c *ActionClient) onResult(msg *actionResultMessage) {
	if h := c.handle(msg.Status.GoalID.ID); h != nil {
		h.applyResult(msg.Status, msg.Result)
	}
}

// SimpleActionClient is the common case: one goal in flight at a time,
// collapsed to SimpleState.
type SimpleActionClient struct {
	client *ActionClient

	mu     sync.Mutex
	active *ClientGoalHandle
}

// NewSimpleActionClient wraps an ActionClient with the single-goal
// convenience API most callers want.
func NewSimpleActionClient(node ros.Node, namespace string, actionType ros.ActionType) *SimpleActionClient {
	return &SimpleActionClient{client: NewActionClient(node, namespace, actionType)}
}

// SendGoal replaces any currently tracked goal with a new one.
func (s *SimpleActionClient) SendGoal(goal ros.Message, doneCB func(SimpleState, ros.Message), feedbackCB func(ros.Message)) {
	var handle *ClientGoalHandle
	handle = s.client.SendGoal(goal, func(h *ClientGoalHandle) {
		if h.SimpleState() == SimpleDone && doneCB != nil {
			doneCB(SimpleDone, h.Result())
		}
	}, func(h *ClientGoalHandle, fb ros.Message) {
		if feedbackCB != nil {
			feedbackCB(fb)
		}
	})

	s.mu.Lock()
	s.active = handle
	s.mu.Unlock()
}

// CancelGoal cancels the currently tracked goal, if any.
func (s *SimpleActionClient) CancelGoal() {
	s.mu.Lock()
	h := s.active
	s.mu.Unlock()
	if h != nil {
		h.Cancel()
	}
}

// State returns the currently tracked goal's simple state.
func (s *SimpleActionClient) State() SimpleState {
	s.mu.Lock()
	h := s.active
	s.mu.Unlock()
	if h == nil {
		return SimpleDone
	}
	return h.SimpleState()
}

// Result returns the currently tracked goal's result, if it is done.
func (s *SimpleActionClient) Result() ros.Message {
	s.mu.Lock()
	h := s.active
	s.mu.Unlock()
	if h == nil {
		return nil
	}
	return h.Result()
}
