package actionlib

import (
	"sync"
	"time"

	"github.com/fetchrobotics/rosgo/ros"
)

// ServerGoalHandle is the server-side state for one accepted goal.
type ServerGoalHandle struct {
	server *ActionServer
	id     GoalID
	goal   ros.Message

	mu         sync.Mutex
	status     GoalStatus
	terminalAt time.Time
	canceled   bool
}

// GoalID returns the handle's goal identifier.
func (h *ServerGoalHandle) GoalID() GoalID { return h.id }

// Goal returns the goal payload the client sent.
func (h *ServerGoalHandle) Goal() ros.Message { return h.goal }

// IsCancelRequested reports whether a cancel request has matched this goal.
func (h *ServerGoalHandle) IsCancelRequested() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.canceled
}

// SetAccepted moves the goal from PENDING to ACTIVE.
func (h *ServerGoalHandle) SetAccepted(text string) {
	h.setStatus(StatusActive, text, false)
}

// SetRejected terminates the goal without ever running it.
func (h *ServerGoalHandle) SetRejected(text string) {
	h.setStatus(StatusRejected, text, true)
}

// SetSucceeded terminates the goal successfully and publishes result.
func (h *ServerGoalHandle) SetSucceeded(result ros.Message, text string) {
	h.finishWithResult(StatusSucceeded, text, result)
}

// SetAborted terminates the goal unsuccessfully and publishes result.
func (h *ServerGoalHandle) SetAborted(result ros.Message, text string) {
	h.finishWithResult(StatusAborted, text, result)
}

// SetCanceled terminates the goal in response to a cancel request,
// publishing result. The status is RECALLED if the goal never reached
// ACTIVE, PREEMPTED otherwise.
func (h *ServerGoalHandle) SetCanceled(result ros.Message, text string) {
	h.mu.Lock()
	wasActive := h.status.Status == StatusActive || h.status.Status == StatusPreempting
	h.mu.Unlock()
	status := StatusRecalled
	if wasActive {
		status = StatusPreempted
	}
	h.finishWithResult(status, text, result)
}

// PublishFeedback sends one feedback message for this goal.
func (h *ServerGoalHandle) PublishFeedback(feedback ros.Message) {
	h.mu.Lock()
	status := h.status
	h.mu.Unlock()

	wrapper := newActionFeedbackMessage(h.server.actionType)
	wrapper.Status = status
	wrapper.Feedback = feedback
	h.server.feedbackPub.Publish(wrapper)
}

func (h *ServerGoalHandle) setStatus(status uint8, text string, terminal bool) {
	h.mu.Lock()
	h.status.Status = status
	h.status.Text = text
	if terminal {
		h.terminalAt = time.Now()
	}
	h.mu.Unlock()
}

func (h *ServerGoalHandle) finishWithResult(status uint8, text string, result ros.Message) {
	h.setStatus(status, text, true)

	h.mu.Lock()
	goalStatus := h.status
	h.mu.Unlock()

	wrapper := newActionResultMessage(h.server.actionType)
	wrapper.Status = goalStatus
	wrapper.Result = result
	h.server.resultPub.Publish(wrapper)
}

func (h *ServerGoalHandle) isTerminal() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return !h.terminalAt.IsZero()
}

func (h *ServerGoalHandle) requestCancel() {
	h.mu.Lock()
	if h.canceled || !h.terminalAt.IsZero() {
		h.mu.Unlock()
		return
	}
	h.canceled = true
	if h.status.Status == StatusActive {
		h.status.Status = StatusPreempting
	} else {
		h.status.Status = StatusRecalling
	}
	h.mu.Unlock()
}

func (h *ServerGoalHandle) snapshotStatus() GoalStatus {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.status
}

// ActionServer is the server half of the actionlib protocol.
// GoalCallback is invoked in its own goroutine for every accepted goal;
// CancelCallback (optional) is invoked synchronously whenever a cancel
// request matches a tracked goal that is not yet terminal, in addition to the handle's
// IsCancelRequested() flag being set.
type ActionServer struct {
	node       ros.Node
	namespace  string
	actionType ros.ActionType

	statusPub   ros.Publisher
	feedbackPub ros.Publisher
	resultPub   ros.Publisher

	statusListTimeout time.Duration
	statusRate        time.Duration

	goalCallback   func(*ServerGoalHandle)
	cancelCallback func(*ServerGoalHandle)

	mu    sync.Mutex
	goals map[string]*ServerGoalHandle

	shutdownChan chan struct{}
}

// ActionServerOption customizes an ActionServer.
type ActionServerOption func(s *ActionServer)

// StatusListTimeout sets how long a terminal goal lingers in the status
// list before being dropped (default 5s, matching actionlib).
func StatusListTimeout(d time.Duration) ActionServerOption {
	return func(s *ActionServer) { s.statusListTimeout = d }
}

// StatusPublishRate sets how often the status list is republished.
func StatusPublishRate(d time.Duration) ActionServerOption {
	return func(s *ActionServer) { s.statusRate = d }
}

// NewActionServer wires up the action namespace's five topics and starts
// the periodic status publisher. goalCB is required; cancelCB may be nil.
func NewActionServer(node ros.Node, namespace string, actionType ros.ActionType, goalCB func(*ServerGoalHandle), cancelCB func(*ServerGoalHandle), opts ...ActionServerOption) *ActionServer {
	s := &ActionServer{
		node:              node,
		namespace:         namespace,
		actionType:        actionType,
		statusListTimeout: 5 * time.Second,
		statusRate:        200 * time.Millisecond,
		goalCallback:      goalCB,
		cancelCallback:    cancelCB,
		goals:             make(map[string]*ServerGoalHandle),
		shutdownChan:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.statusPub = node.NewPublisher(namespace+"/status", statusArrayMessageType())
	s.feedbackPub = node.NewPublisherWithOptions(namespace+"/feedback", wrapperType(actionType, "Feedback", func() ros.Message { return newActionFeedbackMessage(actionType) }))
	s.resultPub = node.NewPublisherWithOptions(namespace+"/result", wrapperType(actionType, "Result", func() ros.Message { return newActionResultMessage(actionType) }))

	node.NewSubscriber(namespace+"/goal", wrapperType(actionType, "Goal", func() ros.Message { return newActionGoalMessage(actionType) }), func(msg ros.Message) {
		s.onGoal(msg.(*actionGoalMessage))
	})
	node.NewSubscriber(namespace+"/cancel", goalIDMessageType(), func(msg ros.Message) {
		s.onCancel(msg.(*goalIDMessage))
	})

	go s.publishStatusLoop()
	return s
}

// Shutdown stops the periodic status publisher. Topic teardown is handled
// by the owning Node's Shutdown.
func (s *ActionServer) Shutdown() {
	close(s.shutdownChan)
}

func (s *ActionServer) onGoal(msg *actionGoalMessage) {
	handle := &ServerGoalHandle{
		server: s,
		id:     msg.GoalID,
		goal:   msg.Goal,
		status: GoalStatus{GoalID: msg.GoalID, Status: StatusPending},
	}

	s.mu.Lock()
	s.goals[handle.id.ID] = handle
	s.mu.Unlock()

	if s.goalCallback != nil {
		go s.goalCallback(handle)
	}
}

// onCancel applies the actionlib cancel matching rules: an empty id with a
// zero timestamp cancels everything; a non-empty id matches exactly; a
// non-zero timestamp with no id cancels every goal stamped strictly
// earlier.
func (s *ActionServer) onCancel(msg *goalIDMessage) {
	s.mu.Lock()
	handles := make([]*ServerGoalHandle, 0, len(s.goals))
	for _, h := range s.goals {
		handles = append(handles, h)
	}
	s.mu.Unlock()

	for _, h := range handles {
		if !cancelMatches(msg.GoalID, h.id) {
			continue
		}
		if h.isTerminal() {
			continue
		}
		h.requestCancel()
		if s.cancelCallback != nil {
			s.cancelCallback(h)
		}
	}
}

func cancelMatches(cancel, goal GoalID) bool {
	switch {
	case cancel.ID == "" && cancel.Stamp.IsZero():
		return true
	case cancel.ID != "":
		return cancel.ID == goal.ID
	default:
		return goal.Stamp.Before(cancel.Stamp)
	}
}

func (s *ActionServer) publishStatusLoop() {
	ticker := time.NewTicker(s.statusRate)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.publishStatus()
		case <-s.shutdownChan:
			return
		}
	}
}

func (s *ActionServer) publishStatus() {
	now := time.Now()
	s.mu.Lock()
	statuses := make([]GoalStatus, 0, len(s.goals))
	for id, h := range s.goals {
		if h.isTerminal() {
			h.mu.Lock()
			expired := now.Sub(h.terminalAt) > s.statusListTimeout
			h.mu.Unlock()
			if expired {
				delete(s.goals, id)
				continue
			}
		}
		statuses = append(statuses, h.snapshotStatus())
	}
	s.mu.Unlock()

	s.statusPub.Publish(&statusArrayMessage{GoalStatusArray{StatusList: statuses}})
}
