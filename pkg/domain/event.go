package domain

import "time"

// EventType identifies a lifecycle event
type EventType string

const (
	EventTypeWorkflowStarted   EventType = "WORKFLOW_STARTED"
	EventTypeWorkflowCompleted EventType = "WORKFLOW_COMPLETED"
	EventTypeWorkflowFailed    EventType = "WORKFLOW_FAILED"
	EventTypeStepStarted       EventType = "STEP_STARTED"
	EventTypeStepCompleted     EventType = "STEP_COMPLETED"
	EventTypeStepFailed        EventType = "STEP_FAILED"
	EventTypeStateChanged      EventType = "STATE_CHANGED"
)

// Event is an ephemeral lifecycle notification. It is never persisted.
type Event struct {
	ExecutionID  string                 `json:"executionId,omitempty"`
	CaseID       string                 `json:"caseId,omitempty"`
	DefinitionID string                 `json:"workflowDefinitionId,omitempty"`
	Type         EventType              `json:"eventType"`
	Message      string                 `json:"message"`
	Data         map[string]interface{} `json:"data,omitempty"`
	Timestamp    time.Time              `json:"timestamp"`
}

// NewExecutionEvent builds an event describing e
func NewExecutionEvent(e *Execution, eventType EventType, message string, data map[string]interface{}) Event {
	return Event{
		ExecutionID:  e.ID,
		CaseID:       e.CaseID,
		DefinitionID: e.DefinitionID,
		Type:         eventType,
		Message:      message,
		Data:         data,
		Timestamp:    time.Now(),
	}
}

// WelcomeEvent is the synthetic event a new subscriber receives first.
// An empty executionID denotes the global stream.
func WelcomeEvent(executionID string) Event {
	message := "Connected to workflow event stream"
	if executionID != "" {
		message = "Connected to execution event stream"
	}
	return Event{
		ExecutionID: executionID,
		Type:        EventTypeStateChanged,
		Message:     message,
		Timestamp:   time.Now(),
	}
}

// GlobalTopic is the stream every event is broadcast on
const GlobalTopic = "workflow-events"

// ExecutionTopic names the stream dedicated to one execution. An empty id
// names the global stream.
func ExecutionTopic(executionID string) string {
	if executionID == "" {
		return GlobalTopic
	}
	return GlobalTopic + "/" + executionID
}
