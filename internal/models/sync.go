package models

// SyncRequest is the push half of a sync round-trip
type SyncRequest struct {
	Changes           []*AssessmentState `json:"changes"`
	LastSyncTimestamp *string            `json:"lastSyncTimestamp"`
}

// SyncResponse is what the remote returns for a sync round-trip
type SyncResponse struct {
	Applied       []string           `json:"applied"`
	Errors        []SyncError        `json:"errors,omitempty"`
	ServerUpdates []*AssessmentState `json:"serverUpdates"`
	Timestamp     string             `json:"timestamp"`
}

// SyncError reports a change the remote refused
type SyncError struct {
	ID    string `json:"id"`
	Error string `json:"error"`
}

// ValidateChange checks a pushed state before it is stored remotely
func ValidateChange(st *AssessmentState) error {
	if err := validate.Struct(st); err != nil {
		return err
	}
	for _, a := range st.ActionPlan {
		if err := a.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// EventAssessmentsUpdated is published after the remote stored pushed changes
const EventAssessmentsUpdated = "assessments.updated"

// Event is a message of the remote update feed
type Event struct {
	Type      string   `json:"type"`
	IDs       []string `json:"ids,omitempty"`
	Countries []string `json:"countries,omitempty"`
	Timestamp string   `json:"timestamp"`
}
