// internal/models/notification.go
package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

type JobStatus string

const (
	StatusPending    JobStatus = "pending"
	StatusProcessing JobStatus = "processing"
	StatusSent       JobStatus = "sent"
	StatusFailed     JobStatus = "failed"
)

// Job kinds produced upstream. Other kinds pass through untouched.
const (
	KindTournamentElimination = "tournament_elimination"
	KindRoundEnd              = "round_end"
	KindDailyOpen             = "daily_open"
)

// NotificationJob is one queued push notification, owned by the job store.
type NotificationJob struct {
	ID              string    `db:"id" json:"id"`
	Kind            string    `db:"kind" json:"kind"`
	TournamentID    *string   `db:"tournament_id" json:"tournamentId,omitempty"`
	RecipientUserID string    `db:"recipient_user_id" json:"recipientUserId"`
	Payload         Payload   `db:"payload" json:"payload"`
	Status          JobStatus `db:"status" json:"status"`
	Attempts        int       `db:"attempts" json:"attempts"`
	LastError       *string   `db:"last_error" json:"lastError,omitempty"`
	CreatedAt       time.Time `db:"created_at" json:"createdAt"`
	UpdatedAt       time.Time `db:"updated_at" json:"updatedAt"`
}

const (
	keyTitle      = "title"
	keyBody       = "body"
	keySound      = "sound"
	keyNavigateTo = "navigateTo"
)

// Payload is the notification envelope stored with a job. The recognized
// fields are typed; every other key lands in Extra. Extra never holds
// "sound", so anything copied from it cannot carry a transport sound.
type Payload struct {
	Title      *string
	Body       *string
	Sound      *string
	NavigateTo *string
	Extra      map[string]interface{}
}

// NewPayload builds a Payload from an open map, as a producer would store it.
func NewPayload(raw map[string]interface{}) Payload {
	var p Payload
	for k, v := range raw {
		s, isString := v.(string)
		switch k {
		case keySound:
			if isString {
				p.Sound = &s
			}
			continue
		case keyTitle:
			if isString {
				p.Title = &s
				continue
			}
		case keyBody:
			if isString {
				p.Body = &s
				continue
			}
		case keyNavigateTo:
			if isString {
				p.NavigateTo = &s
				continue
			}
		}
		if p.Extra == nil {
			p.Extra = make(map[string]interface{})
		}
		p.Extra[k] = v
	}
	return p
}

// Map flattens the payload back into an open map, sound included.
func (p Payload) Map() map[string]interface{} {
	out := p.Passthrough()
	if p.Sound != nil {
		out[keySound] = *p.Sound
	}
	return out
}

// Passthrough returns every payload field that may ride along in message
// data. Sound is never part of it.
func (p Payload) Passthrough() map[string]interface{} {
	out := make(map[string]interface{}, len(p.Extra)+3)
	for k, v := range p.Extra {
		out[k] = v
	}
	if p.Title != nil {
		out[keyTitle] = *p.Title
	}
	if p.Body != nil {
		out[keyBody] = *p.Body
	}
	if p.NavigateTo != nil {
		out[keyNavigateTo] = *p.NavigateTo
	}
	return out
}

func (p Payload) MarshalJSON() ([]byte, error) {
	return json.Marshal(p.Map())
}

func (p *Payload) UnmarshalJSON(data []byte) error {
	var raw map[string]interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*p = NewPayload(raw)
	return nil
}

// Scan reads a JSON/JSONB column.
func (p *Payload) Scan(src interface{}) error {
	switch v := src.(type) {
	case nil:
		*p = Payload{}
		return nil
	case []byte:
		if len(v) == 0 {
			*p = Payload{}
			return nil
		}
		return p.UnmarshalJSON(v)
	case string:
		if v == "" {
			*p = Payload{}
			return nil
		}
		return p.UnmarshalJSON([]byte(v))
	default:
		return fmt.Errorf("payload: unsupported column type %T", src)
	}
}

func (p Payload) Value() (driver.Value, error) {
	b, err := p.MarshalJSON()
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Device is a push destination registered for a user. Externally owned.
type Device struct {
	UserID    string `json:"userId"`
	PushToken string `json:"pushToken"`
	Platform  string `json:"platform"`
}

// HistoryRecord is appended once per delivered job.
type HistoryRecord struct {
	UserID  string                 `json:"user_id"`
	Type    string                 `json:"type"`
	Payload map[string]interface{} `json:"payload"`
}

// NewHistoryRecord snapshots the job payload with the delivery facts.
func NewHistoryRecord(job NotificationJob, deviceCount int) HistoryRecord {
	snapshot := job.Payload.Map()
	snapshot["deviceCount"] = deviceCount
	snapshot["jobId"] = job.ID
	return HistoryRecord{
		UserID:  job.RecipientUserID,
		Type:    job.Kind,
		Payload: snapshot,
	}
}
