// internal/push/message.go
package push

import (
	"push-dispatcher/internal/models"
)

const (
	DefaultTitle      = "FootyTrail"
	DefaultBody       = "Open challenge"
	DefaultNavigateTo = "/(tabs)/tournaments"
	DefaultSound      = "default"
	DefaultChannelID  = "default"
	PriorityHigh      = "high"
)

// Message is one gateway message addressed to a single device token.
type Message struct {
	To        string                 `json:"to"`
	Title     string                 `json:"title"`
	Body      string                 `json:"body"`
	Sound     string                 `json:"sound"`
	ChannelID string                 `json:"channelId"`
	Priority  string                 `json:"priority"`
	Data      map[string]interface{} `json:"data"`
}

// BuildMessages renders one message per device, in device order. The output
// depends only on its inputs.
func BuildMessages(job models.NotificationJob, devices []models.Device) []Message {
	if len(devices) == 0 {
		return []Message{}
	}

	p := job.Payload
	title := valueOr(p.Title, DefaultTitle)
	body := valueOr(p.Body, DefaultBody)
	navigateTo := valueOr(p.NavigateTo, DefaultNavigateTo)

	sound := DefaultSound
	if p.Sound != nil && *p.Sound != "" {
		sound = *p.Sound
	}

	var tournamentID interface{}
	if job.TournamentID != nil {
		tournamentID = *job.TournamentID
	}

	msgs := make([]Message, 0, len(devices))
	for _, d := range devices {
		data := p.Passthrough()
		data["navigateTo"] = navigateTo
		data["jobId"] = job.ID
		data["kind"] = job.Kind
		data["tournamentId"] = tournamentID

		msgs = append(msgs, Message{
			To:        d.PushToken,
			Title:     title,
			Body:      body,
			Sound:     sound,
			ChannelID: DefaultChannelID,
			Priority:  PriorityHigh,
			Data:      data,
		})
	}
	return msgs
}

func valueOr(v *string, fallback string) string {
	if v == nil {
		return fallback
	}
	return *v
}
