// Package format renders a Notification into the wire payload shape
// declared by a webhook sink: a default passthrough envelope, one of
// three chat-platform adapter shapes (SPEC_FULL §12 "per-sink chat-platform
// payload adapters"), or an email subject/body shape.
package format

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackdawsentry/sentry-core/internal/domain"
)

// severityColor maps a severity string to a hex accent color used by the
// card-style adapters.
func severityColor(severity string) string {
	switch severity {
	case "critical":
		return "#d42f2f"
	case "high":
		return "#e67e22"
	case "medium":
		return "#f1c40f"
	default:
		return "#3498db"
	}
}

// Render produces the JSON body for n in the given format.
func Render(f domain.PayloadFormat, n domain.Notification) ([]byte, error) {
	switch f {
	case domain.FormatChatA:
		return renderChatA(n)
	case domain.FormatChatB:
		return renderChatB(n)
	case domain.FormatChatC:
		return renderChatC(n)
	case domain.FormatEmail:
		return renderEmail(n)
	case domain.FormatDefault, "":
		return renderDefault(n)
	default:
		return nil, fmt.Errorf("unknown payload format %q", f)
	}
}

func renderDefault(n domain.Notification) ([]byte, error) {
	return json.Marshal(n)
}

// chatAPayload is an attachment-card style envelope.
type chatAPayload struct {
	Text        string           `json:"text"`
	Attachments []chatAAttachment `json:"attachments"`
}

type chatAAttachment struct {
	Color  string         `json:"color"`
	Title  string         `json:"title"`
	Text   string         `json:"text"`
	Fields []chatAField   `json:"fields"`
	Ts     int64          `json:"ts"`
}

type chatAField struct {
	Title string `json:"title"`
	Value string `json:"value"`
	Short bool   `json:"short"`
}

func renderChatA(n domain.Notification) ([]byte, error) {
	return json.Marshal(chatAPayload{
		Text: n.Message,
		Attachments: []chatAAttachment{{
			Color: severityColor(n.Severity),
			Title: n.EventType,
			Text:  n.Message,
			Fields: []chatAField{
				{Title: "severity", Value: n.Severity, Short: true},
				{Title: "event_type", Value: n.EventType, Short: true},
			},
			Ts: n.EnqueuedAt.Unix(),
		}},
	})
}

// chatBPayload is a message-card style envelope.
type chatBPayload struct {
	Type       string           `json:"@type"`
	ThemeColor string           `json:"themeColor"`
	Summary    string           `json:"summary"`
	Sections   []chatBSection   `json:"sections"`
}

type chatBSection struct {
	ActivityTitle string `json:"activityTitle"`
	Text          string `json:"text"`
}

func renderChatB(n domain.Notification) ([]byte, error) {
	return json.Marshal(chatBPayload{
		Type:       "MessageCard",
		ThemeColor: severityColor(n.Severity),
		Summary:    n.EventType,
		Sections: []chatBSection{{
			ActivityTitle: fmt.Sprintf("%s (%s)", n.EventType, n.Severity),
			Text:          n.Message,
		}},
	})
}

// chatCPayload is an embed style envelope.
type chatCPayload struct {
	Embeds []chatCEmbed `json:"embeds"`
}

type chatCEmbed struct {
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Color       int       `json:"color"`
	Timestamp   time.Time `json:"timestamp"`
}

func renderChatC(n domain.Notification) ([]byte, error) {
	return json.Marshal(chatCPayload{
		Embeds: []chatCEmbed{{
			Title:       n.EventType,
			Description: n.Message,
			Color:       colorToInt(severityColor(n.Severity)),
			Timestamp:   n.EnqueuedAt,
		}},
	})
}

func colorToInt(hex string) int {
	var v int
	fmt.Sscanf(hex, "#%x", &v)
	return v
}

type emailPayload struct {
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

func renderEmail(n domain.Notification) ([]byte, error) {
	return json.Marshal(emailPayload{
		Subject: fmt.Sprintf("[%s] %s", n.Severity, n.EventType),
		Body:    n.Message,
	})
}
