// Package notifications renders and delivers multi-channel notifications
// from stored handlebars templates. Rendering runs against an entity
// snapshot captured at enqueue time, so the output reflects the state that
// triggered the notification even if the entity changes afterwards.
package notifications

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// Notification statuses
const (
	StatusPending = "pending"
	StatusSent    = "sent"
	StatusPartial = "partial"
	StatusFailed  = "failed"
)

// Delivery channels
const (
	ChannelEmail = "email"
	ChannelSMS   = "sms"
)

// NotificationTemplate holds the four template bodies for one notification
// type. Subject, text and sms bodies render as plain text; the html body
// renders with contextual escaping.
type NotificationTemplate struct {
	bun.BaseModel `bun:"table:notification_templates,alias:nt"`

	ID          uuid.UUID `bun:"id,pk,type:uuid,default:gen_random_uuid()" json:"id"`
	Name        string    `bun:"name,notnull,unique" json:"name"`
	EntityType  string    `bun:"entity_type,notnull" json:"entity_type"`
	Description string    `bun:"description,notnull,default:''" json:"description"`
	Subject     string    `bun:"subject,notnull,default:''" json:"subject"`
	HTMLBody    string    `bun:"html_body,notnull,default:''" json:"html_body"`
	TextBody    string    `bun:"text_body,notnull,default:''" json:"text_body"`
	SMSBody     string    `bun:"sms_body,notnull,default:''" json:"sms_body"`
	CreatedAt   time.Time `bun:"created_at,notnull,default:current_timestamp" json:"created_at"`
	UpdatedAt   time.Time `bun:"updated_at,notnull,default:current_timestamp" json:"updated_at"`
}

// Notification is one outbound notification instance.
type Notification struct {
	bun.BaseModel `bun:"table:notifications,alias:n"`

	ID           uuid.UUID       `bun:"id,pk,type:uuid,default:gen_random_uuid()" json:"id"`
	TemplateName string          `bun:"template_name,notnull" json:"template_name"`
	EntityType   string          `bun:"entity_type,notnull" json:"entity_type"`
	EntityID     string          `bun:"entity_id,notnull" json:"entity_id"`
	EntityData   json.RawMessage `bun:"entity_data,type:jsonb,notnull,default:'{}'" json:"entity_data"`
	ToEmail      string          `bun:"to_email,notnull,default:''" json:"to_email"`
	ToName       string          `bun:"to_name,notnull,default:''" json:"to_name"`
	Channels     []string        `bun:"channels,array" json:"channels"`

	Status        string            `bun:"status,notnull,default:'pending'" json:"status"`
	ChannelStatus map[string]string `bun:"channel_status,type:jsonb" json:"channel_status"`
	Error         *string           `bun:"error" json:"error,omitempty"`

	RenderedSubject *string `bun:"rendered_subject" json:"rendered_subject,omitempty"`
	RenderedHTML    *string `bun:"rendered_html" json:"rendered_html,omitempty"`
	RenderedText    *string `bun:"rendered_text" json:"rendered_text,omitempty"`
	RenderedSMS     *string `bun:"rendered_sms" json:"rendered_sms,omitempty"`

	SentAt    *time.Time `bun:"sent_at" json:"sent_at,omitempty"`
	CreatedAt time.Time  `bun:"created_at,notnull,default:current_timestamp" json:"created_at"`
	UpdatedAt time.Time  `bun:"updated_at,notnull,default:current_timestamp" json:"updated_at"`
}

// EntitySnapshot decodes the stored entity data for rendering.
func (n *Notification) EntitySnapshot() (map[string]any, error) {
	data := map[string]any{}
	if len(n.EntityData) == 0 {
		return data, nil
	}
	if err := json.Unmarshal(n.EntityData, &data); err != nil {
		return nil, err
	}
	return data, nil
}
