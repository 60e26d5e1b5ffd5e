package notifications

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/trellis-app/trellis-core/internal/jobs"
	"github.com/trellis-app/trellis-core/internal/mail"
	"github.com/trellis-app/trellis-core/pkg/logger"
)

// Job kinds and their queue placement. Validate and preview are interactive
// (template editor feedback), so they get a strictly lower priority value
// than bulk sends and a single attempt: retrying a syntax check is pointless.
const (
	KindSend     = "notification.send"
	KindValidate = "notification.validate"
	KindPreview  = "notification.preview"

	sendPriority    = 10
	sendMaxAttempts = 5

	interactivePriority    = 1
	interactiveMaxAttempts = 1
)

// SendArgs is the payload of a notification.send job
type SendArgs struct {
	NotificationID uuid.UUID `json:"notification_id"`
}

// ValidateArgs is the payload of a notification.validate job
type ValidateArgs struct {
	TemplateString string `json:"template_string"`
}

// PreviewArgs is the payload of a notification.preview job
type PreviewArgs struct {
	TemplateString string         `json:"template_string"`
	Flavor         Flavor         `json:"flavor"`
	EntityData     map[string]any `json:"entity_data"`
}

// store is the persistence surface the send handler needs
type store interface {
	Get(ctx context.Context, id uuid.UUID) (*Notification, error)
	GetTemplate(ctx context.Context, name string) (*NotificationTemplate, error)
	SaveResult(ctx context.Context, n *Notification) error
}

// SendHandler renders a stored notification and delivers it per channel.
type SendHandler struct {
	store    store
	renderer *Renderer
	sender   mail.Sender
	log      *slog.Logger
}

// NewSendHandler creates the notification.send handler.
func NewSendHandler(repo *Repository, renderer *Renderer, sender mail.Sender, log *slog.Logger) *SendHandler {
	return &SendHandler{
		store:    repo,
		renderer: renderer,
		sender:   sender,
		log:      log.With(logger.Scope("notifications.send")),
	}
}

// Handle renders and delivers one notification. Render failures are content
// errors: they are recorded on the notification row and never retried.
// Delivery failures are transient and retried; duplicate delivery on retry
// is an accepted trade-off of at-least-once execution.
func (h *SendHandler) Handle(ctx context.Context, job *jobs.Job) error {
	var args SendArgs
	if err := job.UnmarshalArgs(&args); err != nil {
		return jobs.Discardf("decode send args: %v", err)
	}

	n, err := h.store.Get(ctx, args.NotificationID)
	if err != nil {
		return err
	}
	if n.Status == StatusSent {
		// Re-invoked after a crash between delivery and job completion
		h.log.Info("notification already sent, skipping",
			slog.String("notification_id", n.ID.String()))
		return nil
	}

	tpl, err := h.store.GetTemplate(ctx, n.TemplateName)
	if errors.Is(err, ErrNotFound) {
		return h.failPermanently(ctx, n, err)
	}
	if err != nil {
		return err
	}

	entity, err := n.EntitySnapshot()
	if err != nil {
		return h.failPermanently(ctx, n, fmt.Errorf("decode entity snapshot: %w", err))
	}

	rendered, err := h.renderer.RenderTemplate(tpl, entity)
	if err != nil {
		return h.failPermanently(ctx, n, err)
	}

	n.RenderedSubject = &rendered.Subject
	n.RenderedHTML = &rendered.HTML
	n.RenderedText = &rendered.Text
	if rendered.SMS != "" {
		n.RenderedSMS = &rendered.SMS
	}
	if n.ChannelStatus == nil {
		n.ChannelStatus = map[string]string{}
	}

	var deliveryErr error
	for _, channel := range n.Channels {
		switch channel {
		case ChannelEmail:
			err := h.sender.Send(ctx, mail.SendOptions{
				ToEmail:  n.ToEmail,
				ToName:   n.ToName,
				Subject:  rendered.Subject,
				HTMLBody: rendered.HTML,
				TextBody: rendered.Text,
			})
			if err != nil {
				n.ChannelStatus[channel] = "failed"
				deliveryErr = err
				continue
			}
			n.ChannelStatus[channel] = "sent"
		case ChannelSMS:
			// No SMS transport; the rendered body is persisted for an
			// external gateway to pick up
			if n.RenderedSMS != nil {
				n.ChannelStatus[channel] = "rendered"
			} else {
				n.ChannelStatus[channel] = "skipped"
			}
		default:
			n.ChannelStatus[channel] = "unknown"
		}
	}

	if deliveryErr != nil {
		msg := deliveryErr.Error()
		n.Error = &msg
		if job.Attempt >= job.MaxAttempts {
			n.Status = StatusFailed
		} else {
			n.Status = StatusPartial
		}
		if err := h.store.SaveResult(ctx, n); err != nil {
			return err
		}
		return deliveryErr
	}

	now := time.Now()
	n.Status = StatusSent
	n.SentAt = &now
	n.Error = nil
	return h.store.SaveResult(ctx, n)
}

// failPermanently records a content error on the notification and discards
// the job: retrying cannot fix a bad template or snapshot.
func (h *SendHandler) failPermanently(ctx context.Context, n *Notification, cause error) error {
	msg := cause.Error()
	n.Status = StatusFailed
	n.Error = &msg
	if err := h.store.SaveResult(ctx, n); err != nil {
		return err
	}
	return jobs.Discard(cause)
}

// ValidateHandler parses a template string for authoring feedback. The
// outcome is observed through the job row: completed means valid, discarded
// carries the syntax error.
type ValidateHandler struct {
	renderer *Renderer
}

// NewValidateHandler creates the notification.validate handler.
func NewValidateHandler(renderer *Renderer) *ValidateHandler {
	return &ValidateHandler{renderer: renderer}
}

func (h *ValidateHandler) Handle(ctx context.Context, job *jobs.Job) error {
	var args ValidateArgs
	if err := job.UnmarshalArgs(&args); err != nil {
		return jobs.Discardf("decode validate args: %v", err)
	}

	if err := h.renderer.Validate(args.TemplateString); err != nil {
		return jobs.Discard(err)
	}
	return nil
}

// PreviewHandler renders a template string against sample data.
type PreviewHandler struct {
	renderer *Renderer
	log      *slog.Logger
}

// NewPreviewHandler creates the notification.preview handler.
func NewPreviewHandler(renderer *Renderer, log *slog.Logger) *PreviewHandler {
	return &PreviewHandler{
		renderer: renderer,
		log:      log.With(logger.Scope("notifications.preview")),
	}
}

func (h *PreviewHandler) Handle(ctx context.Context, job *jobs.Job) error {
	var args PreviewArgs
	if err := job.UnmarshalArgs(&args); err != nil {
		return jobs.Discardf("decode preview args: %v", err)
	}

	flavor := args.Flavor
	if flavor == "" {
		flavor = FlavorText
	}

	out, err := h.renderer.Preview(args.TemplateString, flavor, args.EntityData)
	if err != nil {
		return jobs.Discard(err)
	}

	h.log.Debug("preview rendered",
		slog.String("job_id", job.ID.String()),
		slog.Int("output_bytes", len(out)),
	)
	return nil
}
