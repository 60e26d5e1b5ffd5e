package notifications

import (
	"fmt"

	"github.com/aymerick/raymond"
)

// Flavor selects the escaping behavior of a render.
type Flavor string

const (
	// FlavorHTML escapes interpolated values. Rendered HTML goes into email
	// clients without further sanitization, so escaping here is the only
	// XSS defense.
	FlavorHTML Flavor = "html"
	// FlavorText performs no escaping. Subjects, text bodies and SMS carry
	// no injection risk, and escaped entities would be visible garbage.
	FlavorText Flavor = "text"
)

// Rendered holds the output of rendering a full template set.
type Rendered struct {
	Subject string
	HTML    string
	Text    string
	// SMS is empty when the template has no sms body; that is not an error,
	// the channel is simply not produced.
	SMS string
}

// Renderer executes notification templates. Templates see exactly two
// top-level values: Entity (the snapshot) and Metadata (site info). Missing
// fields resolve to empty output rather than raising.
type Renderer struct {
	formatters *Formatters
	baseURL    string
}

// NewRenderer creates a renderer with the given formatters and site base URL.
func NewRenderer(formatters *Formatters, baseURL string) *Renderer {
	return &Renderer{formatters: formatters, baseURL: baseURL}
}

// Validate parses the template source without executing it, for live
// authoring feedback. The two flavors share one syntax, so one parse covers
// both.
func (r *Renderer) Validate(source string) error {
	if _, err := raymond.Parse(source); err != nil {
		return fmt.Errorf("template syntax error: %w", err)
	}
	return nil
}

// RenderString parses and executes one template source against an entity
// snapshot.
func (r *Renderer) RenderString(source string, flavor Flavor, entity map[string]any) (string, error) {
	tpl, err := raymond.Parse(source)
	if err != nil {
		return "", fmt.Errorf("template syntax error: %w", err)
	}
	tpl.RegisterHelpers(r.helpers(flavor))

	out, err := tpl.Exec(r.context(flavor, entity))
	if err != nil {
		return "", fmt.Errorf("template execution error: %w", err)
	}
	return out, nil
}

// RenderTemplate renders all bodies of a template set against one snapshot.
// Any body failing to parse or execute aborts the whole render with the
// body's name in the error.
func (r *Renderer) RenderTemplate(tpl *NotificationTemplate, entity map[string]any) (*Rendered, error) {
	out := &Rendered{}

	bodies := []struct {
		name   string
		source string
		flavor Flavor
		dest   *string
	}{
		{"subject", tpl.Subject, FlavorText, &out.Subject},
		{"html_body", tpl.HTMLBody, FlavorHTML, &out.HTML},
		{"text_body", tpl.TextBody, FlavorText, &out.Text},
		{"sms_body", tpl.SMSBody, FlavorText, &out.SMS},
	}

	for _, body := range bodies {
		if body.source == "" {
			continue
		}
		rendered, err := r.RenderString(body.source, body.flavor, entity)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", body.name, err)
		}
		*body.dest = rendered
	}
	return out, nil
}

// Preview renders a single supplied template source against caller-supplied
// sample data, bypassing any persisted notification.
func (r *Renderer) Preview(source string, flavor Flavor, sample map[string]any) (string, error) {
	return r.RenderString(source, flavor, sample)
}

// context builds the execution context. In the text flavor every string leaf
// is wrapped as a SafeString so raymond's automatic HTML escaping becomes a
// no-op; the HTML flavor leaves plain strings in place to be escaped.
func (r *Renderer) context(flavor Flavor, entity map[string]any) map[string]any {
	var entityValue any = entity
	metadata := map[string]any{"BaseURL": r.baseURL}

	if flavor == FlavorText {
		entityValue = wrapStrings(entity)
	}

	return map[string]any{
		"Entity":   entityValue,
		"Metadata": metadata,
	}
}

// helpers returns the formatter functions for one flavor. Text-flavor
// helpers return SafeString so their output is not escaped; HTML-flavor
// helpers return plain strings and get escaped like any other value.
func (r *Renderer) helpers(flavor Flavor) map[string]interface{} {
	wrap := func(f func(interface{}) string) interface{} {
		if flavor == FlavorText {
			return func(v interface{}) raymond.SafeString {
				return raymond.SafeString(f(v))
			}
		}
		return f
	}

	return map[string]interface{}{
		"formatTimeRange": wrap(r.formatters.TimeRange),
		"formatDateTime":  wrap(r.formatters.DateTime),
		"formatDate":      wrap(r.formatters.Date),
		"formatCurrency":  wrap(r.formatters.Currency),
		"formatPhone":     wrap(r.formatters.Phone),
	}
}

// wrapStrings recursively wraps string leaves in SafeString.
func wrapStrings(value any) any {
	switch v := value.(type) {
	case string:
		return raymond.SafeString(v)
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, item := range v {
			out[k] = wrapStrings(item)
		}
		return out
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = wrapStrings(item)
		}
		return out
	default:
		return v
	}
}
