package notify

import (
	"fmt"
	"sync"

	"github.com/osteele/liquid"

	"github.com/atelier-ec/newsletter/internal/domain"
)

// Renderer renders notification emails from Liquid templates. Rendering is
// lax: a placeholder with no binding becomes an empty string, so a sparse
// catalog event still produces a sendable message.
type Renderer struct {
	engine *liquid.Engine
	cache  sync.Map // template source -> *liquid.Template
}

// NewRenderer creates a renderer with the default engine.
func NewRenderer() *Renderer {
	return &Renderer{engine: liquid.NewEngine()}
}

// Render renders a template source against the given bindings.
func (r *Renderer) Render(source string, bindings map[string]any) (string, error) {
	var tpl *liquid.Template
	if cached, ok := r.cache.Load(source); ok {
		tpl = cached.(*liquid.Template)
	} else {
		parsed, err := r.engine.ParseString(source)
		if err != nil {
			return "", fmt.Errorf("parse template: %w", err)
		}
		r.cache.Store(source, parsed)
		tpl = parsed
	}

	out, err := tpl.RenderString(bindings)
	if err != nil {
		return "", fmt.Errorf("render template: %w", err)
	}
	return out, nil
}

// Message is a rendered notification ready to hand to the provider.
type Message struct {
	Subject string
	HTML    string
}

// RenderEvent renders the subject and body for a catalog event. extra
// bindings (e.g. a per-recipient unsubscribe URL) are merged over the event's
// own fields.
func (r *Renderer) RenderEvent(event domain.CatalogEvent, extra map[string]any) (Message, error) {
	tpl, ok := eventTemplates[event.Kind]
	if !ok {
		return Message{}, fmt.Errorf("no template for event kind %q", event.Kind)
	}

	bindings := map[string]any{
		"title":       event.Title,
		"description": event.Description,
		"image_url":   event.ImageURL,
		"price":       event.Price,
		"date":        event.Date,
		"location":    event.Location,
	}
	for k, v := range extra {
		bindings[k] = v
	}

	subject, err := r.Render(tpl.subject, bindings)
	if err != nil {
		return Message{}, err
	}
	html, err := r.Render(tpl.body, bindings)
	if err != nil {
		return Message{}, err
	}
	return Message{Subject: subject, HTML: html}, nil
}

type eventTemplate struct {
	subject string
	body    string
}

var eventTemplates = map[domain.CatalogEventKind]eventTemplate{
	domain.EventArtworkCreated: {
		subject: "New artwork in the gallery: {{ title }}",
		body: `<html><body>
<h1>{{ title }}</h1>
{% if image_url != "" %}<img src="{{ image_url }}" alt="{{ title }}" style="max-width:600px;"/>{% endif %}
<p>{{ description }}</p>
{% if price != "" %}<p><strong>{{ price }}</strong></p>{% endif %}
<p><a href="{{ artwork_url }}">View in the gallery</a></p>
{% if unsubscribe_url != "" %}<p style="font-size:12px;color:#888;"><a href="{{ unsubscribe_url }}">Unsubscribe</a></p>{% endif %}
</body></html>`,
	},
	domain.EventArtworkRemoved: {
		subject: "No longer available: {{ title }}",
		body: `<html><body>
<h1>{{ title }}</h1>
<p>This piece has found a home and is no longer available.</p>
<p>{{ description }}</p>
{% if unsubscribe_url != "" %}<p style="font-size:12px;color:#888;"><a href="{{ unsubscribe_url }}">Unsubscribe</a></p>{% endif %}
</body></html>`,
	},
	domain.EventEventCreated: {
		subject: "You're invited: {{ title }}",
		body: `<html><body>
<h1>{{ title }}</h1>
<p>{{ description }}</p>
{% if date != "" %}<p>When: {{ date }}</p>{% endif %}
{% if location != "" %}<p>Where: {{ location }}</p>{% endif %}
{% if unsubscribe_url != "" %}<p style="font-size:12px;color:#888;"><a href="{{ unsubscribe_url }}">Unsubscribe</a></p>{% endif %}
</body></html>`,
	},
}
