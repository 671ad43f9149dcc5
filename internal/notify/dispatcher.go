// Package notify fans catalog events out to the newsletter audience.
//
// Two delivery models exist. Broadcast hands the whole send to the provider
// as a single group campaign, so delivery is all-or-nothing from our side.
// Per-recipient renders one message per confirmed subscriber with their own
// unsubscribe link embedded, isolating failures to individual recipients.
// In both models send counters only move for sends that actually went out.
package notify

import (
	"context"
	"fmt"

	"github.com/atelier-ec/newsletter/internal/domain"
	"github.com/atelier-ec/newsletter/internal/pkg/logger"
)

// Delivery model names accepted in configuration.
const (
	ModeBroadcast    = "broadcast"
	ModePerRecipient = "per_recipient"
)

// SubscriberStore is the slice of the registry the dispatcher needs.
type SubscriberStore interface {
	ActiveForBroadcast(ctx context.Context) ([]*domain.Subscriber, error)
	RecordSend(ctx context.Context, emails []string) error
}

// Broadcaster sends one campaign to the whole newsletter group.
type Broadcaster interface {
	EnsureGroup(ctx context.Context) (string, error)
	SendCampaign(ctx context.Context, groupID, name, subject, htmlContent string) error
}

// RecipientSender delivers a single rendered message to one address. Used
// only in per-recipient mode.
type RecipientSender interface {
	Send(ctx context.Context, email, subject, htmlContent string) error
}

// TokenIssuer issues per-recipient unsubscribe tokens.
type TokenIssuer interface {
	Unsubscribe(email string) (string, error)
}

// Dispatcher turns catalog events into outbound notifications.
type Dispatcher struct {
	store       SubscriberStore
	broadcaster Broadcaster
	sender      RecipientSender
	tokens      TokenIssuer
	renderer    *Renderer
	apiURL      string
	frontendURL string
	mode        string
}

// NewDispatcher creates a dispatcher. apiURL is the public base of this
// service, used for per-recipient unsubscribe links; frontendURL is the
// storefront base used for artwork and event links. An unknown mode falls
// back to broadcast.
func NewDispatcher(store SubscriberStore, broadcaster Broadcaster, sender RecipientSender, tokens TokenIssuer, renderer *Renderer, apiURL, frontendURL, mode string) *Dispatcher {
	if mode != ModePerRecipient {
		mode = ModeBroadcast
	}
	return &Dispatcher{
		store:       store,
		broadcaster: broadcaster,
		sender:      sender,
		tokens:      tokens,
		renderer:    renderer,
		apiURL:      apiURL,
		frontendURL: frontendURL,
		mode:        mode,
	}
}

// Dispatch sends the notification for one catalog event. The returned result
// is informational; errors never propagate to whoever triggered the event.
func (d *Dispatcher) Dispatch(ctx context.Context, event domain.CatalogEvent) domain.DispatchResult {
	recipients, err := d.store.ActiveForBroadcast(ctx)
	if err != nil {
		logger.Error("load broadcast recipients", "kind", string(event.Kind), "error", err.Error())
		return domain.DispatchResult{Failed: 0, Errors: []string{fmt.Sprintf("load recipients: %v", err)}}
	}
	if len(recipients) == 0 {
		logger.Info("no active subscribers, skipping dispatch", "kind", string(event.Kind))
		return domain.DispatchResult{}
	}

	if d.mode == ModePerRecipient && d.sender != nil {
		return d.dispatchPerRecipient(ctx, event, recipients)
	}
	return d.dispatchBroadcast(ctx, event, recipients)
}

func (d *Dispatcher) dispatchBroadcast(ctx context.Context, event domain.CatalogEvent, recipients []*domain.Subscriber) domain.DispatchResult {
	msg, err := d.renderer.RenderEvent(event, map[string]any{
		"artwork_url": d.entityURL(event),
	})
	if err != nil {
		return domain.DispatchResult{Failed: len(recipients), Errors: []string{err.Error()}}
	}

	groupID, err := d.broadcaster.EnsureGroup(ctx)
	if err != nil {
		return domain.DispatchResult{Failed: len(recipients), Errors: []string{err.Error()}}
	}

	name := string(event.Kind) + "-" + event.EntityID
	if err := d.broadcaster.SendCampaign(ctx, groupID, name, msg.Subject, msg.HTML); err != nil {
		logger.Error("broadcast failed", "kind", string(event.Kind), "error", err.Error())
		return domain.DispatchResult{Failed: len(recipients), Errors: []string{err.Error()}}
	}

	emails := make([]string, len(recipients))
	for i, r := range recipients {
		emails[i] = r.Email
	}
	if err := d.store.RecordSend(ctx, emails); err != nil {
		// The send went out; a counter failure is not a dispatch failure.
		logger.Warn("record sends after broadcast", "error", err.Error())
	}
	return domain.DispatchResult{Sent: len(recipients)}
}

func (d *Dispatcher) dispatchPerRecipient(ctx context.Context, event domain.CatalogEvent, recipients []*domain.Subscriber) domain.DispatchResult {
	var result domain.DispatchResult
	var sent []string

	for _, r := range recipients {
		msg, err := d.renderMessage(event, r.Email)
		if err == nil {
			err = d.sender.Send(ctx, r.Email, msg.Subject, msg.HTML)
		}
		if err != nil {
			result.Failed++
			result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", logger.RedactEmail(r.Email), err))
			continue
		}
		result.Sent++
		sent = append(sent, r.Email)
	}

	if len(sent) > 0 {
		if err := d.store.RecordSend(ctx, sent); err != nil {
			logger.Warn("record sends after dispatch", "error", err.Error())
		}
	}
	return result
}

func (d *Dispatcher) renderMessage(event domain.CatalogEvent, email string) (Message, error) {
	extra := map[string]any{
		"artwork_url": d.entityURL(event),
	}
	tok, err := d.tokens.Unsubscribe(email)
	if err != nil {
		return Message{}, fmt.Errorf("issue unsubscribe token: %w", err)
	}
	extra["unsubscribe_url"] = d.apiURL + "/api/newsletter/unsubscribe?token=" + tok
	return d.renderer.RenderEvent(event, extra)
}

func (d *Dispatcher) entityURL(event domain.CatalogEvent) string {
	switch event.Kind {
	case domain.EventEventCreated:
		return d.frontendURL + "/events/" + event.EntityID
	default:
		return d.frontendURL + "/artworks/" + event.EntityID
	}
}
