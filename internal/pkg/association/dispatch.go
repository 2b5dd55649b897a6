package association

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/gofiber/fiber/v2/log"
)

// Handler handles one provider event payload.
type Handler interface {
	Handle(ctx context.Context, payload []byte) (Outcome, error)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, payload []byte) (Outcome, error)

func (f HandlerFunc) Handle(ctx context.Context, payload []byte) (Outcome, error) {
	return f(ctx, payload)
}

// Route identifies a handler by provider and provider event type.
type Route struct {
	Provider  string
	EventType string
}

func (r Route) String() string {
	return r.Provider + "/" + r.EventType
}

// Dispatcher is the (provider, event type) -> Handler table. It is built once
// at startup and passed to the webhook layer.
type Dispatcher struct {
	handlers map[Route]Handler
}

func NewDispatcher() *Dispatcher {
	return &Dispatcher{handlers: make(map[Route]Handler)}
}

// Register adds a handler. Registering the same route twice panics, as it is
// a wiring mistake.
func (d *Dispatcher) Register(provider, eventType string, h Handler) *Dispatcher {
	r := Route{Provider: normalizeKey(provider), EventType: normalizeKey(eventType)}
	if _, ok := d.handlers[r]; ok {
		panic(fmt.Sprintf("association: handler for %s registered twice", r))
	}
	d.handlers[r] = h
	return d
}

// Handles reports whether a handler exists for the route.
func (d *Dispatcher) Handles(provider, eventType string) bool {
	_, ok := d.handlers[Route{Provider: normalizeKey(provider), EventType: normalizeKey(eventType)}]
	return ok
}

// Routes lists the registered routes in stable order.
func (d *Dispatcher) Routes() []Route {
	out := make([]Route, 0, len(d.handlers))
	for r := range d.handlers {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out
}

// Dispatch runs the handler registered for the route. Unknown routes are skipped.
func (d *Dispatcher) Dispatch(ctx context.Context, provider, eventType string, payload []byte) (Outcome, error) {
	r := Route{Provider: normalizeKey(provider), EventType: normalizeKey(eventType)}
	h, ok := d.handlers[r]
	if !ok {
		return Skipped("unhandled event type " + r.String()), nil
	}
	return h.Handle(ctx, payload)
}

func normalizeKey(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// ClaimBuilder is a provider adapter: it turns a raw payload into a claim.
// Ineligible events return an error wrapping ErrIneligible, policy
// violations return one of the policy sentinels, anything else is a
// transport or infrastructure failure.
type ClaimBuilder interface {
	BuildClaim(ctx context.Context, payload []byte) (*Claim, error)
}

// AdmissionHandler connects an adapter to the admitter.
type AdmissionHandler struct {
	name     string
	builder  ClaimBuilder
	admitter *Admitter
}

func NewAdmissionHandler(name string, builder ClaimBuilder, admitter *Admitter) *AdmissionHandler {
	return &AdmissionHandler{name: name, builder: builder, admitter: admitter}
}

func (h *AdmissionHandler) Handle(ctx context.Context, payload []byte) (Outcome, error) {
	claim, err := h.builder.BuildClaim(ctx, payload)
	switch {
	case errors.Is(err, ErrIneligible):
		log.Infof("[%s] Skipping event: %v", h.name, err)
		return Skipped(err.Error()), nil
	case IsPolicyViolation(err):
		log.Errorf("[%s] Rejected event: %v", h.name, err)
		return Rejected(err, nil), nil
	case err != nil:
		return Outcome{}, err
	}
	return h.admitter.Admit(ctx, *claim)
}
