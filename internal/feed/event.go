package feed

import "context"

// Event is the normalized early-warning record handed to the dispatcher.
// It lives for one dispatch cycle and is never persisted.
type Event struct {
	Latitude     float64
	Longitude    float64
	Magnitude    float64
	Depth        float64
	MaxIntensity string
	Region       string
	OriginTime   string
	SourceType   string
}

// Handler consumes normalized events, one at a time, in feed arrival order.
type Handler interface {
	HandleEvent(ctx context.Context, ev Event) error
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(ctx context.Context, ev Event) error

func (f HandlerFunc) HandleEvent(ctx context.Context, ev Event) error { return f(ctx, ev) }
