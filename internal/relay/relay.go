// Package relay moves room fan-out frames from the process that produced them to every process
// holding subscriber connections.
package relay

import (
	"context"

	"github.com/goccy/go-json"
)

type Kind string

const (
	// KindRoom delivers Frame to every subscriber of ConversationID except ExcludeIdentity.
	KindRoom Kind = "room"
	// KindJoin subscribes the connections of Identities to ConversationID, then delivers Frame to them.
	KindJoin Kind = "join"
)

type Envelope struct {
	Kind            Kind            `json:"kind"`
	ConversationID  int64           `json:"conversationId"`
	ExcludeIdentity int64           `json:"excludeIdentity,omitempty"`
	Identities      []int64         `json:"identities,omitempty"`
	Frame           json.RawMessage `json:"frame"`
}

// Handler receives every envelope published through the relay, including this process's own.
type Handler func(Envelope)

type Relay interface {
	SetHandler(h Handler)
	Publish(ctx context.Context, env Envelope) error
	// Serve runs the receive side until ctx is done.
	Serve(ctx context.Context) error
}

// Local delivers synchronously inside the publishing goroutine.
type Local struct {
	handler Handler
}

func NewLocal() *Local {
	return &Local{}
}

func (l *Local) SetHandler(h Handler) { l.handler = h }

func (l *Local) Publish(_ context.Context, env Envelope) error {
	if l.handler != nil {
		l.handler(env)
	}
	return nil
}

func (l *Local) Serve(ctx context.Context) error {
	<-ctx.Done()
	return ctx.Err()
}

func (l *Local) String() string { return "relay.Local" }
