package actorcontext

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
)

type Kind string

const (
	KindAdmin  Kind = "admin"
	KindClient Kind = "client"
	KindSystem Kind = "system"
)

var ErrMissingActor = errors.New("missing_actor")

// Actor is the resolved caller identity handed in by the authentication layer.
// ClientID is set only for client actors and scopes every query they make.
type Actor struct {
	Kind     Kind
	ID       snowflake.ID
	ClientID snowflake.ID
}

func (a Actor) IsAdmin() bool {
	return a.Kind == KindAdmin || a.Kind == KindSystem
}

func (a Actor) IsClient() bool {
	return a.Kind == KindClient
}

// Role is the casbin subject for the actor.
func (a Actor) Role() string {
	return string(a.Kind)
}

type actorKey struct{}

func WithActor(ctx context.Context, actor Actor) context.Context {
	return context.WithValue(ctx, actorKey{}, actor)
}

func FromContext(ctx context.Context) (Actor, bool) {
	if ctx == nil {
		return Actor{}, false
	}
	actor, ok := ctx.Value(actorKey{}).(Actor)
	if !ok || actor.Kind == "" {
		return Actor{}, false
	}
	return actor, true
}

// Require returns the actor or ErrMissingActor.
func Require(ctx context.Context) (Actor, error) {
	actor, ok := FromContext(ctx)
	if !ok {
		return Actor{}, ErrMissingActor
	}
	if actor.Kind == KindClient && actor.ClientID == 0 {
		return Actor{}, ErrMissingActor
	}
	return actor, nil
}

// System returns a context carrying the scheduler identity.
func System(ctx context.Context) context.Context {
	return WithActor(ctx, Actor{Kind: KindSystem})
}
