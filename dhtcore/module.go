package dhtcore

import (
	"context"

	"github.com/benbjohnson/clock"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/dep2p/oniondht/collab"
	"github.com/dep2p/oniondht/config"
	"github.com/dep2p/oniondht/record"
	"github.com/dep2p/oniondht/wiremsg"
)

// Module wires a Context into an fx application: construction via
// NewFromParams, activation and teardown hung off fx.Lifecycle so the
// Context starts and stops with the rest of the application.
var Module = fx.Module("dhtcore",
	fx.Provide(NewFromParams),
	fx.Invoke(registerLifecycle),
)

// Params are the fx-provided collaborators a Context needs. Clock and
// Logger are optional: New substitutes a real clock and a no-op logger when
// they are absent from the graph.
type Params struct {
	fx.In

	Config     *config.Config `optional:"true"`
	Transport  collab.Transport
	PathSource collab.PathSource
	Crypto     collab.Crypto
	Codec      wiremsg.Codec
	Clock      clock.Clock `optional:"true"`
	Logger     *zap.Logger `optional:"true"`
}

// Result exports the constructed Context to the rest of the application.
type Result struct {
	fx.Out

	Context *Context
}

// NewFromParams adapts fx-injected Params to the Context constructor,
// substituting config.DefaultConfig when none was supplied.
func NewFromParams(p Params) (Result, error) {
	cfg := p.Config
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return Result{}, err
	}
	return Result{Context: New(cfg, p.Transport, p.PathSource, p.Crypto, p.Codec, p.Clock, p.Logger)}, nil
}

// lifecycleParams binds Context.Init/Close to the fx application's own
// start/stop, per the teacher's registerDHTLifecycle pattern.
type lifecycleParams struct {
	fx.In

	LC           fx.Lifecycle
	Ctx          *Context
	RouterSource collab.RouterSource
	OurID        record.RouterID `optional:"true"`
}

func registerLifecycle(p lifecycleParams) {
	p.LC.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			return p.Ctx.Init(ctx, p.OurID, p.RouterSource, 0)
		},
		OnStop: func(ctx context.Context) error {
			return p.Ctx.Close()
		},
	})
}
