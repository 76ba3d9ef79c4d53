package devbar

import (
	"context"

	"go.uber.org/fx"

	"github.com/fllarpy/devbar/domain"
	"github.com/fllarpy/devbar/pkg/config"
)

// FXModule provides *Probe and domain.Reporter from a *config.Config and
// shuts the probe down with the application.
//
// Usage:
//
//	app := fx.New(
//	    fx.Provide(func() (*config.Config, error) { return config.Load(".") }),
//	    devbar.FXModule,
//	)
var FXModule = fx.Module("devbar",
	fx.Provide(
		NewProbeWithDI,
		fx.Annotate(
			func(p *Probe) domain.Reporter { return p },
			fx.As(new(domain.Reporter)),
		),
	),
	fx.Invoke(RegisterLifecycle),
)

// ProbeParams are the dependencies NewProbeWithDI takes from the fx graph.
// Without a supplied Config, config.Default() is used.
type ProbeParams struct {
	fx.In

	Config *config.Config `optional:"true"`
}

// NewProbeWithDI builds the Probe provided by FXModule.
func NewProbeWithDI(params ProbeParams) (*Probe, error) {
	return NewProbe(params.Config)
}

// RegisterLifecycle shuts the probe down when the application stops.
func RegisterLifecycle(lc fx.Lifecycle, p *Probe) {
	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			return p.Shutdown(ctx)
		},
	})
}
