//go:build wireinject
// +build wireinject

package main

import (
	"context"

	"github.com/google/wire"
)

// BuildApp wires the server components using Google Wire.
func BuildApp(ctx context.Context, flags cliFlags) (*App, func(), error) {
	wire.Build(
		provideConfig,
		provideLogger,
		provideHub,
		provideStorage,
		providePasses,
		provideRewards,
		provideQuests,
		providePresence,
		provideAnalytics,
		provideEngine,
		provideHandler,
		provideServer,
		wire.Struct(new(App), "*"),
	)
	return nil, nil, nil
}
