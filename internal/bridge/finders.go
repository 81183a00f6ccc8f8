package bridge

import (
	"context"

	"pkt.systems/coverbridge/internal/lang"
	"pkt.systems/coverbridge/internal/lspclient"
)

// LauncherFinders adapts a language server launcher into a FinderFactory.
func LauncherFinders(l *lspclient.Launcher) FinderFactory {
	return func(ctx context.Context, root string, language lang.Language) (ContextFinder, error) {
		client, err := l.Launch(ctx, root, language)
		if err != nil {
			return nil, err
		}
		return client, nil
	}
}
