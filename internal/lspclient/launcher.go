package lspclient

import (
	"context"
	"fmt"
	"strings"

	"pkt.systems/coverbridge/internal/lang"
)

// Launcher starts language servers from per-language commands.
type Launcher struct {
	commands map[lang.Language]string
	opts     Options
}

// NewLauncher merges overrides into DefaultCommands. An override holding only
// whitespace keeps the default command.
func NewLauncher(overrides map[lang.Language]string, opts Options) *Launcher {
	commands := DefaultCommands()
	for language, command := range overrides {
		if strings.TrimSpace(command) != "" {
			commands[language] = command
		}
	}
	return &Launcher{commands: commands, opts: opts}
}

// Command returns the server command configured for language.
func (l *Launcher) Command(language lang.Language) (string, bool) {
	command, ok := l.commands[language]
	return command, ok && strings.TrimSpace(command) != ""
}

// Launch starts and initialises the server for language rooted at root.
func (l *Launcher) Launch(ctx context.Context, root string, language lang.Language) (*Client, error) {
	command, ok := l.Command(language)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoServer, language)
	}
	return Start(ctx, command, root, language, l.opts)
}
