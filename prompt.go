package main

import (
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/chzyer/readline"

	"yee/internal/presets"
	"yee/internal/store"
)

var errNoSelection = errors.New("no preset selected")

// pickPreset lists presets and reads a choice by number or name. Ctrl-C on an
// empty line or EOF cancels.
func pickPreset(list []store.Preset, stdin io.ReadCloser, stdout io.Writer) (store.Preset, error) {
	if len(list) == 0 {
		return store.Preset{}, errors.New("no presets saved")
	}

	items := make([]readline.PrefixCompleterInterface, len(list))
	for i, p := range list {
		items[i] = readline.PcItem(p.Name)
	}

	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "preset> ",
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
		AutoComplete:    readline.NewPrefixCompleter(items...),
		Stdin:           stdin,
		Stdout:          stdout,
	})
	if err != nil {
		return store.Preset{}, fmt.Errorf("failed to create readline: %w", err)
	}
	defer rl.Close()

	for i, p := range list {
		fmt.Fprintf(rl.Stdout(), "%2d) %-12s %s\n", i+1, p.Name, presets.Describe(p))
	}

	for {
		line, err := rl.Readline()
		if err != nil {
			if err == readline.ErrInterrupt && line != "" {
				continue
			}
			return store.Preset{}, errNoSelection
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if p, ok := matchPreset(list, line); ok {
			return p, nil
		}
		fmt.Fprintf(rl.Stdout(), "no preset %q\n", line)
	}
}

// matchPreset resolves a 1-based index or a case-insensitive name.
func matchPreset(list []store.Preset, input string) (store.Preset, bool) {
	if n, err := strconv.Atoi(input); err == nil {
		if n >= 1 && n <= len(list) {
			return list[n-1], true
		}
		return store.Preset{}, false
	}
	for _, p := range list {
		if strings.EqualFold(p.Name, input) {
			return p, true
		}
	}
	return store.Preset{}, false
}
