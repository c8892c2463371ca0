// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package hook

import (
	"sort"

	"github.com/ManuGH/aircheck/internal/log"
)

func init() {
	// The built-in "log" hook writes every event it is attached to into the
	// daemon log. Useful as a first hooks: entry when setting up a config.
	logger := log.WithComponent("hook.log")
	Register("log", Func(func(args Args) error {
		evt := logger.Info()
		keys := make([]string, 0, len(args))
		for k := range args {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			evt = evt.Interface(k, args[k])
		}
		evt.Msg("hook event")
		return nil
	}))
}
