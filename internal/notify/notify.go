// Package notify fans lobby changes out to every interested listener.
package notify

import (
	"github.com/wagerhall/wager-server/internal/match"
)

// Fanout forwards each lobby change to all of its listeners in order.
type Fanout []match.LobbyNotifier

func (f Fanout) SessionsChanged() {
	for _, l := range f {
		if l != nil {
			l.SessionsChanged()
		}
	}
}

// Func adapts a plain function to match.LobbyNotifier.
type Func func()

func (fn Func) SessionsChanged() {
	fn()
}
