// Logic related to expvar handling: reporting live stats such as
// applied and dropped snapshot counts. The stats updates happen in a
// separate go routine to avoid locking on the main logic routines.

package main

import (
	"expvar"
	"sync"
)

type varUpdate struct {
	// Name of the variable to update.
	varname string
	// Integer increment to publish.
	count int64
}

var statsOnce sync.Once
var statsUpdate chan *varUpdate

// Initialize stats reporting through expvar.
func statsInit() {
	statsOnce.Do(func() {
		statsRegisterInt("SnapshotsApplied")
		statsRegisterInt("StaleSnapshotsDropped")
		statsRegisterInt("StreamErrors")
		statsRegisterInt("ChatsCreated")
		statsRegisterInt("MessagesSent")

		statsUpdate = make(chan *varUpdate, 1024)
		go statsUpdater()
	})
}

// Register integer variable. Don't check for initialization.
func statsRegisterInt(name string) {
	expvar.Publish(name, new(expvar.Int))
}

// Async publish an increment to an int variable.
func statsInc(name string, val int) {
	if statsUpdate != nil {
		select {
		case statsUpdate <- &varUpdate{name, int64(val)}:
		default:
		}
	}
}

// The go routine which actually publishes stats updates.
func statsUpdater() {
	for upd := range statsUpdate {
		if ev := expvar.Get(upd.varname); ev != nil {
			// Intentional panic if ev is not *expvar.Int.
			ev.(*expvar.Int).Add(upd.count)
		} else {
			panic("stats: update to unknown variable " + upd.varname)
		}
	}
}
