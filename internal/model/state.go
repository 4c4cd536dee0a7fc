package model

// App lifecycle states.
const (
	StateUnloaded = "unloaded"
	StateLoaded   = "loaded"
	StateBuilt    = "built"
)

// validTransitions maps each state to the set of states it may move to.
// Reloading and rebuilding are allowed so an app can be re-initialised.
var validTransitions = map[string]map[string]bool{
	StateUnloaded: {
		StateLoaded: true,
	},
	StateLoaded: {
		StateLoaded: true,
		StateBuilt:  true,
	},
	StateBuilt: {
		StateLoaded: true,
		StateBuilt:  true,
	},
}

// ValidTransition reports whether moving from one state to another is allowed.
func ValidTransition(from, to string) bool {
	targets, ok := validTransitions[from]
	if !ok {
		return false
	}
	return targets[to]
}
