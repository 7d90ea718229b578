package scheduler

// gate holds the process-wide validation guards: the busy flag and the
// save-block map. It is only touched by the event loop.
type gate struct {
	busy    bool
	blocked map[string]int // uri -> version being saved
}

func newGate() *gate {
	return &gate{blocked: make(map[string]int)}
}

// acquire sets busy and reports whether it was free.
func (g *gate) acquire() bool {
	if g.busy {
		return false
	}
	g.busy = true
	return true
}

func (g *gate) release() {
	g.busy = false
}

func (g *gate) block(uri string, version int) {
	g.blocked[uri] = version
}

func (g *gate) unblock(uri string) {
	delete(g.blocked, uri)
}

func (g *gate) isBlocked(uri string) bool {
	_, ok := g.blocked[uri]
	return ok
}
