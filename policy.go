package conductor

// DefaultCrossoverFactor is the backlog multiplier used by the crossover
// heuristic: a task may go to a worker of the other kind only if more
// than factor × (workers of its kind) tasks are waiting.
const DefaultCrossoverFactor = 5

// Branch names the outcome of one routing decision.
type Branch uint8

const (
	// BranchOtherOnly: no worker of the task's kind ever registered.
	BranchOtherOnly Branch = iota
	// BranchMatchingOnly: no worker of the other kind ever registered.
	BranchMatchingOnly
	// BranchSameKind: a worker of the task's kind is idle.
	BranchSameKind
	// BranchCrossover: backlog is large and homogeneous and a worker of
	// the other kind is idle.
	BranchCrossover
	// BranchWait: block until a worker of the task's kind frees up.
	BranchWait
)

func (b Branch) String() string {
	switch b {
	case BranchOtherOnly:
		return "other-only"
	case BranchMatchingOnly:
		return "matching-only"
	case BranchSameKind:
		return "same-kind"
	case BranchCrossover:
		return "crossover"
	case BranchWait:
		return "wait"
	default:
		return "unknown"
	}
}

// routeInput is the state a routing decision is made from. It is a
// snapshot: pools and the inbound queue may change right after it is
// taken, and the dispatcher copes with that when acting on the result.
type routeInput struct {
	kind Kind

	matchingAny  bool
	otherAny     bool
	matchingFree bool
	otherFree    bool

	matchingCount int

	// queueLen is the inbound queue length; next holds its head, at
	// most factor × matchingCount tasks long.
	queueLen int
	next     []Task

	factor int
}

// route picks a branch. It is a pure function of its input, so repeated
// calls with the same snapshot always agree.
//
// Precedence: same-kind availability beats crossover, which beats waiting.
func route(in routeInput) Branch {
	if !in.matchingAny {
		return BranchOtherOnly
	}
	if !in.otherAny {
		return BranchMatchingOnly
	}
	if in.matchingFree {
		return BranchSameKind
	}
	if in.otherFree && crossoverEligible(in) {
		return BranchCrossover
	}
	return BranchWait
}

// crossoverEligible reports whether the backlog justifies paying the
// mismatched-worker penalty: more than window tasks are queued and the
// next window tasks are all of the same kind as the task being routed.
//
// A queue head shorter than window never qualifies.
func crossoverEligible(in routeInput) bool {
	window := in.factor * in.matchingCount
	if window <= 0 || in.queueLen <= window || len(in.next) < window {
		return false
	}
	for _, t := range in.next[:window] {
		if t.Kind != in.kind {
			return false
		}
	}
	return true
}
