package flow

import (
	"math"

	"github.com/joeycumines/actionflow/internal/world"
)

// HighestScore is a utility selector. When run it asks every child for a score
// (RequestScore), then runs the child with the highest ScoreValue and reports
// that child's result as its own.
//
// Ties go to the first child, in attachment order, holding the maximum score.
// NaN never beats a comparable score; if every score is NaN the first child
// wins. With no children there is no winner: nothing runs, no result is
// produced and the node is not left Running.
type HighestScore struct{}

// scoreBoard is the per-node state of a running HighestScore.
type scoreBoard struct {
	scores map[world.NodeID]ScoreValue
	winner world.NodeID
}

func (HighestScore) ActionKind() Kind { return "flow.HighestScore" }

func (HighestScore) Setup(h *Handlers) {
	HandleRun(h, func(ev OnRun[Start]) {
		w := ev.World()
		children := ev.Children()
		if len(children) == 0 {
			world.Remove[Running](w, ev.Action)
			return
		}
		w.Insert(ev.Action, &scoreBoard{scores: make(map[world.NodeID]ScoreValue, len(children))})
		for _, c := range children {
			ev.RunChild(c, RequestScore{})
		}
	})

	HandleChildResult(h, func(ev OnChildResult[ScoreValue]) {
		w := ev.World()
		board, ok := world.Get[*scoreBoard](w, ev.Action)
		if !ok || !board.winner.IsPlaceholder() || !ev.Engine().IsRunning(ev.Action) {
			return
		}
		board.scores[ev.Child] = ev.Payload
		children := w.Children(ev.Action)
		if len(board.scores) < len(children) {
			return
		}
		scores := make([]ScoreValue, len(children))
		for i, c := range children {
			s, ok := board.scores[c]
			if !ok {
				// a child replaced while scoring; wait for its score
				return
			}
			scores[i] = s
		}
		board.winner = children[HighestIndex(scores)]
		ev.RunChild(board.winner, Start{})
	})

	HandleChildResult(h, func(ev OnChildResult[RunResult]) {
		w := ev.World()
		board, ok := world.Get[*scoreBoard](w, ev.Action)
		if !ok || board.winner != ev.Child || !ev.Engine().IsRunning(ev.Action) {
			return
		}
		world.Remove[*scoreBoard](w, ev.Action)
		ev.Bubble()
	})

	h.HandleInterrupt(func(ev OnInterrupt) {
		world.Remove[*scoreBoard](ev.World(), ev.Action)
		ev.Abort()
	})
}

// HighestIndex returns the index of the winning score under the HighestScore
// tie policy, or -1 for no scores.
func HighestIndex(scores []ScoreValue) int {
	best := -1
	for i, s := range scores {
		switch {
		case best < 0:
			best = i
		case math.IsNaN(float64(scores[best])) && !math.IsNaN(float64(s)):
			best = i
		case s > scores[best]:
			best = i
		}
	}
	return best
}
