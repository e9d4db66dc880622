// Package flow implements a hierarchical behavior-tree control-flow engine on
// top of the world entity store.
//
// # Protocol
//
// Actions are components implementing [Action]. Each action kind installs a
// shared set of [Handlers] (once per kind, per engine) that react to typed
// events:
//
//   - [OnRun] is delivered when a node is asked to run with a payload (the
//     "run request").
//   - [OnResult] is delivered to a node when it produces a result.
//   - [OnChildResult] is delivered to a node's parent when the child produces a
//     result ("bubbling"), unless the child carries [NoBubble].
//   - [OnInterrupt] is delivered to running nodes when they are interrupted.
//
// Every run payload type is paired with exactly one result payload type. The
// built-in pairs are [Start] -> [RunResult] and [RequestScore] -> [ScoreValue];
// more may be added with [RegisterPair] or [WithPair]. Each run and result carries an
// origin: the node that initiated the traversal. The origin is stable across
// bubbling, which is how responses crossing several nodes are correlated.
//
// # Ownership
//
// The engine and its world are single-owner. Synchronous dispatch (run, result,
// bubbling) completes within one call and never suspends. The only place the
// world crosses a suspension point is the async bridge ([DriveSequential],
// [DriveUnordered]), which moves it into a [Token]; while lent, engine calls
// from anything but the token holder panic with [ErrWorldLent]. Other
// goroutines hand work back with [Engine.Post], applied by [Engine.Update].
//
// # Combinators
//
// [Sequence], [Fallback], [Parallel], [HighestScore], [Repeat], [Inverter],
// [ReturnWith] and [AwaitReady] are all built from the same protocol. Cancellation
// is cooperative, see [Engine.Interrupt].
package flow
