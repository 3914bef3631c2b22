// Package conductor schedules two kinds of tasks onto two kinds of
// workers.
//
// Clients submit tasks of kind A or B. Workers register with a kind
// and process tasks of their own kind quickly and tasks of the other
// kind slowly. The conductor sits in between and decides, one task at a
// time, which worker gets what.
//
// Architecture overview
//
// The conductor is composed of three loosely coupled parts:
//
//  1. Inbound (Dispatcher)
//     Tasks from all clients land in one bounded FIFO queue. The
//     Dispatcher pulls them one by one, picks a worker slot and hands
//     the task over before pulling the next one.
//
//  2. Workers (WorkerPool / WorkerSlot)
//     One pool per kind holds the idle slots. A slot is either idle in
//     its pool or assigned to exactly one task, never both.
//
//  3. Outbound (CompletionRouter)
//     Finished tasks land in a second bounded FIFO queue. The router
//     returns the slot to its pool first and only then forwards the
//     task to the client registered in the ClientRegistry.
//
// Routing
//
// For each task the Dispatcher takes a snapshot of both pools and of
// the head of the inbound queue and picks one branch:
//
//   - other-only: no worker of the task's kind has ever registered
//   - matching-only: no worker of the other kind has ever registered
//   - same-kind: a worker of the task's kind is idle
//   - crossover: the backlog is long and homogeneous and a worker of the
//     other kind is idle
//   - wait: block until a worker of the task's kind frees up
//
// Crossover pays the mismatch penalty only when more than
// CrossoverFactor × (registered workers of the task's kind) tasks are
// waiting and all of the first that many are of the task's kind.
//
// Transport
//
// The package has no network code. The TCP front end lives in
// internal/server and talks to the Conductor only through the
// On* callbacks, Submit and Complete.
package conductor
