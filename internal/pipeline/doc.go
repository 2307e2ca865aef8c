// Package pipeline provides the sequential request pipeline engine.
//
// A pipeline is an ordered list of named stages that share one mutable
// Context per request. Stages run strictly in registration order and only one
// stage is active at a time. Each stage returns an explicit Result:
//
//	Continue  hand control to the next stage
//	Halt      stop here; the context as it stands is the final result
//
// # Lifecycle
//
// A run moves through the following states:
//
//	Pending -> Running -> Completed       (every stage returned Continue)
//	                   -> ShortCircuited  (some stage returned Halt)
//	                   -> Failed          (some stage returned an error)
//
// A stage error stops the run and is returned to the caller wrapped in a
// *StageError that unwraps to the original error. The engine never retries and
// never converts errors into responses; that is left to the host.
//
// # Asynchronous work
//
// A stage that needs to wait (a file read, a webhook, controller resolution)
// simply blocks inside Process until the work completes. The engine does not
// assume synchronous completion and does not abort between stages when the
// request context is cancelled; stages observe ctx for their own blocking work.
package pipeline
