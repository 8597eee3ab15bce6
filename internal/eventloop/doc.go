// Package eventloop provides the single logical thread of control that the
// session and cluster state machines run on.
//
// Broker client completions, timer expirations and caller requests are all
// posted as closures and executed one at a time, in order, on a single
// goroutine. State owned by the loop therefore needs no locking, and a
// handover between two connections can never be observed half-done.
//
//	loop := eventloop.New()
//	loop.Start()
//	defer loop.Stop()
//
//	loop.Post(func() { /* runs on the loop goroutine */ })
//	stop := loop.AfterFunc(500*time.Millisecond, func() { /* also on the loop */ })
//	defer stop()
//
// Manual is a deterministic stand-in with a virtual clock for tests.
package eventloop
