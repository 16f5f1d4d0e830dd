// Package async provides background execution with panic recovery and
// timeouts. A Group tracks its tasks so a server can drain them on shutdown:
//
//	group := async.NewGroup(logger, 30*time.Second)
//	group.Go(r.Context(), "invoice archive", fn)
//	...
//	shutdown.RegisterShutdownFunc("background tasks", group.Wait)
package async
