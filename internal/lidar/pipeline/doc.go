// Package pipeline runs the capture loop: it pulls packets from a
// network.PacketSource on one background goroutine, decodes them, feeds the
// rotation reconstructor and queues completed frames for consumers.
//
// The pipeline owns no geometry. Decoding lives in parse and frame
// assembly in l2frames; sinks (database, PCD export, monitor) sit on the
// consumer side of the queue.
package pipeline
