// Package channels defines the adapter contract between transports and the
// conversation engine.
//
// Adapters turn one inbound message plus a session identity into a Dispatch
// call and render Result.Text verbatim. They branch on the outcome only for
// logging.
package channels
