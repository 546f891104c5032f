// Package service composes the warden core: owners and their liveness
// mask, the epoch reclaimer over the lifetime tree, and the allocator
// whose blocks it tracks.
//
// It provides the API that transports such as the gRPC admin server
// call into, decoupled from any of them.
package service
