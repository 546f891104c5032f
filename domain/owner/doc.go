// Package owner implements the capability registry. An Owner holds named
// resources and named capabilities and composes them in Execute: the
// capability runs against the resource under the owner's read lock, so
// executions proceed in parallel while registrations wait for every
// in-flight execution to finish.
//
// Resources are referenced, not owned. Destroy frees only resources that
// were registered WithDestructor; everything else stays the caller's to
// release, typically after UnregisterResource hands it back.
package owner
