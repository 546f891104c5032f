// Package memory provides the epoch retirement primitive used by
// lock-free readers: participants announce the epoch they read under,
// writers retire superseded objects together with a destructor, and a
// reclaim pass runs destructors only once no participant could still
// hold the retired object.
//
// RetireRing keeps retirements in FIFO order so a reclaim pass stops at
// the first entry that is not yet safe. Pool recycles fixed-shape
// objects (lifetime tree nodes) and can take part in reclamation via
// PutAny.
package memory
