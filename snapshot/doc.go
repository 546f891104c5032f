// Package snapshot writes and loads point-in-time dumps of the tracked
// block set and the live owners. Dumps are diagnostic: nothing is
// restored from them.
package snapshot
