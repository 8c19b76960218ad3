// Package scheduler drives a single job on a schedule without overlap.
//
// The next trigger is computed from the moment the previous run settled, so
// a slow run delays the next one instead of stacking up behind it. Manual
// triggers are coalesced: at most one is pending at any time.
package scheduler
