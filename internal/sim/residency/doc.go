// Package residency decides when resident chunks leave memory.
//
// A chunk whose last watcher goes away is not unloaded right away. Tracker
// marks it pending with the time of the first release, and Scheduler.Sweep
// unloads it once the grace period has passed without a new use. Any access
// through the store before that cancels the pending unload. A grace period of
// zero or less restores immediate unloading.
//
// Nothing here is safe for concurrent use. Tracker, Scheduler and the store
// they share belong to the world loop goroutine.
package residency
