// Package scheduler runs periodic jobs such as the sync cycle, guarded by
// preconditions like network reachability and store health.
package scheduler
