// Package stage defines the contract every pipeline stage implements and
// ships two implementations: Command, which drives an external executable,
// and Simulated, which ticks through a fixed duration and writes placeholder
// artifacts. Registry picks one per stage from configuration.
package stage
