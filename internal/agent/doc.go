// Package agent wires task lists to persistence.
//
// An Agent owns one snapshot store and, per topic, a TaskList, the
// Manager that checkpoints it and the health tracker both report into.
// Opening a topic runs startup recovery before the list is handed out, so
// callers never observe a list that is still being restored.
//
// The per-topic methods Health, CheckpointFrequency,
// CheckpointFrequencyBounds and AdjustCheckpointFrequency form the
// observability contract exposed to hosts.
package agent
