// Package tasks seeds the task catalog from the filesystem.
//
// At gateway startup every subdirectory of the configured tasks
// directory that contains a Dockerfile becomes a task row named after
// the directory. The insert is idempotent (conflict on name updates
// only the recipe path), so the scan can run on every boot.
//
// Routing details for a task (protocol, container port) do not live
// here; they come from the tasks.<name> config section with the
// "_default" entry as fallback.
package tasks
