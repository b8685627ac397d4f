// Package preflight checks the directories, disk space, ntfy server and
// stage executables mediaqueued depends on. The workflow manager runs RunAll
// at startup and logs failures; `mediaqueue status` shows CheckSystemDeps.
package preflight
