// Package loader provides configuration sources for the kernel.
//
// Three loaders are available:
//
//   - Static emits one fixed snapshot.
//   - File reads a YAML, JSON or TOML document with viper and emits a new
//     snapshot every time the file changes on disk.
//   - Push emits whatever the embedding program pushes into it.
//
// All of them implement config.Loader and config.RejectionSink, so the
// kernel can tell them when a snapshot was refused.
package loader
