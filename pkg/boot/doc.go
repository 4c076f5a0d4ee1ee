// Package boot sequences process startup.
//
// Startup runs through three ordered phases (PreBootstrap, PostBootstrap,
// AppCreated). Components that must not run before a given phase call
// RequireAtLeast, and one-time initialization steps are described as
// InitSpecs applied through a Registry, which guarantees each step runs
// exactly once per process (or once per server instance for specs that
// need one).
//
// The registry is populated and applied during single-threaded startup;
// it is not safe for concurrent Apply calls.
package boot
