// Package runtime wraps the Docker Engine API for task image builds
// and instance container lifecycle.
//
// Every task ships as a directory with a Dockerfile; deploys build a
// per-instance image from it and run exactly one container per image.
// The wrapper stays deliberately thin: it owns the SDK types and the
// build-context archiving, while policy decisions (labels, ports,
// rollback) belong to pkg/deploy.
//
// # Architecture
//
//	┌───────────────────────────────────────────────────────────┐
//	│                       DockerRuntime                       │
//	│                                                           │
//	│   tasks/<name>/ ──► tar ──► POST /build ──► image tag     │
//	│                                                           │
//	│   ContainerSpec ──► Config / HostConfig / Networking      │
//	│        │                                                  │
//	│        └──► create ──► start ──► (stop | restart) ──► rm  │
//	└───────────────────────────────────────────────────────────┘
//
// # Hardening Policy
//
// Policy carries the per-instance limits from the containers section
// of the configuration: memory and swap ceilings, a CPU fraction
// (mapped to quota over the default 100ms period), a pids cap,
// read-only rootfs, capability drops, no-new-privileges, and an
// optional /tmp tmpfs for images that need scratch space despite the
// read-only root. The same policy applies in both routing variants.
//
// # Build Failures
//
// The engine reports build progress as a JSON message stream over a
// 200 response; a failed RUN step arrives as a message with an error
// field rather than an HTTP error. BuildImage scans the stream and
// turns such messages into errors, so callers never treat a broken
// image as deployable.
//
// # Usage
//
//	rt, err := runtime.NewDockerRuntime()
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer rt.Close()
//
//	err = rt.BuildImage(ctx, "tasks/web-101", "ctf-web-101-8f14e4")
//	id, err := rt.CreateContainer(ctx, runtime.ContainerSpec{...})
//	err = rt.StartContainer(ctx, id)
//
// # Integration Points
//
//   - pkg/deploy drives the full build/create/start/stop/remove flow.
//   - cmd/spawnpoint pings the engine at startup so a missing daemon
//     fails fast instead of on the first deploy.
package runtime
