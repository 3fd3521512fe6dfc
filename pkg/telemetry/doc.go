// Package telemetry wires OpenTelemetry exporters and meters for the
// governance engine.
//
// It centralises trace provider setup, applies engine-specific resource
// attributes, and offers recording helpers that attach community, policy,
// and hook metadata to metrics so operators can correlate governance
// outcomes with policy behaviour.
package telemetry
