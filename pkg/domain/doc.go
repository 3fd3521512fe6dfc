// Package domain defines the core business types for the Agora governance engine.
//
// This package contains pure domain logic with ZERO external dependencies outside the
// Go standard library. All types in this package are:
//
// - Independent of infrastructure (no database, HTTP, gRPC, etc.)
// - Technology-agnostic (no framework coupling)
// - Testable in isolation without mocks
// - Stable and unlikely to change frequently
//
// Other packages (engine, hook, storage, platform, etc.) implement behaviour on top
// of these types and depend on them. The dependency direction is always:
//
//	Infrastructure → Domain (CORRECT)
//	Domain → Infrastructure (FORBIDDEN)
//
// The central entities are Community (the governed group), Action (a proposed change
// expressed as a tagged payload), Policy (community-authored hook programs that judge
// actions), Proposal (the 1:1 lifecycle record of an action under governance), and the
// vote types that feed tallies into policy decisions.
package domain
