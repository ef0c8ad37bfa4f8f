// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package registry

// Backend IDs of the built-in catalogue.
const (
	BackendGeneralCoder      = "general-coder"
	BackendDebugSpecialist   = "debug-specialist"
	BackendIntegrationExpert = "integration-expert"
	BackendReasoningPro      = "reasoning-pro"
	BackendVisualDesigner    = "visual-designer"
	BackendFastComplete      = "fast-complete"
)

// DefaultCatalog returns the built-in backend catalogue in registry order.
// The first entry is the registry default used when no specialist fits.
func DefaultCatalog() []Descriptor {
	return []Descriptor{
		{
			ID:           BackendGeneralCoder,
			Name:         "General Coder",
			CostPerUnit:  0.000002,
			Latency:      LatencyMedium,
			Capabilities: []string{"generation", "completion"},
		},
		{
			ID:           BackendDebugSpecialist,
			Name:         "Debug Specialist",
			CostPerUnit:  0.000003,
			Latency:      LatencyMedium,
			Capabilities: []string{"debugging"},
		},
		{
			ID:           BackendIntegrationExpert,
			Name:         "Integration Expert",
			CostPerUnit:  0.000004,
			Latency:      LatencyMedium,
			Capabilities: []string{"integration"},
		},
		{
			ID:           BackendReasoningPro,
			Name:         "Reasoning Pro",
			CostPerUnit:  0.000015,
			Latency:      LatencyHigh,
			Premium:      true,
			Capabilities: []string{"reasoning"},
		},
		{
			ID:           BackendVisualDesigner,
			Name:         "Visual Designer",
			CostPerUnit:  0.000012,
			Latency:      LatencyHigh,
			Premium:      true,
			Capabilities: []string{"visual"},
		},
		{
			ID:           BackendFastComplete,
			Name:         "Fast Complete",
			CostPerUnit:  0.000001,
			Latency:      LatencyLow,
			Capabilities: []string{"completion"},
		},
	}
}
