package tools

import (
	"log"

	"github.com/medsterhq/medster/internal/fhir"
)

// DefaultRegistry assembles the standard toolset over a FHIR store.
// The document analysis tool is registered only when an MCP client is
// configured.
func DefaultRegistry(store *fhir.Store, mcp *MCPClient, logger *log.Logger) (*Registry, error) {
	toolset := []Tool{
		&ListPatientsTool{Store: store},
		&SearchPatientsTool{Store: store},
		&PatientDataTool{Store: store},
		&PatientLabsTool{Store: store},
		&VitalSignsTool{Store: store},
		&MedicationListTool{Store: store},
		&ConditionsTool{Store: store},
		&ClinicalNotesTool{Store: store},
		&ClinicalScoreTool{},
		&PatientScoreTool{Store: store},
		&AnalysisTool{Store: store},
	}
	if mcp != nil {
		toolset = append(toolset, &DocumentAnalysisTool{Client: mcp})
	}
	return NewRegistry(logger, toolset...)
}
