package registry

import "github.com/bintelAI/ai-workflow/core"

var (
	defaultInput  = []PortDef{{Name: ""}}
	defaultOutput = []PortDef{{Name: ""}}
	outputField   = []FieldDef{{Name: "output", Type: "any"}}
)

// registerBuiltins registers every built-in node type in palette order.
// Called once by Global() during singleton initialization.
func registerBuiltins(r *Registry) {
	r.Register(NodeTypeDef{
		Type:         core.NodeTypeStart,
		Group:        "control",
		DisplayName:  "Start",
		Description:  "Entry point; emits the development payload as the run input",
		Ports:        PortSchema{Outputs: defaultOutput},
		OutputFields: outputField,
	})

	r.Register(NodeTypeDef{
		Type:        core.NodeTypeEnd,
		Group:       "control",
		DisplayName: "End",
		Description: "Terminates the path that reaches it",
		Ports:       PortSchema{Inputs: defaultInput},
	})

	r.Register(NodeTypeDef{
		Type:        core.NodeTypeBranch,
		Group:       "control",
		DisplayName: "Condition",
		Description: "Evaluate a boolean expression and follow the true or false handle",
		Ports: PortSchema{
			Inputs: defaultInput,
			Outputs: []PortDef{
				{Name: core.HandleTrue, Description: "taken when the expression holds"},
				{Name: core.HandleFalse, Description: "taken otherwise"},
			},
		},
		OutputFields: []FieldDef{{Name: "result", Type: "boolean"}},
	})

	r.Register(NodeTypeDef{
		Type:        core.NodeTypeParallel,
		Group:       "control",
		DisplayName: "Parallel",
		Description: "Fan out to every branch handle with an independent copy of the context",
		Ports: PortSchema{
			Inputs:  defaultInput,
			Outputs: []PortDef{{Name: "branch-{i}", Description: "one per configured branch", Dynamic: true}},
		},
		OutputFields: []FieldDef{{Name: "branches", Type: "number"}},
	})

	r.Register(NodeTypeDef{
		Type:        core.NodeTypeLoop,
		Group:       "control",
		DisplayName: "Loop",
		Description: "Run the contained nodes once per element of a collection and aggregate the results",
		Ports: PortSchema{
			Inputs: []PortDef{{Name: core.HandleLoopInput}},
			Outputs: []PortDef{
				{Name: core.HandleLoopStart, Description: "enters the loop body"},
				{Name: core.HandleLoopOutput, Description: "continues after the last iteration"},
			},
		},
		OutputFields: []FieldDef{{Name: "result", Type: "array"}},
		Container:    true,
	})

	r.Register(NodeTypeDef{
		Type:         core.NodeTypeApproval,
		Group:        "human",
		DisplayName:  "Approval",
		Description:  "Wait for one of the approvers to sign off",
		Ports:        PortSchema{Inputs: defaultInput, Outputs: defaultOutput},
		OutputFields: outputField,
	})

	r.Register(NodeTypeDef{
		Type:         core.NodeTypeNotification,
		Group:        "human",
		DisplayName:  "Notification",
		Description:  "Send a message to recipients over a channel",
		Ports:        PortSchema{Inputs: defaultInput, Outputs: defaultOutput},
		OutputFields: outputField,
	})

	r.Register(NodeTypeDef{
		Type:        core.NodeTypeAPICall,
		Group:       "integration",
		DisplayName: "API Call",
		Description: "Call an HTTP endpoint",
		Ports:       PortSchema{Inputs: defaultInput, Outputs: defaultOutput},
		OutputFields: []FieldDef{
			{Name: "data", Type: "object"},
			{Name: "status", Type: "number"},
			{Name: "headers", Type: "object"},
		},
	})

	r.Register(NodeTypeDef{
		Type:        core.NodeTypeModelCall,
		Group:       "ai",
		DisplayName: "Model Call",
		Description: "Send a prompt to a language model",
		Ports:       PortSchema{Inputs: defaultInput, Outputs: defaultOutput},
		OutputFields: []FieldDef{
			{Name: "text", Type: "string"},
			{Name: "response", Type: "object"},
		},
	})

	r.Register(NodeTypeDef{
		Type:         core.NodeTypeScript,
		Group:        "data",
		DisplayName:  "Script",
		Description:  "Run user code",
		Ports:        PortSchema{Inputs: defaultInput, Outputs: defaultOutput},
		OutputFields: outputField,
	})

	r.Register(NodeTypeDef{
		Type:         core.NodeTypeDataOperation,
		Group:        "data",
		DisplayName:  "Data Operation",
		Description:  "Compute a value from the run variables with an expression",
		Ports:        PortSchema{Inputs: defaultInput, Outputs: defaultOutput},
		OutputFields: outputField,
	})

	r.Register(NodeTypeDef{
		Type:         core.NodeTypeDelay,
		Group:        "control",
		DisplayName:  "Delay",
		Description:  "Wait a fixed duration or until the next cron tick",
		Ports:        PortSchema{Inputs: defaultInput, Outputs: defaultOutput},
		OutputFields: outputField,
	})

	r.Register(NodeTypeDef{
		Type:         core.NodeTypeCC,
		Group:        "human",
		DisplayName:  "CC",
		Description:  "Copy recipients on the current request without blocking",
		Ports:        PortSchema{Inputs: defaultInput, Outputs: defaultOutput},
		OutputFields: outputField,
	})

	r.Register(NodeTypeDef{
		Type:         core.NodeTypeSQL,
		Group:        "integration",
		DisplayName:  "SQL",
		Description:  "Run a query against a data source",
		Ports:        PortSchema{Inputs: defaultInput, Outputs: defaultOutput},
		OutputFields: outputField,
	})

	r.Register(NodeTypeDef{
		Type:         core.NodeTypeKnowledgeRetrieval,
		Group:        "ai",
		DisplayName:  "Knowledge Retrieval",
		Description:  "Fetch the top matching passages from a knowledge base",
		Ports:        PortSchema{Inputs: defaultInput, Outputs: defaultOutput},
		OutputFields: outputField,
	})

	r.Register(NodeTypeDef{
		Type:         core.NodeTypeDocumentExtraction,
		Group:        "ai",
		DisplayName:  "Document Extraction",
		Description:  "Pull named fields out of a document",
		Ports:        PortSchema{Inputs: defaultInput, Outputs: defaultOutput},
		OutputFields: outputField,
	})

	for _, def := range r.All() {
		def.DefaultSize = core.DefaultSize(def.Type)
		r.Register(def)
	}
}

// registerSystemCategories registers the built-in category profiles.
func registerSystemCategories(r *Registry) {
	r.RegisterCategory(core.Category{
		ID:           "all",
		Name:         "All nodes",
		Description:  "Every node type",
		AllowedTypes: core.AllNodeTypes,
		IsSystem:     true,
	})
	r.RegisterCategory(core.Category{
		ID:          "approval",
		Name:        "Approval flows",
		Description: "Human sign-off processes",
		AllowedTypes: []core.NodeType{
			core.NodeTypeStart, core.NodeTypeEnd, core.NodeTypeBranch, core.NodeTypeParallel,
			core.NodeTypeApproval, core.NodeTypeNotification, core.NodeTypeCC, core.NodeTypeDelay,
		},
		IsSystem: true,
	})
	r.RegisterCategory(core.Category{
		ID:          "ai",
		Name:        "AI pipelines",
		Description: "Model calls, retrieval and extraction",
		AllowedTypes: []core.NodeType{
			core.NodeTypeStart, core.NodeTypeEnd, core.NodeTypeBranch, core.NodeTypeLoop,
			core.NodeTypeModelCall, core.NodeTypeKnowledgeRetrieval, core.NodeTypeDocumentExtraction,
			core.NodeTypeDataOperation, core.NodeTypeScript,
		},
		IsSystem: true,
	})
	r.RegisterCategory(core.Category{
		ID:          "integration",
		Name:        "Integrations",
		Description: "Calls out to other systems",
		AllowedTypes: []core.NodeType{
			core.NodeTypeStart, core.NodeTypeEnd, core.NodeTypeBranch, core.NodeTypeParallel,
			core.NodeTypeLoop, core.NodeTypeAPICall, core.NodeTypeSQL, core.NodeTypeScript,
			core.NodeTypeDataOperation, core.NodeTypeDelay,
		},
		IsSystem: true,
	})
}
