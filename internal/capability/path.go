package capability

// Path is the closed set of execution paths the research loop can dispatch to.
type Path string

const (
	PathInternalSearch      Path = "internal_search"
	PathWebSearch           Path = "web_search"
	PathKnowledgeGraph      Path = "knowledge_graph"
	PathImageGeneration     Path = "image_generation"
	PathCustomTool          Path = "custom_tool"
	PathGenericInternalTool Path = "generic_internal_tool"

	// Sentinel paths are reserved names that are not real tools.
	PathClarifier    Path = "clarifier"
	PathOrchestrator Path = "orchestrator"
	PathCloser       Path = "closer"
	PathLogger       Path = "logger"
	PathEnd          Path = "end"
)

var toolFamilies = []Path{
	PathInternalSearch,
	PathWebSearch,
	PathKnowledgeGraph,
	PathImageGeneration,
	PathCustomTool,
	PathGenericInternalTool,
}

// ToolFamilies returns the executable paths in dispatch order.
func ToolFamilies() []Path {
	out := make([]Path, len(toolFamilies))
	copy(out, toolFamilies)
	return out
}

// IsToolFamily reports whether p names an executable sub-agent pipeline.
func (p Path) IsToolFamily() bool {
	for _, f := range toolFamilies {
		if f == p {
			return true
		}
	}
	return false
}

// IsSentinel reports whether p is a reserved non-tool path.
func (p Path) IsSentinel() bool {
	switch p {
	case PathClarifier, PathOrchestrator, PathCloser, PathLogger, PathEnd:
		return true
	}
	return false
}

// IsDecision reports whether the orchestrator may name p as its next step.
// The clarifier and orchestrator sentinels are reserved for the state machine.
func (p Path) IsDecision() bool {
	return p == PathCloser || p == PathLogger || p == PathEnd
}

// RequiresQueries reports whether a decision for p is malformed without queries.
func (p Path) RequiresQueries() bool {
	switch p {
	case PathInternalSearch, PathWebSearch, PathKnowledgeGraph, PathImageGeneration:
		return true
	}
	return false
}

// ParallelismCap bounds how many branches one iteration of p may fan out to.
// Families that do not support parallel queries yet are pinned to 1.
func (p Path) ParallelismCap(def int) int {
	if def <= 0 {
		def = 4
	}
	switch p {
	case PathInternalSearch, PathWebSearch:
		return def
	default:
		return 1
	}
}

// LLMPath is the human readable path shown to the model and the user.
func (p Path) LLMPath() string {
	switch p {
	case PathInternalSearch:
		return "Internal Search"
	case PathWebSearch:
		return "Web Search"
	case PathKnowledgeGraph:
		return "Knowledge Graph Search"
	case PathImageGeneration:
		return "Image Generation"
	case PathCustomTool:
		return "Custom Tool"
	case PathGenericInternalTool:
		return "Generic Internal Tool"
	case PathCloser:
		return "Closer"
	default:
		return string(p)
	}
}
