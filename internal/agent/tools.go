package agent

import (
	"github.com/akolanti/kbchat/internal/domain/chatModel"
	"github.com/akolanti/kbchat/internal/rag/llm"
)

var queryParam = map[string]llm.ParamSpec{
	"query": {Description: "A standalone search query rewritten from the user's question.", Required: true},
}

var toolSpecs = map[chatModel.ToolName]llm.ToolSpec{
	chatModel.ToolSearchDocuments: {
		Name:        chatModel.ToolSearchDocuments,
		Description: "Search the user's own uploaded documents for passages relevant to the query.",
		Parameters:  queryParam,
	},
	chatModel.ToolSearchKnowledgeBase: {
		Name:        chatModel.ToolSearchKnowledgeBase,
		Description: "Search the selected knowledge base for passages relevant to the query.",
		Parameters:  queryParam,
	},
	chatModel.ToolReadCurrentPage: {
		Name:        chatModel.ToolReadCurrentPage,
		Description: "Read the parts of the web page the user is currently viewing that relate to the query.",
		Parameters:  queryParam,
	},
	chatModel.ToolUseContext: {
		Name:        chatModel.ToolUseContext,
		Description: "Read the text the user supplied with this message.",
	},
	chatModel.ToolFinish: {
		Name:        chatModel.ToolFinish,
		Description: "Signal that the answer is complete. Put the final answer in the answer argument.",
		Parameters: map[string]llm.ParamSpec{
			"answer": {Description: "The final answer shown to the user."},
		},
	},
}

// toolSet maps a request onto the tools the model may see. Every mode and selector has exactly one set.
func toolSet(mode chatModel.RequestMode, active chatModel.ActiveTool) []chatModel.ToolName {
	switch mode {
	case chatModel.ModeEmbed:
		switch active {
		case chatModel.ActiveToolKnowledgeBase:
			return []chatModel.ToolName{chatModel.ToolSearchKnowledgeBase, chatModel.ToolFinish}
		case chatModel.ActiveToolCurrentPage:
			return []chatModel.ToolName{chatModel.ToolReadCurrentPage, chatModel.ToolFinish}
		case chatModel.ActiveToolContext:
			return []chatModel.ToolName{chatModel.ToolUseContext, chatModel.ToolFinish}
		default:
			return []chatModel.ToolName{chatModel.ToolSearchKnowledgeBase, chatModel.ToolReadCurrentPage, chatModel.ToolFinish}
		}
	case chatModel.ModeKnowledgeBase:
		return []chatModel.ToolName{chatModel.ToolSearchKnowledgeBase}
	default:
		return []chatModel.ToolName{chatModel.ToolSearchDocuments}
	}
}

func specsFor(names []chatModel.ToolName) []llm.ToolSpec {
	specs := make([]llm.ToolSpec, 0, len(names))
	for _, n := range names {
		specs = append(specs, toolSpecs[n])
	}
	return specs
}

func contains(names []chatModel.ToolName, name chatModel.ToolName) bool {
	for _, n := range names {
		if n == name {
			return true
		}
	}
	return false
}

// chooseTools decides once per turn whether tools are forced, optional or off.
func chooseTools(alwaysUseDocument bool, hasCredit bool, hasSources bool) chatModel.ToolChoice {
	switch {
	case !hasCredit || !hasSources:
		return chatModel.ToolChoiceNone
	case alwaysUseDocument:
		return chatModel.ToolChoiceRequired
	default:
		return chatModel.ToolChoiceAuto
	}
}

// hasSources reports whether any tool in the set has something to read.
func hasSources(names []chatModel.ToolName, documentIds []string, req chatModel.TurnRequest) bool {
	for _, n := range names {
		switch n {
		case chatModel.ToolSearchDocuments, chatModel.ToolSearchKnowledgeBase:
			if len(documentIds) > 0 {
				return true
			}
		case chatModel.ToolReadCurrentPage:
			if req.PageContent != "" {
				return true
			}
		case chatModel.ToolUseContext:
			if req.ContextText != "" {
				return true
			}
		}
	}
	return false
}
