package agent

import (
	"fmt"
	"strings"

	"github.com/akolanti/kbchat/internal/domain/chatModel"
	"github.com/akolanti/kbchat/internal/domain/commonModels"
)

const basePrompt = `You are a helpful assistant that answers questions using the user's documents.
Answer only from tool results when a tool was used. If the tool results do not contain the answer, say so.
Do not invent sources. Keep answers concise.`

const antiLoopRule = `If a tool reports that no relevant documents were found, that is the final result for this question.
Do not call the same tool again with the same arguments in this turn. Tell the user nothing relevant was found.`

const insufficientCreditRule = `The user has no credits left, so document search is unavailable.
Tell the user plainly that their credit balance is empty and that you cannot search their documents.
Do not answer the question from general knowledge.`

const noDocumentsRule = `There are no documents available to search for this request. Tell the user no documents are available.`

const embedRule = `You are embedded in a website. When you have the final answer, call the finish tool with it.`

type promptInput struct {
	mode               chatModel.RequestMode
	active             chatModel.ActiveTool
	knowledgeBase      *commonModels.KnowledgeBase
	language           string
	insufficientCredit bool
	noSources          bool
}

func systemPrompt(in promptInput) string {
	parts := []string{basePrompt, antiLoopRule}

	if in.mode == chatModel.ModeEmbed {
		parts = append(parts, embedRule)
		switch in.active {
		case chatModel.ActiveToolCurrentPage:
			parts = append(parts, "Answer about the page the user is viewing.")
		case chatModel.ActiveToolContext:
			parts = append(parts, "Correct or explain the text the user supplied. Do not search elsewhere.")
		}
	}

	if kb := in.knowledgeBase; kb != nil && in.mode != chatModel.ModeChat {
		parts = append(parts, fmt.Sprintf("You are answering from the knowledge base %q.", kb.Name))
		if instruction := strings.TrimSpace(kb.Instruction); instruction != "" {
			parts = append(parts, "Knowledge base instructions:\n"+instruction)
		}
	}

	switch {
	case in.insufficientCredit:
		parts = append(parts, insufficientCreditRule)
	case in.noSources:
		parts = append(parts, noDocumentsRule)
	}

	if lang := strings.TrimSpace(in.language); lang != "" {
		parts = append(parts, fmt.Sprintf("Reply in the language with code %q.", lang))
	}
	return strings.Join(parts, "\n\n")
}

var insufficientCreditText = map[string]string{
	"en": "Your credit balance is empty, so I can't search your documents right now.",
	"es": "Tu saldo de créditos está vacío, así que no puedo buscar en tus documentos ahora.",
	"fr": "Votre solde de crédits est vide, je ne peux donc pas rechercher dans vos documents.",
	"de": "Ihr Guthaben ist aufgebraucht, daher kann ich Ihre Dokumente gerade nicht durchsuchen.",
	"pt": "Seu saldo de créditos está vazio, então não posso pesquisar seus documentos agora.",
}

const stepLimitText = "I could not finish the answer within the allowed number of steps."

func localized(texts map[string]string, language string) string {
	lang := strings.ToLower(strings.TrimSpace(language))
	if i := strings.IndexAny(lang, "-_"); i > 0 {
		lang = lang[:i]
	}
	if t, ok := texts[lang]; ok {
		return t
	}
	return texts["en"]
}
