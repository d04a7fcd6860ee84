package biz

import (
	"strings"

	"github.com/kart-io/docchat/internal/docchat/store"
	"github.com/kart-io/docchat/internal/model"
)

// answerTemplate 基于检索上下文回答的提示模板。
const answerTemplate = `Answer the question based on the provided context.
If the answer cannot be found in the context, acknowledge that and provide a general response.

Context: {context}
Chat History: {chat_history}
Current Question: {question}`

// condenseTemplate 将追问改写为独立问题的提示模板。
const condenseTemplate = `Given the following conversation and a follow up question, rephrase the follow up question to be a standalone question, in its original language.

Chat History:
{chat_history}
Follow Up Input: {question}
Standalone question:`

// CompleteTurns 过滤掉缺少提问或回答的历史轮次，保持原有顺序。
func CompleteTurns(history []model.ConversationTurn) []model.ConversationTurn {
	out := make([]model.ConversationTurn, 0, len(history))
	for _, t := range history {
		if t.Complete() {
			out = append(out, t)
		}
	}
	return out
}

// BuildChatPrompt 构造直接生成的提示：每轮历史一段 "You: m\nAI: r"，
// 最后是 "You: <message>\nAI:"。
func BuildChatPrompt(message string, history []model.ConversationTurn) string {
	var sb strings.Builder
	for _, t := range CompleteTurns(history) {
		sb.WriteString("You: ")
		sb.WriteString(t.Message)
		sb.WriteString("\nAI: ")
		sb.WriteString(t.Response)
		sb.WriteString("\n")
	}
	sb.WriteString("You: ")
	sb.WriteString(message)
	sb.WriteString("\nAI:")
	return sb.String()
}

// FormatChatHistory 将历史格式化为 "Human: m\nAssistant: r" 行。
func FormatChatHistory(history []model.ConversationTurn) string {
	turns := CompleteTurns(history)
	lines := make([]string, 0, len(turns))
	for _, t := range turns {
		lines = append(lines, "Human: "+t.Message+"\nAssistant: "+t.Response)
	}
	return strings.Join(lines, "\n")
}

// BuildAnswerPrompt 填充回答模板，上下文块之间以空行分隔。
func BuildAnswerPrompt(results []store.SearchResult, history []model.ConversationTurn, question string) string {
	parts := make([]string, 0, len(results))
	for _, r := range results {
		parts = append(parts, r.Chunk.Content)
	}
	return strings.NewReplacer(
		"{context}", strings.Join(parts, "\n\n"),
		"{chat_history}", FormatChatHistory(history),
		"{question}", question,
	).Replace(answerTemplate)
}

// BuildCondensePrompt 填充追问改写模板。
func BuildCondensePrompt(history []model.ConversationTurn, question string) string {
	return strings.NewReplacer(
		"{chat_history}", FormatChatHistory(history),
		"{question}", question,
	).Replace(condenseTemplate)
}
