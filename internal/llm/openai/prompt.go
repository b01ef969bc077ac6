package openai

import (
	goopenai "github.com/sashabaranov/go-openai"

	"menu-analysis-backend/internal/llm"
)

const systemPromptFixJSON = "You are a JSON repair tool. Return only valid JSON matching the requested object exactly."

// BuildPrompt creates the chat messages for a menu analysis request.
func BuildPrompt(input llm.AnalyzeInput) []goopenai.ChatCompletionMessage {
	return []goopenai.ChatCompletionMessage{
		{Role: goopenai.ChatMessageRoleSystem, Content: llm.SystemPrompt},
		{Role: goopenai.ChatMessageRoleUser, Content: llm.UserPrompt(input)},
	}
}

func buildFixPrompt(raw string) []goopenai.ChatCompletionMessage {
	return []goopenai.ChatCompletionMessage{
		{Role: goopenai.ChatMessageRoleSystem, Content: systemPromptFixJSON},
		{Role: goopenai.ChatMessageRoleSystem, Content: llm.SystemPrompt},
		{Role: goopenai.ChatMessageRoleUser, Content: "Fix this JSON. Output JSON only:\n" + raw},
	}
}
