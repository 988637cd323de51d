package think

import (
	"fmt"
	"strings"

	"github.com/vinayprograms/callkit/llm"
	"github.com/vinayprograms/callkit/memory"
	"github.com/vinayprograms/callkit/registry"
)

// SystemPrompt renders the instruction for an agent. Voice agents are told
// their replies are spoken on a call; base agents answer in plain text.
func SystemPrompt(t registry.AgentType, v registry.Voice) string {
	style := strings.TrimSpace(v.Style)
	if style == "" {
		style = "neutral"
	}
	if t == registry.TypeVoice {
		return fmt.Sprintf("You are a voice agent on a phone call. Speak in a %s style. "+
			"Keep replies short and natural to say aloud, with no markdown or lists.", style)
	}
	return fmt.Sprintf("You are a helpful assistant. Answer in a %s style and keep replies concise.", style)
}

// BuildMessages lays out the conversation for the provider: the system
// prompt, each remembered exchange as a user/assistant pair oldest first,
// then the new input.
func BuildMessages(t registry.AgentType, v registry.Voice, stm []memory.Exchange, input string) []llm.Message {
	msgs := make([]llm.Message, 0, 2+2*len(stm))
	msgs = append(msgs, llm.Message{Role: llm.RoleSystem, Content: SystemPrompt(t, v)})
	for _, x := range stm {
		msgs = append(msgs,
			llm.Message{Role: llm.RoleUser, Content: x.Input},
			llm.Message{Role: llm.RoleAssistant, Content: x.Output},
		)
	}
	return append(msgs, llm.Message{Role: llm.RoleUser, Content: input})
}
