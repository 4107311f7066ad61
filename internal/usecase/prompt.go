package usecase

import (
	"fmt"
	"strings"
)

// buildSystemPrompt renders the fixed assistant persona sent with every
// completion request.
func buildSystemPrompt(botName string) string {
	return strings.Join([]string{
		fmt.Sprintf("You are %s.", botName),
		"You are an expert programmer and a helpful AI assistant.",
		"If the user asks for code, provide the FULL, WORKING code. Do not shorten it.",
		"Use Python, C++, Java, PHP etc as requested.",
		"Your responses should be complete and helpful.",
	}, " ")
}
