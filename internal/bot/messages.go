package bot

import (
	"errors"
	"strings"

	"nitrobot/internal/nitro"
)

// User-facing texts.
const (
	CommandErrorMessage = "There was an error executing this command."
	unavailableMessage  = "Sorry, I couldn't reach Nitro AI right now. Please try again later."
	backendErrorPrefix  = "Sorry, I encountered an error: "
)

// UserMessage renders err for the person who asked. Backend errors carry
// the backend's own message; everything else stays generic so that
// endpoints, keys and ids never reach the chat.
func UserMessage(err error) string {
	var be *nitro.BackendError
	if errors.As(err, &be) {
		msg := strings.TrimSpace(be.Message)
		if msg == "" {
			msg = "the request could not be completed"
		}
		return backendErrorPrefix + msg
	}
	return unavailableMessage
}
