package chat

import "errors"

var (
	// ErrEmptyMessage and ErrNoConversation reject a send before any network
	// call. The UI ignores both.
	ErrEmptyMessage   = errors.New("chat: empty message")
	ErrNoConversation = errors.New("chat: no conversation selected")

	ErrSelfConversation = errors.New("chat: cannot start a conversation with yourself")

	// ErrSuperseded is returned by a history load whose conversation was
	// replaced by a newer selection before the response arrived.
	ErrSuperseded = errors.New("chat: conversation changed during load")

	ErrUnknownMessage = errors.New("chat: no unconfirmed message with that client id")
)
