package services

import "errors"

var (
	// ErrConversationResolution means the conversation could not be found
	// or created. The webhook answers 5xx so the platform retries.
	ErrConversationResolution = errors.New("conversation resolution failed")

	// ErrPersistInbound means an inbound message could not be stored.
	ErrPersistInbound = errors.New("inbound message not persisted")

	// ErrAutomationRender means a matched rule rendered a blank reply,
	// which is never sent.
	ErrAutomationRender = errors.New("automation render failed")

	ErrRateLimited     = errors.New("automated send rate limited")
	ErrUnknownPlatform = errors.New("unknown platform")
	ErrUnauthorized    = errors.New("webhook request not authenticated")
	ErrInvalidStatus   = errors.New("invalid conversation status")
	ErrNotFound        = errors.New("conversation not found")
)
