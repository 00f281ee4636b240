package core

import "errors"

// ErrConversationNotFound is returned by public lookups for an unknown
// conversation id. Internal polling treats a vanished session as "stop
// gracefully" instead of surfacing this.
var ErrConversationNotFound = errors.New("conversation not found")
