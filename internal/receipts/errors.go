package receipts

import "errors"

var (
	ErrMessageNotFound      = errors.New("message not found")
	ErrConversationNotFound = errors.New("conversation not found")
	ErrNotParticipant       = errors.New("user is not a participant of this conversation")
	ErrSelfRead             = errors.New("cannot mark your own message as read")
	ErrNotSender            = errors.New("only the sender can view the read status of a message")
)
