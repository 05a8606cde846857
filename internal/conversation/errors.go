package conversation

import "errors"

var (
	ErrTooFewParticipants = errors.New("a conversation needs at least 2 participants")
	ErrUnknownParticipant = errors.New("participant does not exist")
	ErrInvalidParticipant = errors.New("participant id is not valid")
)
