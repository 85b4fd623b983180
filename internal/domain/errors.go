package domain

import "errors"

var (
	// ErrUnauthorized is returned when the caller is not the session host.
	ErrUnauthorized = errors.New("not authorized for this session")
	// ErrNotInSession is returned when a participant acts before joining.
	ErrNotInSession = errors.New("connection is not bound to a session")
	// ErrSessionNotFound is returned when a session id or code does not resolve.
	ErrSessionNotFound = errors.New("session not found")
	// ErrSessionNotJoinable is returned when the session status forbids joining.
	ErrSessionNotJoinable = errors.New("session is not accepting participants")
	// ErrSessionNotActive is returned when answers arrive outside an active session.
	ErrSessionNotActive = errors.New("session is not accepting answers")
	// ErrNicknameTaken is returned when a connected participant already uses the nickname.
	ErrNicknameTaken = errors.New("nickname already taken")
	// ErrAlreadyAnswered is returned on a second submission for the same question.
	ErrAlreadyAnswered = errors.New("question already answered")
	// ErrQuizNotFound indicates the quiz content could not be loaded.
	ErrQuizNotFound = errors.New("quiz not found")
	// ErrEmptyQuiz indicates a quiz without questions cannot be run live.
	ErrEmptyQuiz = errors.New("quiz has no questions")
	// ErrQuestionNotFound indicates a submitted question ID is invalid.
	ErrQuestionNotFound = errors.New("question not found")
	// ErrParticipantNotFound is returned when a participant record is missing.
	ErrParticipantNotFound = errors.New("participant not found")
	ErrNoMoreQuestions     = errors.New("no more questions")
	ErrAlreadyAtStart      = errors.New("already at the first question")
	// ErrInvalidTransition is returned for an operation not legal in the current status.
	ErrInvalidTransition = errors.New("operation not allowed in current session state")
	// ErrSessionConflict is returned when a concurrent update won the compare-and-set.
	ErrSessionConflict = errors.New("session was modified concurrently")
	// ErrCodeInUse is returned by stores when a session code collides.
	ErrCodeInUse = errors.New("session code already in use")
	// ErrCodeGenerationExhausted is returned when no free code was found within the retry bound.
	ErrCodeGenerationExhausted = errors.New("could not generate a unique session code")
	ErrInvalidPayload          = errors.New("invalid message payload")
	ErrUnsupportedMessage      = errors.New("unsupported message type")
)
