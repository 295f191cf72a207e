package handlers

const (
	// Request limits
	maxIntentLength        = 100
	defaultDurationMinutes = 25
	maxDurationMinutes     = 120
	maxFeedbackLength      = 500

	msgSessionStarted = "Session started"
	msgSessionEnded   = "Session ended"
)
