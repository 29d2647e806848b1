package voice

import "strconv"

// Turn is the dialogue position, carried solely in the callback URL query.
// The provider keeps no session, so the URL is the whole continuation token.
type Turn int

const (
	// TurnGreeting answers the call and asks the opening question.
	TurnGreeting Turn = 0
	// TurnFirstListen handles the caller's first utterance.
	TurnFirstListen Turn = 1
	// TurnFinalListen handles the last allowed utterance, then the call
	// is summarized and ended. Bounding turns caps AI cost per call.
	TurnFinalListen Turn = 2

	maxTurn = TurnFinalListen
)

// ParseTurn reads the turn query value. Anything unparsable or out of range
// is treated as the greeting turn.
func ParseTurn(raw string) Turn {
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 || n > int(maxTurn) {
		return TurnGreeting
	}
	return Turn(n)
}
