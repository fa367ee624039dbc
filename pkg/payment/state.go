package payment

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

const statePrefix = "user_"

// FormatState builds the OAuth state "user_{userID}_{unixMillis}".
func FormatState(userID string, at time.Time) string {
	return statePrefix + userID + "_" + strconv.FormatInt(at.UnixMilli(), 10)
}

// ParseState extracts the user id and issue time from a state built by FormatState.
func ParseState(state string) (string, time.Time, error) {
	rest, ok := strings.CutPrefix(state, statePrefix)
	if !ok {
		return "", time.Time{}, fmt.Errorf("%w: missing prefix", ErrInvalidState)
	}
	i := strings.LastIndex(rest, "_")
	if i <= 0 || i == len(rest)-1 {
		return "", time.Time{}, fmt.Errorf("%w: malformed", ErrInvalidState)
	}
	millis, err := strconv.ParseInt(rest[i+1:], 10, 64)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("%w: bad timestamp", ErrInvalidState)
	}
	return rest[:i], time.UnixMilli(millis), nil
}
