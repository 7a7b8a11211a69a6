package syncengine

import "time"

// backoffTable maps the attempt count before increment to the retry delay:
// the first failure of an action (attempt_count still 0) schedules the retry
// one minute out, the fifth (attempt_count 4) three hours out.
var backoffTable = []time.Duration{
	1 * time.Minute,
	5 * time.Minute,
	15 * time.Minute,
	60 * time.Minute,
	180 * time.Minute,
}

// MaxAttempts is the number of failed attempts after which an action stops
// retrying automatically and waits for administrative re-arming. It must
// track backoffTable so every counted attempt has a scheduled delay.
var MaxAttempts = len(backoffTable)

// RetryDelay returns the backoff delay for a failure occurring when the
// action has already failed attemptsBefore times. ok is false once the
// failure would push the attempt count past MaxAttempts, in which case no
// further automatic retry is scheduled.
func RetryDelay(attemptsBefore int) (time.Duration, bool) {
	if attemptsBefore < 0 || attemptsBefore >= len(backoffTable) {
		return 0, false
	}
	return backoffTable[attemptsBefore], true
}
