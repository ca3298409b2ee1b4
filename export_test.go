package esmon

// NewSuppressorForPID creates a Suppressor that treats selfPID as the
// monitoring process.
var NewSuppressorForPID = newSuppressor
