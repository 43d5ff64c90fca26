package scheduler

import "github.com/ternarybob/arbor"

// logSink reports background refresh progress to the log. Nobody is watching
// a background refresh, so an MFA prompt is logged as an error.
type logSink struct {
	logger   arbor.ILogger
	username string
}

func (l *logSink) OnStatusUpdate(stage, message string) {
	l.logger.Info().Str("username", l.username).Str("stage", stage).Msg(message)
}

func (l *logSink) OnMfaRequired(code, message string) {
	l.logger.Error().Str("username", l.username).Str("mfa_code", code).Msg("Background refresh hit an MFA prompt: " + message)
}
