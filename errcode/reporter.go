package errcode

import (
	"github.com/rs/zerolog"
)

// Reporter is the sink for reported errors. Report is for recoverable
// conditions, Fatal is for programmer errors and panics after the log line is
// written so defective callers stop immediately.
type Reporter struct {
	logger zerolog.Logger
}

func NewReporter(logger zerolog.Logger) Reporter {
	return Reporter{logger: logger}
}

func (r Reporter) Report(err error) {
	if err == nil {
		return
	}

	r.event(err).Msg("error reported")
}

func (r Reporter) Fatal(err error) {
	if err == nil {
		return
	}

	r.event(err).Msg("fatal error reported")
	panic(err)
}

func (r Reporter) event(err error) *zerolog.Event {
	evt := r.logger.Error()
	if e, ok := err.(Error); ok {
		evt = evt.Uint16("module", uint16(e.Module)).Uint32("code", uint32(e.Code))
	}

	return evt.Err(err)
}
