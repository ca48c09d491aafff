package util

import "errors"

var (
	ErrNoClassSelected  = errors.New("no class selected")
	ErrNoFileChosen     = errors.New("no import file chosen")
	ErrFileTooLarge     = errors.New("import file too large")
	ErrRowNotFound      = errors.New("student row not found in roster")
	ErrSubmitInFlight   = errors.New("attendance submission already in flight")
	ErrImportInFlight   = errors.New("roster import already in flight")
	ErrRosterSuperseded = errors.New("roster response superseded by a newer class selection")
)
