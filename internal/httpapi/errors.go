package httpapi

import "errors"

var (
	errInvalidBedPolygon      = errors.New("httpapi: bed polygon must have at least 3 points")
	errUnknownDigit           = errors.New("httpapi: unrecognized DTMF digit")
	errEmptyNoteText          = errors.New("httpapi: agent note text is required")
	errTranslationUnavailable = errors.New("httpapi: translation service not configured")
	errSpeechUnavailable      = errors.New("httpapi: text-to-speech service not configured")
)
