package models

import "errors"

// Draft validation errors.
var (
	ErrMissingTitle  = errors.New("draft has no title")
	ErrMissingURL    = errors.New("draft has no url")
	ErrMissingSource = errors.New("draft has no source")
	ErrMissingDate   = errors.New("draft has no date")
)
