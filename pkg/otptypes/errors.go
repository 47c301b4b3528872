package otptypes

import "errors"

var (
	ErrShortRecord = errors.New("otptypes: record shorter than configuration layout")
)
