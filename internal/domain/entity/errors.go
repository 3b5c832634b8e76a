package entity

import "errors"

var (
	ErrLoad             = errors.New("video load error")
	ErrDetect           = errors.New("detection error")
	ErrEncode           = errors.New("encode error")
	ErrEndOfStream      = errors.New("end of video stream")
	ErrInvalidRequest   = errors.New("invalid annotation request")
	ErrRunInProgress    = errors.New("an annotation run is already in progress")
	ErrStorageOpen      = errors.New("storage open error")
	ErrStorageRead      = errors.New("storage read error")
	ErrStorageWrite     = errors.New("storage write error")
	ErrRecordNotFound   = errors.New("record not found")
	ErrVersionDowngrade = errors.New("requested schema version is lower than the stored version")
)
