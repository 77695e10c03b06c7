package model

import "github.com/m-mizutani/goerr/v2"

var (
	// acquisition
	ErrNoFile            = goerr.New("no file selected")
	ErrNotImage          = goerr.New("file is not an image")
	ErrPermissionDenied  = goerr.New("camera access has been denied")
	ErrCameraUnavailable = goerr.New("camera is not available")
	ErrInvalidState      = goerr.New("invalid camera state")

	// transport
	ErrInvalidPrediction = goerr.New("invalid prediction")

	// persistence
	ErrHistoryNotFound     = goerr.New("history not found")
	ErrObjectNotFound      = goerr.New("object not found")
	ErrDanglingInteraction = goerr.New("assistant interaction without preceding user interaction")
)
