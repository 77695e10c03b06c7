package model

type CameraPermission string

const (
	CameraPermissionGranted CameraPermission = "granted"
	CameraPermissionDenied  CameraPermission = "denied"
	CameraPermissionPrompt  CameraPermission = "prompt"
)

// CameraState is the state of the camera capture modal
type CameraState string

const (
	CameraClosed          CameraState = "closed"
	CameraRequesting      CameraState = "requesting"
	CameraLive            CameraState = "live"
	CameraPermissionError CameraState = "permission_error"
	CameraCaptured        CameraState = "captured"
)
