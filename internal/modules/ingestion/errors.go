package ingestion

import (
	"errors"
	"fmt"
)

var (
	// ErrSourceNotFound means the storage metadata API has no such object.
	ErrSourceNotFound = errors.New("file does not exist in storage")
	// ErrNoAudioTrack means the media has no audio stream to transcribe.
	ErrNoAudioTrack = errors.New("file does not contain an audio track")
)

// DownloadError is returned once every download attempt has failed.
type DownloadError struct {
	URL        string
	Attempts   int
	LastStatus int
	Err        error
}

func (e *DownloadError) Error() string {
	if e == nil {
		return "failed to download file"
	}
	switch {
	case e.LastStatus != 0:
		return fmt.Sprintf("failed to download file after %d attempts: HTTP %d", e.Attempts, e.LastStatus)
	case e.Err != nil:
		return fmt.Sprintf("failed to download file after %d attempts: %v", e.Attempts, e.Err)
	default:
		return fmt.Sprintf("failed to download file after %d attempts", e.Attempts)
	}
}

func (e *DownloadError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func (e *DownloadError) HTTPStatusCode() int {
	if e == nil {
		return 0
	}
	return e.LastStatus
}
