// Package opencv reads frames from a video device and shows a live preview
// through OpenCV.
//
// OpenCV is linked only when building with the opencv tag:
//
//	go build -tags opencv ./cmd/acquire
//
// Without it, Open and NewPreview return ErrNotBuilt so the synthetic and
// replay sources work on hosts without OpenCV.
package opencv

import "errors"

// ErrNotBuilt is returned by Open and NewPreview in builds without the opencv
// tag.
var ErrNotBuilt = errors.New("not built with OpenCV (rebuild with -tags opencv)")
