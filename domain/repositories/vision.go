package repositories

import (
	"context"

	"github.com/satriahrh/allergy-checker/domain/entities"
)

// FaceSearcher looks up the single best face match in a collection.
// A miss is returned as a zero FaceMatch, not as an error.
type FaceSearcher interface {
	SearchFace(ctx context.Context, image []byte, collectionID string, threshold float64) (entities.FaceMatch, error)
}

// FaceIndexer adds a face to a collection under an external id
type FaceIndexer interface {
	IndexFace(ctx context.Context, collectionID, externalID string, image []byte) (faceID string, err error)
}

// TextDetector returns the recognized text lines of an image, in reading order
type TextDetector interface {
	DetectLines(ctx context.Context, image []byte) ([]string, error)
}
