package aws

import (
	"context"
	"errors"
	"fmt"
	"time"

	awssdk "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/rekognition"
	"github.com/aws/aws-sdk-go-v2/service/rekognition/types"
	"go.uber.org/zap"

	"github.com/satriahrh/allergy-checker/domain"
	"github.com/satriahrh/allergy-checker/domain/entities"
	"github.com/satriahrh/allergy-checker/domain/repositories"
)

type rekognitionAPI interface {
	SearchFacesByImage(ctx context.Context, params *rekognition.SearchFacesByImageInput, optFns ...func(*rekognition.Options)) (*rekognition.SearchFacesByImageOutput, error)
	IndexFaces(ctx context.Context, params *rekognition.IndexFacesInput, optFns ...func(*rekognition.Options)) (*rekognition.IndexFacesOutput, error)
	DetectText(ctx context.Context, params *rekognition.DetectTextInput, optFns ...func(*rekognition.Options)) (*rekognition.DetectTextOutput, error)
}

// Rekognition searches and indexes faces and reads text in pictures
type Rekognition struct {
	client rekognitionAPI
	logger *zap.Logger
}

var (
	_ repositories.FaceSearcher = (*Rekognition)(nil)
	_ repositories.FaceIndexer  = (*Rekognition)(nil)
	_ repositories.TextDetector = (*Rekognition)(nil)
)

// NewRekognition creates the adapter
func NewRekognition(cfg awssdk.Config, logger *zap.Logger) *Rekognition {
	return newRekognition(rekognition.NewFromConfig(cfg), logger)
}

func newRekognition(client rekognitionAPI, logger *zap.Logger) *Rekognition {
	return &Rekognition{client: client, logger: logger}
}

// SearchFace returns the best match above threshold. A picture without any
// face is a miss, like a picture of an unknown face.
func (r *Rekognition) SearchFace(ctx context.Context, image []byte, collectionID string, threshold float64) (entities.FaceMatch, error) {
	if len(image) == 0 {
		return entities.FaceMatch{}, fmt.Errorf("image is empty")
	}

	started := time.Now()
	out, err := r.client.SearchFacesByImage(ctx, &rekognition.SearchFacesByImageInput{
		CollectionId:       awssdk.String(collectionID),
		Image:              &types.Image{Bytes: image},
		FaceMatchThreshold: awssdk.Float32(float32(threshold)),
		MaxFaces:           awssdk.Int32(1),
	})
	if err != nil {
		var invalid *types.InvalidParameterException
		if errors.As(err, &invalid) {
			observe(serviceRekognition, started, nil)
			r.logger.Debug("No face in picture", zap.String("collectionID", collectionID))
			return entities.FaceMatch{}, nil
		}
		return entities.FaceMatch{}, observe(serviceRekognition, started, fmt.Errorf("failed to search faces: %w", err))
	}
	observe(serviceRekognition, started, nil)

	if len(out.FaceMatches) == 0 || out.FaceMatches[0].Face == nil {
		return entities.FaceMatch{}, nil
	}
	best := out.FaceMatches[0]
	return entities.FaceMatch{
		ExternalID: awssdk.ToString(best.Face.ExternalImageId),
		Confidence: float64(awssdk.ToFloat32(best.Similarity)),
	}, nil
}

// IndexFace adds the single largest face of image to the collection
func (r *Rekognition) IndexFace(ctx context.Context, collectionID, externalID string, image []byte) (string, error) {
	started := time.Now()
	out, err := r.client.IndexFaces(ctx, &rekognition.IndexFacesInput{
		CollectionId:    awssdk.String(collectionID),
		ExternalImageId: awssdk.String(externalID),
		Image:           &types.Image{Bytes: image},
		MaxFaces:        awssdk.Int32(1),
	})
	if err := observe(serviceRekognition, started, err); err != nil {
		return "", err
	}

	if len(out.FaceRecords) == 0 || out.FaceRecords[0].Face == nil {
		return "", fmt.Errorf("no face indexed for %s: %w", externalID, domain.ErrNotFound)
	}
	return awssdk.ToString(out.FaceRecords[0].Face.FaceId), nil
}

// DetectLines returns the LINE detections in the order reported
func (r *Rekognition) DetectLines(ctx context.Context, image []byte) ([]string, error) {
	started := time.Now()
	out, err := r.client.DetectText(ctx, &rekognition.DetectTextInput{
		Image: &types.Image{Bytes: image},
	})
	if err := observe(serviceRekognition, started, err); err != nil {
		return nil, err
	}

	lines := make([]string, 0, len(out.TextDetections))
	for _, detection := range out.TextDetections {
		if detection.Type == types.TextTypesLine {
			lines = append(lines, awssdk.ToString(detection.DetectedText))
		}
	}
	return lines, nil
}
