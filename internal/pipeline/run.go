package pipeline

import (
	"context"

	"github.com/google/uuid"

	"github.com/Brownie44l1/pet-classifier/internal/logging"
	"github.com/Brownie44l1/pet-classifier/internal/present"
)

// Run decodes, preprocesses and classifies one image synchronously, outside
// any controller state. Errors keep their stage type for errors.As.
func Run(ctx context.Context, decoder Decoder, preprocessor Preprocessor, classifier Classifier, data []byte, mediaType string) (present.View, error) {
	requestID := uuid.NewString()

	img, err := decoder.Decode(data, mediaType)
	if err != nil {
		return present.View{}, logging.NewOperationError("decode image", requestID, err)
	}

	buf, err := preprocessor.Prepare(img, classifier.InputSpec())
	if err != nil {
		return present.View{}, logging.NewOperationError("preprocess image", requestID, err)
	}

	probs, err := classifier.Predict(ctx, buf)
	if err != nil {
		return present.View{}, logging.NewOperationError("predict", requestID, err)
	}
	return present.Present(*probs), nil
}
