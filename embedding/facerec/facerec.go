// Package facerec embeds character images with dlib's face recognition
// network: the 128-d descriptor of the single face found in the image.
package facerec

import (
	"bytes"
	"context"
	"sync"

	"assetgate/embedding"
	"assetgate/errs"
	"assetgate/utils"

	"github.com/Kagami/go-face"
	"github.com/m-mizutani/goerr/v2"
)

const ModelName = "dlib_face_v1"

// Faces larger than this are detected just as well on a smaller copy
const maxSide = 1280

type Embedder struct {
	// The recognizer is not safe for concurrent use
	mutex      sync.Mutex
	recognizer *face.Recognizer
	useCNN     bool
}

var _ embedding.Embedder = (*Embedder)(nil)

func New(modelsDir string, useCNN bool) (*Embedder, error) {
	rec, err := face.NewRecognizer(modelsDir)
	if err != nil {
		return nil, goerr.Wrap(err, "cannot load face models", goerr.V("dir", modelsDir))
	}
	return &Embedder{recognizer: rec, useCNN: useCNN}, nil
}

func (e *Embedder) Close() {
	e.recognizer.Close()
}

func (e *Embedder) Embed(ctx context.Context, image []byte, model string) (embedding.Result, error) {
	// dlib only reads JPEG
	var jpg bytes.Buffer
	if _, err := utils.ToJPEG(maxSide, bytes.NewReader(image), &jpg); err != nil {
		return embedding.Result{}, goerr.Wrap(errs.ErrEncodingFailure, "cannot convert image for face detection")
	}
	if err := ctx.Err(); err != nil {
		return embedding.Result{}, err
	}

	e.mutex.Lock()
	defer e.mutex.Unlock()
	var (
		f   *face.Face
		err error
	)
	if e.useCNN {
		f, err = e.recognizer.RecognizeSingleCNN(jpg.Bytes())
	} else {
		f, err = e.recognizer.RecognizeSingle(jpg.Bytes())
	}
	if err != nil {
		return embedding.Result{}, goerr.Wrap(errs.ErrEncodingFailure, err.Error())
	}
	if f == nil {
		// No face or more than one: nothing to compare
		return embedding.Result{}, goerr.Wrap(errs.ErrEncodingFailure, "no single face found in image")
	}
	desc := [128]float32(f.Descriptor)
	return embedding.Result{Vector: desc[:], Confidence: 1}, nil
}
