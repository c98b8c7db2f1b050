// Package errs holds the error taxonomy shared by the gates and their
// collaborators. Callers classify with errors.Is; the wrapping goerr values
// carry the context (asset, gate, model...).
package errs

import "github.com/m-mizutani/goerr/v2"

var (
	ErrAssetNotFound     = goerr.New("asset not found")
	ErrDecodeFailure     = goerr.New("image cannot be decoded")
	ErrEncodingFailure   = goerr.New("embedding could not be computed")
	ErrDimensionMismatch = goerr.New("embedding dimension mismatch")
	ErrConfigNotFound    = goerr.New("gate config not found")
	ErrInvalidInput      = goerr.New("invalid input")
)
