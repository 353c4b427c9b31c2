package types

import "errors"

var (
	// ErrRetrievalUnavailable means the vector index (or the embedder in
	// front of it) could not be read.
	ErrRetrievalUnavailable = errors.New("retrieval unavailable")
	// ErrGenerationTimeout means the model produced no first chunk in time.
	ErrGenerationTimeout = errors.New("generation timed out waiting for the first response")
	// ErrClientDisconnected is a cooperative stop signal, not a failure.
	ErrClientDisconnected = errors.New("client disconnected")
	ErrGenerationFailure  = errors.New("generation failed")
	// ErrSetupFailure wraps anything that fails before the stream starts.
	ErrSetupFailure = errors.New("setup failed")
	// ErrServerStopping is the cancel cause of in-flight streams on shutdown.
	ErrServerStopping = errors.New("server is shutting down")
)
