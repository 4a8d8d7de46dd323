package models

import "encoding/json"

// InferenceResult is the output of the sentiment service.
type InferenceResult struct {
	Label string  `json:"label"`
	Score float64 `json:"score"`
}

// InferenceResponse is the envelope returned by the inference service.
type InferenceResponse struct {
	Output json.RawMessage `json:"output"`
	Error  string          `json:"error,omitempty"`
}

// PredictRequest is the payload the browser form and the predict command send.
// The proxy itself accepts any JSON value.
type PredictRequest struct {
	Data string `json:"data"`
}

// PredictResponse is returned by POST /predict.
type PredictResponse struct {
	Output json.RawMessage `json:"output"`
	Cached bool            `json:"cached"`
}
