package remote

import "encoding/json"

// headerContentLength announces the JSON header length of a binary body.
const headerContentLength = "Inference-Header-Content-Length"

type inferRequestJSON struct {
	ID         string              `json:"id,omitempty"`
	Parameters map[string]any      `json:"parameters,omitempty"`
	Inputs     []tensorJSON        `json:"inputs"`
	Outputs    []outputRequestJSON `json:"outputs,omitempty"`
}

type tensorParams struct {
	BinaryDataSize *uint64 `json:"binary_data_size,omitempty"`
}

type tensorJSON struct {
	Name       string          `json:"name"`
	DataType   string          `json:"datatype"`
	Shape      []int64         `json:"shape"`
	Parameters *tensorParams   `json:"parameters,omitempty"`
	Data       json.RawMessage `json:"data,omitempty"`
}

type outputParams struct {
	BinaryData bool `json:"binary_data"`
}

type outputRequestJSON struct {
	Name       string       `json:"name"`
	Parameters outputParams `json:"parameters"`
}

type inferResponseJSON struct {
	ID           string       `json:"id"`
	ModelName    string       `json:"model_name"`
	ModelVersion string       `json:"model_version"`
	Outputs      []tensorJSON `json:"outputs"`
}

type repositoryIndexRequest struct {
	Ready bool `json:"ready"`
}
