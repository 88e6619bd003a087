package server

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

const maxBodyBytes = 1 << 20

// readRaw returns the request body as a JSON object, verifying it parses.
func readRaw(r *http.Request) (map[string]json.RawMessage, error) {
	data, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	obj := map[string]json.RawMessage{}
	if len(data) > 0 {
		if err := json.Unmarshal(data, &obj); err != nil {
			return nil, fmt.Errorf("invalid JSON: %w", err)
		}
	}
	return obj, nil
}

// withID merges the path id into the body so the payload matches the
// tool argument shape the executor validates.
func withID(body map[string]json.RawMessage, id string) (json.RawMessage, error) {
	rawID, err := json.Marshal(id)
	if err != nil {
		return nil, err
	}
	body["id"] = rawID
	out, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encode args: %w", err)
	}
	return out, nil
}

func idArgs(id string) (json.RawMessage, error) {
	return json.Marshal(map[string]string{"id": id})
}
