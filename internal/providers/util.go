package providers

import "encoding/json"

// encodeArgs marshals a tool-call argument map into the raw JSON form the
// Provider event union carries, so every adapter represents tool call
// arguments identically regardless of the vendor SDK's native shape.
func encodeArgs(args map[string]any) ([]byte, error) {
	if args == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(args)
}
