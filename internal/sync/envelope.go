package sync

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	gojson "github.com/goccy/go-json"
)

// ErrMalformedResponse is returned when the response body is not a JSON object.
var ErrMalformedResponse = errors.New("malformed response")

// GraphQLError reports a top-level "errors" array in the response.
type GraphQLError struct {
	Messages []string
}

func (e *GraphQLError) Error() string {
	if len(e.Messages) == 0 {
		return "graphql error"
	}
	return "graphql error: " + strings.Join(e.Messages, "; ")
}

type envelope struct {
	Data   json.RawMessage `json:"data"`
	Errors []struct {
		Message string `json:"message"`
	} `json:"errors"`
}

// decodeEnvelope splits the response body into per-query slices. A body of
// the form {"data": {...}} is unwrapped; otherwise the top-level object is
// used directly. Any "errors" entry fails the whole round.
func decodeEnvelope(body []byte) (Data, error) {
	var top map[string]json.RawMessage
	if err := gojson.Unmarshal(body, &top); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	if top == nil {
		return nil, fmt.Errorf("%w: body is null", ErrMalformedResponse)
	}

	if raw, ok := top["errors"]; ok && !isNull(raw) {
		var env envelope
		if err := gojson.Unmarshal(body, &env); err != nil {
			return nil, fmt.Errorf("%w: errors: %v", ErrMalformedResponse, err)
		}
		if len(env.Errors) > 0 {
			gqlErr := &GraphQLError{}
			for _, e := range env.Errors {
				gqlErr.Messages = append(gqlErr.Messages, e.Message)
			}
			return nil, gqlErr
		}
	}

	raw, wrapped := top["data"]
	if !wrapped {
		return Data(top), nil
	}

	var data map[string]json.RawMessage
	if err := gojson.Unmarshal(raw, &data); err != nil {
		return nil, fmt.Errorf("%w: data: %v", ErrMalformedResponse, err)
	}
	if data == nil {
		return nil, fmt.Errorf("%w: data is null", ErrMalformedResponse)
	}
	return Data(data), nil
}

func isNull(raw []byte) bool {
	return strings.TrimSpace(string(raw)) == "null"
}
