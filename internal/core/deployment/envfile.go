package deployment

import (
	"bytes"
	"fmt"

	"github.com/compose-spec/compose-go/v2/dotenv"
)

// ParseSecretConfig parses env file content with the same parser Compose
// applies to env_file entries.
func ParseSecretConfig(content []byte) (map[string]string, error) {
	values, err := dotenv.Parse(bytes.NewReader(content))
	if err != nil {
		return nil, fmt.Errorf("parse env file: %w", err)
	}
	return values, nil
}

// MergeEnv layers env maps; later maps win.
func MergeEnv(layers ...map[string]string) map[string]string {
	out := make(map[string]string)
	for _, layer := range layers {
		for k, v := range layer {
			out[k] = v
		}
	}
	return out
}
