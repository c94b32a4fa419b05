package extractor

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v2"
)

// ExtractMetadata reads the YAML sidecar of filename, trying <file>.yaml
// then <file>.yml. It returns nil without error when neither exists.
func ExtractMetadata(filename string) (*Metadata, error) {
	for _, ext := range []string{".yaml", ".yml"} {
		rawData, err := os.ReadFile(filename + ext)
		if os.IsNotExist(err) {
			continue
		}
		if err != nil {
			return nil, err
		}

		var md Metadata
		if err := yaml.Unmarshal(rawData, &md); err != nil {
			return nil, fmt.Errorf("%s%s: %v", filename, ext, err)
		}
		return &md, nil
	}
	return nil, nil
}
