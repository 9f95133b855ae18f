package config

import (
	"fmt"
	"os"

	"github.com/tildaslashalef/kbpicker/internal/stackai"
	"gopkg.in/yaml.v3"
)

// LoadIndexingFile reads indexing parameters from a YAML file. Keys missing
// from the file keep the values of base.
//
//	ocr: false
//	unstructured: true
//	embedding_params:
//	  embedding_model: text-embedding-ada-002
//	chunker_params:
//	  chunk_size: 1500
//	  chunk_overlap: 500
//	  chunker: sentence
func LoadIndexingFile(path string, base stackai.IndexingParams) (stackai.IndexingParams, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return base, fmt.Errorf("failed to read indexing file %s: %w", path, err)
	}

	params := base
	if err := yaml.Unmarshal(data, &params); err != nil {
		return base, fmt.Errorf("failed to parse indexing file %s: %w", path, err)
	}
	return params, nil
}

// WriteIndexingFile writes params as YAML, used by init to seed an editable file
func WriteIndexingFile(path string, params stackai.IndexingParams) error {
	data, err := yaml.Marshal(params)
	if err != nil {
		return fmt.Errorf("failed to encode indexing params: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write indexing file %s: %w", path, err)
	}
	return nil
}
