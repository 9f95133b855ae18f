package stackai

import (
	"bytes"
	"encoding/json"
	"time"

	"github.com/tildaslashalef/kbpicker/internal/resource"
)

// Connection is a connected storage provider account
type Connection struct {
	ConnectionID       string    `json:"connection_id"`
	Name               string    `json:"name"`
	ConnectionProvider string    `json:"connection_provider"`
	CreatedAt          time.Time `json:"created_at"`
	UpdatedAt          time.Time `json:"updated_at"`
}

// KnowledgeBase is the remote aggregate as returned by GET /knowledge_bases/{id}
type KnowledgeBase struct {
	KnowledgeBaseID     string   `json:"knowledge_base_id"`
	ConnectionID        string   `json:"connection_id"`
	ConnectionSourceIDs []string `json:"connection_source_ids"`
	Name                string   `json:"name"`
	Description         string   `json:"description"`
}

// EmbeddingParams selects the embedding model
type EmbeddingParams struct {
	EmbeddingModel string  `json:"embedding_model" yaml:"embedding_model"`
	APIKey         *string `json:"api_key" yaml:"api_key"`
}

// ChunkerParams controls document chunking
type ChunkerParams struct {
	ChunkSize    int    `json:"chunk_size" yaml:"chunk_size"`
	ChunkOverlap int    `json:"chunk_overlap" yaml:"chunk_overlap"`
	Chunker      string `json:"chunker" yaml:"chunker"`
}

// IndexingParams is passed through unchanged when a knowledge base is created
type IndexingParams struct {
	OCR             bool            `json:"ocr" yaml:"ocr"`
	Unstructured    bool            `json:"unstructured" yaml:"unstructured"`
	EmbeddingParams EmbeddingParams `json:"embedding_params" yaml:"embedding_params"`
	ChunkerParams   ChunkerParams   `json:"chunker_params" yaml:"chunker_params"`
}

// DefaultIndexingParams returns the indexing configuration used for new
// knowledge bases
func DefaultIndexingParams() IndexingParams {
	return IndexingParams{
		OCR:          false,
		Unstructured: true,
		EmbeddingParams: EmbeddingParams{
			EmbeddingModel: "text-embedding-ada-002",
		},
		ChunkerParams: ChunkerParams{
			ChunkSize:    1500,
			ChunkOverlap: 500,
			Chunker:      "sentence",
		},
	}
}

// CreateKnowledgeBaseRequest is the body of POST /knowledge_bases
type CreateKnowledgeBaseRequest struct {
	ConnectionID        string         `json:"connection_id"`
	ConnectionSourceIDs []string       `json:"connection_source_ids"`
	Name                string         `json:"name"`
	Description         string         `json:"description"`
	IndexingParams      IndexingParams `json:"indexing_params"`
}

type updateKnowledgeBaseRequest struct {
	ConnectionID        string   `json:"connection_id"`
	ConnectionSourceIDs []string `json:"connection_source_ids"`
}

type loginRequest struct {
	Email              string   `json:"email"`
	Password           string   `json:"password"`
	GotrueMetaSecurity struct{} `json:"gotrue_meta_security"`
}

type loginResponse struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int    `json:"expires_in"`
	RefreshToken string `json:"refresh_token"`
}

type organizationResponse struct {
	OrgID string `json:"org_id"`
}

type remoteResource struct {
	ResourceID   string `json:"resource_id"`
	ConnectionID string `json:"connection_id"`
	InodeType    string `json:"inode_type"`
	InodePath    struct {
		Path string `json:"path"`
	} `json:"inode_path"`
	Metadata struct {
		Size         int64  `json:"size"`
		ModifiedDate string `json:"modifiedDate"`
		Type         string `json:"type"`
	} `json:"metadata"`
	Status string `json:"status"`
}

func (r remoteResource) toResource() resource.Resource {
	kind := resource.KindFile
	if r.InodeType == string(resource.KindDirectory) {
		kind = resource.KindDirectory
	}
	out := resource.Resource{
		ID:           r.ResourceID,
		Path:         resource.NormalizePath(r.InodePath.Path),
		Kind:         kind,
		ConnectionID: r.ConnectionID,
		Size:         r.Metadata.Size,
		MimeType:     r.Metadata.Type,
		RemoteStatus: r.Status,
	}
	if t, err := time.Parse(time.RFC3339, r.Metadata.ModifiedDate); err == nil {
		out.ModifiedAt = t
	}
	return out
}

// decodeList accepts a bare JSON array or an object wrapping it in "data"
func decodeList[T any](body []byte) ([]T, error) {
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return []T{}, nil
	}
	if body[0] == '[' {
		var items []T
		if err := json.Unmarshal(body, &items); err != nil {
			return nil, err
		}
		return items, nil
	}
	var wrapped struct {
		Data []T `json:"data"`
	}
	if err := json.Unmarshal(body, &wrapped); err != nil {
		return nil, err
	}
	if wrapped.Data == nil {
		return []T{}, nil
	}
	return wrapped.Data, nil
}

func unmarshal(body []byte, v any) error {
	return json.Unmarshal(bytes.TrimSpace(body), v)
}
