package stackai

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tildaslashalef/kbpicker/internal/loggy"
	"github.com/tildaslashalef/kbpicker/internal/resource"
)

type recordedRequest struct {
	Method string
	Path   string
	Query  string
	Auth   string
	Body   string
}

func newTestServer(t *testing.T, handler http.HandlerFunc) (*Client, *[]recordedRequest) {
	t.Helper()
	var (
		mu       sync.Mutex
		requests []recordedRequest
	)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		mu.Lock()
		requests = append(requests, recordedRequest{
			Method: r.Method,
			Path:   r.URL.Path,
			Query:  r.URL.RawQuery,
			Auth:   r.Header.Get("Authorization"),
			Body:   string(body),
		})
		mu.Unlock()
		handler(w, r)
	}))
	t.Cleanup(server.Close)

	client := NewClient(Config{
		BaseURL: server.URL,
		AuthURL: server.URL,
		AnonKey: "anon-key",
		Timeout: 5 * time.Second,
	}, NewSession("token-123"), loggy.NewNoopLogger())
	return client, &requests
}

func TestListKnowledgeBaseChildrenBareArray(t *testing.T) {
	client, requests := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`[
			{"resource_id":"f1","inode_type":"file","inode_path":{"path":"docs/a.txt"},"status":"indexed"},
			{"resource_id":"d1","inode_type":"directory","inode_path":{"path":"docs/sub"}}
		]`))
	})

	children, err := client.ListKnowledgeBaseChildren(context.Background(), "kb-1", "docs")
	require.NoError(t, err)
	require.Len(t, children, 2)

	assert.Equal(t, "f1", children[0].ID)
	assert.Equal(t, "/docs/a.txt", children[0].Path)
	assert.Equal(t, resource.KindFile, children[0].Kind)
	assert.Equal(t, "indexed", children[0].RemoteStatus)
	assert.True(t, children[1].IsDirectory())

	req := (*requests)[0]
	assert.Equal(t, "/knowledge_bases/kb-1/resources/children", req.Path)
	assert.Equal(t, "resource_path=%2Fdocs", req.Query)
	assert.Equal(t, "Bearer token-123", req.Auth)
}

func TestListConnectionChildrenWrappedData(t *testing.T) {
	client, requests := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"data":[{"resource_id":"r1","connection_id":"c1","inode_type":"directory","inode_path":{"path":"/reports"}}]}`))
	})

	children, err := client.ListConnectionChildren(context.Background(), "c1", "parent")
	require.NoError(t, err)
	require.Len(t, children, 1)
	assert.Equal(t, "c1", children[0].ConnectionID)
	assert.Equal(t, "resource_id=parent", (*requests)[0].Query)
}

func TestListKnowledgeBaseChildrenMissingPath(t *testing.T) {
	client, _ := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"detail":"Path error: /docs does not exist"}`))
	})

	_, err := client.ListKnowledgeBaseChildren(context.Background(), "kb-1", "/docs")
	require.Error(t, err)
	assert.ErrorIs(t, err, resource.ErrPathNotFound)
	assert.NotErrorIs(t, err, ErrAuthRequired)

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusBadRequest, apiErr.StatusCode)
}

func TestKnowledgeBaseErrorsAreNotMissingPath(t *testing.T) {
	tests := []struct {
		name       string
		status     int
		body       string
		authFailed bool
	}{
		{"forbidden", http.StatusForbidden, `{"detail":"Path error: knowledge base does not exist"}`, true},
		{"unauthorized", http.StatusUnauthorized, `{"message":"Path error: token does not exist"}`, true},
		{"deleted knowledge base", http.StatusNotFound, `{"detail":"Knowledge base kb-1 does not exist"}`, false},
		{"path error without missing path", http.StatusBadRequest, `{"detail":"Path error: invalid characters"}`, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, _ := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			})

			children, err := resource.NewDirectory(client, -1, 0).KnowledgeBaseChildren(context.Background(), "kb-1", "/")
			require.Error(t, err, "the listing is not coerced to empty")
			assert.Nil(t, children)
			assert.NotErrorIs(t, err, resource.ErrPathNotFound)
			assert.Equal(t, tt.authFailed, errors.Is(err, ErrAuthRequired))
		})
	}
}

func TestServerErrorIsNotMissingPath(t *testing.T) {
	client, _ := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"message":"path does not exist in cache"}`))
	})

	_, err := client.ListKnowledgeBaseChildren(context.Background(), "kb-1", "/docs")
	assert.NotErrorIs(t, err, resource.ErrPathNotFound)

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.True(t, apiErr.Retryable())
}

func TestUnauthorizedMapsToAuthRequired(t *testing.T) {
	client, _ := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})

	err := client.TriggerSync(context.Background(), "kb-1", "org-1")
	assert.ErrorIs(t, err, ErrAuthRequired)
}

func TestNoSessionFailsBeforeNetwork(t *testing.T) {
	client, requests := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {})
	client.Session().Clear()

	_, err := client.CurrentOrganization(context.Background())
	assert.ErrorIs(t, err, ErrAuthRequired)
	assert.Empty(t, *requests)
}

func TestCreateKnowledgeBaseSendsIndexingParams(t *testing.T) {
	client, requests := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"knowledge_base_id":"kb-new"}`))
	})

	id, err := client.CreateKnowledgeBase(context.Background(), CreateKnowledgeBaseRequest{
		ConnectionID:        "c1",
		ConnectionSourceIDs: []string{"a", "b"},
		Name:                "My Hybrid KB",
		IndexingParams:      DefaultIndexingParams(),
	})
	require.NoError(t, err)
	assert.Equal(t, "kb-new", id)

	req := (*requests)[0]
	assert.Equal(t, http.MethodPost, req.Method)
	assert.Equal(t, "/knowledge_bases", req.Path)

	var body map[string]any
	require.NoError(t, json.Unmarshal([]byte(req.Body), &body))
	assert.Equal(t, []any{"a", "b"}, body["connection_source_ids"])
	params := body["indexing_params"].(map[string]any)
	assert.Equal(t, false, params["ocr"])
	assert.Equal(t, true, params["unstructured"])
	embedding := params["embedding_params"].(map[string]any)
	assert.Equal(t, "text-embedding-ada-002", embedding["embedding_model"])
	assert.Nil(t, embedding["api_key"])
	chunker := params["chunker_params"].(map[string]any)
	assert.EqualValues(t, 1500, chunker["chunk_size"])
	assert.EqualValues(t, 500, chunker["chunk_overlap"])
	assert.Equal(t, "sentence", chunker["chunker"])
}

func TestUpdateKnowledgeBaseSendsFullSet(t *testing.T) {
	client, requests := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	require.NoError(t, client.UpdateKnowledgeBase(context.Background(), "kb-1", "c1", nil))

	req := (*requests)[0]
	assert.Equal(t, http.MethodPatch, req.Method)
	assert.Equal(t, "/knowledge_bases/kb-1", req.Path)
	assert.JSONEq(t, `{"connection_id":"c1","connection_source_ids":[]}`, req.Body)
}

func TestDeleteAndTriggerPaths(t *testing.T) {
	client, requests := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	ctx := context.Background()

	require.NoError(t, client.DeleteKnowledgeBaseResource(ctx, "kb-1", "docs/a b.txt"))
	require.NoError(t, client.TriggerSync(ctx, "kb-1", "org-9"))

	assert.Equal(t, http.MethodDelete, (*requests)[0].Method)
	assert.Equal(t, "/knowledge_bases/kb-1/resources", (*requests)[0].Path)
	assert.Equal(t, "resource_path=%2Fdocs%2Fa+b.txt", (*requests)[0].Query)
	assert.Equal(t, "/knowledge_bases/sync/trigger/kb-1/org-9", (*requests)[1].Path)
}

func TestGetKnowledgeBaseAndOrganization(t *testing.T) {
	client, _ := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/knowledge_bases/kb-1":
			_, _ = w.Write([]byte(`{"knowledge_base_id":"kb-1","connection_id":"c1","connection_source_ids":["x","y"]}`))
		case "/organizations/me/current":
			_, _ = w.Write([]byte(`{"org_id":"org-1"}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	})
	ctx := context.Background()

	kb, err := client.GetKnowledgeBase(ctx, "kb-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"x", "y"}, kb.ConnectionSourceIDs)

	org, err := client.CurrentOrganization(ctx)
	require.NoError(t, err)
	assert.Equal(t, "org-1", org)
}

func TestLogin(t *testing.T) {
	var apiKey string
	client, requests := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		apiKey = r.Header.Get("Apikey")
		_, _ = w.Write([]byte(`{"access_token":"fresh","token_type":"bearer"}`))
	})
	client.Session().Clear()

	token, err := client.Login(context.Background(), "user@example.com", "secret")
	require.NoError(t, err)
	assert.Equal(t, "fresh", token)
	assert.Equal(t, "fresh", client.Session().AccessToken())
	assert.Equal(t, "anon-key", apiKey)

	req := (*requests)[0]
	assert.Equal(t, "/auth/v1/token", req.Path)
	assert.Equal(t, "grant_type=password", req.Query)
	assert.Empty(t, req.Auth)
	assert.JSONEq(t, `{"email":"user@example.com","password":"secret","gotrue_meta_security":{}}`, req.Body)
}

func TestLoginRejected(t *testing.T) {
	client, _ := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"invalid_grant"}`))
	})

	_, err := client.Login(context.Background(), "user@example.com", "wrong")
	assert.ErrorIs(t, err, ErrAuthRequired)
}

func TestObserverSeesEveryCall(t *testing.T) {
	client, _ := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	var ops []string
	client.SetObserver(func(op string, status int, _ time.Duration, err error) {
		ops = append(ops, op)
		assert.Equal(t, http.StatusOK, status)
		assert.NoError(t, err)
	})

	require.NoError(t, client.TriggerSync(context.Background(), "kb", "org"))
	require.NoError(t, client.UpdateKnowledgeBase(context.Background(), "kb", "c", []string{"a"}))
	assert.Equal(t, []string{"trigger_sync", "update_knowledge_base"}, ops)
}

func TestSessionTokenSource(t *testing.T) {
	s := NewSession("")
	_, err := s.Token()
	assert.True(t, errors.Is(err, ErrAuthRequired))

	s.SetToken("abc")
	tok, err := s.Token()
	require.NoError(t, err)
	assert.Equal(t, "abc", tok.AccessToken)
	assert.True(t, s.Authenticated())
}
