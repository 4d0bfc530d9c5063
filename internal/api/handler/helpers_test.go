package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/daap14/blueprints/internal/blueprint"
)

// mockBlueprintService implements handler.BlueprintService with overridable
// behaviour. Unset functions succeed with zero values.
type mockBlueprintService struct {
	getAllFn      func(ctx context.Context) ([]blueprint.Blueprint, error)
	getByAuthorFn func(ctx context.Context, author string) ([]blueprint.Blueprint, error)
	getFn         func(ctx context.Context, author, name string) (*blueprint.Blueprint, error)
	createFn      func(ctx context.Context, bp *blueprint.Blueprint) error
	addPointFn    func(ctx context.Context, author, name string, p blueprint.Point) error
	updateFn      func(ctx context.Context, author, name string, bp *blueprint.Blueprint) error
	deleteFn      func(ctx context.Context, author, name string) error
}

func (m *mockBlueprintService) GetAll(ctx context.Context) ([]blueprint.Blueprint, error) {
	if m.getAllFn != nil {
		return m.getAllFn(ctx)
	}
	return []blueprint.Blueprint{}, nil
}

func (m *mockBlueprintService) GetByAuthor(ctx context.Context, author string) ([]blueprint.Blueprint, error) {
	if m.getByAuthorFn != nil {
		return m.getByAuthorFn(ctx, author)
	}
	return []blueprint.Blueprint{}, nil
}

func (m *mockBlueprintService) Get(ctx context.Context, author, name string) (*blueprint.Blueprint, error) {
	if m.getFn != nil {
		return m.getFn(ctx, author, name)
	}
	return blueprint.New(author, name), nil
}

func (m *mockBlueprintService) Create(ctx context.Context, bp *blueprint.Blueprint) error {
	if m.createFn != nil {
		return m.createFn(ctx, bp)
	}
	return nil
}

func (m *mockBlueprintService) AddPoint(ctx context.Context, author, name string, p blueprint.Point) error {
	if m.addPointFn != nil {
		return m.addPointFn(ctx, author, name, p)
	}
	return nil
}

func (m *mockBlueprintService) Update(ctx context.Context, author, name string, bp *blueprint.Blueprint) error {
	if m.updateFn != nil {
		return m.updateFn(ctx, author, name, bp)
	}
	return nil
}

func (m *mockBlueprintService) Delete(ctx context.Context, author, name string) error {
	if m.deleteFn != nil {
		return m.deleteFn(ctx, author, name)
	}
	return nil
}

func makeChiRequest(method, path string, body []byte, params map[string]string) (*http.Request, *httptest.ResponseRecorder) {
	var req *http.Request
	if body != nil {
		req = httptest.NewRequest(method, path, bytes.NewReader(body))
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	req.Header.Set("Content-Type", "application/json")

	w := httptest.NewRecorder()

	if len(params) > 0 {
		rctx := chi.NewRouteContext()
		for k, v := range params {
			rctx.URLParams.Add(k, v)
		}
		req = req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))
	}

	return req, w
}

func parseEnvelope(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var env map[string]interface{}
	err := json.Unmarshal(w.Body.Bytes(), &env)
	require.NoError(t, err, "failed to parse response body")
	return env
}

func errorCode(t *testing.T, env map[string]interface{}) string {
	t.Helper()
	errObj, ok := env["error"].(map[string]interface{})
	require.True(t, ok, "response should carry an error object")
	return errObj["code"].(string)
}

func notFoundErr(author, name string) error {
	return &blueprint.Error{Op: "get", Author: author, Name: name, Kind: blueprint.ErrNotFound}
}

func duplicateErr(author, name string) error {
	return &blueprint.Error{Op: "create", Author: author, Name: name, Kind: blueprint.ErrDuplicateKey}
}
