package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/petvet/biometry/internal/artifacts"
	"github.com/petvet/biometry/internal/database"
	"github.com/petvet/biometry/internal/database/mock"
)

const testExtractor = "testnet"

func newTestStore(t *testing.T) *mock.Store {
	t.Helper()
	return mock.NewStore()
}

func newBlobStore(t *testing.T) *artifacts.Store {
	t.Helper()
	store, err := artifacts.NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("failed to create uploads store: %v", err)
	}
	return store
}

func seedSubject(t *testing.T, store *mock.Store, name, species string) int64 {
	t.Helper()
	id, err := store.CreateSubject(context.Background(), &database.Subject{Name: name, Species: species})
	if err != nil {
		t.Fatalf("failed to seed subject: %v", err)
	}
	return id
}

// multipartBody builds a multipart form with a file part and optional
// extra form values.
func multipartBody(t *testing.T, fileField string, fileData []byte, fields map[string]string) (*bytes.Buffer, string) {
	t.Helper()
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	part, err := writer.CreateFormFile(fileField, "photo.jpg")
	if err != nil {
		t.Fatalf("failed to create form file: %v", err)
	}
	if _, err := part.Write(fileData); err != nil {
		t.Fatalf("failed to write form file: %v", err)
	}
	for k, v := range fields {
		if err := writer.WriteField(k, v); err != nil {
			t.Fatalf("failed to write form field: %v", err)
		}
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("failed to close multipart writer: %v", err)
	}
	return body, writer.FormDataContentType()
}

// serve routes the request through a chi router so URL params resolve.
func serve(method, pattern string, handler http.HandlerFunc, req *http.Request) *httptest.ResponseRecorder {
	r := chi.NewRouter()
	r.MethodFunc(method, pattern, handler)
	recorder := httptest.NewRecorder()
	r.ServeHTTP(recorder, req)
	return recorder
}

func assertStatus(t *testing.T, recorder *httptest.ResponseRecorder, want int) {
	t.Helper()
	if recorder.Code != want {
		body, _ := io.ReadAll(recorder.Body)
		t.Fatalf("expected status %d, got %d (body: %s)", want, recorder.Code, body)
	}
}

func parseJSON(t *testing.T, recorder *httptest.ResponseRecorder, out any) {
	t.Helper()
	if err := json.NewDecoder(recorder.Body).Decode(out); err != nil {
		t.Fatalf("failed to decode response body: %v", err)
	}
}
