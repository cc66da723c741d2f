package model

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVisionClientUnavailableWithoutConfig(t *testing.T) {
	t.Setenv("VISION_URL", "")
	t.Setenv("VISION_MODEL", "")

	v := NewVisionClient()
	assert.False(t, v.Available())

	_, err := v.RecognizeText(context.Background(), "aW1n")
	assert.Error(t, err)
}

func TestRecognizeTextJoinsStreamedChunks(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req visionRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "test-vision", req.Model)
		require.Len(t, req.Images, 1)

		fmt.Fprintln(w, `{"response":"Patient name: ","done":false}`)
		fmt.Fprintln(w, `{"response":"Jane Doe","done":false}`)
		fmt.Fprintln(w, `{"response":"","done":true}`)
	}))
	defer srv.Close()

	t.Setenv("VISION_URL", srv.URL)
	t.Setenv("VISION_MODEL", "test-vision")

	v := NewVisionClient()
	require.True(t, v.Available())

	text, err := v.RecognizeText(context.Background(), "aW1n")
	require.NoError(t, err)
	assert.Equal(t, "Patient name: Jane Doe", text)
}

func TestRecognizeTextSurfacesHTTPErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not loaded", http.StatusInternalServerError)
	}))
	defer srv.Close()

	t.Setenv("VISION_URL", srv.URL)
	t.Setenv("VISION_MODEL", "test-vision")

	v := NewVisionClient()
	_, err := v.RecognizeText(context.Background(), "aW1n")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 500")
}
