package capability

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newImageServer(t *testing.T, handler http.HandlerFunc, optFns ...func(o *ImageGeneratorOptions)) *ImageGenerator {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	return NewImageGenerator("test-key", append([]func(o *ImageGeneratorOptions){func(o *ImageGeneratorOptions) {
		o.BaseURL = server.URL
	}}, optFns...)...)
}

func imageResponseBody(data []byte) map[string]any {
	uri := "data:image/png;base64," + base64.StdEncoding.EncodeToString(data)
	return map[string]any{
		"choices": []map[string]any{{
			"message": map[string]any{
				"images": []map[string]any{{"image_url": map[string]any{"url": uri}}},
			},
		}},
	}
}

func TestImageGenerator_Generate(t *testing.T) {
	want := []byte{0x89, 0x50, 0x4e, 0x47}
	gen := newImageServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		_ = json.NewEncoder(w).Encode(imageResponseBody(want))
	})

	data, err := gen.Generate(context.Background(), "a lighthouse at dusk")
	require.NoError(t, err)
	assert.Equal(t, want, data)
}

func TestImageGenerator_EmptyPrompt(t *testing.T) {
	gen := NewImageGenerator("test-key")
	_, err := gen.Generate(context.Background(), "")
	assert.Error(t, err)
}

func TestImageGenerator_NoMedia(t *testing.T) {
	gen := newImageServer(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{{"message": map[string]any{}}},
		})
	})

	_, err := gen.Generate(context.Background(), "anything")
	assert.ErrorIs(t, err, ErrNoMediaProduced)
}

func TestImageGenerator_NonDataURI(t *testing.T) {
	gen := newImageServer(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{{
				"message": map[string]any{
					"images": []map[string]any{{"image_url": map[string]any{"url": "https://cdn.example.com/img.png"}}},
				},
			}},
		})
	})

	_, err := gen.Generate(context.Background(), "anything")
	assert.ErrorIs(t, err, ErrNoMediaProduced)
}

func TestImageGenerator_ReferenceImages(t *testing.T) {
	assets := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(assets, "char.png"), []byte("png-bytes"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(assets, "notes.txt"), []byte("skip me"), 0o600))

	var gotReq imageRequest
	gen := newImageServer(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotReq))
		_ = json.NewEncoder(w).Encode(imageResponseBody([]byte{1}))
	}, func(o *ImageGeneratorOptions) {
		o.AssetsDir = assets
	})

	_, err := gen.Generate(context.Background(), "the character on a beach")
	require.NoError(t, err)

	require.Len(t, gotReq.Messages, 2)
	assert.Equal(t, "system", gotReq.Messages[0].Role)
	assert.Equal(t, "user", gotReq.Messages[1].Role)

	// One reference image part plus the text prompt; the .txt is skipped.
	parts, ok := gotReq.Messages[1].Content.([]any)
	require.True(t, ok)
	require.Len(t, parts, 2)

	first, _ := parts[0].(map[string]any)
	assert.Equal(t, "image_url", first["type"])

	last, _ := parts[1].(map[string]any)
	assert.Equal(t, "text", last["type"])
	assert.Equal(t, "the character on a beach", last["text"])
}

func TestImageGenerator_FuncReturnsMediaResult(t *testing.T) {
	gen := newImageServer(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(imageResponseBody([]byte{7, 7}))
	})

	res, err := gen.Func()(context.Background(), map[string]string{"prompt": "p"})
	require.NoError(t, err)

	media, ok := res.(MediaResult)
	require.True(t, ok)
	assert.Equal(t, []byte{7, 7}, media.Bytes)
}
