package main

import (
	"context"
	"io"
	"math"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"multisvg/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeSVG(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "logo.svg")
	require.NoError(t, os.WriteFile(path, []byte(`<svg xmlns="http://www.w3.org/2000/svg"/>`), 0644))
	return path
}

func TestConvert_DownloadsArtifact(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/convert", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"success":true,"download_url":"/files/logo.gcode","processing_time":0.4}`)
	})
	mux.HandleFunc("GET /files/logo.gcode", func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "G21\nG90\n")
	})
	backend := httptest.NewServer(mux)
	defer backend.Close()

	out := filepath.Join(t.TempDir(), "out.gcode")
	opts := options{backend: backend.URL + "/", params: models.DefaultParams(), output: out}

	require.NoError(t, convert(context.Background(), writeSVG(t), opts))

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, "G21\nG90\n", string(data))
}

func TestConvert_ReportsBackendMessage(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		io.WriteString(w, `{"success":false,"message":"Invalid SVG"}`)
	}))
	defer backend.Close()

	opts := options{backend: backend.URL, params: models.DefaultParams()}

	err := convert(context.Background(), writeSVG(t), opts)
	require.Error(t, err)
	assert.Equal(t, "Invalid SVG", err.Error())
}

func TestConvert_RejectsOtherExtensions(t *testing.T) {
	opts := options{backend: "http://127.0.0.1:1", params: models.DefaultParams()}
	assert.Error(t, convert(context.Background(), "drawing.png", opts))
}

func TestConvert_RejectsNonFiniteSpeed(t *testing.T) {
	params := models.DefaultParams()
	params.Speed = math.NaN()
	opts := options{backend: "http://127.0.0.1:1", params: params}

	assert.ErrorIs(t, convert(context.Background(), writeSVG(t), opts), models.ErrInvalidParams)
}
