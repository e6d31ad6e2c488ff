package main

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/color"
	"image/jpeg"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/dfryer1193/imagemerge/api"
	"github.com/dfryer1193/imagemerge/gallery/domain"
	"github.com/dfryer1193/imagemerge/internal/config"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeJPEG(t *testing.T, path string, w, h int, c color.RGBA) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetRGBA(x, y, c)
		}
	}
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, img, &jpeg.Options{Quality: 100}))
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0644))
	return buf.Bytes()
}

// execute runs the root command with fresh flag values and returns stdout and stderr.
func execute(t *testing.T, args ...string) (string, string, error) {
	t.Helper()

	logger, level := log.Logger, zerolog.GlobalLevel()
	configPath = ""
	mergeFront, mergeBack, mergeOut = "", "", ""
	mergeColor, mergeMetric = "", ""
	mergeThreshold, mergeQuality = 0, 0

	var stdout, stderr bytes.Buffer
	rootCmd.SetOut(&stdout)
	rootCmd.SetErr(&stderr)
	rootCmd.SetArgs(args)
	defer func() {
		rootCmd.SetArgs(nil)
		rootCmd.SetOut(nil)
		rootCmd.SetErr(nil)
		log.Logger = logger
		zerolog.SetGlobalLevel(level)
	}()

	err := rootCmd.Execute()
	return stdout.String(), stderr.String(), err
}

func TestVersionCmd_Executes(t *testing.T) {
	originalVersion := version
	version = "test-version-1.0.0"
	defer func() { version = originalVersion }()

	out, _, err := execute(t, "version")

	assert.NoError(t, err)
	assert.Contains(t, out, "imagemerge version test-version-1.0.0")
}

func TestMergeCmd_WritesFile(t *testing.T) {
	dir := t.TempDir()
	front := filepath.Join(dir, "front.jpg")
	back := filepath.Join(dir, "back.jpg")
	out := filepath.Join(dir, "out.jpg")
	writeJPEG(t, front, 16, 16, color.RGBA{R: 255, A: 255})
	writeJPEG(t, back, 16, 16, color.RGBA{B: 255, A: 255})

	_, _, err := execute(t, "merge", "--front", front, "--back", back, "--out", out,
		"--color", "255,0,0", "--threshold", "20", "--quality", "95")
	require.NoError(t, err)

	f, err := os.Open(out)
	require.NoError(t, err)
	defer f.Close()
	img, err := jpeg.Decode(f)
	require.NoError(t, err)

	assert.Equal(t, image.Rect(0, 0, 16, 16), img.Bounds())
	r, g, b, _ := img.At(8, 8).RGBA()
	assert.Less(t, r>>8, uint32(20))
	assert.Less(t, g>>8, uint32(20))
	assert.Greater(t, b>>8, uint32(230))
}

func TestMergeCmd_Stdout(t *testing.T) {
	dir := t.TempDir()
	front := filepath.Join(dir, "front.jpg")
	back := filepath.Join(dir, "back.jpg")
	writeJPEG(t, front, 8, 8, color.RGBA{G: 255, A: 255})
	writeJPEG(t, back, 8, 8, color.RGBA{B: 255, A: 255})

	stdout, _, err := execute(t, "merge", "--front", front, "--back", back, "--out", "-", "--color", "#00ff00")
	require.NoError(t, err)
	assert.Equal(t, "\xff\xd8", stdout[:2])
}

func TestMergeCmd_DimensionMismatchLeavesNoOutput(t *testing.T) {
	dir := t.TempDir()
	front := filepath.Join(dir, "front.jpg")
	back := filepath.Join(dir, "back.jpg")
	out := filepath.Join(dir, "out.jpg")
	writeJPEG(t, front, 8, 8, color.RGBA{R: 255, A: 255})
	writeJPEG(t, back, 8, 9, color.RGBA{B: 255, A: 255})

	_, _, err := execute(t, "merge", "--front", front, "--back", back, "--out", out)
	require.ErrorIs(t, err, domain.ErrDimensionMismatch)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}

func TestMergeCmd_InvalidParameters(t *testing.T) {
	dir := t.TempDir()
	front := filepath.Join(dir, "front.jpg")
	writeJPEG(t, front, 4, 4, color.RGBA{R: 255, A: 255})

	tests := []struct {
		name string
		args []string
	}{
		{name: "bad colour", args: []string{"--color", "red"}},
		{name: "bad metric", args: []string{"--metric", "hsv"}},
		{name: "negative threshold", args: []string{"--threshold", "-4"}},
		{name: "bad quality", args: []string{"--quality", "300"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := filepath.Join(dir, "out-"+tt.name+".jpg")
			args := append([]string{"merge", "--front", front, "--back", front, "--out", out}, tt.args...)
			_, _, err := execute(t, args...)
			require.Error(t, err)

			_, statErr := os.Stat(out)
			assert.True(t, os.IsNotExist(statErr))
		})
	}
}

func TestMergeCmd_MissingInput(t *testing.T) {
	dir := t.TempDir()
	_, _, err := execute(t, "merge",
		"--front", filepath.Join(dir, "absent.jpg"),
		"--back", filepath.Join(dir, "absent.jpg"),
		"--out", filepath.Join(dir, "out.jpg"))
	assert.ErrorContains(t, err, "front image")
}

func TestNewService_ServesRoutes(t *testing.T) {
	cfg, err := config.Load("")
	require.NoError(t, err)
	cfg.Storage.Dir = t.TempDir()

	svc, err := newService(cfg)
	require.NoError(t, err)
	defer svc.merges.Close()
	assert.Equal(t, ":8080", svc.server.Addr)

	ts := httptest.NewServer(svc.server.Handler)
	defer ts.Close()

	data := writeJPEG(t, filepath.Join(t.TempDir(), "a.jpg"), 4, 4, color.RGBA{R: 200, G: 50, B: 52, A: 255})
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("image", "a.jpg")
	require.NoError(t, err)
	_, err = part.Write(data)
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	resp, err := http.Post(ts.URL+"/upload", mw.FormDataContentType(), &body)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var info api.ImageInfo
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&info))

	merged, err := http.Get(ts.URL + "/merge?front=" + info.ID + "&back=" + info.ID)
	require.NoError(t, err)
	defer merged.Body.Close()
	assert.Equal(t, http.StatusOK, merged.StatusCode)
	assert.Equal(t, "image/jpeg", merged.Header.Get("Content-Type"))

	_, err = jpeg.Decode(merged.Body)
	assert.NoError(t, err)
}

func TestServe_StopsOnCancel(t *testing.T) {
	cfg, err := config.Load("")
	require.NoError(t, err)
	cfg.Storage.Dir = t.TempDir()
	cfg.Server.Port = 0

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.NoError(t, serve(ctx, cfg))
}
