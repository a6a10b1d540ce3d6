package processor

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"strings"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"h3-server/services/tour-api/internal/config"
	"h3-server/services/tour-api/internal/domain/processing"
	"h3-server/services/tour-api/internal/infrastructure/storage"
)

type fakeObject struct {
	data         []byte
	contentType  string
	cacheControl string
}

type fakeGateway struct {
	mu      sync.Mutex
	objects map[string]fakeObject
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{objects: make(map[string]fakeObject)}
}

func (g *fakeGateway) put(key string, data []byte) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.objects[key] = fakeObject{data: data}
}

func (g *fakeGateway) Head(ctx context.Context, key string) (*storage.ObjectInfo, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	obj, ok := g.objects[key]
	if !ok {
		return nil, storage.ErrObjectNotFound
	}
	return &storage.ObjectInfo{Key: key, Size: int64(len(obj.data)), ContentType: obj.contentType}, nil
}

func (g *fakeGateway) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	obj, ok := g.objects[key]
	if !ok {
		return nil, storage.ErrObjectNotFound
	}
	return io.NopCloser(bytes.NewReader(obj.data)), nil
}

func (g *fakeGateway) Put(ctx context.Context, key string, body io.Reader, contentType, cacheControl string) error {
	data, err := io.ReadAll(body)
	if err != nil {
		return err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.objects[key] = fakeObject{data: data, contentType: contentType, cacheControl: cacheControl}
	return nil
}

func (g *fakeGateway) Copy(ctx context.Context, srcKey, dstKey string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	obj, ok := g.objects[srcKey]
	if !ok {
		return storage.ErrObjectNotFound
	}
	g.objects[dstKey] = obj
	return nil
}

func (g *fakeGateway) Delete(ctx context.Context, key string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.objects, key)
	return nil
}

func (g *fakeGateway) ListPrefix(ctx context.Context, prefix string) ([]string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	var keys []string
	for key := range g.objects {
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}
	return keys, nil
}

type captureReporter struct {
	mu       sync.Mutex
	reports  []processing.Report
	progress []processing.ProgressUpdate
}

func (r *captureReporter) ReportProgress(ctx context.Context, update processing.ProgressUpdate) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.progress = append(r.progress, update)
}

func (r *captureReporter) Report(ctx context.Context, report processing.Report) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reports = append(r.reports, report)
	return nil
}

type captureInvalidator struct {
	paths [][]string
}

func (c *captureInvalidator) Invalidate(ctx context.Context, paths []string) error {
	c.paths = append(c.paths, paths)
	return nil
}

func testConfig() *config.Config {
	return &config.Config{
		UploadPrefix:    "uploads/",
		ToursPrefix:     "tours/",
		ProcessedPrefix: "processed/",
		FailedPrefix:    "failed/",
		ArchivePrefix:   "archive/",
		MaxArchiveBytes: 1 << 30,
	}
}

func buildZip(t *testing.T, files map[string][]byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := zip.NewWriter(&buf)
	for name, data := range files {
		f, err := w.Create(name)
		require.NoError(t, err)
		_, err = f.Write(data)
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())
	return buf.Bytes()
}

func newTestProcessor(gateway *fakeGateway) (*Processor, *captureReporter, *captureInvalidator) {
	reporter := &captureReporter{}
	invalidator := &captureInvalidator{}
	proc := New(testConfig(), gateway, reporter, invalidator, zerolog.Nop())
	return proc, reporter, invalidator
}

func TestProcessFlatArchive(t *testing.T) {
	gateway := newFakeGateway()
	archive := buildZip(t, map[string][]byte{
		"index.html":   []byte("<html>tour</html>"),
		"js/viewer.js": []byte("console.log('tour')"),
		"pano.jpg":     []byte("jpegbytes"),
	})
	gateway.put("uploads/demo.zip", archive)

	proc, reporter, invalidator := newTestProcessor(gateway)
	require.NoError(t, proc.Process(context.Background(), "uploads/demo.zip"))

	index := gateway.objects["tours/demo/index.html"]
	assert.Equal(t, []byte("<html>tour</html>"), index.data)
	assert.Equal(t, "text/html", index.contentType)
	assert.Equal(t, "max-age=31536000", index.cacheControl)

	js := gateway.objects["tours/demo/js/viewer.js"]
	assert.Equal(t, "application/javascript", js.contentType)

	var meta Metadata
	require.NoError(t, json.Unmarshal(gateway.objects["tours/demo/tour-metadata.json"].data, &meta))
	assert.Equal(t, "demo", meta.TourName)
	assert.Equal(t, 3, meta.FilesCount)
	assert.Equal(t, "flat", meta.Structure)

	_, stillThere := gateway.objects["uploads/demo.zip"]
	assert.False(t, stillThere, "source archive should have left the inbox")
	_, moved := gateway.objects["processed/demo.zip"]
	assert.True(t, moved, "source archive should be under the processed prefix")

	require.Len(t, reporter.reports, 1)
	report := reporter.reports[0]
	assert.True(t, report.Success)
	assert.Equal(t, "demo", report.TourName)
	assert.Equal(t, "uploads/demo.zip", report.ObjectKey)
	assert.Equal(t, "tours/demo/", report.StoragePrefix)
	assert.Equal(t, 3, report.FilesExtracted)

	require.Len(t, invalidator.paths, 1)
	assert.Equal(t, []string{"/tours/demo/*"}, invalidator.paths[0])
}

func TestProcessNestedWebArchive(t *testing.T) {
	gateway := newFakeGateway()
	inner := buildZip(t, map[string][]byte{
		"index.htm": []byte("<html>nested</html>"),
		"tour.css":  []byte("body{}"),
	})
	outer := buildZip(t, map[string][]byte{
		"Web.zip":    inner,
		"readme.txt": []byte("packaging notes"),
	})
	gateway.put("uploads/villa.zip", outer)

	proc, reporter, _ := newTestProcessor(gateway)
	require.NoError(t, proc.Process(context.Background(), "uploads/villa.zip"))

	assert.Equal(t, []byte("<html>nested</html>"), gateway.objects["tours/villa/index.htm"].data)
	_, readmePublished := gateway.objects["tours/villa/readme.txt"]
	assert.False(t, readmePublished, "outer wrapper files must not be published when Web.zip is present")

	var meta Metadata
	require.NoError(t, json.Unmarshal(gateway.objects["tours/villa/tour-metadata.json"].data, &meta))
	assert.Equal(t, "nested", meta.Structure)

	require.Len(t, reporter.reports, 1)
	assert.True(t, reporter.reports[0].Success)
	assert.Equal(t, 2, reporter.reports[0].FilesExtracted)
}

func TestProcessCorruptArchive(t *testing.T) {
	gateway := newFakeGateway()
	gateway.put("uploads/broken.zip", []byte("this is not a zip file at all"))

	proc, reporter, _ := newTestProcessor(gateway)
	err := proc.Process(context.Background(), "uploads/broken.zip")
	require.Error(t, err)

	_, moved := gateway.objects["failed/broken.zip"]
	assert.True(t, moved, "rejected archive should be under the failed prefix")
	_, stillThere := gateway.objects["uploads/broken.zip"]
	assert.False(t, stillThere)

	require.Len(t, reporter.reports, 1)
	report := reporter.reports[0]
	assert.False(t, report.Success)
	assert.Equal(t, "uploads/broken.zip", report.ObjectKey)
	assert.Equal(t, string(processing.StageValidating), report.Stage)
	assert.NotEmpty(t, report.ErrorMessage)
}

func TestProcessEmptyArchive(t *testing.T) {
	gateway := newFakeGateway()
	gateway.put("uploads/empty.zip", buildZip(t, map[string][]byte{"dir/": nil}))

	proc, reporter, _ := newTestProcessor(gateway)
	require.Error(t, proc.Process(context.Background(), "uploads/empty.zip"))

	require.Len(t, reporter.reports, 1)
	assert.False(t, reporter.reports[0].Success)
}

func TestProcessRedeliverySkipped(t *testing.T) {
	gateway := newFakeGateway()
	proc, reporter, _ := newTestProcessor(gateway)

	require.NoError(t, proc.Process(context.Background(), "uploads/already-gone.zip"))
	assert.Empty(t, reporter.reports, "a missing inbox object is a redelivery, not a failure")
	assert.Empty(t, gateway.objects)
}

func TestProcessOversizeArchive(t *testing.T) {
	gateway := newFakeGateway()
	gateway.put("uploads/huge.zip", buildZip(t, map[string][]byte{
		"index.html": bytes.Repeat([]byte("x"), 4096),
	}))

	proc, reporter, _ := newTestProcessor(gateway)
	proc.cfg.MaxArchiveBytes = 128

	require.Error(t, proc.Process(context.Background(), "uploads/huge.zip"))
	require.Len(t, reporter.reports, 1)
	assert.False(t, reporter.reports[0].Success)
	assert.Equal(t, string(processing.StageValidating), reporter.reports[0].Stage)
}

func TestProcessSanitizesTourName(t *testing.T) {
	gateway := newFakeGateway()
	gateway.put("uploads/My Beach House!.zip", buildZip(t, map[string][]byte{
		"index.html": []byte("<html></html>"),
	}))

	proc, reporter, _ := newTestProcessor(gateway)
	require.NoError(t, proc.Process(context.Background(), "uploads/My Beach House!.zip"))

	require.Len(t, reporter.reports, 1)
	assert.Equal(t, "My_Beach_House_", reporter.reports[0].TourName)
	_, ok := gateway.objects["tours/My_Beach_House_/index.html"]
	assert.True(t, ok)
}

func TestProcessSkipsTraversalEntries(t *testing.T) {
	gateway := newFakeGateway()
	gateway.put("uploads/sneaky.zip", buildZip(t, map[string][]byte{
		"index.html":      []byte("<html></html>"),
		"../escape.html":  []byte("nope"),
		"a/../../out.txt": []byte("nope"),
	}))

	proc, _, _ := newTestProcessor(gateway)
	require.NoError(t, proc.Process(context.Background(), "uploads/sneaky.zip"))

	for key := range gateway.objects {
		assert.NotContains(t, key, "..", "no published key may contain a traversal")
		if strings.HasPrefix(key, "tours/") {
			assert.True(t, strings.HasPrefix(key, "tours/sneaky/"))
		}
	}
	_, ok := gateway.objects["tours/sneaky/index.html"]
	assert.True(t, ok)
}

func TestProcessReportsProgressStages(t *testing.T) {
	gateway := newFakeGateway()
	gateway.put("uploads/demo.zip", buildZip(t, map[string][]byte{
		"index.html": []byte("<html></html>"),
	}))

	proc, reporter, _ := newTestProcessor(gateway)
	require.NoError(t, proc.Process(context.Background(), "uploads/demo.zip"))

	var stages []string
	lastPercent := -1
	for _, update := range reporter.progress {
		stages = append(stages, update.Stage)
		assert.GreaterOrEqual(t, update.Percent, lastPercent, "progress must not regress")
		lastPercent = update.Percent
	}
	assert.Contains(t, stages, string(processing.StageDownloading))
	assert.Contains(t, stages, string(processing.StageValidating))
	assert.Contains(t, stages, string(processing.StageExtracting))
	assert.Contains(t, stages, string(processing.StageUploading))
	assert.Contains(t, stages, string(processing.StageCleanup))
}

func TestSanitizeKeyName(t *testing.T) {
	tests := []struct {
		key  string
		want string
	}{
		{"uploads/demo.zip", "demo"},
		{"uploads/My Tour!.zip", "My_Tour_"},
		{"uploads/ünïcode.zip", "_n_code"},
		{"uploads/already_safe-1.zip", "already_safe-1"},
	}
	for _, tt := range tests {
		if got := SanitizeKeyName(tt.key, "uploads/"); got != tt.want {
			t.Fatalf("SanitizeKeyName(%q) = %q, want %q", tt.key, got, tt.want)
		}
	}
}
