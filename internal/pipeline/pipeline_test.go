package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/cruciblehq/cruxrel/internal/build"
	"github.com/cruciblehq/cruxrel/internal/manifest"
	"github.com/cruciblehq/cruxrel/internal/manifest/manifesttest"
	"github.com/cruciblehq/cruxrel/internal/release"
	"github.com/cruciblehq/cruxrel/internal/upload"
	"github.com/google/go-cmp/cmp"
)

// Engine that counts builds and writes the platform into saved archives.
type fakeEngine struct {
	mu       sync.Mutex
	platform string
	builds   int
	hang     bool
}

func (f *fakeEngine) EnsureImage(context.Context, string, string, string) error { return nil }

func (f *fakeEngine) BuildPlatform(ctx context.Context, _ string, platform string) error {
	return f.build(ctx, platform)
}

func (f *fakeEngine) BuildNative(ctx context.Context, _ string) error {
	return f.build(ctx, "native")
}

func (f *fakeEngine) build(ctx context.Context, platform string) error {
	if f.hang {
		<-ctx.Done()
		return ctx.Err()
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.platform = platform
	f.builds++
	return nil
}

func (f *fakeEngine) Save(_ context.Context, _ []string, w io.Writer) error {
	_, err := io.WriteString(w, f.platform)
	return err
}

// Backend that lists the uploaded directory and reports progress.
type fakeBackend struct {
	err      error
	uploaded []string
	events   int
}

func (b *fakeBackend) Kind() upload.Kind { return upload.IPFS }
func (b *fakeBackend) Provider() string  { return "http://127.0.0.1:5001" }

func (b *fakeBackend) Upload(_ context.Context, req upload.Request, events chan<- upload.Progress) (string, error) {
	if b.err != nil {
		return "", b.err
	}
	entries, err := os.ReadDir(req.Dir)
	if err != nil {
		return "", err
	}
	for _, e := range entries {
		b.uploaded = append(b.uploaded, e.Name())
	}
	for i := 1; i <= b.events; i++ {
		select {
		case events <- upload.Progress{Backend: upload.IPFS, Sent: int64(i), Total: int64(b.events), Fraction: float64(i) / float64(b.events)}:
		default:
		}
	}
	return "/ipfs/QmTest", nil
}

type failingPruner struct{}

func (failingPruner) Prune(context.Context) error { return errors.New("disk on fire") }

func fixedNow() time.Time { return time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC) }

func deps(eng *fakeEngine, b *fakeBackend) Deps {
	return Deps{
		Engine:     eng,
		Backend:    b,
		OnProgress: func(upload.Progress) {},
		Now:        fixedNow,
	}
}

func TestRunMultiArch(t *testing.T) {
	dir := t.TempDir()
	manifesttest.Write(t, dir, manifesttest.Default(t, "linux/amd64", "linux/arm64"))

	eng := &fakeEngine{}
	b := &fakeBackend{}
	d := deps(eng, b)
	d.Index = &release.Index{Dir: t.TempDir()}

	c, err := Run(context.Background(), Config{Dir: dir}, d)
	if err != nil {
		t.Fatal(err)
	}

	want := &Context{
		Name:           "foo",
		Version:        "1.0.0",
		BuildDir:       filepath.Join(dir, "build_1.0.0"),
		Archives:       []string{"foo_1.0.0_linux-amd64.txz", "foo_1.0.0_linux-arm64.txz"},
		ContentAddress: "/ipfs/QmTest",
		ReleaseHash:    "/ipfs/QmTest",
	}
	if diff := cmp.Diff(want, c); diff != "" {
		t.Errorf("context mismatch (-want +got):\n%s", diff)
	}

	slices.Sort(b.uploaded)
	wantUploaded := []string{
		"avatar.png",
		"compose.yaml",
		"foo_1.0.0_linux-amd64.txz",
		"foo_1.0.0_linux-arm64.txz",
		"manifest.json",
	}
	if diff := cmp.Diff(wantUploaded, b.uploaded); diff != "" {
		t.Errorf("uploaded mismatch (-want +got):\n%s", diff)
	}

	record, err := release.ReadRecord(dir)
	if err != nil {
		t.Fatal(err)
	}
	entry, ok := record["1.0.0"]
	if !ok {
		t.Fatalf("record has no entry for 1.0.0: %v", record)
	}
	if entry.Hash != "/ipfs/QmTest" || entry.Backend != "ipfs" || len(entry.Archives) != 2 {
		t.Errorf("entry = %+v", entry)
	}
	if !entry.UploadedAt.Equal(fixedNow()) {
		t.Errorf("UploadedAt = %v", entry.UploadedAt)
	}

	recent, err := d.Index.Recent(0)
	if err != nil {
		t.Fatal(err)
	}
	if len(recent) != 1 || recent[0].Name != "foo" {
		t.Errorf("index = %+v", recent)
	}
}

func TestRunSingleArch(t *testing.T) {
	dir := t.TempDir()
	manifesttest.Write(t, dir, manifesttest.Default(t))

	eng := &fakeEngine{}
	c, err := Run(context.Background(), Config{Dir: dir}, deps(eng, &fakeBackend{}))
	if err != nil {
		t.Fatal(err)
	}

	if diff := cmp.Diff([]string{"foo_1.0.0.tar.xz"}, c.Archives); diff != "" {
		t.Errorf("archives mismatch (-want +got):\n%s", diff)
	}
	if eng.builds != 1 {
		t.Errorf("builds = %d, want 1", eng.builds)
	}
}

func TestRunRejectsDescriptor(t *testing.T) {
	tests := map[string]struct {
		mutate func(p *manifesttest.Package)
		want   error
	}{
		"image field": {
			mutate: func(p *manifesttest.Package) { p.Manifest["image"] = "foo.tar" },
			want:   manifest.ErrConfiguration,
		},
		"avatar field": {
			mutate: func(p *manifesttest.Package) { p.Manifest["avatar"] = "avatar.png" },
			want:   manifest.ErrConfiguration,
		},
		"uppercase name": {
			mutate: func(p *manifesttest.Package) { p.Manifest["name"] = "Foo" },
			want:   manifest.ErrConfiguration,
		},
		"missing avatar": {
			mutate: func(p *manifesttest.Package) { p.Avatar = nil },
			want:   manifest.ErrConfiguration,
		},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			dir := t.TempDir()
			p := manifesttest.Default(t)
			tt.mutate(&p)
			manifesttest.Write(t, dir, p)

			eng := &fakeEngine{}
			_, err := Run(context.Background(), Config{Dir: dir}, deps(eng, &fakeBackend{}))
			if !errors.Is(err, tt.want) {
				t.Fatalf("error = %v, want %v", err, tt.want)
			}
			if eng.builds != 0 {
				t.Errorf("builds = %d, want 0", eng.builds)
			}
			if _, err := os.Stat(filepath.Join(dir, "build_1.0.0")); !os.IsNotExist(err) {
				t.Errorf("build directory created: %v", err)
			}
		})
	}
}

func TestRunRejectsPackageAsBuildDir(t *testing.T) {
	dir := t.TempDir()
	manifesttest.Write(t, dir, manifesttest.Default(t, "linux/amd64"))

	eng := &fakeEngine{}
	_, err := Run(context.Background(), Config{Dir: dir, BuildDir: dir}, deps(eng, &fakeBackend{}))
	if !errors.Is(err, manifest.ErrConfiguration) {
		t.Fatalf("error = %v, want %v", err, manifest.ErrConfiguration)
	}
	if _, err := os.Stat(filepath.Join(dir, "avatar.png")); err != nil {
		t.Errorf("avatar removed: %v", err)
	}
	if eng.builds != 0 {
		t.Errorf("builds = %d, want 0", eng.builds)
	}
}

func TestRunReusesArchives(t *testing.T) {
	dir := t.TempDir()
	manifesttest.Write(t, dir, manifesttest.Default(t, "linux/amd64", "linux/arm64"))

	buildDir := filepath.Join(dir, "build_1.0.0")
	if err := os.MkdirAll(filepath.Join(buildDir, "stale"), 0755); err != nil {
		t.Fatal(err)
	}
	for name, content := range map[string]string{
		"foo_1.0.0_linux-amd64.txz": "previous",
		"foo_0.9.0_linux-amd64.txz": "old version",
		"notes.txt":                 "junk",
	} {
		if err := os.WriteFile(filepath.Join(buildDir, name), []byte(content), 0644); err != nil {
			t.Fatal(err)
		}
	}

	eng := &fakeEngine{}
	b := &fakeBackend{}
	if _, err := Run(context.Background(), Config{Dir: dir}, deps(eng, b)); err != nil {
		t.Fatal(err)
	}

	if eng.builds != 1 {
		t.Errorf("builds = %d, want 1", eng.builds)
	}
	data, err := os.ReadFile(filepath.Join(buildDir, "foo_1.0.0_linux-amd64.txz"))
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "previous" {
		t.Errorf("preserved archive rewritten: %q", data)
	}
	for _, name := range []string{"stale", "notes.txt", "foo_0.9.0_linux-amd64.txz"} {
		if slices.Contains(b.uploaded, name) {
			t.Errorf("%s was uploaded", name)
		}
	}
}

func TestRunIdempotent(t *testing.T) {
	dir := t.TempDir()
	manifesttest.Write(t, dir, manifesttest.Default(t, "linux/amd64"))

	eng := &fakeEngine{}
	d := deps(eng, &fakeBackend{})

	first, err := Run(context.Background(), Config{Dir: dir}, d)
	if err != nil {
		t.Fatal(err)
	}
	second, err := Run(context.Background(), Config{Dir: dir}, d)
	if err != nil {
		t.Fatal(err)
	}

	if diff := cmp.Diff(first, second); diff != "" {
		t.Errorf("second run differs (-first +second):\n%s", diff)
	}
	if eng.builds != 1 {
		t.Errorf("builds = %d, want 1", eng.builds)
	}

	record, err := release.ReadRecord(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(record) != 1 {
		t.Errorf("record has %d entries, want 1", len(record))
	}
}

func TestRunPreservesOtherRecords(t *testing.T) {
	dir := t.TempDir()
	p := manifesttest.Default(t, "linux/amd64")
	p.Files = map[string]string{
		release.RecordFile: `{"0.9.0": "/ipfs/QmOld"}`,
	}
	manifesttest.Write(t, dir, p)

	if _, err := Run(context.Background(), Config{Dir: dir}, deps(&fakeEngine{}, &fakeBackend{})); err != nil {
		t.Fatal(err)
	}

	record, err := release.ReadRecord(dir)
	if err != nil {
		t.Fatal(err)
	}
	if record["0.9.0"].Hash != "/ipfs/QmOld" {
		t.Errorf("0.9.0 = %+v", record["0.9.0"])
	}
	if record["1.0.0"].Hash != "/ipfs/QmTest" {
		t.Errorf("1.0.0 = %+v", record["1.0.0"])
	}
}

func TestRunTimeout(t *testing.T) {
	dir := t.TempDir()
	manifesttest.Write(t, dir, manifesttest.Default(t, "linux/amd64"))

	b := &fakeBackend{}
	c, err := Run(context.Background(), Config{Dir: dir, Timeout: 20 * time.Millisecond}, deps(&fakeEngine{hang: true}, b))
	if !errors.Is(err, build.ErrBuildTimeout) {
		t.Fatalf("error = %v, want %v", err, build.ErrBuildTimeout)
	}
	if len(c.Archives) != 0 || c.ContentAddress != "" {
		t.Errorf("context = %+v", c)
	}
	if b.uploaded != nil {
		t.Error("upload ran after a failed build")
	}
	if _, err := os.Stat(filepath.Join(dir, release.RecordFile)); !os.IsNotExist(err) {
		t.Errorf("record written after a failed build: %v", err)
	}
}

func TestRunSkipUpload(t *testing.T) {
	dir := t.TempDir()
	manifesttest.Write(t, dir, manifesttest.Default(t, "linux/amd64"))

	d := deps(&fakeEngine{}, nil)
	d.Backend = nil

	c, err := Run(context.Background(), Config{Dir: dir, SkipUpload: true}, d)
	if err != nil {
		t.Fatal(err)
	}
	if len(c.Archives) != 1 || c.ContentAddress != "" || c.ReleaseHash != "" {
		t.Errorf("context = %+v", c)
	}
	if _, err := os.Stat(filepath.Join(dir, release.RecordFile)); !os.IsNotExist(err) {
		t.Errorf("record written without an upload: %v", err)
	}
}

func TestRunUploadFailure(t *testing.T) {
	dir := t.TempDir()
	manifesttest.Write(t, dir, manifesttest.Default(t, "linux/amd64"))

	b := &fakeBackend{err: fmt.Errorf("%w: connection refused", upload.ErrUpload)}
	c, err := Run(context.Background(), Config{Dir: dir}, deps(&fakeEngine{}, b))
	if !errors.Is(err, upload.ErrUpload) {
		t.Fatalf("error = %v, want %v", err, upload.ErrUpload)
	}
	if len(c.Archives) != 1 {
		t.Errorf("archives = %v", c.Archives)
	}
	if _, err := os.Stat(filepath.Join(dir, release.RecordFile)); !os.IsNotExist(err) {
		t.Errorf("record written after a failed upload: %v", err)
	}
}

func TestRunPrunerWarning(t *testing.T) {
	dir := t.TempDir()
	manifesttest.Write(t, dir, manifesttest.Default(t, "linux/amd64"))

	d := deps(&fakeEngine{}, &fakeBackend{})
	d.Pruner = failingPruner{}

	c, err := Run(context.Background(), Config{Dir: dir}, d)
	if err != nil {
		t.Fatal(err)
	}
	if c.ReleaseHash != "/ipfs/QmTest" {
		t.Errorf("ReleaseHash = %q", c.ReleaseHash)
	}
	if len(c.Warnings) != 1 {
		t.Fatalf("warnings = %v, want one", c.Warnings)
	}
}

func TestRunSlowObserver(t *testing.T) {
	dir := t.TempDir()
	manifesttest.Write(t, dir, manifesttest.Default(t, "linux/amd64"))

	var (
		mu   sync.Mutex
		seen int
	)
	d := deps(&fakeEngine{}, &fakeBackend{events: 500})
	d.OnProgress = func(upload.Progress) {
		time.Sleep(time.Millisecond)
		mu.Lock()
		seen++
		mu.Unlock()
	}

	if _, err := Run(context.Background(), Config{Dir: dir}, d); err != nil {
		t.Fatal(err)
	}

	mu.Lock()
	defer mu.Unlock()
	if seen == 0 || seen > 500 {
		t.Errorf("observer saw %d events", seen)
	}
}

func TestRunRequiresEngine(t *testing.T) {
	if _, err := Run(context.Background(), Config{Dir: t.TempDir()}, Deps{Backend: &fakeBackend{}}); err == nil {
		t.Fatal("expected an error")
	}
}
