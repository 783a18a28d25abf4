package requirements

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/serverledge-faas/localfaas/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeInstaller struct {
	calls     atomic.Int32
	fail      error
	delay     time.Duration
	onInstall func()
}

func (f *fakeInstaller) Name() string { return "fake" }

func (f *fakeInstaller) Install(_ context.Context, manifest, target string) ([]byte, error) {
	f.calls.Add(1)
	if f.onInstall != nil {
		f.onInstall()
	}
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	if f.fail != nil {
		_ = os.WriteFile(filepath.Join(target, "partial"), []byte("x"), 0o644)
		return []byte("boom"), f.fail
	}
	content, err := os.ReadFile(manifest)
	if err != nil {
		return nil, err
	}
	return []byte("ok"), os.WriteFile(filepath.Join(target, "installed.txt"), content, 0o644)
}

func writeManifest(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestEnsureInstalledMissAndHit(t *testing.T) {
	root := t.TempDir()
	inst := &fakeInstaller{}
	cache := NewCache(root, inst)
	manifest := writeManifest(t, t.TempDir(), "requirements.txt", "left-pad\n")

	dir, err := cache.EnsureInstalled(context.Background(), manifest, "")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, utils.BytesDigest([]byte("left-pad\n"))), dir)
	assert.FileExists(t, filepath.Join(dir, "installed.txt"))
	assert.FileExists(t, filepath.Join(root, DefaultTag+markerSuffix))
	assert.EqualValues(t, 1, inst.calls.Load())

	again, err := cache.EnsureInstalled(context.Background(), manifest, "")
	require.NoError(t, err)
	assert.Equal(t, dir, again)
	assert.EqualValues(t, 1, inst.calls.Load(), "a hit must not run the installer")
}

func TestEnsureInstalledContentAddressed(t *testing.T) {
	root := t.TempDir()
	inst := &fakeInstaller{}
	cache := NewCache(root, inst)
	a := writeManifest(t, t.TempDir(), "a.txt", "dep==1\n")
	b := writeManifest(t, t.TempDir(), "b.txt", "dep==1\n")

	dirA, err := cache.EnsureInstalled(context.Background(), a, "one")
	require.NoError(t, err)
	dirB, err := cache.EnsureInstalled(context.Background(), b, "one")
	require.NoError(t, err)
	assert.Equal(t, dirA, dirB)
	assert.EqualValues(t, 1, inst.calls.Load())
}

func TestEnsureInstalledManifestChange(t *testing.T) {
	root := t.TempDir()
	inst := &fakeInstaller{}
	cache := NewCache(root, inst)
	manifest := writeManifest(t, t.TempDir(), "requirements.txt", "dep==1\n")

	first, err := cache.EnsureInstalled(context.Background(), manifest, "")
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(manifest, []byte("dep==2\n"), 0o644))
	second, err := cache.EnsureInstalled(context.Background(), manifest, "")
	require.NoError(t, err)

	assert.NotEqual(t, first, second)
	assert.NoDirExists(t, first)
	assert.DirExists(t, second)
	marker, err := os.ReadFile(filepath.Join(root, DefaultTag+markerSuffix))
	require.NoError(t, err)
	assert.Equal(t, "dep==2\n", string(marker))
	assert.EqualValues(t, 2, inst.calls.Load())
}

func TestEnsureInstalledKeepsDigestSharedByAnotherTag(t *testing.T) {
	root := t.TempDir()
	cache := NewCache(root, &fakeInstaller{})
	src := t.TempDir()
	shared := writeManifest(t, src, "shared.txt", "dep==1\n")

	dir, err := cache.EnsureInstalled(context.Background(), shared, "a")
	require.NoError(t, err)
	_, err = cache.EnsureInstalled(context.Background(), shared, "b")
	require.NoError(t, err)

	changed := writeManifest(t, src, "changed.txt", "dep==2\n")
	_, err = cache.EnsureInstalled(context.Background(), changed, "a")
	require.NoError(t, err)

	assert.DirExists(t, dir, "tag b still uses the directory")
}

func TestEnsureInstalledUnreadableManifest(t *testing.T) {
	inst := &fakeInstaller{}
	cache := NewCache(t.TempDir(), inst)

	dir, err := cache.EnsureInstalled(context.Background(), filepath.Join(t.TempDir(), "missing.txt"), "")
	require.NoError(t, err)
	assert.Empty(t, dir)
	assert.EqualValues(t, 0, inst.calls.Load())
}

func TestEnsureInstalledFailure(t *testing.T) {
	root := t.TempDir()
	cause := errors.New("exit status 1")
	cache := NewCache(root, &fakeInstaller{fail: cause})
	manifest := writeManifest(t, t.TempDir(), "requirements.txt", "does-not-exist\n")

	dir, err := cache.EnsureInstalled(context.Background(), manifest, "")
	require.Error(t, err)
	assert.Empty(t, dir)

	var installErr *InstallError
	require.True(t, errors.As(err, &installErr))
	assert.Equal(t, DefaultTag, installErr.Tag)
	assert.Equal(t, "boom", installErr.Output)
	assert.ErrorIs(t, err, cause)

	assert.NoDirExists(t, filepath.Join(root, utils.BytesDigest([]byte("does-not-exist\n"))))
	leftovers, _ := filepath.Glob(filepath.Join(root, tmpPrefix+"*"))
	assert.Empty(t, leftovers)
	assert.NoFileExists(t, filepath.Join(root, DefaultTag+markerSuffix))
}

func TestReinstallRunsInstallerAgain(t *testing.T) {
	inst := &fakeInstaller{}
	cache := NewCache(t.TempDir(), inst)
	manifest := writeManifest(t, t.TempDir(), "requirements.txt", "dep\n")

	first, err := cache.EnsureInstalled(context.Background(), manifest, "")
	require.NoError(t, err)
	second, err := cache.Reinstall(context.Background(), manifest, "")
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.DirExists(t, second)
	assert.EqualValues(t, 2, inst.calls.Load())
}

func TestEnsureInstalledConcurrentSameTag(t *testing.T) {
	inst := &fakeInstaller{delay: 50 * time.Millisecond}
	cache := NewCache(t.TempDir(), inst)
	manifest := writeManifest(t, t.TempDir(), "requirements.txt", "dep\n")

	const n = 8
	dirs := make([]string, n)
	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			dirs[i], errs[i] = cache.EnsureInstalled(context.Background(), manifest, "")
		}(i)
	}
	wg.Wait()

	for i := 0; i < n; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, dirs[0], dirs[i])
	}
	assert.EqualValues(t, 1, inst.calls.Load())
}

func TestStatus(t *testing.T) {
	cache := NewCache(t.TempDir(), &fakeInstaller{})
	src := t.TempDir()
	_, err := cache.EnsureInstalled(context.Background(), writeManifest(t, src, "b.txt", "b\n"), "zeta")
	require.NoError(t, err)
	_, err = cache.EnsureInstalled(context.Background(), writeManifest(t, src, "a.txt", "a\n"), "alpha")
	require.NoError(t, err)

	status := cache.Status()
	require.Len(t, status, 2)
	assert.Equal(t, "alpha", status[0].Tag)
	assert.Equal(t, "zeta", status[1].Tag)
	assert.True(t, status[0].Installed)
	assert.Equal(t, utils.BytesDigest([]byte("a\n")), status[0].Digest)
}

func TestInvalidTag(t *testing.T) {
	cache := NewCache(t.TempDir(), &fakeInstaller{})
	manifest := writeManifest(t, t.TempDir(), "requirements.txt", "dep\n")

	_, err := cache.EnsureInstalled(context.Background(), manifest, "../escape")
	assert.Error(t, err)
}

func TestTagMovingToDigestOfAnotherTag(t *testing.T) {
	root := t.TempDir()
	cache := NewCache(root, &fakeInstaller{})
	src := t.TempDir()
	dep1 := writeManifest(t, src, "dep1.txt", "dep==1\n")
	dep2 := writeManifest(t, src, "dep2.txt", "dep==2\n")
	dep3 := writeManifest(t, src, "dep3.txt", "dep==3\n")
	ctx := context.Background()

	dir1, err := cache.EnsureInstalled(ctx, dep1, "a")
	require.NoError(t, err)
	dir2, err := cache.EnsureInstalled(ctx, dep2, "b")
	require.NoError(t, err)

	// a moves onto the directory b installed
	got, err := cache.EnsureInstalled(ctx, dep2, "a")
	require.NoError(t, err)
	assert.Equal(t, dir2, got)
	assert.NoDirExists(t, dir1)

	status := cache.Status()
	require.Len(t, status, 2)
	assert.Equal(t, "a", status[0].Tag)
	assert.Equal(t, utils.BytesDigest([]byte("dep==2\n")), status[0].Digest)

	// b leaving must not remove the directory a now uses
	_, err = cache.EnsureInstalled(ctx, dep3, "b")
	require.NoError(t, err)
	assert.FileExists(t, filepath.Join(dir2, "installed.txt"))
}

func TestAcquireKeepsDirectoryUntilReleased(t *testing.T) {
	root := t.TempDir()
	inst := &fakeInstaller{}
	cache := NewCache(root, inst)
	manifest := writeManifest(t, t.TempDir(), "requirements.txt", "dep==1\n")
	ctx := context.Background()

	first, err := cache.Acquire(ctx, manifest, "")
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(manifest, []byte("dep==2\n"), 0o644))
	second, err := cache.Acquire(ctx, manifest, "")
	require.NoError(t, err)
	assert.NotEqual(t, first.Dir, second.Dir)

	content, err := os.ReadFile(filepath.Join(first.Dir, "installed.txt"))
	require.NoError(t, err, "directory removed while still leased")
	assert.Equal(t, "dep==1\n", string(content))

	first.Release()
	first.Release()
	assert.NoDirExists(t, first.Dir)
	assert.DirExists(t, second.Dir)

	second.Release()
	assert.DirExists(t, second.Dir, "the current directory of a tag is kept")
	assert.EqualValues(t, 2, inst.calls.Load())
}

func TestAcquireReadoptedDirectoryIsKept(t *testing.T) {
	cache := NewCache(t.TempDir(), &fakeInstaller{})
	manifest := writeManifest(t, t.TempDir(), "requirements.txt", "dep==1\n")
	ctx := context.Background()

	old, err := cache.Acquire(ctx, manifest, "")
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(manifest, []byte("dep==2\n"), 0o644))
	_, err = cache.EnsureInstalled(ctx, manifest, "")
	require.NoError(t, err)

	// the manifest is reverted while the old directory is still leased
	require.NoError(t, os.WriteFile(manifest, []byte("dep==1\n"), 0o644))
	again, err := cache.Acquire(ctx, manifest, "")
	require.NoError(t, err)
	assert.Equal(t, old.Dir, again.Dir)

	old.Release()
	again.Release()
	assert.DirExists(t, old.Dir)
}

func TestReleaseNilLease(t *testing.T) {
	var lease *Lease
	assert.NotPanics(t, lease.Release)

	cache := NewCache(t.TempDir(), &fakeInstaller{})
	empty, err := cache.Acquire(context.Background(), filepath.Join(t.TempDir(), "missing.txt"), "")
	require.NoError(t, err)
	assert.Empty(t, empty.Dir)
	assert.NotPanics(t, empty.Release)
}

func TestManifestEditedDuringInstall(t *testing.T) {
	root := t.TempDir()
	manifest := writeManifest(t, t.TempDir(), "requirements.txt", "dep==1\n")
	inst := &fakeInstaller{onInstall: func() {
		require.NoError(t, os.WriteFile(manifest, []byte("dep==2\n"), 0o644))
	}}
	cache := NewCache(root, inst)

	dir, err := cache.EnsureInstalled(context.Background(), manifest, "")
	require.NoError(t, err)
	assert.Equal(t, cache.Dir(utils.BytesDigest([]byte("dep==1\n"))), dir)
	installed, err := os.ReadFile(filepath.Join(dir, "installed.txt"))
	require.NoError(t, err)
	assert.Equal(t, "dep==1\n", string(installed))

	leftovers, _ := filepath.Glob(filepath.Join(root, tmpPrefix+"*"))
	assert.Empty(t, leftovers)

	inst.onInstall = nil
	dir, err = cache.EnsureInstalled(context.Background(), manifest, "")
	require.NoError(t, err)
	installed, err = os.ReadFile(filepath.Join(dir, "installed.txt"))
	require.NoError(t, err)
	assert.Equal(t, "dep==2\n", string(installed))
}
