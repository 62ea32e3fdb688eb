package services_test

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/developer-overheid-nl/don-package-register/pkg/registry/helpers/problem"
	"github.com/developer-overheid-nl/don-package-register/pkg/registry/models"
	"github.com/developer-overheid-nl/don-package-register/pkg/registry/services"
	"github.com/developer-overheid-nl/don-package-register/pkg/registry/storage"
	"github.com/klauspost/compress/zip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

// stubRepo implements repositories.PackageRepository for service tests
type stubRepo struct {
	findPackage       func(ctx context.Context, name string) (*models.Package, error)
	findVersion       func(ctx context.Context, name, raw string) (*models.Version, error)
	findByNormalized  func(ctx context.Context, name, normalized string) (*models.Version, error)
	listVersions      func(ctx context.Context, name string) ([]models.Version, error)
	search            func(ctx context.Context, term string, includePrerelease bool) ([]models.Version, error)
	allVersions       func(ctx context.Context) ([]models.Version, error)
	createVersion     func(ctx context.Context, pkg *models.Package, v *models.Version) error
	deleteVersion     func(ctx context.Context, v *models.Version) error
	createdVersions   []*models.Version
	deletedVersions   []*models.Version
}

func (s *stubRepo) FindPackage(ctx context.Context, name string) (*models.Package, error) {
	if s.findPackage != nil {
		return s.findPackage(ctx, name)
	}
	return nil, nil
}
func (s *stubRepo) FindVersion(ctx context.Context, name, raw string) (*models.Version, error) {
	if s.findVersion != nil {
		return s.findVersion(ctx, name, raw)
	}
	return nil, nil
}
func (s *stubRepo) FindVersionByNormalized(ctx context.Context, name, normalized string) (*models.Version, error) {
	if s.findByNormalized != nil {
		return s.findByNormalized(ctx, name, normalized)
	}
	return nil, nil
}
func (s *stubRepo) ListVersions(ctx context.Context, name string) ([]models.Version, error) {
	if s.listVersions != nil {
		return s.listVersions(ctx, name)
	}
	return nil, nil
}
func (s *stubRepo) Search(ctx context.Context, term string, includePrerelease bool) ([]models.Version, error) {
	if s.search != nil {
		return s.search(ctx, term, includePrerelease)
	}
	return nil, nil
}
func (s *stubRepo) AllVersions(ctx context.Context) ([]models.Version, error) {
	if s.allVersions != nil {
		return s.allVersions(ctx)
	}
	return nil, nil
}
func (s *stubRepo) CreateVersion(ctx context.Context, pkg *models.Package, v *models.Version) error {
	s.createdVersions = append(s.createdVersions, v)
	if s.createVersion != nil {
		return s.createVersion(ctx, pkg, v)
	}
	return nil
}
func (s *stubRepo) DeleteVersion(ctx context.Context, v *models.Version) error {
	s.deletedVersions = append(s.deletedVersions, v)
	if s.deleteVersion != nil {
		return s.deleteVersion(ctx, v)
	}
	return nil
}

// memStore is an in-memory BlobStore; the sweep deletes concurrently, hence
// the mutex.
type memStore struct {
	mu       sync.Mutex
	objects  map[string][]byte
	modTimes map[string]time.Time
	putErr   error
	delErr   error
}

func newMemStore() *memStore {
	return &memStore{objects: map[string][]byte{}, modTimes: map[string]time.Time{}}
}

func (m *memStore) Put(ctx context.Context, key string, data []byte) error {
	if m.putErr != nil {
		return m.putErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = data
	m.modTimes[key] = time.Now()
	return nil
}

// putAt seeds an object with a chosen modification time.
func (m *memStore) putAt(key string, data []byte, modTime time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = data
	m.modTimes[key] = modTime
}
func (m *memStore) Get(ctx context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.objects[key]
	if !ok {
		return nil, errors.New("no such object")
	}
	return data, nil
}
func (m *memStore) Exists(ctx context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.objects[key]
	return ok, nil
}
func (m *memStore) Delete(ctx context.Context, key string) error {
	if m.delErr != nil {
		return m.delErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, key)
	delete(m.modTimes, key)
	return nil
}
func (m *memStore) List(ctx context.Context) ([]storage.Object, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	objects := make([]storage.Object, 0, len(m.objects))
	for k := range m.objects {
		objects = append(objects, storage.Object{Key: k, ModTime: m.modTimes[k]})
	}
	return objects, nil
}

func buildNupkg(t *testing.T, id, version string) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := zip.NewWriter(&buf)
	f, err := w.Create(id + ".nuspec")
	require.NoError(t, err)
	_, err = f.Write([]byte(`<package><metadata><id>` + id + `</id><version>` + version + `</version><authors>tester</authors></metadata></package>`))
	require.NoError(t, err)
	require.NoError(t, w.Close())
	return buf.Bytes()
}

func statusOf(t *testing.T, err error) int {
	t.Helper()
	var apiErr problem.APIError
	require.ErrorAs(t, err, &apiErr)
	return apiErr.Status
}

func TestUploadPackage(t *testing.T) {
	repo := &stubRepo{}
	blobs := newMemStore()
	svc := services.NewPackagesAPIService(repo, blobs)

	archive := buildNupkg(t, "Foo", "01.2")
	v, err := svc.UploadPackage(context.Background(), archive)
	require.NoError(t, err)

	assert.Equal(t, "Foo", v.PackageName)
	assert.Equal(t, "01.2", v.Version)
	assert.Equal(t, "1.2.0", v.NormalizedVersion)
	assert.False(t, v.IsPrerelease)
	assert.Equal(t, int64(len(archive)), v.PackageSize)
	assert.Equal(t, "SHA512", v.PackageHashAlgorithm)
	assert.NotEmpty(t, v.PackageHash)

	stored, err := blobs.Get(context.Background(), storage.ArtifactKey("Foo", "01.2"))
	require.NoError(t, err)
	assert.Equal(t, archive, stored)
}

func TestUploadPackage_DuplicateRawVersion(t *testing.T) {
	repo := &stubRepo{
		findPackage: func(ctx context.Context, name string) (*models.Package, error) {
			return &models.Package{Name: name}, nil
		},
		findVersion: func(ctx context.Context, name, raw string) (*models.Version, error) {
			return &models.Version{PackageName: name, Version: raw}, nil
		},
	}
	blobs := newMemStore()
	svc := services.NewPackagesAPIService(repo, blobs)

	_, err := svc.UploadPackage(context.Background(), buildNupkg(t, "Foo", "1.0"))
	assert.Equal(t, 409, statusOf(t, err))
	// reject path: nothing written anywhere
	assert.Empty(t, blobs.objects)
	assert.Empty(t, repo.createdVersions)
}

func TestUploadPackage_DuplicateNormalizedVersion(t *testing.T) {
	repo := &stubRepo{
		findPackage: func(ctx context.Context, name string) (*models.Package, error) {
			return &models.Package{Name: name}, nil
		},
		findByNormalized: func(ctx context.Context, name, normalized string) (*models.Version, error) {
			return &models.Version{PackageName: name, Version: "1.0", NormalizedVersion: normalized}, nil
		},
	}
	svc := services.NewPackagesAPIService(repo, newMemStore())

	// "1.0.0" and the existing "1.0" normalize identically
	_, err := svc.UploadPackage(context.Background(), buildNupkg(t, "Foo", "1.0.0"))
	assert.Equal(t, 409, statusOf(t, err))
}

func TestUploadPackage_MalformedArchive(t *testing.T) {
	repo := &stubRepo{}
	blobs := newMemStore()
	svc := services.NewPackagesAPIService(repo, blobs)

	_, err := svc.UploadPackage(context.Background(), []byte("not a zip"))
	assert.Equal(t, 400, statusOf(t, err))
	assert.Empty(t, blobs.objects)
	assert.Empty(t, repo.createdVersions)
}

func TestUploadPackage_MalformedVersion(t *testing.T) {
	svc := services.NewPackagesAPIService(&stubRepo{}, newMemStore())

	_, err := svc.UploadPackage(context.Background(), buildNupkg(t, "Foo", "not-a-version-!!"))
	assert.Equal(t, 400, statusOf(t, err))
}

func TestUploadPackage_BlobWriteFails(t *testing.T) {
	repo := &stubRepo{}
	blobs := newMemStore()
	blobs.putErr = errors.New("bucket unreachable")
	svc := services.NewPackagesAPIService(repo, blobs)

	_, err := svc.UploadPackage(context.Background(), buildNupkg(t, "Foo", "1.0"))
	assert.Equal(t, 500, statusOf(t, err))
	// blob-first: metadata untouched after a failed artifact write
	assert.Empty(t, repo.createdVersions)
}

func TestUploadPackage_CommitConflict(t *testing.T) {
	// the existence pre-check passes but the commit hits the uniqueness
	// constraint, as happens when two uploads race
	repo := &stubRepo{
		createVersion: func(ctx context.Context, pkg *models.Package, v *models.Version) error {
			return gorm.ErrDuplicatedKey
		},
	}
	svc := services.NewPackagesAPIService(repo, newMemStore())

	_, err := svc.UploadPackage(context.Background(), buildNupkg(t, "Foo", "1.0"))
	assert.Equal(t, 409, statusOf(t, err))
}

func TestDeletePackageVersion(t *testing.T) {
	existing := &models.Version{Id: "v1", PackageName: "Foo", Version: "1.0"}
	repo := &stubRepo{
		findVersion: func(ctx context.Context, name, raw string) (*models.Version, error) {
			return existing, nil
		},
	}
	blobs := newMemStore()
	blobs.objects[storage.ArtifactKey("Foo", "1.0")] = []byte("data")
	svc := services.NewPackagesAPIService(repo, blobs)

	require.NoError(t, svc.DeletePackageVersion(context.Background(), "Foo", "1.0"))
	assert.Empty(t, blobs.objects)
	require.Len(t, repo.deletedVersions, 1)
	assert.Equal(t, "v1", repo.deletedVersions[0].Id)
}

func TestDeletePackageVersion_NotFound(t *testing.T) {
	svc := services.NewPackagesAPIService(&stubRepo{}, newMemStore())

	err := svc.DeletePackageVersion(context.Background(), "Foo", "9.9")
	// delete reports a miss as 400, unlike the feed's 404
	assert.Equal(t, 400, statusOf(t, err))
}

func TestDeletePackageVersion_BlobFailureDoesNotBlock(t *testing.T) {
	existing := &models.Version{Id: "v1", PackageName: "Foo", Version: "1.0"}
	repo := &stubRepo{
		findVersion: func(ctx context.Context, name, raw string) (*models.Version, error) {
			return existing, nil
		},
	}
	blobs := newMemStore()
	blobs.objects[storage.ArtifactKey("Foo", "1.0")] = []byte("data")
	blobs.delErr = errors.New("store unreachable")
	svc := services.NewPackagesAPIService(repo, blobs)

	// metadata-authoritative: the version row goes away regardless
	require.NoError(t, svc.DeletePackageVersion(context.Background(), "Foo", "1.0"))
	assert.Len(t, repo.deletedVersions, 1)
}

func TestDeletePackageVersion_BlobAlreadyGone(t *testing.T) {
	existing := &models.Version{Id: "v1", PackageName: "Foo", Version: "1.0"}
	repo := &stubRepo{
		findVersion: func(ctx context.Context, name, raw string) (*models.Version, error) {
			return existing, nil
		},
	}
	blobs := newMemStore()
	// no blob under the key; a failing Delete would surface if it were called
	blobs.delErr = errors.New("store unreachable")
	svc := services.NewPackagesAPIService(repo, blobs)

	require.NoError(t, svc.DeletePackageVersion(context.Background(), "Foo", "1.0"))
	assert.Len(t, repo.deletedVersions, 1)
}

func feedVersions() []models.Version {
	created := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	return []models.Version{
		{PackageName: "Foo", Version: "1.0", NormalizedVersion: "1.0.0", Created: created},
		{PackageName: "Foo", Version: "2.0", NormalizedVersion: "2.0.0", Created: created},
		{PackageName: "Foo", Version: "3.0-beta", NormalizedVersion: "3.0.0-beta", IsPrerelease: true, Created: created},
	}
}

func TestFindPackagesById_LatestFlags(t *testing.T) {
	repo := &stubRepo{
		listVersions: func(ctx context.Context, name string) ([]models.Version, error) {
			return feedVersions(), nil
		},
	}
	svc := services.NewPackagesAPIService(repo, newMemStore())

	items, err := svc.FindPackagesById(context.Background(), "Foo", true)
	require.NoError(t, err)
	require.Len(t, items, 3)

	byVersion := map[string]services.FeedItem{}
	for _, item := range items {
		byVersion[item.Version.Version] = item
	}
	assert.False(t, byVersion["1.0"].IsLatest)
	assert.True(t, byVersion["2.0"].IsLatest)
	assert.False(t, byVersion["2.0"].IsAbsoluteLatest)
	assert.False(t, byVersion["3.0-beta"].IsLatest)
	assert.True(t, byVersion["3.0-beta"].IsAbsoluteLatest)
}

func TestFindPackagesById_ExcludePrerelease(t *testing.T) {
	repo := &stubRepo{
		listVersions: func(ctx context.Context, name string) ([]models.Version, error) {
			return feedVersions(), nil
		},
	}
	svc := services.NewPackagesAPIService(repo, newMemStore())

	items, err := svc.FindPackagesById(context.Background(), "Foo", false)
	require.NoError(t, err)
	require.Len(t, items, 2)
	for _, item := range items {
		assert.False(t, item.Version.IsPrerelease)
	}
}

func TestDownloadPackage_NotFound(t *testing.T) {
	svc := services.NewPackagesAPIService(&stubRepo{}, newMemStore())

	_, err := svc.DownloadPackage(context.Background(), "Foo", "1.0")
	assert.Equal(t, 404, statusOf(t, err))
}

func TestSweepOrphans(t *testing.T) {
	repo := &stubRepo{
		allVersions: func(ctx context.Context) ([]models.Version, error) {
			return []models.Version{{PackageName: "Foo", Version: "1.0"}}, nil
		},
	}
	aged := time.Now().Add(-2 * time.Hour)
	blobs := newMemStore()
	blobs.putAt(storage.ArtifactKey("Foo", "1.0"), []byte("referenced"), aged)
	blobs.putAt(storage.ArtifactKey("Ghost", "0.1"), []byte("orphan"), aged)
	svc := services.NewPackagesAPIService(repo, blobs)

	require.NoError(t, svc.SweepOrphans(context.Background()))

	_, referenced := blobs.objects[storage.ArtifactKey("Foo", "1.0")]
	_, orphan := blobs.objects[storage.ArtifactKey("Ghost", "0.1")]
	assert.True(t, referenced)
	assert.False(t, orphan)
}

func TestSweepOrphans_LeavesFreshBlobsAlone(t *testing.T) {
	// a just-written blob can be an upload whose metadata commit has not
	// landed yet; the sweep must not race it
	repo := &stubRepo{}
	blobs := newMemStore()
	blobs.putAt(storage.ArtifactKey("InFlight", "1.0"), []byte("pending"), time.Now())
	svc := services.NewPackagesAPIService(repo, blobs)

	require.NoError(t, svc.SweepOrphans(context.Background()))

	_, stillThere := blobs.objects[storage.ArtifactKey("InFlight", "1.0")]
	assert.True(t, stillThere)
}
