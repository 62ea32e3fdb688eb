package services

import (
	"context"
	"crypto/sha512"
	"encoding/base64"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/developer-overheid-nl/don-package-register/pkg/registry/helpers/problem"
	"github.com/developer-overheid-nl/don-package-register/pkg/registry/models"
	"github.com/developer-overheid-nl/don-package-register/pkg/registry/nuspec"
	"github.com/developer-overheid-nl/don-package-register/pkg/registry/repositories"
	"github.com/developer-overheid-nl/don-package-register/pkg/registry/storage"
	"github.com/developer-overheid-nl/don-package-register/pkg/registry/version"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
	"gorm.io/gorm"
)

// hashAlgorithm tags the digest stored on every version row.
const hashAlgorithm = "SHA512"

// PackagesAPIService implements the registry protocols over the metadata
// store and the blob store. The two backends share no transaction: upload is
// blob-first, delete is metadata-authoritative (see UploadPackage and
// DeletePackageVersion for the exact failure semantics).
type PackagesAPIService struct {
	repo  repositories.PackageRepository
	blobs storage.BlobStore
}

func NewPackagesAPIService(repo repositories.PackageRepository, blobs storage.BlobStore) *PackagesAPIService {
	return &PackagesAPIService{repo: repo, blobs: blobs}
}

// FeedItem is a version decorated with the per-package latest flags the feed
// protocol reports.
type FeedItem struct {
	Version          models.Version
	IsLatest         bool // highest stable version of its package
	IsAbsoluteLatest bool // highest version overall, prereleases included
}

// UploadPackage runs the ingestion protocol on a raw archive. Order matters:
// the artifact is written to the blob store before any metadata commit, so a
// failed blob write leaves nothing to clean up. A metadata failure after a
// successful blob write leaves an unreferenced artifact behind; that window
// is accepted and reclaimed by the orphan sweep, never rolled back inline.
func (s *PackagesAPIService) UploadPackage(ctx context.Context, archive []byte) (*models.Version, error) {
	manifest, err := nuspec.Extract(archive)
	if err != nil {
		return nil, problem.NewBadRequest("package", err.Error())
	}

	normalized, prerelease, err := version.Normalize(manifest.Version)
	if err != nil {
		return nil, problem.NewBadRequest(manifest.Id, fmt.Sprintf("version %q is not a valid semantic version", manifest.Version))
	}

	pkg, err := s.repo.FindPackage(ctx, manifest.Id)
	if err != nil {
		return nil, err
	}
	if pkg != nil {
		existing, err := s.repo.FindVersion(ctx, manifest.Id, manifest.Version)
		if err != nil {
			return nil, err
		}
		if existing != nil {
			return nil, problem.NewConflict(manifest.Id, fmt.Sprintf("version %s already exists", manifest.Version))
		}
		// Two raw strings normalizing to the same canonical version would
		// break "latest version" ordering, so they are rejected as well.
		sameNormalized, err := s.repo.FindVersionByNormalized(ctx, manifest.Id, normalized)
		if err != nil {
			return nil, err
		}
		if sameNormalized != nil {
			return nil, problem.NewConflict(manifest.Id, fmt.Sprintf(
				"version %s normalizes to %s, which already exists as %s",
				manifest.Version, normalized, sameNormalized.Version))
		}
	} else {
		pkg = &models.Package{Name: manifest.Id}
	}
	pkg.Updated = time.Now().UTC()
	if manifest.Authors != "" {
		pkg.Authors = manifest.Authors
	}

	digest := sha512.Sum512(archive)
	key := storage.ArtifactKey(manifest.Id, manifest.Version)

	// Blob first. If this fails no metadata has been written.
	if err := s.blobs.Put(ctx, key, archive); err != nil {
		return nil, problem.NewInternalServerError(fmt.Sprintf("artifact store unavailable: %v", err))
	}

	v := &models.Version{
		Id:                       uuid.New().String(),
		PackageName:              manifest.Id,
		Version:                  manifest.Version,
		NormalizedVersion:        normalized,
		IsPrerelease:             prerelease,
		Created:                  time.Now().UTC(),
		PackageSize:              int64(len(archive)),
		PackageHash:              base64.StdEncoding.EncodeToString(digest[:]),
		PackageHashAlgorithm:     hashAlgorithm,
		Dependencies:             manifest.DependencyString(),
		Title:                    manifest.Title,
		Description:              manifest.Description,
		Summary:                  manifest.Summary,
		Tags:                     manifest.Tags,
		Copyright:                manifest.Copyright,
		IconUrl:                  manifest.IconUrl,
		ProjectUrl:               manifest.ProjectUrl,
		ReleaseNotes:             manifest.ReleaseNotes,
		LicenseUrl:               manifest.LicenseUrl,
		RequireLicenseAcceptance: manifest.RequireLicenseAcceptance,
	}

	if err := s.repo.CreateVersion(ctx, pkg, v); err != nil {
		// Concurrent uploads race past the pre-check; the uniqueness
		// constraint is the final arbiter.
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, problem.NewConflict(manifest.Id, fmt.Sprintf("version %s already exists", manifest.Version))
		}
		return nil, err
	}
	return v, nil
}

// DeletePackageVersion runs the deletion protocol. Deletion is
// metadata-authoritative: a blob-store failure is logged but does not block
// removing the registry's record of the version.
func (s *PackagesAPIService) DeletePackageVersion(ctx context.Context, id, rawVersion string) error {
	v, err := s.repo.FindVersion(ctx, id, rawVersion)
	if err != nil {
		return err
	}
	if v == nil {
		// the delete route reports a miss as a bad request, unlike the feed
		return problem.NewBadRequest(id, fmt.Sprintf("version %s of package %s not found", rawVersion, id))
	}

	key := storage.ArtifactKey(id, rawVersion)
	exists, err := s.blobs.Exists(ctx, key)
	switch {
	case err != nil:
		log.Printf("[delete] artifact lookup failed for %s, proceeding with metadata delete: %v", key, err)
	case !exists:
		// already reclaimed by the sweep or never written; nothing to remove
	default:
		if err := s.blobs.Delete(ctx, key); err != nil {
			log.Printf("[delete] artifact removal failed for %s, proceeding with metadata delete: %v", key, err)
		}
	}

	return s.repo.DeleteVersion(ctx, v)
}

// GetEntry resolves a single (id, raw version) pair for the entry document.
// Returns (nil, nil) on a miss.
func (s *PackagesAPIService) GetEntry(ctx context.Context, id, rawVersion string) (*FeedItem, error) {
	v, err := s.repo.FindVersion(ctx, id, rawVersion)
	if err != nil || v == nil {
		return nil, err
	}

	siblings, err := s.repo.ListVersions(ctx, id)
	if err != nil {
		return nil, err
	}
	for _, item := range markLatest(siblings) {
		if item.Version.Version == rawVersion {
			return &item, nil
		}
	}
	return nil, nil
}

// FindPackagesById returns every version of one package, exact-id match.
func (s *PackagesAPIService) FindPackagesById(ctx context.Context, id string, includePrerelease bool) ([]FeedItem, error) {
	versions, err := s.repo.ListVersions(ctx, id)
	if err != nil {
		return nil, err
	}
	items := markLatest(versions)
	if !includePrerelease {
		items = dropPrereleases(items)
	}
	return items, nil
}

// SearchPackages matches the term as a substring of the package name. An
// empty term returns the whole collection.
func (s *PackagesAPIService) SearchPackages(ctx context.Context, term string, includePrerelease bool) ([]FeedItem, error) {
	versions, err := s.repo.Search(ctx, term, true)
	if err != nil {
		return nil, err
	}
	items := markLatest(versions)
	if !includePrerelease {
		items = dropPrereleases(items)
	}
	return items, nil
}

// DownloadPackage streams back the stored artifact. The version row is
// checked first: a missing row is a not-found outcome, never a blob lookup.
func (s *PackagesAPIService) DownloadPackage(ctx context.Context, id, rawVersion string) ([]byte, error) {
	v, err := s.repo.FindVersion(ctx, id, rawVersion)
	if err != nil {
		return nil, err
	}
	if v == nil {
		return nil, problem.NewNotFound(id, fmt.Sprintf("version %s of package %s not found", rawVersion, id))
	}

	data, err := s.blobs.Get(ctx, storage.ArtifactKey(id, rawVersion))
	if err != nil {
		return nil, problem.NewInternalServerError(fmt.Sprintf("artifact store unavailable: %v", err))
	}
	return data, nil
}

// sweepMinAge is how long a blob must be unreferenced before the sweep may
// reclaim it. An upload writes its blob before committing metadata, so a
// fresh object can be a push still in flight, not an orphan.
const sweepMinAge = time.Hour

// SweepOrphans removes blobs no version row references. Upload failures
// between the blob write and the metadata commit leave such objects behind;
// this is their only reclamation path.
func (s *PackagesAPIService) SweepOrphans(ctx context.Context) error {
	versions, err := s.repo.AllVersions(ctx)
	if err != nil {
		return err
	}
	referenced := make(map[string]struct{}, len(versions))
	for _, v := range versions {
		referenced[storage.ArtifactKey(v.PackageName, v.Version)] = struct{}{}
	}

	objects, err := s.blobs.List(ctx)
	if err != nil {
		return err
	}
	cutoff := time.Now().Add(-sweepMinAge)

	const maxConcurrent = 2
	sem := semaphore.NewWeighted(int64(maxConcurrent))
	g, ctx := errgroup.WithContext(ctx)

	for _, obj := range objects {
		if _, ok := referenced[obj.Key]; ok {
			continue
		}
		if obj.ModTime.After(cutoff) {
			continue
		}
		key := obj.Key

		if err := sem.Acquire(ctx, 1); err != nil {
			return err
		}
		g.Go(func() error {
			defer sem.Release(1)

			if err := s.blobs.Delete(ctx, key); err != nil {
				// best effort: one stuck object must not abort the sweep
				log.Printf("[sweep] failed to remove orphan %s: %v", key, err)
				return nil
			}
			log.Printf("[sweep] removed orphaned artifact %s", key)
			return nil
		})
	}

	return g.Wait()
}

// markLatest decorates versions with the latest flags, computed per package
// over the normalized forms only.
func markLatest(versions []models.Version) []FeedItem {
	latest := make(map[string]string)   // package -> highest stable normalized
	absolute := make(map[string]string) // package -> highest normalized overall
	for _, v := range versions {
		if cur, ok := absolute[v.PackageName]; !ok || version.Compare(v.NormalizedVersion, cur) > 0 {
			absolute[v.PackageName] = v.NormalizedVersion
		}
		if v.IsPrerelease {
			continue
		}
		if cur, ok := latest[v.PackageName]; !ok || version.Compare(v.NormalizedVersion, cur) > 0 {
			latest[v.PackageName] = v.NormalizedVersion
		}
	}

	items := make([]FeedItem, len(versions))
	for i, v := range versions {
		items[i] = FeedItem{
			Version:          v,
			IsLatest:         !v.IsPrerelease && latest[v.PackageName] == v.NormalizedVersion,
			IsAbsoluteLatest: absolute[v.PackageName] == v.NormalizedVersion,
		}
	}
	return items
}

func dropPrereleases(items []FeedItem) []FeedItem {
	out := make([]FeedItem, 0, len(items))
	for _, item := range items {
		if item.Version.IsPrerelease {
			continue
		}
		out = append(out, item)
	}
	return out
}
