package repositories_test

import (
	"context"
	"testing"
	"time"

	"github.com/developer-overheid-nl/don-package-register/pkg/registry/models"
	"github.com/developer-overheid-nl/don-package-register/pkg/registry/repositories"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func setupDB(t *testing.T) *gorm.DB {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{TranslateError: true})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&models.Package{}, &models.Version{}))
	return db
}

func newVersion(pkg, raw, normalized string, prerelease bool) *models.Version {
	return &models.Version{
		Id:                   uuid.New().String(),
		PackageName:          pkg,
		Version:              raw,
		NormalizedVersion:    normalized,
		IsPrerelease:         prerelease,
		Created:              time.Now().UTC(),
		PackageSize:          42,
		PackageHash:          "aGFzaA==",
		PackageHashAlgorithm: "SHA512",
	}
}

func TestPackageRepository_CreateAndFind(t *testing.T) {
	repo := repositories.NewPackageRepository(setupDB(t))
	ctx := context.Background()

	pkg := &models.Package{Name: "Foo", Updated: time.Now().UTC(), Authors: "Team Foo"}
	require.NoError(t, repo.CreateVersion(ctx, pkg, newVersion("Foo", "1.0", "1.0.0", false)))

	got, err := repo.FindPackage(ctx, "Foo")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "Team Foo", got.Authors)

	v, err := repo.FindVersion(ctx, "Foo", "1.0")
	require.NoError(t, err)
	require.NotNil(t, v)
	assert.Equal(t, "1.0.0", v.NormalizedVersion)
	require.NotNil(t, v.Package)
	assert.Equal(t, "Foo", v.Package.Name)

	missing, err := repo.FindVersion(ctx, "Foo", "9.9")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestPackageRepository_DuplicateVersion(t *testing.T) {
	repo := repositories.NewPackageRepository(setupDB(t))
	ctx := context.Background()

	pkg := &models.Package{Name: "Foo", Updated: time.Now().UTC()}
	require.NoError(t, repo.CreateVersion(ctx, pkg, newVersion("Foo", "1.0", "1.0.0", false)))

	err := repo.CreateVersion(ctx, pkg, newVersion("Foo", "1.0", "1.0.0", false))
	assert.ErrorIs(t, err, gorm.ErrDuplicatedKey)

	// the losing attempt must not leave extra rows behind
	versions, err := repo.ListVersions(ctx, "Foo")
	require.NoError(t, err)
	assert.Len(t, versions, 1)
}

func TestPackageRepository_FindVersionByNormalized(t *testing.T) {
	repo := repositories.NewPackageRepository(setupDB(t))
	ctx := context.Background()

	pkg := &models.Package{Name: "Foo", Updated: time.Now().UTC()}
	require.NoError(t, repo.CreateVersion(ctx, pkg, newVersion("Foo", "1.0", "1.0.0", false)))

	v, err := repo.FindVersionByNormalized(ctx, "Foo", "1.0.0")
	require.NoError(t, err)
	require.NotNil(t, v)
	assert.Equal(t, "1.0", v.Version)
}

func TestPackageRepository_DeleteLastVersionRemovesPackage(t *testing.T) {
	repo := repositories.NewPackageRepository(setupDB(t))
	ctx := context.Background()

	pkg := &models.Package{Name: "Foo", Updated: time.Now().UTC()}
	require.NoError(t, repo.CreateVersion(ctx, pkg, newVersion("Foo", "1.0", "1.0.0", false)))
	require.NoError(t, repo.CreateVersion(ctx, pkg, newVersion("Foo", "2.0", "2.0.0", false)))

	v1, err := repo.FindVersion(ctx, "Foo", "1.0")
	require.NoError(t, err)
	require.NoError(t, repo.DeleteVersion(ctx, v1))

	// one version left: package stays
	got, err := repo.FindPackage(ctx, "Foo")
	require.NoError(t, err)
	assert.NotNil(t, got)

	v2, err := repo.FindVersion(ctx, "Foo", "2.0")
	require.NoError(t, err)
	require.NoError(t, repo.DeleteVersion(ctx, v2))

	got, err = repo.FindPackage(ctx, "Foo")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestPackageRepository_Search(t *testing.T) {
	repo := repositories.NewPackageRepository(setupDB(t))
	ctx := context.Background()

	now := time.Now().UTC()
	require.NoError(t, repo.CreateVersion(ctx, &models.Package{Name: "Json.Net", Updated: now}, newVersion("Json.Net", "1.0", "1.0.0", false)))
	require.NoError(t, repo.CreateVersion(ctx, &models.Package{Name: "Json.Net", Updated: now}, newVersion("Json.Net", "2.0-beta", "2.0.0-beta", true)))
	require.NoError(t, repo.CreateVersion(ctx, &models.Package{Name: "Logging", Updated: now}, newVersion("Logging", "1.0", "1.0.0", false)))

	hits, err := repo.Search(ctx, "Json", true)
	require.NoError(t, err)
	assert.Len(t, hits, 2)

	// the infix match is case-sensitive
	miss, err := repo.Search(ctx, "json", true)
	require.NoError(t, err)
	assert.Empty(t, miss)

	stable, err := repo.Search(ctx, "Json", false)
	require.NoError(t, err)
	require.Len(t, stable, 1)
	assert.Equal(t, "1.0", stable[0].Version)

	all, err := repo.Search(ctx, "", true)
	require.NoError(t, err)
	assert.Len(t, all, 3)

	none, err := repo.Search(ctx, "nothing-matches", true)
	require.NoError(t, err)
	assert.Empty(t, none)
}
