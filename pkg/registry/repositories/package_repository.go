package repositories

import (
	"context"
	"errors"
	"strings"

	"github.com/developer-overheid-nl/don-package-register/pkg/registry/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// PackageRepository is the single source of truth for what exists. All
// mutation goes through its transactional operations; lookups return
// (nil, nil) on a miss.
type PackageRepository interface {
	FindPackage(ctx context.Context, name string) (*models.Package, error)
	FindVersion(ctx context.Context, name, rawVersion string) (*models.Version, error)
	FindVersionByNormalized(ctx context.Context, name, normalized string) (*models.Version, error)
	ListVersions(ctx context.Context, name string) ([]models.Version, error)
	Search(ctx context.Context, term string, includePrerelease bool) ([]models.Version, error)
	AllVersions(ctx context.Context) ([]models.Version, error)

	// CreateVersion commits the package row (upserting its metadata) and the
	// new version row in one transaction. A (package, version) conflict
	// surfaces as gorm.ErrDuplicatedKey.
	CreateVersion(ctx context.Context, pkg *models.Package, version *models.Version) error

	// DeleteVersion removes the version row and, when it was the package's
	// last, the package row, in one transaction.
	DeleteVersion(ctx context.Context, version *models.Version) error
}

type packageRepository struct {
	db *gorm.DB
}

func NewPackageRepository(db *gorm.DB) PackageRepository {
	return &packageRepository{db: db}
}

func (r *packageRepository) FindPackage(ctx context.Context, name string) (*models.Package, error) {
	var pkg models.Package
	err := r.db.WithContext(ctx).First(&pkg, "name = ?", name).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	} else if err != nil {
		return nil, err
	}
	return &pkg, nil
}

func (r *packageRepository) FindVersion(ctx context.Context, name, rawVersion string) (*models.Version, error) {
	var v models.Version
	err := r.db.WithContext(ctx).
		Preload("Package").
		First(&v, "package_name = ? AND version = ?", name, rawVersion).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	} else if err != nil {
		return nil, err
	}
	return &v, nil
}

func (r *packageRepository) FindVersionByNormalized(ctx context.Context, name, normalized string) (*models.Version, error) {
	var v models.Version
	err := r.db.WithContext(ctx).
		First(&v, "package_name = ? AND normalized_version = ?", name, normalized).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	} else if err != nil {
		return nil, err
	}
	return &v, nil
}

func (r *packageRepository) ListVersions(ctx context.Context, name string) ([]models.Version, error) {
	var versions []models.Version
	err := r.db.WithContext(ctx).
		Preload("Package").
		Where("package_name = ?", name).
		Order("created").
		Find(&versions).Error
	if err != nil {
		return nil, err
	}
	return versions, nil
}

// Search matches the term as a case-sensitive infix of the package name.
// LIKE is case-insensitive on sqlite, so the query is only a coarse
// prefilter; the authoritative match happens on the rows.
func (r *packageRepository) Search(ctx context.Context, term string, includePrerelease bool) ([]models.Version, error) {
	q := r.db.WithContext(ctx).Preload("Package").Order("package_name, created")
	if term != "" {
		q = q.Where("package_name LIKE ?", "%"+term+"%")
	}
	if !includePrerelease {
		q = q.Where("is_prerelease = ?", false)
	}

	var versions []models.Version
	if err := q.Find(&versions).Error; err != nil {
		return nil, err
	}

	if term != "" {
		matched := versions[:0]
		for _, v := range versions {
			if strings.Contains(v.PackageName, term) {
				matched = append(matched, v)
			}
		}
		versions = matched
	}
	return versions, nil
}

func (r *packageRepository) AllVersions(ctx context.Context) ([]models.Version, error) {
	var versions []models.Version
	if err := r.db.WithContext(ctx).Find(&versions).Error; err != nil {
		return nil, err
	}
	return versions, nil
}

func (r *packageRepository) CreateVersion(ctx context.Context, pkg *models.Package, version *models.Version) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "name"}},
			UpdateAll: true,
		}).Omit("Versions").Create(pkg).Error; err != nil {
			return err
		}
		return tx.Create(version).Error
	})
}

func (r *packageRepository) DeleteVersion(ctx context.Context, version *models.Version) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Delete(&models.Version{}, "id = ?", version.Id).Error; err != nil {
			return err
		}

		var remaining int64
		if err := tx.Model(&models.Version{}).
			Where("package_name = ?", version.PackageName).
			Count(&remaining).Error; err != nil {
			return err
		}
		if remaining == 0 {
			// no orphan packages
			return tx.Delete(&models.Package{}, "name = ?", version.PackageName).Error
		}
		return nil
	})
}
