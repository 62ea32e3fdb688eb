package models

import "time"

// Package is the identity root: one row per package id. It exists only while
// at least one Version references it.
type Package struct {
	Name     string    `gorm:"column:name;primaryKey" json:"id"`
	Updated  time.Time `gorm:"column:updated" json:"updated"`
	Authors  string    `gorm:"column:authors" json:"authors"`
	Versions []Version `gorm:"foreignKey:PackageName;references:Name;constraint:OnDelete:CASCADE" json:"-"`
}

// Version is one published artifact of a Package. The raw client-supplied
// version string is the identity; the normalized form drives ordering. The
// pair (package, raw version) is unique and the database constraint, not the
// pre-upload existence check, is the final arbiter under concurrent uploads.
type Version struct {
	Id          string `gorm:"column:id;primaryKey" json:"-"`
	PackageName string `gorm:"column:package_name;uniqueIndex:idx_versions_package_version" json:"packageId"`
	Version     string `gorm:"column:version;uniqueIndex:idx_versions_package_version;not null" json:"version"`

	NormalizedVersion string    `gorm:"column:normalized_version" json:"normalizedVersion"`
	IsPrerelease      bool      `gorm:"column:is_prerelease" json:"isPrerelease"`
	Created           time.Time `gorm:"column:created" json:"created"`

	PackageSize          int64  `gorm:"column:package_size" json:"packageSize"`
	PackageHash          string `gorm:"column:package_hash" json:"packageHash"`
	PackageHashAlgorithm string `gorm:"column:package_hash_algorithm" json:"packageHashAlgorithm"`

	// Dependencies are stored as an opaque delimited string, not resolved.
	Dependencies string `gorm:"column:dependencies" json:"dependencies"`

	// Best-effort nuspec fields; empty when the manifest omits them.
	Title                    string `gorm:"column:title" json:"title,omitempty"`
	Description              string `gorm:"column:description" json:"description,omitempty"`
	Summary                  string `gorm:"column:summary" json:"summary,omitempty"`
	Tags                     string `gorm:"column:tags" json:"tags,omitempty"`
	Copyright                string `gorm:"column:copyright" json:"copyright,omitempty"`
	IconUrl                  string `gorm:"column:icon_url" json:"iconUrl,omitempty"`
	ProjectUrl               string `gorm:"column:project_url" json:"projectUrl,omitempty"`
	ReleaseNotes             string `gorm:"column:release_notes" json:"releaseNotes,omitempty"`
	LicenseUrl               string `gorm:"column:license_url" json:"licenseUrl,omitempty"`
	RequireLicenseAcceptance bool   `gorm:"column:require_license_acceptance" json:"requireLicenseAcceptance"`

	Package *Package `gorm:"foreignKey:PackageName;references:Name" json:"-"`
}
