// Package nuspec extracts identity and dependency metadata from an uploaded
// .nupkg archive. A nupkg is a zip file carrying exactly one .nuspec manifest
// at its root.
package nuspec

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strings"

	"github.com/klauspost/compress/zip"
)

var (
	// ErrInvalidArchive means the uploaded bytes are not a readable zip.
	ErrInvalidArchive = errors.New("invalid package archive")
	// ErrManifestNotFound means the archive holds no .nuspec entry.
	ErrManifestNotFound = errors.New("manifest not found in archive")
	// ErrManifestParse means the .nuspec entry is not a well-formed manifest.
	ErrManifestParse = errors.New("manifest could not be parsed")
)

// Package ids end up in blob-store object keys, so the accepted alphabet is
// restricted up front.
var idPattern = regexp.MustCompile(`^[A-Za-z0-9_.-]+$`)

// Dependency is one declared dependency of a package version.
type Dependency struct {
	Id    string
	Range string
}

// Manifest holds the fields read from a .nuspec. Only Id and Version are
// required; everything else is stored opportunistically.
type Manifest struct {
	Id           string
	Version      string
	Authors      string
	Dependencies []Dependency

	Title                    string
	Description              string
	Summary                  string
	Tags                     string
	Copyright                string
	IconUrl                  string
	ProjectUrl               string
	ReleaseNotes             string
	LicenseUrl               string
	RequireLicenseAcceptance bool
}

// DependencyString flattens the dependency list into the single delimited
// form persisted on the version row: entries joined by "|", each "id" or
// "id:range".
func (m *Manifest) DependencyString() string {
	parts := make([]string, 0, len(m.Dependencies))
	for _, d := range m.Dependencies {
		if d.Range != "" {
			parts = append(parts, d.Id+":"+d.Range)
			continue
		}
		parts = append(parts, d.Id)
	}
	return strings.Join(parts, "|")
}

type nuspecDependency struct {
	Id      string `xml:"id,attr"`
	Version string `xml:"version,attr"`
}

type nuspecGroup struct {
	TargetFramework string             `xml:"targetFramework,attr"`
	Dependencies    []nuspecDependency `xml:"dependency"`
}

type nuspecMetadata struct {
	Id                       string `xml:"id"`
	Version                  string `xml:"version"`
	Authors                  string `xml:"authors"`
	Title                    string `xml:"title"`
	Description              string `xml:"description"`
	Summary                  string `xml:"summary"`
	Tags                     string `xml:"tags"`
	Copyright                string `xml:"copyright"`
	IconUrl                  string `xml:"iconUrl"`
	ProjectUrl               string `xml:"projectUrl"`
	ReleaseNotes             string `xml:"releaseNotes"`
	LicenseUrl               string `xml:"licenseUrl"`
	RequireLicenseAcceptance bool   `xml:"requireLicenseAcceptance"`
	Dependencies             struct {
		Direct []nuspecDependency `xml:"dependency"`
		Groups []nuspecGroup      `xml:"group"`
	} `xml:"dependencies"`
}

type nuspecDocument struct {
	XMLName  xml.Name       `xml:"package"`
	Metadata nuspecMetadata `xml:"metadata"`
}

// Extract opens archiveBytes as a zip, locates the .nuspec entry and parses
// it. The dependency block may be flat or grouped per target framework;
// groups are flattened since the registry stores dependencies as one string.
func Extract(archiveBytes []byte) (*Manifest, error) {
	reader, err := zip.NewReader(bytes.NewReader(archiveBytes), int64(len(archiveBytes)))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidArchive, err)
	}

	var manifestFile *zip.File
	for _, f := range reader.File {
		if strings.HasSuffix(strings.ToLower(f.Name), ".nuspec") {
			manifestFile = f
			break
		}
	}
	if manifestFile == nil {
		return nil, ErrManifestNotFound
	}

	rc, err := manifestFile.Open()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidArchive, err)
	}
	defer rc.Close()

	raw, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidArchive, err)
	}

	var doc nuspecDocument
	if err := xml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrManifestParse, err)
	}

	meta := doc.Metadata
	if meta.Id == "" || meta.Version == "" {
		return nil, fmt.Errorf("%w: missing id or version", ErrManifestParse)
	}
	if !idPattern.MatchString(meta.Id) {
		return nil, fmt.Errorf("%w: illegal characters in package id %q", ErrManifestParse, meta.Id)
	}

	deps := make([]Dependency, 0, len(meta.Dependencies.Direct))
	for _, d := range meta.Dependencies.Direct {
		deps = append(deps, Dependency{Id: d.Id, Range: d.Version})
	}
	for _, g := range meta.Dependencies.Groups {
		for _, d := range g.Dependencies {
			deps = append(deps, Dependency{Id: d.Id, Range: d.Version})
		}
	}

	return &Manifest{
		Id:                       meta.Id,
		Version:                  meta.Version,
		Authors:                  meta.Authors,
		Dependencies:             deps,
		Title:                    meta.Title,
		Description:              meta.Description,
		Summary:                  meta.Summary,
		Tags:                     meta.Tags,
		Copyright:                meta.Copyright,
		IconUrl:                  meta.IconUrl,
		ProjectUrl:               meta.ProjectUrl,
		ReleaseNotes:             meta.ReleaseNotes,
		LicenseUrl:               meta.LicenseUrl,
		RequireLicenseAcceptance: meta.RequireLicenseAcceptance,
	}, nil
}
