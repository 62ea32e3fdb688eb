// Package odata renders the Atom/OData v2 XML documents the package feed
// protocol requires. The shapes are fixed by the consuming client tooling,
// which parses them structurally; do not reorder or rename elements without
// checking a real client against the result.
package odata

import (
	_ "embed"
	"encoding/xml"
	"fmt"
	"time"

	"github.com/developer-overheid-nl/don-package-register/pkg/registry/models"
)

const (
	xmlnsAtom      = "http://www.w3.org/2005/Atom"
	xmlnsApp       = "http://www.w3.org/2007/app"
	xmlnsData      = "http://schemas.microsoft.com/ado/2007/08/dataservices"
	xmlnsMetadata  = "http://schemas.microsoft.com/ado/2007/08/dataservices/metadata"
	categoryTerm   = "NuGetGallery.V2FeedPackage"
	categoryScheme = "http://schemas.microsoft.com/ado/2007/08/dataservices/scheme"
)

//go:embed metadata.xml
var metadataDocument []byte

// Metadata returns the static $metadata schema document, served verbatim.
func Metadata() []byte { return metadataDocument }

// ServiceDocument lists the single Packages collection.
type ServiceDocument struct {
	XMLName   xml.Name  `xml:"service"`
	Base      string    `xml:"xml:base,attr"`
	Xmlns     string    `xml:"xmlns,attr"`
	XmlnsAtom string    `xml:"xmlns:atom,attr"`
	Workspace workspace `xml:"workspace"`
}

type workspace struct {
	Title       string       `xml:"atom:title"`
	Collections []collection `xml:"collection"`
}

type collection struct {
	Href  string `xml:"href,attr"`
	Title string `xml:"atom:title"`
}

func NewServiceDocument(base string) ServiceDocument {
	return ServiceDocument{
		Base:      base,
		Xmlns:     xmlnsApp,
		XmlnsAtom: xmlnsAtom,
		Workspace: workspace{
			Title:       "Default",
			Collections: []collection{{Href: "Packages", Title: "Packages"}},
		},
	}
}

type text struct {
	Type  string `xml:"type,attr"`
	Value string `xml:",chardata"`
}

type author struct {
	Name string `xml:"name"`
}

type link struct {
	Rel   string `xml:"rel,attr"`
	Title string `xml:"title,attr,omitempty"`
	Href  string `xml:"href,attr"`
}

type category struct {
	Term   string `xml:"term,attr"`
	Scheme string `xml:"scheme,attr"`
}

type content struct {
	Type string `xml:"type,attr"`
	Src  string `xml:"src,attr"`
}

// typed carries an m:type attribute for non-string EDM properties.
type typed struct {
	Type  string `xml:"m:type,attr"`
	Value string `xml:",chardata"`
}

// properties is the m:properties block of an entry. Element order mirrors
// the upstream gallery feed.
type properties struct {
	Version                  string `xml:"d:Version"`
	NormalizedVersion        string `xml:"d:NormalizedVersion"`
	Copyright                string `xml:"d:Copyright"`
	Created                  typed  `xml:"d:Created"`
	Dependencies             string `xml:"d:Dependencies"`
	Description              string `xml:"d:Description"`
	DownloadCount            typed  `xml:"d:DownloadCount"`
	IconUrl                  string `xml:"d:IconUrl"`
	IsLatestVersion          typed  `xml:"d:IsLatestVersion"`
	IsAbsoluteLatestVersion  typed  `xml:"d:IsAbsoluteLatestVersion"`
	IsPrerelease             typed  `xml:"d:IsPrerelease"`
	PackageHash              string `xml:"d:PackageHash"`
	PackageHashAlgorithm     string `xml:"d:PackageHashAlgorithm"`
	PackageSize              typed  `xml:"d:PackageSize"`
	ProjectUrl               string `xml:"d:ProjectUrl"`
	ReleaseNotes             string `xml:"d:ReleaseNotes"`
	RequireLicenseAcceptance typed  `xml:"d:RequireLicenseAcceptance"`
	Summary                  string `xml:"d:Summary"`
	Tags                     string `xml:"d:Tags"`
	Title                    string `xml:"d:Title"`
	LicenseUrl               string `xml:"d:LicenseUrl"`
}

// Entry is one package version. The xmlns attributes are set only when the
// entry is rendered standalone; inside a feed they come from the envelope.
type Entry struct {
	XMLName       xml.Name `xml:"entry"`
	Base          string   `xml:"xml:base,attr,omitempty"`
	Xmlns         string   `xml:"xmlns,attr,omitempty"`
	XmlnsData     string   `xml:"xmlns:d,attr,omitempty"`
	XmlnsMetadata string   `xml:"xmlns:m,attr,omitempty"`

	ID         string     `xml:"id"`
	Title      text       `xml:"title"`
	Summary    text       `xml:"summary"`
	Updated    string     `xml:"updated"`
	Author     author     `xml:"author"`
	Links      []link     `xml:"link"`
	Category   category   `xml:"category"`
	Content    content    `xml:"content"`
	Properties properties `xml:"m:properties"`
}

// Feed wraps zero or more entries. An empty result set is still a valid
// feed, never an error.
type Feed struct {
	XMLName       xml.Name `xml:"feed"`
	Base          string   `xml:"xml:base,attr"`
	Xmlns         string   `xml:"xmlns,attr"`
	XmlnsData     string   `xml:"xmlns:d,attr"`
	XmlnsMetadata string   `xml:"xmlns:m,attr"`

	Title   text    `xml:"title"`
	ID      string  `xml:"id"`
	Updated string  `xml:"updated"`
	Links   []link  `xml:"link"`
	Entries []Entry `xml:"entry"`
}

// EntryPath returns the edit-link form of a package version resource.
func EntryPath(id, version string) string {
	return fmt.Sprintf("Packages(Id='%s',Version='%s')", id, version)
}

// NewEntry builds the Atom entry for one version. The version's Package
// association supplies the author string when loaded.
func NewEntry(base string, v models.Version, isLatest, isAbsoluteLatest bool) Entry {
	authors := ""
	if v.Package != nil {
		authors = v.Package.Authors
	}

	editPath := EntryPath(v.PackageName, v.Version)
	return Entry{
		ID:      base + editPath,
		Title:   text{Type: "text", Value: v.PackageName},
		Summary: text{Type: "text", Value: v.Summary},
		Updated: v.Created.UTC().Format(time.RFC3339),
		Author:  author{Name: authors},
		Links: []link{
			{Rel: "edit", Title: "V2FeedPackage", Href: editPath},
		},
		Category: category{Term: categoryTerm, Scheme: categoryScheme},
		Content: content{
			Type: "application/zip",
			Src:  fmt.Sprintf("%spackage/%s/%s", base, v.PackageName, v.Version),
		},
		Properties: properties{
			Version:                  v.Version,
			NormalizedVersion:        v.NormalizedVersion,
			Copyright:                v.Copyright,
			Created:                  typed{Type: "Edm.DateTime", Value: v.Created.UTC().Format(time.RFC3339)},
			Dependencies:             v.Dependencies,
			Description:              v.Description,
			DownloadCount:            typed{Type: "Edm.Int32", Value: "0"},
			IconUrl:                  v.IconUrl,
			IsLatestVersion:          typed{Type: "Edm.Boolean", Value: boolString(isLatest)},
			IsAbsoluteLatestVersion:  typed{Type: "Edm.Boolean", Value: boolString(isAbsoluteLatest)},
			IsPrerelease:             typed{Type: "Edm.Boolean", Value: boolString(v.IsPrerelease)},
			PackageHash:              v.PackageHash,
			PackageHashAlgorithm:     v.PackageHashAlgorithm,
			PackageSize:              typed{Type: "Edm.Int64", Value: fmt.Sprintf("%d", v.PackageSize)},
			ProjectUrl:               v.ProjectUrl,
			ReleaseNotes:             v.ReleaseNotes,
			RequireLicenseAcceptance: typed{Type: "Edm.Boolean", Value: boolString(v.RequireLicenseAcceptance)},
			Summary:                  v.Summary,
			Tags:                     v.Tags,
			Title:                    v.Title,
			LicenseUrl:               v.LicenseUrl,
		},
	}
}

// Standalone returns a copy of the entry carrying its own namespace
// declarations, for single-entry responses.
func (e Entry) Standalone(base string) Entry {
	e.Base = base
	e.Xmlns = xmlnsAtom
	e.XmlnsData = xmlnsData
	e.XmlnsMetadata = xmlnsMetadata
	return e
}

// NewFeed wraps entries in a feed envelope named after the operation that
// produced it (Search, FindPackagesById, Packages).
func NewFeed(base, name string, entries []Entry) Feed {
	return Feed{
		Base:          base,
		Xmlns:         xmlnsAtom,
		XmlnsData:     xmlnsData,
		XmlnsMetadata: xmlnsMetadata,
		Title:         text{Type: "text", Value: name},
		ID:            base + name,
		Updated:       time.Now().UTC().Format(time.RFC3339),
		Links:         []link{{Rel: "self", Title: name, Href: name}},
		Entries:       entries,
	}
}

// Render serializes a document with the XML prolog prepended.
func Render(doc interface{}) ([]byte, error) {
	body, err := xml.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("feed serialization failed: %w", err)
	}
	return append([]byte(xml.Header), body...), nil
}

func boolString(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
