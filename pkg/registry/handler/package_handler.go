package handler

import (
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"

	"github.com/developer-overheid-nl/don-package-register/pkg/registry/helpers/problem"
	"github.com/developer-overheid-nl/don-package-register/pkg/registry/models"
	"github.com/developer-overheid-nl/don-package-register/pkg/registry/odata"
	"github.com/developer-overheid-nl/don-package-register/pkg/registry/services"
	"github.com/gin-gonic/gin"
)

// entryPattern matches the OData resource path Packages(Id='…',Version='…'),
// which is not segment-addressable and therefore resolved from NoRoute.
var entryPattern = regexp.MustCompile(`^/Packages\(Id='([^']+)',Version='([^']+)'\)$`)

// PackagesAPIController binds HTTP requests to the PackagesAPIService
type PackagesAPIController struct {
	Service *services.PackagesAPIService
}

// NewPackagesAPIController creates a new controller
func NewPackagesAPIController(s *services.PackagesAPIService) *PackagesAPIController {
	return &PackagesAPIController{Service: s}
}

// ServiceDocument handles GET /
func (c *PackagesAPIController) ServiceDocument(ctx *gin.Context) {
	doc, err := odata.Render(odata.NewServiceDocument(baseURL(ctx.Request)))
	if err != nil {
		ctx.AbortWithStatusJSON(http.StatusInternalServerError, problem.NewInternalServerError(err.Error()))
		return
	}
	ctx.Data(http.StatusOK, "application/xml; charset=utf-8", doc)
}

// Metadata handles GET /$metadata
func (c *PackagesAPIController) Metadata(ctx *gin.Context) {
	ctx.Data(http.StatusOK, "application/xml; charset=utf-8", odata.Metadata())
}

// Ping handles GET /ping
func (c *PackagesAPIController) Ping(ctx *gin.Context) {
	ctx.String(http.StatusOK, "pong")
}

// ResolveEntry is the NoRoute fallback: it serves the single-entry document
// for Packages(Id='…',Version='…') and 404s everything else.
func (c *PackagesAPIController) ResolveEntry(ctx *gin.Context) {
	m := entryPattern.FindStringSubmatch(ctx.Request.URL.Path)
	if m == nil || ctx.Request.Method != http.MethodGet {
		ctx.AbortWithStatusJSON(http.StatusNotFound, problem.NewNotFound(ctx.Request.URL.Path, "no such resource"))
		return
	}
	id, version := m[1], m[2]

	item, err := c.Service.GetEntry(ctx.Request.Context(), id, version)
	if err != nil {
		abortWithError(ctx, err)
		return
	}
	if item == nil {
		ctx.AbortWithStatusJSON(http.StatusNotFound, problem.NewNotFound(id, fmt.Sprintf("version %s of package %s not found", version, id)))
		return
	}

	base := baseURL(ctx.Request)
	entry := odata.NewEntry(base, item.Version, item.IsLatest, item.IsAbsoluteLatest).Standalone(base)
	c.renderXML(ctx, entry, "application/atom+xml;type=entry; charset=utf-8")
}

// Search handles GET /Search()
func (c *PackagesAPIController) Search(ctx *gin.Context) {
	term := unquote(ctx.Query("searchTerm"))
	c.renderFeed(ctx, "Search", func() ([]services.FeedItem, error) {
		return c.Service.SearchPackages(ctx.Request.Context(), term, includePrerelease(ctx))
	})
}

// FindPackagesById handles GET /FindPackagesById()
func (c *PackagesAPIController) FindPackagesById(ctx *gin.Context) {
	id := unquote(ctx.Query("id"))
	c.renderFeed(ctx, "FindPackagesById", func() ([]services.FeedItem, error) {
		return c.Service.FindPackagesById(ctx.Request.Context(), id, includePrerelease(ctx))
	})
}

// Packages handles GET /Packages(), the full collection feed.
func (c *PackagesAPIController) Packages(ctx *gin.Context) {
	c.renderFeed(ctx, "Packages", func() ([]services.FeedItem, error) {
		return c.Service.SearchPackages(ctx.Request.Context(), "", true)
	})
}

// Download handles GET /package/:id/:version
func (c *PackagesAPIController) Download(ctx *gin.Context) {
	id := ctx.Param("id")
	version := ctx.Param("version")

	data, err := c.Service.DownloadPackage(ctx.Request.Context(), id, version)
	if err != nil {
		abortWithError(ctx, err)
		return
	}

	ctx.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%s.%s.nupkg", id, version))
	ctx.Data(http.StatusOK, "application/zip", data)
}

// UploadPackage handles PUT /api/v2/package; the archive arrives as the
// multipart form field "package".
func (c *PackagesAPIController) UploadPackage(ctx *gin.Context) (*models.PushResult, error) {
	file, _, err := ctx.Request.FormFile("package")
	if err != nil {
		return nil, problem.NewBadRequest("package", "multipart field 'package' is missing")
	}
	defer file.Close()

	archive, err := io.ReadAll(file)
	if err != nil {
		return nil, problem.NewBadRequest("package", "could not read uploaded file")
	}

	v, err := c.Service.UploadPackage(ctx.Request.Context(), archive)
	if err != nil {
		return nil, err
	}
	return &models.PushResult{Id: v.PackageName, Version: v.Version, NormalizedVersion: v.NormalizedVersion}, nil
}

// DeletePackage handles DELETE /api/v2/package/:id/:version
func (c *PackagesAPIController) DeletePackage(ctx *gin.Context, params *models.DeletePackageParams) error {
	return c.Service.DeletePackageVersion(ctx.Request.Context(), params.Id, params.Version)
}

// RelistPackage handles POST /api/v2/package/:id/:version. Unlisting and
// relisting are not supported yet; the route exists so clients get a clean
// 501 instead of a routing miss.
func (c *PackagesAPIController) RelistPackage(ctx *gin.Context, params *models.RelistPackageParams) error {
	return problem.NewNotImplemented("unlist/relist is not supported")
}

func (c *PackagesAPIController) renderFeed(ctx *gin.Context, name string, query func() ([]services.FeedItem, error)) {
	items, err := query()
	if err != nil {
		abortWithError(ctx, err)
		return
	}

	base := baseURL(ctx.Request)
	entries := make([]odata.Entry, len(items))
	for i, item := range items {
		entries[i] = odata.NewEntry(base, item.Version, item.IsLatest, item.IsAbsoluteLatest)
	}
	c.renderXML(ctx, odata.NewFeed(base, name, entries), "application/atom+xml; charset=utf-8")
}

func (c *PackagesAPIController) renderXML(ctx *gin.Context, doc interface{}, contentType string) {
	body, err := odata.Render(doc)
	if err != nil {
		ctx.AbortWithStatusJSON(http.StatusInternalServerError, problem.NewInternalServerError(err.Error()))
		return
	}
	ctx.Data(http.StatusOK, contentType, body)
}

func abortWithError(ctx *gin.Context, err error) {
	if apiErr, ok := err.(problem.APIError); ok {
		ctx.AbortWithStatusJSON(apiErr.Status, apiErr)
		return
	}
	ctx.AbortWithStatusJSON(http.StatusInternalServerError, problem.NewInternalServerError(err.Error()))
}

// baseURL reconstructs the feed root from the incoming request so links in
// rendered documents point back at this deployment.
func baseURL(r *http.Request) string {
	scheme := "http"
	if r.TLS != nil || r.Header.Get("X-Forwarded-Proto") == "https" {
		scheme = "https"
	}
	return fmt.Sprintf("%s://%s/", scheme, r.Host)
}

// unquote strips the single quotes OData clients put around string literals.
func unquote(s string) string {
	return strings.Trim(s, "'")
}

func includePrerelease(ctx *gin.Context) bool {
	return strings.EqualFold(ctx.Query("includePrerelease"), "true")
}
