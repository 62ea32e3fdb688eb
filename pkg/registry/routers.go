package registry

import (
	"github.com/developer-overheid-nl/don-package-register/pkg/registry/handler"
	"github.com/developer-overheid-nl/don-package-register/pkg/registry/middleware"
	"github.com/gin-gonic/gin"
	"github.com/loopfz/gadgeto/tonic"
	"github.com/wI2L/fizz"
	"github.com/wI2L/fizz/openapi"
)

// NewRouter wires the feed protocol and the publish API. The feed endpoints
// speak Atom/OData XML and are registered straight on the gin engine; the
// publish endpoints go through fizz/tonic so the generated OpenAPI document
// covers them.
func NewRouter(apiVersion, apiKey string, controller *handler.PackagesAPIController) *fizz.Fizz {
	g := gin.Default()
	f := fizz.NewFromEngine(g)

	// Feed protocol. The entry resource Packages(Id='…',Version='…') is not
	// a routable path segment and falls through to NoRoute.
	g.GET("/", controller.ServiceDocument)
	g.GET("/$metadata", controller.Metadata)
	g.GET("/Search()", controller.Search)
	g.GET("/Search", controller.Search)
	g.GET("/FindPackagesById()", controller.FindPackagesById)
	g.GET("/FindPackagesById", controller.FindPackagesById)
	g.GET("/Packages()", controller.Packages)
	g.GET("/Packages", controller.Packages)
	g.GET("/package/:id/:version", controller.Download)
	g.GET("/ping", controller.Ping)
	g.NoRoute(controller.ResolveEntry)

	info := &openapi.Info{
		Title:       "Package register publish API",
		Description: "Publish and delete endpoints of the package register",
		Version:     apiVersion,
	}

	write := f.Group("/api/v2", "Publiceren", "Publiceren en verwijderen van packages", middleware.RequireAPIKey(apiKey))
	write.PUT("/package",
		[]fizz.OperationOption{
			fizz.Summary("Push een nieuwe package versie"),
		},
		tonic.Handler(controller.UploadPackage, 201),
	)
	write.DELETE("/package/:id/:version",
		[]fizz.OperationOption{
			fizz.Summary("Verwijder een package versie"),
		},
		tonic.Handler(controller.DeletePackage, 204),
	)
	write.POST("/package/:id/:version",
		[]fizz.OperationOption{
			fizz.Summary("Unlist/relist van een package versie (niet geimplementeerd)"),
		},
		tonic.Handler(controller.RelistPackage, 200),
	)

	f.GET("/api/v2/openapi.json", []fizz.OperationOption{}, f.OpenAPI(info, "json"))

	return f
}
