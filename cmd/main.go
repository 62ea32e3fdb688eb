package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"reflect"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/loopfz/gadgeto/tonic"

	"github.com/joho/godotenv"
	_ "github.com/lib/pq"

	"github.com/developer-overheid-nl/don-package-register/pkg/jobs"
	registry "github.com/developer-overheid-nl/don-package-register/pkg/registry"
	"github.com/developer-overheid-nl/don-package-register/pkg/registry/config"
	"github.com/developer-overheid-nl/don-package-register/pkg/registry/database"
	"github.com/developer-overheid-nl/don-package-register/pkg/registry/handler"
	"github.com/developer-overheid-nl/don-package-register/pkg/registry/models"
	problem "github.com/developer-overheid-nl/don-package-register/pkg/registry/helpers/problem"
	"github.com/developer-overheid-nl/don-package-register/pkg/registry/repositories"
	"github.com/developer-overheid-nl/don-package-register/pkg/registry/services"
	"github.com/developer-overheid-nl/don-package-register/pkg/registry/storage"
)

const apiVersion = "1.0.0"

func invalidParamsFromBinding(err error, sample any) []problem.InvalidParam {
	// Probeer direct op validator.ValidationErrors te matchen.
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		// Geen validator-errors? Geef generiek terug.
		return []problem.InvalidParam{{Name: "body", Reason: err.Error()}}
	}

	t := reflect.TypeOf(sample)
	if t.Kind() == reflect.Ptr {
		t = t.Elem()
	}

	out := make([]problem.InvalidParam, 0, len(verrs))
	for _, fe := range verrs {
		name := fe.Field()
		// StructField -> path tag
		if f, ok := t.FieldByName(fe.StructField()); ok {
			if tag := f.Tag.Get("path"); tag != "" && tag != "-" {
				name = strings.Split(tag, ",")[0]
			}
		}
		out = append(out, problem.InvalidParam{
			Name:   name,
			Reason: humanReason(fe),
		})
	}
	return out
}

func humanReason(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is verplicht"
	default:
		return fe.Error()
	}
}

func isValidationErr(err error) bool {
	var verrs validator.ValidationErrors
	return errors.As(err, &verrs)
}

func init() {
	tonic.SetErrorHook(func(c *gin.Context, err error) (int, interface{}) {
		// 1) Bind/validate errors → 400 met correcte invalidParams
		var be tonic.BindError
		if errors.As(err, &be) || isValidationErr(err) {
			invalids := invalidParamsFromBinding(err, models.DeletePackageParams{})
			apiErr := problem.NewBadRequest("body", "Invalid input", invalids...)
			c.Header("Content-Type", "application/problem+json")
			return apiErr.Status, apiErr
		}

		// 2) APIError → pass-through
		if apiErr, ok := err.(problem.APIError); ok {
			c.Header("Content-Type", "application/problem+json")
			return apiErr.Status, apiErr
		}

		// 3) Alles anders → 500
		internal := problem.NewInternalServerError(err.Error())
		c.Header("Content-Type", "application/problem+json")
		return internal.Status, internal
	})
}

func main() {
	_ = godotenv.Load()

	cfg, err := config.FromEnv()
	if err != nil {
		log.Fatalf("configuration error: %v", err)
	}

	db, err := database.Connect(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("database error: %v", err)
	}

	ctx := context.Background()
	var blobs storage.BlobStore
	if cfg.UseS3() {
		blobs, err = storage.NewS3Store(ctx, storage.S3Config{
			Bucket:   cfg.S3Bucket,
			Region:   cfg.S3Region,
			Endpoint: cfg.S3Endpoint,
			Prefix:   cfg.S3Prefix,
		})
	} else {
		blobs, err = storage.NewFileStore(cfg.ArtifactDir)
	}
	if err != nil {
		log.Fatalf("artifact store error: %v", err)
	}

	repo := repositories.NewPackageRepository(db)
	packagesService := services.NewPackagesAPIService(repo, blobs)
	packagesController := handler.NewPackagesAPIController(packagesService)
	jobs.ScheduleDailySweep(ctx, packagesService)

	// Start server
	router := registry.NewRouter(apiVersion, cfg.APIKey, packagesController)

	log.Printf("Server is running on port %s", cfg.Port)
	log.Fatal(http.ListenAndServe(":"+cfg.Port, router))
}
