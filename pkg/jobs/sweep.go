package jobs

import (
	"context"
	"log"

	"github.com/developer-overheid-nl/don-package-register/pkg/registry/services"
	"github.com/developer-overheid-nl/don-package-register/pkg/tools"
	"github.com/robfig/cron/v3"
	"github.com/teris-io/shortid"
)

// ScheduleDailySweep sets up a cron job that reclaims orphaned artifacts
// every day. Upload failures between the blob write and the metadata commit
// leave unreferenced objects in the blob store; nothing else cleans them up.
func ScheduleDailySweep(ctx context.Context, svc *services.PackagesAPIService) *cron.Cron {
	c := cron.New()
	_, _ = c.AddFunc("@daily", func() {
		runID := shortid.MustGenerate()
		tools.Dispatch(context.Background(), "sweep", func(ctx context.Context) error {
			log.Printf("[sweep] run %s starting", runID)
			if err := svc.SweepOrphans(ctx); err != nil {
				log.Printf("[sweep] run %s failed: %v", runID, err)
				return err
			}
			log.Printf("[sweep] run %s done", runID)
			return nil
		})
	})
	c.Start()

	go func() {
		<-ctx.Done()
		c.Stop()
	}()
	return c
}
