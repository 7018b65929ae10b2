package backend

import (
	"context"
	"sort"

	"github.com/acorn-io/subdomain-manager/pkg/model"
	"github.com/sirupsen/logrus"
	"golang.org/x/exp/maps"
)

// CheckAllWebServers probes every subdomain, one at a time. Subdomains with an operation
// in progress are skipped and reported.
func (b *backend) CheckAllWebServers(ctx context.Context) (model.CheckAllResponse, error) {
	logrus.Infof("Beginning web server check")

	subs, err := b.db.ListSubdomains()
	if err != nil {
		return model.CheckAllResponse{}, err
	}

	results := make(map[string]model.WebServerCheck, len(subs))
	var skipped []string
	for _, sub := range subs {
		if err := ctx.Err(); err != nil {
			return model.CheckAllResponse{}, err
		}

		release, ok := b.inflight.TryAcquire(sub.Name)
		if !ok {
			skipped = append(skipped, sub.Name)
			continue
		}
		result, err := b.probeAndRecord(ctx, sub.ID, sub.Name)
		release()
		if err != nil {
			b.log.Errorf("unable to record probe result for %s: %v", sub.Name, err)
			continue
		}
		results[sub.Name] = result.Check()
	}

	present := 0
	for _, check := range maps.Values(results) {
		if check.HasWebServer {
			present++
		}
	}
	names := maps.Keys(results)
	sort.Strings(names)
	logrus.Infof("Web servers checked: %v", names)
	logrus.Infof("Web servers present: %d of %d, skipped: %d", present, len(results), len(skipped))

	return model.CheckAllResponse{
		Message: "web server check complete",
		Results: results,
		Skipped: skipped,
	}, nil
}

// RenewCertificates runs one renewal sweep. Used by the scheduler and the manual trigger.
func (b *backend) RenewCertificates(ctx context.Context) (model.RenewResponse, error) {
	result, err := b.certs.RenewSweep(ctx)
	if err != nil {
		return model.RenewResponse{}, err
	}
	return model.RenewResponse{
		Renewed: result.Renewed,
		Failed:  result.Failed,
		Skipped: len(result.Skipped),
	}, nil
}
