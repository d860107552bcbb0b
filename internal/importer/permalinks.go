package importer

import (
	"context"
	"fmt"
	"net/url"

	"github.com/sirupsen/logrus"

	"github.com/lherron/hlmigrate/internal/domain"
	"github.com/lherron/hlmigrate/internal/source"
	"github.com/lherron/hlmigrate/internal/store"
	"github.com/lherron/hlmigrate/internal/telemetry"
)

// permalinkURL returns the legacy thread url for a root post key.
func permalinkURL(base, key string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("invalid permalink base %q: %w", base, err)
	}
	q := u.Query()
	q.Set("MessageKey", key)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// importPermalinks points the legacy url of every imported thread root at
// its topic. Orphaned replies promoted to a topic of their own count as
// roots. Without a base url the stage does nothing.
func (im *Importer) importPermalinks(ctx context.Context) error {
	base := im.opts.PermalinkBase
	if base == "" {
		im.log.WithField("stage", im.stage).Info("no permalink base configured")
		return nil
	}
	if _, err := permalinkURL(base, "x"); err != nil {
		return err
	}

	return im.walk(ctx, im.permalinkPostsSpec(), familyPermalink, "", func(ctx context.Context, recs []source.Record) error {
		for _, rec := range recs {
			if err := rec.Require("DiscussionPostKey", "PostType"); err != nil {
				return err
			}
			key := rec.Key("DiscussionPostKey")
			root := rec.String("PostType") == "New"
			anchor, ok, err := im.store.TopicAnchorForImportedPost(domain.FamilyDiscussionPost, key)
			if err != nil {
				return err
			}
			if !ok {
				if root {
					im.skipped(ctx, familyPermalink, key, "thread root not imported", nil)
				}
				continue
			}
			if !root && anchor.PostNumber != 1 {
				continue
			}

			link, _ := permalinkURL(base, key)
			topicID := anchor.TopicID
			created, err := im.store.Permalinks.Create(store.PermalinkParams{URL: link, TopicID: &topicID})
			if err != nil {
				if isFatal(err) {
					return err
				}
				im.failed(ctx, familyPermalink, key, err, logrus.Fields{"url": link})
				continue
			}
			if created {
				im.stats.stage(im.stage).Created++
				im.counters.Add(ctx, string(familyPermalink), telemetry.OutcomeCreated)
			} else {
				im.stats.stage(im.stage).Existed++
				im.counters.Add(ctx, string(familyPermalink), telemetry.OutcomeExisted)
			}
		}
		return nil
	})
}
