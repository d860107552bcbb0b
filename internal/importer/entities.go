package importer

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/lherron/hlmigrate/internal/content"
	"github.com/lherron/hlmigrate/internal/domain"
	"github.com/lherron/hlmigrate/internal/source"
	"github.com/lherron/hlmigrate/internal/store"
	"github.com/lherron/hlmigrate/internal/telemetry"
)

// Families without an import mapping of their own. They only label
// counters and events.
const (
	familyMembership domain.Family = "membership"
	familyPermalink  domain.Family = "permalink"
)

// alreadyMapped reports (and counts) a record whose key has a target id.
func (im *Importer) alreadyMapped(ctx context.Context, family domain.Family, key string) (bool, error) {
	id, ok, err := im.reg.MapLegacyID(family, key)
	if err != nil {
		return false, err
	}
	if ok {
		im.existed(ctx, family, key, id)
	}
	return ok, nil
}

// createFailed classifies a create error. Only stage-fatal errors are
// returned; everything else is recorded against the record.
func (im *Importer) createFailed(ctx context.Context, family domain.Family, key string, err error, fields logrus.Fields) error {
	if errors.Is(err, store.ErrAlreadyMapped) {
		id, _, lerr := im.reg.MapLegacyID(family, key)
		if lerr != nil {
			return lerr
		}
		im.existed(ctx, family, key, id)
		return nil
	}
	if isFatal(err) {
		return err
	}
	im.failed(ctx, family, key, err, fields)
	return nil
}

func (im *Importer) importGroups(ctx context.Context) error {
	return im.walk(ctx, im.groupsSpec(), domain.FamilyGroup, "CommunityKey", func(ctx context.Context, recs []source.Record) error {
		for _, rec := range recs {
			if err := rec.Require("CommunityKey", "CommunityName", "Description"); err != nil {
				return err
			}
			key := rec.Key("CommunityKey")
			name := content.UnescapeTitle(rec.String("CommunityName"))
			if done, err := im.alreadyMapped(ctx, domain.FamilyGroup, key); err != nil {
				return err
			} else if done {
				continue
			}

			g, err := im.store.Groups.Create(store.GroupCreateParams{
				ImportID: key,
				Name:     name,
				BioRaw:   rec.String("Description"),
			})
			if err != nil {
				if err := im.createFailed(ctx, domain.FamilyGroup, key, err, logrus.Fields{"name": name}); err != nil {
					return err
				}
				continue
			}
			im.reg.Record(domain.FamilyGroup, key, g.ID)
			im.created(ctx, domain.FamilyGroup, key, g.ID)
		}
		return nil
	})
}

func (im *Importer) importUsers(ctx context.Context) error {
	return im.walk(ctx, im.usersSpec(), domain.FamilyUser, "ContactKey", func(ctx context.Context, recs []source.Record) error {
		for _, rec := range recs {
			if err := rec.Require("ContactKey", "EmailAddress", "FirstName", "LastName", "CreatedOn", "LastLoginDate"); err != nil {
				return err
			}
			key := rec.Key("ContactKey")
			email := strings.ToLower(strings.TrimSpace(rec.String("EmailAddress")))
			if done, err := im.alreadyMapped(ctx, domain.FamilyUser, key); err != nil {
				return err
			} else if done {
				continue
			}

			var lastSeen *time.Time
			if t := rec.Time("LastLoginDate"); !t.IsZero() {
				lastSeen = &t
			}
			name := strings.TrimSpace(content.UnescapeTitle(rec.String("FirstName")) + " " + content.UnescapeTitle(rec.String("LastName")))

			u, err := im.store.Users.Create(store.UserCreateParams{
				ImportID:   key,
				Username:   email,
				Email:      email,
				Name:       name,
				CreatedAt:  rec.Time("CreatedOn"),
				LastSeenAt: lastSeen,
			})
			if err != nil {
				if err := im.createFailed(ctx, domain.FamilyUser, key, err, logrus.Fields{"email": email}); err != nil {
					return err
				}
				continue
			}
			im.reg.Record(domain.FamilyUser, key, u.ID)
			im.created(ctx, domain.FamilyUser, key, u.ID)
		}
		return nil
	})
}

// importMemberships adds users to the groups of their communities. Rows
// whose group or user was not imported are skipped.
func (im *Importer) importMemberships(ctx context.Context) error {
	return im.walk(ctx, im.membershipsSpec(), familyMembership, "", func(ctx context.Context, recs []source.Record) error {
		for _, rec := range recs {
			if err := rec.Require("CommunityKey", "ContactKey"); err != nil {
				return err
			}
			community, contact := rec.Key("CommunityKey"), rec.Key("ContactKey")
			key := community + "/" + contact
			fields := logrus.Fields{"community": community, "contact": contact}

			groupID, okGroup, err := im.reg.MapLegacyID(domain.FamilyGroup, community)
			if err != nil {
				return err
			}
			userID, okUser, err := im.reg.MapLegacyID(domain.FamilyUser, contact)
			if err != nil {
				return err
			}
			if !okGroup || !okUser {
				im.skipped(ctx, familyMembership, key, "group or user not imported", fields)
				continue
			}

			added, err := im.store.Groups.AddMember(groupID, userID)
			if err != nil {
				if isFatal(err) {
					return err
				}
				im.failed(ctx, familyMembership, key, err, fields)
				continue
			}
			if added {
				im.stats.stage(im.stage).Created++
				im.counters.Add(ctx, string(familyMembership), telemetry.OutcomeCreated)
			} else {
				im.stats.stage(im.stage).Existed++
				im.counters.Add(ctx, string(familyMembership), telemetry.OutcomeExisted)
			}
		}
		return nil
	})
}

// importCategories creates one top-level category per community, then one
// child category per discussion. Both live in the category family.
func (im *Importer) importCategories(ctx context.Context) error {
	fam := domain.FamilyCategory

	err := im.walk(ctx, im.communityCategoriesSpec(), fam, "CommunityKey", func(ctx context.Context, recs []source.Record) error {
		for _, rec := range recs {
			if err := rec.Require("CommunityKey", "CommunityName", "Description", "CreatedByContactKey"); err != nil {
				return err
			}
			key := rec.Key("CommunityKey")
			if done, err := im.alreadyMapped(ctx, fam, key); err != nil {
				return err
			} else if done {
				continue
			}

			userID, _, err := im.reg.UserID(rec.Key("CreatedByContactKey"))
			if err != nil {
				return err
			}
			name := content.UnescapeTitle(rec.String("CommunityName"))
			if err := im.createCategory(ctx, key, store.CategoryCreateParams{
				ImportID:    key,
				Name:        name,
				Description: rec.String("Description"),
				UserID:      userID,
			}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	return im.walk(ctx, im.discussionCategoriesSpec(), fam, "DiscussionKey", func(ctx context.Context, recs []source.Record) error {
		for _, rec := range recs {
			if err := rec.Require("DiscussionKey", "CommunityKey", "DiscussionName"); err != nil {
				return err
			}
			key := rec.Key("DiscussionKey")
			if done, err := im.alreadyMapped(ctx, fam, key); err != nil {
				return err
			} else if done {
				continue
			}

			name := content.UnescapeTitle(rec.String("DiscussionName"))
			parent, err := im.reg.CategoryID(rec.Key("CommunityKey"))
			if err != nil {
				return err
			}
			if parent == nil {
				im.warn(fam, key, "parent community not mapped, creating top-level category",
					logrus.Fields{"discussion": name, "community": rec.Key("CommunityKey")})
			}
			if err := im.createCategory(ctx, key, store.CategoryCreateParams{
				ImportID:         key,
				Name:             name,
				ParentCategoryID: parent,
				UserID:           im.reg.UnknownUserID(),
			}); err != nil {
				return err
			}
		}
		return nil
	})
}

func (im *Importer) createCategory(ctx context.Context, key string, params store.CategoryCreateParams) error {
	c, err := im.store.Categories.Create(params)
	if err != nil {
		return im.createFailed(ctx, domain.FamilyCategory, key, err, logrus.Fields{"name": params.Name})
	}
	im.reg.Record(domain.FamilyCategory, key, c.ID)
	im.created(ctx, domain.FamilyCategory, key, c.ID)
	return nil
}
