package dao

import (
	"io"

	"github.com/google/uuid"

	"github.com/JiscSD/rdss-repository-core/content"
	"github.com/JiscSD/rdss-repository-core/events"
	"github.com/JiscSD/rdss-repository-core/session"
)

// CollectionDAO is the DAO of collections.
type CollectionDAO struct {
	*DAO[*content.Collection]
}

func (r *Repository) collectionRules() rules[*content.Collection] {
	return rules[*content.Collection]{
		seed: func(s *session.Session, c *content.Collection) error {
			for _, action := range []content.Action{
				content.ActionRead,
				content.ActionDefaultItemRead,
				content.ActionDefaultBitstreamRead,
			} {
				if _, err := r.gate.AddGroupPolicy(s, c, action, content.AnonymousGroup.ID); err != nil {
					return err
				}
			}
			return nil
		},
		purge: func(s *session.Session, c *content.Collection) error {
			items, err := r.Collections.Items(s, c)
			if err != nil {
				return err
			}
			for _, item := range items {
				if item.OwningCollectionID != c.ID() {
					if err := r.Collections.core.detach(s, c, item, true); err != nil {
						return err
					}
					continue
				}
				// Deleting the owning collection voids every mapping of
				// the item, which is then an orphan.
				if err := r.cascade.DetachAll(s, item); err != nil {
					return err
				}
				s.Emit(events.New(events.EventRemove, c).WithObject(item))
				if _, err := r.cascade.Collect(s, item); err != nil {
					return err
				}
			}
			if err := r.removeTemplate(s, c.TemplateItemID); err != nil {
				return err
			}
			return r.removeLogo(s, c.LogoID)
		},
		linked: func(s *session.Session, c *content.Collection, child content.Object) error {
			item, ok := child.(*content.Item)
			if !ok {
				return nil
			}
			if item.OwningCollectionID == uuid.Nil {
				item.OwningCollectionID = c.ID()
			}
			if item.OwningCollectionID != c.ID() {
				return nil
			}
			if err := r.gate.InheritPolicies(s, c, item); err != nil {
				return err
			}
			_, err := r.Items.core.persist(s, item)
			return err
		},
		// An item unlinked from its owning collection while still mapped
		// elsewhere is owned by the first remaining collection.
		unlinking: func(s *session.Session, c *content.Collection, child content.Object) error {
			item, ok := child.(*content.Item)
			if !ok || item.OwningCollectionID != c.ID() {
				return nil
			}
			parents, err := r.cascade.Parents(s, item)
			if err != nil {
				return err
			}
			for _, id := range parents {
				if id != c.ID() {
					item.OwningCollectionID = id
					_, err := r.Items.core.persist(s, item)
					return err
				}
			}
			return nil
		},
	}
}

// CreateIn creates a collection in community.
func (d *CollectionDAO) CreateIn(s *session.Session, community *content.Community) (*content.Collection, error) {
	return createIn(s, d.r.Communities.DAO, community, d.DAO)
}

// Items returns the items of c, owned or mapped, in link order.
func (d *CollectionDAO) Items(s *session.Session, c *content.Collection) ([]*content.Item, error) {
	return d.r.Items.children(s, c)
}

// CountItems returns the number of items linked to c.
func (d *CollectionDAO) CountItems(s *session.Session, c *content.Collection) (int, error) {
	ids, err := d.r.cascade.Children(s, c, content.TypeItem)
	return len(ids), err
}

// Communities returns the parent communities of c.
func (d *CollectionDAO) Communities(s *session.Session, c *content.Collection) ([]*content.Community, error) {
	return d.r.Communities.parents(s, c)
}

// CreateTemplateItem gives c a template item, whose metadata is copied to
// new submissions. WRITE on c is required. An existing template is kept.
func (d *CollectionDAO) CreateTemplateItem(s *session.Session, c *content.Collection) (*content.Item, error) {
	if err := d.r.gate.Authorize(s, c, content.ActionWrite); err != nil {
		return nil, err
	}
	if c.TemplateItemID != uuid.Nil {
		if item, err := d.r.Items.Retrieve(s, c.TemplateItemID); err != nil || item != nil {
			return item, err
		}
	}
	item, err := d.r.Items.chain.Create(s)
	if err != nil {
		return nil, err
	}
	if err := d.r.gate.InheritPolicies(s, c, item); err != nil {
		return nil, err
	}
	c.TemplateItemID = item.ID()
	return item, d.Update(s, c)
}

// RemoveTemplateItem deletes the template item of c, if any.
func (d *CollectionDAO) RemoveTemplateItem(s *session.Session, c *content.Collection) error {
	if err := d.r.gate.Authorize(s, c, content.ActionWrite); err != nil {
		return err
	}
	if err := d.r.removeTemplate(s, c.TemplateItemID); err != nil {
		return err
	}
	c.TemplateItemID = uuid.Nil
	return d.Update(s, c)
}

// removeTemplate deletes a template item. The right to do so comes from the
// right to change its collection, checked by the caller.
func (r *Repository) removeTemplate(s *session.Session, id uuid.UUID) error {
	if id == uuid.Nil {
		return nil
	}
	item, err := r.Items.Retrieve(s, id)
	if err != nil || item == nil {
		return err
	}
	if err := r.gate.GrantTransient(s, item, content.ActionDelete, content.ActionRemove); err != nil {
		return err
	}
	return r.Items.core.delete(s, item)
}

// SetLogo replaces the logo of c with the content of rd.
func (d *CollectionDAO) SetLogo(s *session.Session, c *content.Collection, rd io.Reader) (*content.Bitstream, error) {
	if err := d.r.gate.Authorize(s, c, content.ActionWrite); err != nil {
		return nil, err
	}
	logo, err := d.r.setLogo(s, c, c.LogoID, rd)
	if err != nil {
		return nil, err
	}
	c.LogoID = logo.ID()
	return logo, d.Update(s, c)
}

// RemoveLogo deletes the logo of c, if any.
func (d *CollectionDAO) RemoveLogo(s *session.Session, c *content.Collection) error {
	if err := d.r.gate.Authorize(s, c, content.ActionWrite); err != nil {
		return err
	}
	if err := d.r.removeLogo(s, c.LogoID); err != nil {
		return err
	}
	c.LogoID = uuid.Nil
	return d.Update(s, c)
}
