package dao

import (
	"io"

	"github.com/google/uuid"

	"github.com/JiscSD/rdss-repository-core/content"
	"github.com/JiscSD/rdss-repository-core/pipeline"
	"github.com/JiscSD/rdss-repository-core/session"
	"github.com/JiscSD/rdss-repository-core/storage"
)

// CommunityDAO is the DAO of communities. Create makes a top-level
// community and requires an administrator.
type CommunityDAO struct {
	*DAO[*content.Community]
}

func (r *Repository) communityRules() rules[*content.Community] {
	return rules[*content.Community]{
		seed: func(s *session.Session, c *content.Community) error {
			_, err := r.gate.AddGroupPolicy(s, c, content.ActionRead, content.AnonymousGroup.ID)
			return err
		},
		purge: func(s *session.Session, c *content.Community) error {
			subs, err := r.Communities.SubCommunities(s, c)
			if err != nil {
				return err
			}
			for _, sub := range subs {
				if err := r.Communities.core.detach(s, c, sub, true); err != nil {
					return err
				}
			}
			collections, err := r.Communities.Collections(s, c)
			if err != nil {
				return err
			}
			for _, coll := range collections {
				if err := r.Communities.core.detach(s, c, coll, true); err != nil {
					return err
				}
			}
			return r.removeLogo(s, c.LogoID)
		},
	}
}

// createIn creates an object of d's type and links it to parent. ADD on
// parent is checked before anything is written.
func createIn[P, T pipeline.Object](s *session.Session, container *DAO[P], parent P, d *DAO[T]) (T, error) {
	var zero T
	if err := d.r.gate.Authorize(s, parent, content.ActionAdd); err != nil {
		return zero, err
	}
	o, err := d.chain.Create(s)
	if err != nil {
		return zero, err
	}
	if err := container.chain.Link(s, parent, o); err != nil {
		return zero, err
	}
	return o, nil
}

// CreateSubcommunity creates a community under parent.
func (d *CommunityDAO) CreateSubcommunity(s *session.Session, parent *content.Community) (*content.Community, error) {
	return createIn(s, d.DAO, parent, d.DAO)
}

// TopLevel returns the communities without a parent.
func (d *CommunityDAO) TopLevel(s *session.Session) ([]*content.Community, error) {
	ctx := s.Context()
	var ids []uuid.UUID
	err := d.r.store.Scan(ctx, storage.TableCommunity, func(id uuid.UUID, _ []byte) error {
		ids = append(ids, id)
		return nil
	})
	if err != nil {
		return nil, storageFailure(err)
	}
	var top []uuid.UUID
	for _, id := range ids {
		n, err := storage.ParentCount(ctx, d.r.store, storage.CommunityCommunity, id)
		if err != nil {
			return nil, storageFailure(err)
		}
		if n == 0 {
			top = append(top, id)
		}
	}
	return d.retrieveAll(s, top)
}

// SubCommunities returns the child communities of c in link order.
func (d *CommunityDAO) SubCommunities(s *session.Session, c *content.Community) ([]*content.Community, error) {
	return d.children(s, c)
}

// Collections returns the collections of c in link order.
func (d *CommunityDAO) Collections(s *session.Session, c *content.Community) ([]*content.Collection, error) {
	return d.r.Collections.children(s, c)
}

// Parents returns the parent communities of c.
func (d *CommunityDAO) Parents(s *session.Session, c *content.Community) ([]*content.Community, error) {
	return d.parents(s, c)
}

// SetLogo replaces the logo of c with the content of rd. WRITE on c is
// required.
func (d *CommunityDAO) SetLogo(s *session.Session, c *content.Community, rd io.Reader) (*content.Bitstream, error) {
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
func (d *CommunityDAO) RemoveLogo(s *session.Session, c *content.Community) error {
	if err := d.r.gate.Authorize(s, c, content.ActionWrite); err != nil {
		return err
	}
	if err := d.r.removeLogo(s, c.LogoID); err != nil {
		return err
	}
	c.LogoID = uuid.Nil
	return d.Update(s, c)
}

// setLogo stores a new logo for o, giving it the policies of o, and deletes
// the old one.
func (r *Repository) setLogo(s *session.Session, o content.Object, old uuid.UUID, rd io.Reader) (*content.Bitstream, error) {
	logo, err := r.Bitstreams.create(s, rd)
	if err != nil {
		return nil, err
	}
	if err := r.gate.InheritPolicies(s, o, logo); err != nil {
		return nil, err
	}
	if err := r.removeLogo(s, old); err != nil {
		return nil, err
	}
	return logo, nil
}

// removeLogo deletes a logo bitstream. The right to do so comes from the
// right to change its owner, checked by the caller.
func (r *Repository) removeLogo(s *session.Session, id uuid.UUID) error {
	if id == uuid.Nil {
		return nil
	}
	logo, err := r.Bitstreams.Retrieve(s, id)
	if err != nil || logo == nil {
		return err
	}
	if err := r.gate.GrantTransient(s, logo, content.ActionDelete); err != nil {
		return err
	}
	return r.Bitstreams.core.delete(s, logo)
}
