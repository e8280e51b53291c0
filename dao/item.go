package dao

import (
	"github.com/google/uuid"

	"github.com/JiscSD/rdss-repository-core/content"
	rErrors "github.com/JiscSD/rdss-repository-core/errors"
	"github.com/JiscSD/rdss-repository-core/events"
	"github.com/JiscSD/rdss-repository-core/session"
	"github.com/JiscSD/rdss-repository-core/storage"
)

// ItemDAO is the DAO of items. Items are normally created through a
// WorkspaceItemDAO and enter a collection when archived.
type ItemDAO struct {
	*DAO[*content.Item]
}

func (r *Repository) itemRules() rules[*content.Item] {
	return rules[*content.Item]{
		load: func(s *session.Session, item *content.Item) error {
			bundles, err := r.Bundles.children(s, item)
			if err != nil {
				return err
			}
			item.Bundles = bundles
			return nil
		},
		check: func(s *session.Session, item *content.Item) error {
			want := make([]uuid.UUID, 0, len(item.Bundles))
			for _, b := range item.Bundles {
				want = append(want, b.ID())
			}
			added, removed, err := r.linkDiff(s, item, storage.ItemBundle, want)
			if err != nil {
				return err
			}
			return r.authorizeDiff(s, item, added, removed)
		},
		sync: func(s *session.Session, item *content.Item) error {
			want := make([]uuid.UUID, 0, len(item.Bundles))
			byID := map[uuid.UUID]*content.Bundle{}
			for _, b := range item.Bundles {
				want = append(want, b.ID())
				byID[b.ID()] = b
			}
			added, removed, err := r.linkDiff(s, item, storage.ItemBundle, want)
			if err != nil {
				return err
			}
			for _, id := range removed {
				b, err := r.Bundles.Retrieve(s, id)
				if err != nil {
					return err
				}
				if b == nil {
					if err := r.store.Unlink(s.Context(), storage.ItemBundle, item.ID(), id); err != nil {
						return storageFailure(err)
					}
					continue
				}
				if err := r.Items.core.Unlink(s, item, b); err != nil {
					return err
				}
			}
			for _, id := range added {
				if err := r.Items.core.Link(s, item, byID[id]); err != nil {
					return err
				}
			}
			for _, bs := range assignSequenceIDs(item) {
				if _, err := r.Bitstreams.core.persist(s, bs); err != nil {
					return err
				}
			}
			return nil
		},
		purge: func(s *session.Session, item *content.Item) error {
			bundles, err := r.Bundles.children(s, item)
			if err != nil {
				return err
			}
			for _, b := range bundles {
				if err := r.Items.core.detach(s, item, b, true); err != nil {
					return err
				}
			}
			return nil
		},
		linked: func(s *session.Session, item *content.Item, child content.Object) error {
			if err := r.gate.InheritPolicies(s, item, child); err != nil {
				return err
			}
			if b, ok := child.(*content.Bundle); ok {
				item.AddBundle(b)
			}
			return nil
		},
		unlinking: func(s *session.Session, item *content.Item, child content.Object) error {
			if b, ok := child.(*content.Bundle); ok {
				item.RemoveBundle(b)
			}
			return nil
		},
	}
}

// assignSequenceIDs numbers the bitstreams of item that have no sequence
// number, in bundle order, above the highest number in use. It returns the
// bitstreams it numbered.
func assignSequenceIDs(item *content.Item) []*content.Bitstream {
	all := item.Bitstreams()
	highest := 0
	for _, bs := range all {
		if bs.SequenceID > highest {
			highest = bs.SequenceID
		}
	}
	var numbered []*content.Bitstream
	for _, bs := range all {
		if bs.SequenceID >= 0 {
			continue
		}
		highest++
		bs.SequenceID = highest
		numbered = append(numbered, bs)
	}
	return numbered
}

// Collections returns the collections of item, the owning one first.
func (d *ItemDAO) Collections(s *session.Session, item *content.Item) ([]*content.Collection, error) {
	ids, err := d.r.cascade.Parents(s, item)
	if err != nil {
		return nil, err
	}
	for i, id := range ids {
		if id == item.OwningCollectionID && i > 0 {
			copy(ids[1:i+1], ids[:i])
			ids[0] = id
			break
		}
	}
	return d.r.Collections.retrieveAll(s, ids)
}

// OwningCollection returns the owning collection of item or nil.
func (d *ItemDAO) OwningCollection(s *session.Session, item *content.Item) (*content.Collection, error) {
	if item.OwningCollectionID == uuid.Nil {
		return nil, nil
	}
	return d.r.Collections.Retrieve(s, item.OwningCollectionID)
}

// CreateBundle creates a bundle named name in item.
func (d *ItemDAO) CreateBundle(s *session.Session, item *content.Item, name string) (*content.Bundle, error) {
	if err := d.r.gate.Authorize(s, item, content.ActionAdd); err != nil {
		return nil, err
	}
	b, err := d.r.Bundles.chain.Create(s)
	if err != nil {
		return nil, err
	}
	b.Name = name
	if _, err := d.r.Bundles.core.persist(s, b); err != nil {
		return nil, err
	}
	if err := d.chain.Link(s, item, b); err != nil {
		return nil, err
	}
	return b, nil
}

// Move makes to the owning collection of item instead of from. REMOVE on
// from and ADD on to are both checked first.
func (d *ItemDAO) Move(s *session.Session, item *content.Item, from, to *content.Collection) error {
	if from.ID() == to.ID() {
		return nil
	}
	if err := d.r.gate.Authorize(s, from, content.ActionRemove); err != nil {
		return err
	}
	if err := d.r.gate.Authorize(s, to, content.ActionAdd); err != nil {
		return err
	}
	if err := d.r.Collections.Link(s, to, item); err != nil {
		return err
	}
	if item.OwningCollectionID == from.ID() {
		item.OwningCollectionID = to.ID()
		if err := d.r.gate.InheritPolicies(s, to, item); err != nil {
			return err
		}
		if _, err := d.core.persist(s, item); err != nil {
			return err
		}
	}
	return d.r.Collections.Remove(s, from, item)
}

// Withdraw takes item out of the archive and strips the READ policies of
// the item and its content. ADMIN on the item or a container is required.
func (d *ItemDAO) Withdraw(s *session.Session, item *content.Item) error {
	if err := d.r.gate.Authorize(s, item, content.ActionAdmin); err != nil {
		return err
	}
	for _, o := range contentOf(item) {
		if err := d.r.gate.RemovePoliciesOfAction(s, o, content.ActionRead); err != nil {
			return err
		}
	}
	item.Withdrawn = true
	item.InArchive = false
	if _, err := d.core.persist(s, item); err != nil {
		return err
	}
	s.Emit(events.New(events.EventModify, item))
	return nil
}

// Reinstate puts a withdrawn item back and gives it and its content the
// policies of the owning collection again.
func (d *ItemDAO) Reinstate(s *session.Session, item *content.Item) error {
	if err := d.r.gate.Authorize(s, item, content.ActionAdmin); err != nil {
		return err
	}
	if !item.Withdrawn {
		return rErrors.Errorf(rErrors.InvalidOperation, "item %s is not withdrawn", item.ID())
	}
	owner, err := d.OwningCollection(s, item)
	if err != nil {
		return err
	}
	if owner != nil {
		if err := d.r.gate.InheritPolicies(s, owner, item); err != nil {
			return err
		}
	}
	for _, b := range item.Bundles {
		if err := d.r.gate.InheritPolicies(s, item, b); err != nil {
			return err
		}
		for _, bs := range b.Bitstreams {
			if err := d.r.gate.InheritPolicies(s, b, bs); err != nil {
				return err
			}
		}
	}
	item.Withdrawn = false
	item.InArchive = true
	if _, err := d.core.persist(s, item); err != nil {
		return err
	}
	s.Emit(events.New(events.EventModify, item))
	return nil
}

// contentOf returns item with its bundles and bitstreams.
func contentOf(item *content.Item) []content.Object {
	out := []content.Object{item}
	for _, b := range item.Bundles {
		out = append(out, b)
		for _, bs := range b.Bitstreams {
			out = append(out, bs)
		}
	}
	return out
}
