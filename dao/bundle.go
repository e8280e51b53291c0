package dao

import (
	"io"

	"github.com/google/uuid"

	"github.com/JiscSD/rdss-repository-core/content"
	rErrors "github.com/JiscSD/rdss-repository-core/errors"
	"github.com/JiscSD/rdss-repository-core/session"
	"github.com/JiscSD/rdss-repository-core/storage"
)

// BundleDAO is the DAO of bundles.
type BundleDAO struct {
	*DAO[*content.Bundle]
}

func (r *Repository) bundleRules() rules[*content.Bundle] {
	return rules[*content.Bundle]{
		load: func(s *session.Session, b *content.Bundle) error {
			bitstreams, err := r.Bitstreams.children(s, b)
			if err != nil {
				return err
			}
			b.Bitstreams = bitstreams
			return nil
		},
		check: func(s *session.Session, b *content.Bundle) error {
			want := make([]uuid.UUID, 0, len(b.Bitstreams))
			primary := b.PrimaryBitstreamID == uuid.Nil
			for _, bs := range b.Bitstreams {
				want = append(want, bs.ID())
				primary = primary || bs.ID() == b.PrimaryBitstreamID
			}
			// A primary bitstream leaving the bundle stops being primary.
			if !primary {
				b.PrimaryBitstreamID = uuid.Nil
			}
			added, removed, err := r.linkDiff(s, b, storage.BundleBitstream, want)
			if err != nil {
				return err
			}
			return r.authorizeDiff(s, b, added, removed)
		},
		sync: func(s *session.Session, b *content.Bundle) error {
			want := make([]uuid.UUID, 0, len(b.Bitstreams))
			byID := map[uuid.UUID]*content.Bitstream{}
			for _, bs := range b.Bitstreams {
				want = append(want, bs.ID())
				byID[bs.ID()] = bs
			}
			added, removed, err := r.linkDiff(s, b, storage.BundleBitstream, want)
			if err != nil {
				return err
			}
			for _, id := range removed {
				bs, err := r.Bitstreams.Retrieve(s, id)
				if err != nil {
					return err
				}
				if bs == nil {
					if err := r.store.Unlink(s.Context(), storage.BundleBitstream, b.ID(), id); err != nil {
						return storageFailure(err)
					}
					continue
				}
				if err := r.Bundles.core.Unlink(s, b, bs); err != nil {
					return err
				}
			}
			for _, id := range added {
				if err := r.Bundles.core.Link(s, b, byID[id]); err != nil {
					return err
				}
			}
			return nil
		},
		purge: func(s *session.Session, b *content.Bundle) error {
			bitstreams, err := r.Bitstreams.children(s, b)
			if err != nil {
				return err
			}
			for _, bs := range bitstreams {
				if err := r.Bundles.core.detach(s, b, bs, true); err != nil {
					return err
				}
			}
			return r.forget(s, b)
		},
		linked: func(s *session.Session, b *content.Bundle, child content.Object) error {
			if err := r.gate.InheritPolicies(s, b, child); err != nil {
				return err
			}
			if bs, ok := child.(*content.Bitstream); ok {
				b.AddBitstream(bs)
			}
			return nil
		},
		// The primary pointer must not outlive the link. The row is written
		// straight to the next stage: the link itself is being changed.
		unlinking: func(s *session.Session, b *content.Bundle, child content.Object) error {
			bs, ok := child.(*content.Bitstream)
			if !ok {
				return nil
			}
			wasPrimary := b.PrimaryBitstreamID == bs.ID()
			b.RemoveBitstream(bs)
			if !wasPrimary {
				return nil
			}
			b.PrimaryBitstreamID = uuid.Nil
			return r.Bundles.core.Next.Update(s, b)
		},
	}
}

// Items returns the items holding b.
func (d *BundleDAO) Items(s *session.Session, b *content.Bundle) ([]*content.Item, error) {
	return d.r.Items.parents(s, b)
}

// SetPrimaryBitstream designates bs, which must be in b, as the primary
// bitstream of b. A nil bs clears it.
func (d *BundleDAO) SetPrimaryBitstream(s *session.Session, b *content.Bundle, bs *content.Bitstream) error {
	if bs == nil {
		b.PrimaryBitstreamID = uuid.Nil
		return d.Update(s, b)
	}
	ok, err := d.Linked(s, b, bs)
	if err != nil {
		return err
	}
	if !ok {
		return rErrors.Errorf(rErrors.InvalidOperation, "bitstream %s is not in bundle %s", bs.ID(), b.ID())
	}
	b.PrimaryBitstreamID = bs.ID()
	return d.Update(s, b)
}

// CreateBitstream stores the content of rd and adds it to b as a new
// bitstream, which receives the policies of b.
func (d *BundleDAO) CreateBitstream(s *session.Session, b *content.Bundle, rd io.Reader) (*content.Bitstream, error) {
	if err := d.r.gate.Authorize(s, b, content.ActionAdd); err != nil {
		return nil, err
	}
	bs, err := d.r.Bitstreams.create(s, rd)
	if err != nil {
		return nil, err
	}
	if err := d.chain.Link(s, b, bs); err != nil {
		return nil, err
	}
	return bs, nil
}
