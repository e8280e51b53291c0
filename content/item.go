package content

import (
	"github.com/google/uuid"
)

// Item is the unit of deposit. Bundles are loaded with the item and kept in
// presentation order; updating the item re-synchronizes the bundle links.
type Item struct {
	ObjectBase
	SubmitterID        uuid.UUID `json:"submitterID"`
	OwningCollectionID uuid.UUID `json:"owningCollectionID"`
	InArchive          bool      `json:"inArchive"`
	Withdrawn          bool      `json:"withdrawn"`
	Discoverable       bool      `json:"discoverable"`
	Bundles            []*Bundle `json:"-"`
}

func (i *Item) Type() Type { return TypeItem }

// Bundle returns the first bundle with the given name.
func (i *Item) Bundle(name string) *Bundle {
	for _, b := range i.Bundles {
		if b.Name == name {
			return b
		}
	}
	return nil
}

// AddBundle appends b unless it is already present.
func (i *Item) AddBundle(b *Bundle) {
	for _, have := range i.Bundles {
		if have.ID() == b.ID() {
			return
		}
	}
	i.Bundles = append(i.Bundles, b)
}

// RemoveBundle drops b from the in-memory list. The link is removed on the
// next update.
func (i *Item) RemoveBundle(b *Bundle) {
	kept := i.Bundles[:0]
	for _, have := range i.Bundles {
		if have.ID() != b.ID() {
			kept = append(kept, have)
		}
	}
	i.Bundles = kept
}

// Bitstreams returns every bitstream of every bundle, bundles in order.
func (i *Item) Bitstreams() []*Bitstream {
	var out []*Bitstream
	for _, b := range i.Bundles {
		out = append(out, b.Bitstreams...)
	}
	return out
}

// BitstreamBySequence finds a bitstream by its sequence number.
func (i *Item) BitstreamBySequence(seq int) *Bitstream {
	if seq < 0 {
		return nil
	}
	for _, bs := range i.Bitstreams() {
		if bs.SequenceID == seq {
			return bs
		}
	}
	return nil
}

// Bundle is a named grouping of bitstreams, e.g. ORIGINAL or THUMBNAIL.
type Bundle struct {
	ObjectBase
	Name               string       `json:"name"`
	PrimaryBitstreamID uuid.UUID    `json:"primaryBitstreamID"`
	Bitstreams         []*Bitstream `json:"-"`
}

func (b *Bundle) Type() Type { return TypeBundle }

// Conventional bundle names.
const (
	BundleOriginal  = "ORIGINAL"
	BundleThumbnail = "THUMBNAIL"
	BundleText      = "TEXT"
	BundleLicense   = "LICENSE"
)

// AddBitstream appends bs unless it is already present.
func (b *Bundle) AddBitstream(bs *Bitstream) {
	for _, have := range b.Bitstreams {
		if have.ID() == bs.ID() {
			return
		}
	}
	b.Bitstreams = append(b.Bitstreams, bs)
}

// RemoveBitstream drops bs from the in-memory list and clears the primary
// pointer if it designated bs.
func (b *Bundle) RemoveBitstream(bs *Bitstream) {
	kept := b.Bitstreams[:0]
	for _, have := range b.Bitstreams {
		if have.ID() != bs.ID() {
			kept = append(kept, have)
		}
	}
	b.Bitstreams = kept
	if b.PrimaryBitstreamID == bs.ID() {
		b.PrimaryBitstreamID = uuid.Nil
	}
}

// Primary returns the primary bitstream if it is loaded.
func (b *Bundle) Primary() *Bitstream {
	if b.PrimaryBitstreamID == uuid.Nil {
		return nil
	}
	for _, bs := range b.Bitstreams {
		if bs.ID() == b.PrimaryBitstreamID {
			return bs
		}
	}
	return nil
}

// UnsetSequenceID marks a bitstream that has not been numbered yet.
const UnsetSequenceID = -1

// Bitstream describes binary content held in an asset store.
type Bitstream struct {
	ObjectBase
	Name                  string    `json:"name"`
	Source                string    `json:"source,omitempty"`
	Description           string    `json:"description,omitempty"`
	FormatID              uuid.UUID `json:"formatID"`
	UserFormatDescription string    `json:"userFormatDescription,omitempty"`
	SizeBytes             int64     `json:"sizeBytes"`
	Checksum              string    `json:"checksum"`
	ChecksumAlgorithm     string    `json:"checksumAlgorithm"`
	StoreNumber           int       `json:"storeNumber"`
	InternalID            string    `json:"internalID"`
	SequenceID            int       `json:"sequenceID"`
	Deleted               bool      `json:"deleted"`
}

func (b *Bitstream) Type() Type { return TypeBitstream }
