package content

import "github.com/google/uuid"

// SupportLevel states how well the repository can preserve a format.
type SupportLevel int

const (
	SupportUnknown SupportLevel = iota
	SupportKnown
	SupportSupported
)

// UnknownFormat is the short description of the reserved format assigned to
// bitstreams whose format cannot be determined. It cannot be deleted.
const UnknownFormat = "Unknown"

// BitstreamFormat is an entry of the format registry.
type BitstreamFormat struct {
	ID               uuid.UUID    `json:"id"`
	ShortDescription string       `json:"shortDescription"`
	Description      string       `json:"description,omitempty"`
	MIMEType         string       `json:"mimeType"`
	SupportLevel     SupportLevel `json:"supportLevel"`
	Internal         bool         `json:"internal"`
	Extensions       []string     `json:"extensions,omitempty"`
}

// IsUnknown reports whether f is the reserved unknown format.
func (f *BitstreamFormat) IsUnknown() bool {
	return f.ShortDescription == UnknownFormat
}
