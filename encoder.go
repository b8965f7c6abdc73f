package axmlparser

import "encoding/xml"

// ManifestEncoder receives the decoded document. *xml.Encoder satisfies it.
type ManifestEncoder interface {
	EncodeToken(t xml.Token) error
	Flush() error
}
