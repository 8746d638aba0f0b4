package contentstore

// Entity is implemented by records that carry associated content. The store
// reads and writes only these two fields.
type Entity interface {
	ContentID() string
	SetContentID(id string)
	ContentLength() int64
	SetContentLength(n int64)
}

// IdentityBound is implemented by entities whose content id doubles as their
// primary identity. Such ids are never cleared by the store.
type IdentityBound interface {
	ContentIDIsIdentity() bool
}

// Fields is an embeddable implementation of Entity.
//
//	type Document struct {
//		contentstore.Fields
//		Title string
//	}
type Fields struct {
	ID     string `json:"content_id,omitempty"`
	Length int64  `json:"content_length"`
}

func (f *Fields) ContentID() string { return f.ID }
func (f *Fields) SetContentID(id string) { f.ID = id }
func (f *Fields) ContentLength() int64 { return f.Length }
func (f *Fields) SetContentLength(n int64) { f.Length = n }

func isIdentity(e Entity) bool {
	ib, ok := e.(IdentityBound)
	return ok && ib.ContentIDIsIdentity()
}
