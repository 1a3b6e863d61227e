// Package payload reads named fields out of schema-tolerant JSON documents.
// Upstream payload shape is not contractually fixed, so reads coerce types
// and treat absence as zero values rather than errors.
package payload

import "github.com/tidwall/gjson"

type Document struct {
	root gjson.Result
}

func NewDocument(raw []byte) Document {
	return Document{root: gjson.ParseBytes(raw)}
}

// String returns the first present path, trying each alias in order.
func (d Document) String(paths ...string) string {
	for _, p := range paths {
		if v := d.root.Get(p); v.Exists() {
			return v.String()
		}
	}
	return ""
}

func (d Document) Int(paths ...string) int64 {
	for _, p := range paths {
		if v := d.root.Get(p); v.Exists() {
			return v.Int()
		}
	}
	return 0
}

func (d Document) Float(paths ...string) float64 {
	for _, p := range paths {
		if v := d.root.Get(p); v.Exists() {
			return v.Float()
		}
	}
	return 0
}

func (d Document) Has(path string) bool {
	return d.root.Get(path).Exists()
}

// Array returns the elements under the first present path as documents.
func (d Document) Array(paths ...string) []Document {
	for _, p := range paths {
		v := d.root.Get(p)
		if !v.Exists() || !v.IsArray() {
			continue
		}
		items := v.Array()
		docs := make([]Document, 0, len(items))
		for _, item := range items {
			docs = append(docs, Document{root: item})
		}
		return docs
	}
	return nil
}
