// Package normalize maps free-form event-type strings to the canonical
// dispatch keys. Normalization is pure: lower-case, strip combining marks,
// collapse whitespace, then resolve known aliases.
package normalize

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Canonical dispatch keys.
const (
	CompraRealizada  = "compra realizada"
	CompraConfirmada = "compra confirmada"
	CompraCancelada  = "compra cancelada"
	RollbackCompra   = "rollback de compra"
	ReviewCreada     = "review creada"
)

// aliases maps normalized space/format variants to their canonical form.
var aliases = map[string]string{
	"comprarealizada":  CompraRealizada,
	"compraconfirmada": CompraConfirmada,
	"compracancelada":  CompraCancelada,
	"rollbackcompra":   RollbackCompra,
	"rollback compra":  RollbackCompra,
	"rollbackdecompra": RollbackCompra,
	"reviewcreada":     ReviewCreada,
	"nueva review":     ReviewCreada,
	"nuevareview":      ReviewCreada,
}

var stripMarks = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// Key normalizes a raw event type into its canonical dispatch key. Unknown
// types normalize successfully and simply fall through unmapped.
func Key(raw string) string {
	s := strings.ToLower(strings.TrimSpace(raw))
	if stripped, _, err := transform.String(stripMarks, s); err == nil {
		s = stripped
	}
	s = strings.Join(strings.Fields(s), " ")
	if canonical, ok := aliases[s]; ok {
		return canonical
	}
	return s
}
