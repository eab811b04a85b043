package pohoda

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/xml"
	"fmt"

	"github.com/beevik/etree"
	"github.com/ucarion/c14n"
)

// contentID deriva un identificador estable del contenido del documento:
// C14N (canonicalización inclusiva) + SHA-256, truncado a 16 hex. El mismo
// contenido produce siempre el mismo id, lo que hace el data pack
// reconocible en el chequeo de duplicados del servicio contable.
func contentID(doc *etree.Document) (string, error) {
	raw, err := doc.WriteToBytes()
	if err != nil {
		return "", fmt.Errorf("serializar para canonicalizar: %w", err)
	}
	dec := xml.NewDecoder(bytes.NewReader(raw))
	dec.Entity = map[string]string{}
	canon, err := c14n.Canonicalize(dec)
	if err != nil {
		return "", fmt.Errorf("canonicalizar: %w", err)
	}
	sum := sha256.Sum256(canon)
	return hex.EncodeToString(sum[:])[:16], nil
}
