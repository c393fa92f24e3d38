package news

import (
	"crypto/sha256"
	"encoding/hex"
)

const headlinePrefixLen = 80

// ArticleHash computes the stable 32-hex-digit digest used to deduplicate
// articles: a truncated SHA-256 over source, URL, and a bounded headline
// prefix. Hash collisions across different articles from the same source
// are treated as duplicates by design.
func ArticleHash(source, url, headline string) string {
	prefix := headline
	if len(prefix) > headlinePrefixLen {
		prefix = prefix[:headlinePrefixLen]
	}

	h := sha256.New()
	h.Write([]byte(source))
	h.Write([]byte{0})
	h.Write([]byte(url))
	h.Write([]byte{0})
	h.Write([]byte(prefix))

	sum := h.Sum(nil)
	return hex.EncodeToString(sum[:16])
}
