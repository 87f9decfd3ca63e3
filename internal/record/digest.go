package record

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"slices"
	"strings"
)

// DomainChain prefixes chain digests. The version suffix allows the
// algorithm to change without colliding with old digests.
const DomainChain = "chatlink/chain/v1"

// hashWithDomain computes SHA256(domain + 0x00 + data).
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// SortLinks orders links by conversation, then seq, then id.
func SortLinks(links []Link) {
	slices.SortFunc(links, func(a, b Link) int {
		if c := strings.Compare(a.Conversation, b.Conversation); c != 0 {
			return c
		}
		if a.Seq != b.Seq {
			if a.Seq < b.Seq {
				return -1
			}
			return 1
		}
		return strings.Compare(a.ID, b.ID)
	})
}

// ChainDigest fingerprints the full set of links.
// Input order does not matter; two link sets are equal iff their digests are.
// Strings are hashed byte for byte, without Unicode normalization.
func ChainDigest(links []Link) (string, error) {
	sorted := slices.Clone(links)
	SortLinks(sorted)

	canonical, err := marshalExact(sorted)
	if err != nil {
		return "", fmt.Errorf("chain digest: %w", err)
	}
	return hashWithDomain(DomainChain, canonical), nil
}

// RecordLinks projects records to their links.
func RecordLinks(records []Record) []Link {
	links := make([]Link, len(records))
	for i, r := range records {
		links[i] = r.Link()
	}
	return links
}
