package security

import (
	"crypto/subtle"
	"fmt"
)

// IntegrityManifest carries SHA-384 digests over the encrypted segments of a
// payload, plus a root digest binding the segment sequence. It detects
// corruption or reordering of ciphertext chunks independently of key
// unwrapping.
type IntegrityManifest struct {
	Algorithm      string   `bson:"algorithm" json:"algorithm"`
	SegmentDigests []string `bson:"segment_digests" json:"segmentDigests"`
	RootDigest     string   `bson:"root_digest" json:"rootDigest"`
}

// BuildManifest hashes each encrypted segment and computes the root digest
// over the concatenated segment digests, in order.
func BuildManifest(segments [][]byte) *IntegrityManifest {
	m := &IntegrityManifest{
		Algorithm:      AlgorithmSHA384,
		SegmentDigests: make([]string, len(segments)),
	}

	rootInput := make([]byte, 0, len(segments)*48)
	for i, seg := range segments {
		digest := HashBytes(seg)
		m.SegmentDigests[i] = HexDigest(digest)
		rootInput = append(rootInput, digest...)
	}
	m.RootDigest = HexDigest(HashBytes(rootInput))
	return m
}

// VerifySegment checks one segment against the manifest.
func (m *IntegrityManifest) VerifySegment(index int, segment []byte) bool {
	if index < 0 || index >= len(m.SegmentDigests) {
		return false
	}
	want := m.SegmentDigests[index]
	got := HexDigest(HashBytes(segment))
	return subtle.ConstantTimeCompare([]byte(want), []byte(got)) == 1
}

// Verify checks every segment and the root digest. It returns an error
// naming the first segment that fails, or a root mismatch.
func (m *IntegrityManifest) Verify(segments [][]byte) error {
	if len(segments) != len(m.SegmentDigests) {
		return fmt.Errorf("manifest covers %d segments, got %d", len(m.SegmentDigests), len(segments))
	}
	for i, seg := range segments {
		if !m.VerifySegment(i, seg) {
			return fmt.Errorf("segment %d digest mismatch", i)
		}
	}

	rebuilt := BuildManifest(segments)
	if subtle.ConstantTimeCompare([]byte(rebuilt.RootDigest), []byte(m.RootDigest)) != 1 {
		return fmt.Errorf("root digest mismatch")
	}
	return nil
}
