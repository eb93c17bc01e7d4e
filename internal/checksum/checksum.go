// Package checksum implements the composite checksum engine used by the
// object write pipeline. MD5 is always computed for the ETag; the four S3
// checksum algorithms (CRC32, CRC32C, SHA-1, SHA-256) are computed only when
// the client supplied the matching value.
package checksum

import (
	"crypto/sha1"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"hash"
	"hash/crc32"

	s3err "github.com/balchua/beggar/internal/errors"
)

// Keys used in the catalog internal_info JSON object. Absent algorithms are
// absent keys.
const (
	keyCRC32  = "checksum_crc32"
	keyCRC32C = "checksum_crc32c"
	keySHA1   = "checksum_sha1"
	keySHA256 = "checksum_sha256"
)

var castagnoli = crc32.MakeTable(crc32.Castagnoli)

// Checksum holds the base64-encoded digests of the optional S3 checksum
// algorithms. A nil field means the algorithm was not requested.
type Checksum struct {
	CRC32  *string
	CRC32C *string
	SHA1   *string
	SHA256 *string
}

// Hasher is an incremental multi-algorithm hasher. A channel is active iff
// the corresponding client-supplied checksum was present in the request.
type Hasher struct {
	crc32  hash.Hash32
	crc32c hash.Hash32
	sha1   hash.Hash
	sha256 hash.Hash
}

// NewHasher returns a Hasher with channels enabled for each non-nil
// client-supplied checksum value.
func NewHasher(crc32Supplied, crc32cSupplied, sha1Supplied, sha256Supplied *string) *Hasher {
	h := &Hasher{}
	if crc32Supplied != nil {
		h.crc32 = crc32.NewIEEE()
	}
	if crc32cSupplied != nil {
		h.crc32c = crc32.New(castagnoli)
	}
	if sha1Supplied != nil {
		h.sha1 = sha1.New()
	}
	if sha256Supplied != nil {
		h.sha256 = sha256.New()
	}
	return h
}

// Write feeds p into every active channel. It never fails and always reports
// len(p) so it can sit inside an io.MultiWriter alongside the file writer.
func (h *Hasher) Write(p []byte) (int, error) {
	if h.crc32 != nil {
		h.crc32.Write(p)
	}
	if h.crc32c != nil {
		h.crc32c.Write(p)
	}
	if h.sha1 != nil {
		h.sha1.Write(p)
	}
	if h.sha256 != nil {
		h.sha256.Write(p)
	}
	return len(p), nil
}

// Finalize returns the computed checksums in the S3 wire encoding: base64 of
// the big-endian digest bytes.
func (h *Hasher) Finalize() Checksum {
	var c Checksum
	if h.crc32 != nil {
		c.CRC32 = strPtr(base64.StdEncoding.EncodeToString(h.crc32.Sum(nil)))
	}
	if h.crc32c != nil {
		c.CRC32C = strPtr(base64.StdEncoding.EncodeToString(h.crc32c.Sum(nil)))
	}
	if h.sha1 != nil {
		c.SHA1 = strPtr(base64.StdEncoding.EncodeToString(h.sha1.Sum(nil)))
	}
	if h.sha256 != nil {
		c.SHA256 = strPtr(base64.StdEncoding.EncodeToString(h.sha256.Sum(nil)))
	}
	return c
}

// Validate compares the computed checksums against the client-supplied values
// field by field. Both nil passes; any mismatch fails with BadDigest.
func Validate(computed Checksum, crc32Supplied, crc32cSupplied, sha1Supplied, sha256Supplied *string) error {
	if !eq(computed.CRC32, crc32Supplied) {
		return s3err.ErrBadDigest.WithMessage("checksum_crc32 mismatch")
	}
	if !eq(computed.CRC32C, crc32cSupplied) {
		return s3err.ErrBadDigest.WithMessage("checksum_crc32c mismatch")
	}
	if !eq(computed.SHA1, sha1Supplied) {
		return s3err.ErrBadDigest.WithMessage("checksum_sha1 mismatch")
	}
	if !eq(computed.SHA256, sha256Supplied) {
		return s3err.ErrBadDigest.WithMessage("checksum_sha256 mismatch")
	}
	return nil
}

// ToInternalInfo encodes the checksum set as the JSON object stored in the
// catalog internal_info column.
func ToInternalInfo(c Checksum) (string, error) {
	info := map[string]string{}
	if c.CRC32 != nil {
		info[keyCRC32] = *c.CRC32
	}
	if c.CRC32C != nil {
		info[keyCRC32C] = *c.CRC32C
	}
	if c.SHA1 != nil {
		info[keySHA1] = *c.SHA1
	}
	if c.SHA256 != nil {
		info[keySHA256] = *c.SHA256
	}
	data, err := json.Marshal(info)
	if err != nil {
		return "", fmt.Errorf("encoding internal info: %w", err)
	}
	return string(data), nil
}

// FromInternalInfo decodes a stored internal_info JSON object back into a
// Checksum. An empty or unparseable document yields the zero Checksum.
func FromInternalInfo(s string) Checksum {
	var c Checksum
	if s == "" {
		return c
	}
	var info map[string]string
	if err := json.Unmarshal([]byte(s), &info); err != nil {
		return c
	}
	if v, ok := info[keyCRC32]; ok {
		c.CRC32 = strPtr(v)
	}
	if v, ok := info[keyCRC32C]; ok {
		c.CRC32C = strPtr(v)
	}
	if v, ok := info[keySHA1]; ok {
		c.SHA1 = strPtr(v)
	}
	if v, ok := info[keySHA256]; ok {
		c.SHA256 = strPtr(v)
	}
	return c
}

func eq(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func strPtr(s string) *string {
	return &s
}
