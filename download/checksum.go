package download

import (
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"fmt"
	"hash"

	"golang.org/x/crypto/blake2b"
	"golang.org/x/crypto/sha3"
)

// newHasher returns the incremental hash.Hash for algorithm. sha256 is
// the default when algorithm is empty, matching PyPI's primary digest;
// blake2b/sha3 cover ecosystems or mirrors that publish those instead.
func newHasher(algorithm string) (hash.Hash, error) {
	switch algorithm {
	case "", "sha256":
		return sha256.New(), nil
	case "sha1", "sha":
		return sha1.New(), nil
	case "sha512":
		return sha512.New(), nil
	case "blake2b":
		return blake2b.New256(nil)
	case "sha3-256":
		return sha3.New256(), nil
	default:
		return nil, fmt.Errorf("download: unsupported checksum algorithm %q", algorithm)
	}
}

func hexDigest(h hash.Hash) string {
	return hex.EncodeToString(h.Sum(nil))
}
