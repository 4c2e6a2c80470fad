package cache

import (
	"crypto/sha1"
	"encoding/base64"
	"strconv"
)

// ETag fingerprints content as a quoted strong etag: the hex length, a dash and
// the unpadded base64 sha1 digest.
func ETag(content []byte) string {
	sum := sha1.Sum(content)
	return `"` + strconv.FormatInt(int64(len(content)), 16) + "-" +
		base64.RawStdEncoding.EncodeToString(sum[:]) + `"`
}
