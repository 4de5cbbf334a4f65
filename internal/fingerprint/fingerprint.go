// Package fingerprint computes the content-addressed hex fingerprints used
// throughout the core as primary keys and directory names.
//
// MD5 is used for deduplication, not integrity: collisions are a theoretical
// possibility the system accepts as a deliberate policy choice, not an
// oversight, in exchange for a short, stable, hex-encodable identifier.
package fingerprint

import (
	"crypto/md5"
	"encoding/hex"
)

// Image returns the hex MD5 of the raw image bytes — the Image primary key.
func Image(data []byte) string {
	sum := md5.Sum(data)
	return hex.EncodeToString(sum[:])
}

// Submission returns the hex MD5 of image bytes concatenated with filename,
// an optional password, and a literal "deep_analysis" marker when the deep
// flag is set — the Submission primary key.
//
// The concatenation order and the literal marker string must match exactly:
// the fingerprint is part of the external dedup contract.
func Submission(data []byte, filename string, password string, deep bool) string {
	h := md5.New()
	h.Write(data)
	h.Write([]byte(filename))
	if password != "" {
		h.Write([]byte(password))
	}
	if deep {
		h.Write([]byte("deep_analysis"))
	}
	return hex.EncodeToString(h.Sum(nil))
}
