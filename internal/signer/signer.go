// Package signer resolves the signing key named by a release task into the
// credentials the repository manager signs published metadata with.
package signer

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/ralt/repoctl/internal/models"
)

var keyIDPattern = regexp.MustCompile(`^(0x)?([0-9A-Fa-f]{8}|[0-9A-Fa-f]{16}|[0-9A-Fa-f]{40})$`)

// Credentials identify the key the repository manager signs with
type Credentials struct {
	KeyID       string
	Fingerprint string
	Passphrase  string
	// KeyFile is set when the key was loaded from a file
	KeyFile string
}

// Resolve turns a signing key reference into credentials. The reference is
// either a path to an OpenPGP private key file, which is loaded to prove the
// passphrase unlocks it, or a key ID already known to the repository
// manager's keyring. An empty reference yields nil credentials.
func Resolve(ref, passphrase string) (*Credentials, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return nil, nil
	}

	if info, err := os.Stat(ref); err == nil && !info.IsDir() {
		s, err := NewGPGSigner(ref, passphrase)
		if err != nil {
			return nil, models.NewError(models.ErrSigning, ref, err)
		}
		return &Credentials{
			KeyID:       s.KeyID(),
			Fingerprint: s.Fingerprint(),
			Passphrase:  passphrase,
			KeyFile:     ref,
		}, nil
	}

	m := keyIDPattern.FindStringSubmatch(ref)
	if m == nil {
		return nil, models.NewError(models.ErrSigning, ref,
			fmt.Errorf("neither a key file nor a key ID"))
	}
	id := strings.ToUpper(m[2])
	creds := &Credentials{KeyID: id, Passphrase: passphrase}
	if len(id) == 40 {
		creds.Fingerprint = id
		creds.KeyID = id[24:]
	}
	return creds, nil
}

// Load unlocks the key file of creds for local signing
func Load(creds *Credentials) (*GPGSigner, error) {
	if creds == nil || creds.KeyFile == "" {
		return nil, models.NewError(models.ErrSigning, "",
			fmt.Errorf("signing locally needs a key file, not a key ID"))
	}
	s, err := NewGPGSigner(creds.KeyFile, creds.Passphrase)
	if err != nil {
		return nil, models.NewError(models.ErrSigning, creds.KeyFile, err)
	}
	return s, nil
}
