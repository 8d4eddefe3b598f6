package keyfs

import (
	"github.com/google/uuid"
	"github.com/jacobsa/timeutil"
	"github.com/wasirt/vfskit/ledger"
	"github.com/wasirt/vfskit/tmpfs"
)

// NewRoot builds a fresh keystore directory: an otherwise ordinary tmpfs
// directory pre-populated with "generate" and "trust" pseudo-files. Every
// key minted through either one lives in its own UUID-named subdirectory
// alongside them. The keystore gets its own device from l, so removing a
// key subdirectory is always a same-device operation even after the
// keystore is attached into a larger tree. The overlay carries no file
// factory: creating ordinary files anywhere inside it is not supported.
func NewRoot(l *ledger.Ledger, clock timeutil.Clock) (*tmpfs.Directory, error) {
	root := tmpfs.NewRootWithFactory(l, clock, nil)

	gen := newGenerateNode(root, clock)
	if err := root.AddNode("generate", gen); err != nil {
		return nil, err
	}

	tr := newTrustNode(root, clock)
	if err := root.AddNode("trust", tr); err != nil {
		return nil, err
	}

	return root, nil
}

// mintKeyDirectory creates a UUID-named child of root holding share and
// verify (and, when priv is non-nil, sign), used by both generate and
// trust to materialize a freshly minted or trusted key.
func mintKeyDirectory(root *tmpfs.Directory, clock timeutil.Clock, priv *privateKey, pub publicKey, sharePayload []byte) (string, error) {
	id := uuid.NewString()
	dir := tmpfs.NewChildWithFactory(root, nil)

	if err := dir.AddNode("share", newShareNode(dir, clock, sharePayload)); err != nil {
		return "", err
	}
	if priv != nil {
		if err := dir.AddNode("sign", newSignNode(dir, clock, *priv)); err != nil {
			return "", err
		}
	}
	if err := dir.AddNode("verify", newVerifyNode(dir, clock, pub)); err != nil {
		return "", err
	}

	if err := root.AddNode(id, dir); err != nil {
		return "", err
	}
	return id, nil
}
