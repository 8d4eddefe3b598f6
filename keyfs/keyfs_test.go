package keyfs

import (
	"context"
	"testing"

	"github.com/jacobsa/timeutil"
	"github.com/stretchr/testify/require"
	"github.com/wasirt/vfskit/ledger"
	"github.com/wasirt/vfskit/tmpfs"
	"github.com/wasirt/vfskit/vfs"
)

// openRW opens name read+write with no flags, the access mode generate,
// trust and sign demand.
func openRW(t *testing.T, dir vfs.Dir, name string) vfs.File {
	t.Helper()
	f, err := dir.OpenFile(context.Background(), name, true, true, 0, 0)
	require.NoError(t, err)
	return f
}

func TestGenerateSignVerifyRoundTrip(t *testing.T) {
	root, err := NewRoot(ledger.New(), timeutil.RealClock())
	require.NoError(t, err)
	rootHandle, err := root.OpenDir(context.Background())
	require.NoError(t, err)
	defer rootHandle.Close()

	ctx := context.Background()

	gen := openRW(t, rootHandle, "generate")
	defer gen.Close()

	tagBytes := TagES256.bytes()
	n, err := gen.WriteVectored(ctx, [][]byte{tagBytes[:]})
	require.NoError(t, err)
	require.EqualValues(t, 4, n)

	idBuf := make([]byte, 64)
	n, err = gen.ReadVectored(ctx, [][]byte{idBuf})
	require.NoError(t, err)
	id := string(idBuf[:n])
	require.NotEmpty(t, id)

	keyDir, err := rootHandle.OpenDir(ctx, id)
	require.NoError(t, err)
	defer keyDir.Close()

	signer := openRW(t, keyDir, "sign")
	defer signer.Close()

	msg := []byte("attest this payload")
	_, err = signer.WriteVectored(ctx, [][]byte{msg})
	require.NoError(t, err)

	sigBuf := make([]byte, 256)
	n, err = signer.ReadVectoredAt(ctx, [][]byte{sigBuf}, ^uint64(0))
	require.NoError(t, err)
	sig := sigBuf[:n]
	require.NotEmpty(t, sig)

	verifier, err := keyDir.OpenFile(ctx, "verify", false, true, 0, 0)
	require.NoError(t, err)
	defer verifier.Close()

	_, err = verifier.WriteVectored(ctx, [][]byte{msg})
	require.NoError(t, err)
	_, err = verifier.WriteVectoredAt(ctx, [][]byte{sig}, ^uint64(0))
	require.NoError(t, err)
}

func TestVerifyRejectsSignatureOverDifferentMessage(t *testing.T) {
	root, err := NewRoot(ledger.New(), timeutil.RealClock())
	require.NoError(t, err)
	rootHandle, err := root.OpenDir(context.Background())
	require.NoError(t, err)
	defer rootHandle.Close()

	ctx := context.Background()

	gen := openRW(t, rootHandle, "generate")
	tagBytes := TagES256K.bytes()
	_, err = gen.WriteVectored(ctx, [][]byte{tagBytes[:]})
	require.NoError(t, err)

	idBuf := make([]byte, 64)
	n, err := gen.ReadVectored(ctx, [][]byte{idBuf})
	require.NoError(t, err)
	id := string(idBuf[:n])
	gen.Close()

	keyDir, err := rootHandle.OpenDir(ctx, id)
	require.NoError(t, err)
	defer keyDir.Close()

	signer := openRW(t, keyDir, "sign")
	msg := []byte("message one")
	_, err = signer.WriteVectored(ctx, [][]byte{msg})
	require.NoError(t, err)
	sigBuf := make([]byte, 256)
	n, err = signer.ReadVectoredAt(ctx, [][]byte{sigBuf}, ^uint64(0))
	require.NoError(t, err)
	sig := append([]byte(nil), sigBuf[:n]...)
	signer.Close()

	verifier, err := keyDir.OpenFile(ctx, "verify", false, true, 0, 0)
	require.NoError(t, err)
	defer verifier.Close()

	_, err = verifier.WriteVectored(ctx, [][]byte{[]byte("message two")})
	require.NoError(t, err)
	_, err = verifier.WriteVectoredAt(ctx, [][]byte{sig}, ^uint64(0))
	require.Error(t, err)

	vfsErr, ok := err.(*vfs.Error)
	require.True(t, ok)
	require.Equal(t, vfs.KindIllegalByteSequence, vfsErr.Kind())
}

func TestTrustThenShareRoundTrip(t *testing.T) {
	root, err := NewRoot(ledger.New(), timeutil.RealClock())
	require.NoError(t, err)
	rootHandle, err := root.OpenDir(context.Background())
	require.NoError(t, err)
	defer rootHandle.Close()

	ctx := context.Background()

	// First generate a key so we have a real public key encoding to trust.
	gen := openRW(t, rootHandle, "generate")
	tagBytes := TagES256.bytes()
	_, err = gen.WriteVectored(ctx, [][]byte{tagBytes[:]})
	require.NoError(t, err)
	idBuf := make([]byte, 64)
	n, err := gen.ReadVectored(ctx, [][]byte{idBuf})
	require.NoError(t, err)
	genID := string(idBuf[:n])
	gen.Close()

	genKeyDir, err := rootHandle.OpenDir(ctx, genID)
	require.NoError(t, err)
	shareReader, err := genKeyDir.OpenFile(ctx, "share", true, false, 0, 0)
	require.NoError(t, err)
	shareBuf := make([]byte, 256)
	n, err = shareReader.ReadVectored(ctx, [][]byte{shareBuf})
	require.NoError(t, err)
	pubEncoding := append([]byte(nil), shareBuf[:n]...)
	shareReader.Close()
	genKeyDir.Close()

	trust := openRW(t, rootHandle, "trust")
	_, err = trust.WriteVectored(ctx, [][]byte{pubEncoding})
	require.NoError(t, err)

	trustedIDBuf := make([]byte, 64)
	n, err = trust.ReadVectored(ctx, [][]byte{trustedIDBuf})
	require.NoError(t, err)
	trustedID := string(trustedIDBuf[:n])
	trust.Close()
	require.NotEqual(t, genID, trustedID)

	trustedDir, err := rootHandle.OpenDir(ctx, trustedID)
	require.NoError(t, err)
	defer trustedDir.Close()

	// A trusted key directory has no sign pseudo-file.
	_, err = trustedDir.OpenFile(ctx, "sign", true, true, 0, 0)
	require.Error(t, err)

	trustedShare, err := trustedDir.OpenFile(ctx, "share", true, false, 0, 0)
	require.NoError(t, err)
	defer trustedShare.Close()
	sharedBuf := make([]byte, 256)
	n, err = trustedShare.ReadVectored(ctx, [][]byte{sharedBuf})
	require.NoError(t, err)
	require.Equal(t, pubEncoding, sharedBuf[:n], "share must return exactly the bytes supplied to trust")
}

func TestGenerateReadVectoredWouldBlockWhenEmpty(t *testing.T) {
	root, err := NewRoot(ledger.New(), timeutil.RealClock())
	require.NoError(t, err)
	rootHandle, err := root.OpenDir(context.Background())
	require.NoError(t, err)
	defer rootHandle.Close()

	ctx := context.Background()
	gen := openRW(t, rootHandle, "generate")
	defer gen.Close()

	buf := make([]byte, 64)
	_, err = gen.ReadVectored(ctx, [][]byte{buf})
	require.Error(t, err)
	vfsErr, ok := err.(*vfs.Error)
	require.True(t, ok)
	require.Equal(t, vfs.KindWouldBlock, vfsErr.Kind())
}

func TestGenerateReadVectoredTooSmallBufferReEnqueues(t *testing.T) {
	root, err := NewRoot(ledger.New(), timeutil.RealClock())
	require.NoError(t, err)
	rootHandle, err := root.OpenDir(context.Background())
	require.NoError(t, err)
	defer rootHandle.Close()

	ctx := context.Background()
	gen := openRW(t, rootHandle, "generate")
	defer gen.Close()

	tagBytes := TagRS256.bytes()
	_, err = gen.WriteVectored(ctx, [][]byte{tagBytes[:]})
	require.NoError(t, err)

	tiny := make([]byte, 1)
	_, err = gen.ReadVectored(ctx, [][]byte{tiny})
	require.Error(t, err)
	vfsErr, ok := err.(*vfs.Error)
	require.True(t, ok)
	require.Equal(t, vfs.KindMessageTooBig, vfsErr.Kind())

	big := make([]byte, 64)
	n, err := gen.ReadVectored(ctx, [][]byte{big})
	require.NoError(t, err, "id should still be queued after the too-big attempt")
	require.NotZero(t, n)
}

func TestRemoveKeyDirectory(t *testing.T) {
	root, err := NewRoot(ledger.New(), timeutil.RealClock())
	require.NoError(t, err)
	rootHandle, err := root.OpenDir(context.Background())
	require.NoError(t, err)
	defer rootHandle.Close()

	ctx := context.Background()

	gen := openRW(t, rootHandle, "generate")
	tagBytes := TagES256.bytes()
	_, err = gen.WriteVectored(ctx, [][]byte{tagBytes[:]})
	require.NoError(t, err)
	idBuf := make([]byte, 64)
	n, err := gen.ReadVectored(ctx, [][]byte{idBuf})
	require.NoError(t, err)
	id := string(idBuf[:n])
	gen.Close()

	// The whole overlay lives on a single device, so emptying the key
	// directory and removing it are plain same-device operations.
	for _, name := range []string{"share", "sign", "verify"} {
		require.NoError(t, rootHandle.UnlinkFile(ctx, id+"/"+name))
	}
	require.NoError(t, rootHandle.RemoveDir(ctx, id))

	entries, err := rootHandle.ReadDir(ctx, 0)
	require.NoError(t, err)
	for _, e := range entries {
		require.NotEqual(t, id, e.Name)
	}
}

func TestKeystoreAttachedIntoHostTree(t *testing.T) {
	ctx := context.Background()
	l := ledger.New()
	clock := timeutil.RealClock()

	host := tmpfs.NewRoot(l, clock)
	ks, err := NewRoot(l, clock)
	require.NoError(t, err)
	require.NoError(t, host.Attach("keys", ks))

	hostHandle, err := host.OpenDir(ctx)
	require.NoError(t, err)
	defer hostHandle.Close()

	// The keystore sits on its own device, distinct from the host root's.
	hostStat, err := hostHandle.GetFilestat(ctx)
	require.NoError(t, err)
	ksStat, err := hostHandle.GetPathFilestat(ctx, "keys", true)
	require.NoError(t, err)
	require.NotEqual(t, hostStat.Device, ksStat.Device)

	gen, err := hostHandle.OpenFile(ctx, "keys/generate", true, true, 0, 0)
	require.NoError(t, err)
	defer gen.Close()

	tagBytes := TagES384.bytes()
	_, err = gen.WriteVectored(ctx, [][]byte{tagBytes[:]})
	require.NoError(t, err)
	idBuf := make([]byte, 64)
	n, err := gen.ReadVectored(ctx, [][]byte{idBuf})
	require.NoError(t, err)
	id := string(idBuf[:n])

	stat, err := hostHandle.GetPathFilestat(ctx, "keys/"+id+"/share", true)
	require.NoError(t, err)
	require.Equal(t, vfs.FileTypeSocketDgram, stat.FileType)
	require.NotZero(t, stat.Nlink)
	require.Equal(t, ksStat.Device, stat.Device)

	// Removing the keystore's UUID directory goes through the keystore's
	// own device even when reached from the host tree.
	keysHandle, err := hostHandle.OpenDir(ctx, "keys")
	require.NoError(t, err)
	defer keysHandle.Close()
	for _, name := range []string{"share", "sign", "verify"} {
		require.NoError(t, keysHandle.UnlinkFile(ctx, id+"/"+name))
	}
	require.NoError(t, keysHandle.RemoveDir(ctx, id))
}

func TestKeystoreRefusesFileCreation(t *testing.T) {
	root, err := NewRoot(ledger.New(), timeutil.RealClock())
	require.NoError(t, err)
	rootHandle, err := root.OpenDir(context.Background())
	require.NoError(t, err)
	defer rootHandle.Close()

	ctx := context.Background()

	gen := openRW(t, rootHandle, "generate")
	tagBytes := TagES256.bytes()
	_, err = gen.WriteVectored(ctx, [][]byte{tagBytes[:]})
	require.NoError(t, err)
	idBuf := make([]byte, 64)
	n, err := gen.ReadVectored(ctx, [][]byte{idBuf})
	require.NoError(t, err)
	id := string(idBuf[:n])
	gen.Close()

	// The overlay is a closed namespace: neither the keystore root nor a
	// per-key directory materializes ordinary files on create.
	for _, path := range []string{"intruder", id + "/intruder"} {
		_, err := rootHandle.OpenFile(ctx, path, true, true, vfs.OFlagCreate, 0)
		require.Error(t, err, "create at %q must fail", path)
		vfsErr, ok := err.(*vfs.Error)
		require.True(t, ok)
		require.Equal(t, vfs.KindNotSupported, vfsErr.Kind())
	}
}

func TestGenerateOpenRejectsWrongAccessMode(t *testing.T) {
	root, err := NewRoot(ledger.New(), timeutil.RealClock())
	require.NoError(t, err)
	rootHandle, err := root.OpenDir(context.Background())
	require.NoError(t, err)
	defer rootHandle.Close()

	ctx := context.Background()
	_, err = rootHandle.OpenFile(ctx, "generate", true, false, 0, 0)
	require.Error(t, err)
	vfsErr, ok := err.(*vfs.Error)
	require.True(t, ok)
	require.Equal(t, vfs.KindPermissionDenied, vfsErr.Kind())
}
