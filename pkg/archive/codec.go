package archive

import "io"

// Encryptor is the external collaborator applying at-rest encryption to a
// volume's packed bytes. No default implementation is provided: coldvault
// treats the choice of cipher/passphrase-derivation as out of scope per
// spec.md §1, the same way it treats the destination transport as opaque.
type Encryptor interface {
	Encrypt(w io.Writer) (io.WriteCloser, error)
	Decrypt(r io.Reader) (io.ReadCloser, error)
}

// Compressor is the external collaborator applying an additional
// compression pass to a volume's packed bytes (on top of the zip
// container's own per-entry compression, or instead of it when storing
// entries uncompressed). No default implementation is provided.
type Compressor interface {
	Compress(w io.Writer) (io.WriteCloser, error)
	Decompress(r io.Reader) (io.ReadCloser, error)
}

// NopEncryptor and NopCompressor are pass-through implementations used by
// tests and by engine configurations that disable a codec stage.
type NopEncryptor struct{}

func (NopEncryptor) Encrypt(w io.Writer) (io.WriteCloser, error) { return nopWriteCloser{w}, nil }
func (NopEncryptor) Decrypt(r io.Reader) (io.ReadCloser, error)  { return io.NopCloser(r), nil }

type NopCompressor struct{}

func (NopCompressor) Compress(w io.Writer) (io.WriteCloser, error)  { return nopWriteCloser{w}, nil }
func (NopCompressor) Decompress(r io.Reader) (io.ReadCloser, error) { return io.NopCloser(r), nil }

type nopWriteCloser struct{ io.Writer }

func (nopWriteCloser) Close() error { return nil }
