package transfer

import (
	"io"
	"os"

	"github.com/rs/zerolog/log"
)

// copyFile copies src to a new file dst and carries over the modification
// time. dst must not exist; a partial dst is removed on failure.
func copyFile(src, dst string, buf []byte) (int64, error) {
	in, err := os.Open(src)
	if err != nil {
		return 0, err
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return 0, err
	}

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		return 0, err
	}

	written, err := io.CopyBuffer(out, in, buf)
	if err != nil {
		out.Close()
		os.Remove(dst)
		return 0, err
	}
	if err := out.Close(); err != nil {
		os.Remove(dst)
		return 0, err
	}

	// Preserve timestamps
	if err := os.Chtimes(dst, info.ModTime(), info.ModTime()); err != nil {
		log.Debug().Err(err).Str("file", dst).Msg("Cannot preserve modification time")
	}

	return written, nil
}
