package sdksubtools

import (
	"archive/tar"
	"bytes"
	"crypto/sha1"
	"debug/elf"
	"encoding/hex"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/zstd"
)

// WriteArchive packs srcDir into a zstd-compressed tarball at dst and
// returns the compressed size. Entry names are relative to srcDir.
func WriteArchive(srcDir, dst string) (int64, error) {
	out, err := os.Create(dst)
	if err != nil {
		return 0, err
	}
	defer out.Close()

	zw, err := zstd.NewWriter(out, zstd.WithEncoderLevel(zstd.SpeedBetterCompression))
	if err != nil {
		return 0, err
	}
	tw := tar.NewWriter(zw)

	walkErr := filepath.WalkDir(srcDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(srcDir, path)
		if err != nil || rel == "." {
			return err
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		hdr, err := tar.FileInfoHeader(info, "")
		if err != nil {
			return err
		}
		hdr.Name = filepath.ToSlash(rel)
		if d.IsDir() {
			hdr.Name += "/"
		}
		if err := tw.WriteHeader(hdr); err != nil {
			return err
		}
		if !info.Mode().IsRegular() {
			return nil
		}
		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer f.Close()
		_, err = io.Copy(tw, f)
		return err
	})
	if walkErr != nil {
		_ = tw.Close()
		_ = zw.Close()
		return 0, walkErr
	}
	if err := tw.Close(); err != nil {
		return 0, err
	}
	if err := zw.Close(); err != nil {
		return 0, err
	}
	if err := out.Close(); err != nil {
		return 0, err
	}
	info, err := os.Stat(dst)
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

// ContentHash identifies a bundled file: the GNU build ID for ELF files
// that carry one, otherwise the SHA1 of the contents.
func ContentHash(path string) (string, error) {
	if id := elfBuildID(path); id != "" {
		return id, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	h := sha1.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

func elfBuildID(path string) string {
	f, err := elf.Open(path)
	if err != nil {
		return ""
	}
	defer f.Close()
	sec := f.Section(".note.gnu.build-id")
	if sec == nil {
		return ""
	}
	data, err := sec.Data()
	if err != nil || len(data) < 12 {
		return ""
	}
	order := f.ByteOrder
	namesz := order.Uint32(data[0:4])
	descsz := order.Uint32(data[4:8])
	noteType := order.Uint32(data[8:12])
	const ntGNUBuildID = 3
	nameEnd := 12 + align4(namesz)
	if noteType != ntGNUBuildID || uint32(len(data)) < nameEnd+descsz {
		return ""
	}
	if !bytes.Equal(bytes.TrimRight(data[12:12+namesz], "\x00"), []byte("GNU")) {
		return ""
	}
	return hex.EncodeToString(data[nameEnd : nameEnd+descsz])
}

func align4(n uint32) uint32 {
	return (n + 3) &^ 3
}
