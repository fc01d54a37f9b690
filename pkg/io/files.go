package io

import (
	"io"
	"os"
	"path/filepath"
)

// create file with its parent directory, if missing.
//
// args:
//   - name: filepath to be created.
//   - fmod: os.FileMode for file.
//   - dmod: os.FileMode for directory.
//
// Note that `dmod` effects to only newly-created directories.
// So, directories which have existed are not effected with `dmod`.
//
// return (*os.File, err):
//
//	When a file is created successfully, `(file, nil)` pair will be returned.
//	Or, if it failed creating one of file or directories, `(nil, err)` pair will be returned.
func CreateAll(name string, fmod os.FileMode, dmod os.FileMode) (*os.File, error) {

	dirname := filepath.Dir(name)
	if err := os.MkdirAll(dirname, dmod); err != nil {
		return nil, err
	}

	return os.OpenFile(name, os.O_RDWR|os.O_CREATE|os.O_TRUNC, fmod)
}

// DirCopy copies the regular files under src into dest, recursively.
//
// dest and missing intermediate directories are created with 0755.
func DirCopy(src string, dest string) error {
	return filepath.WalkDir(src, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}

		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dest, rel)

		if d.IsDir() {
			return os.MkdirAll(target, 0755)
		}
		if !d.Type().IsRegular() {
			return nil
		}

		from, err := os.Open(path)
		if err != nil {
			return err
		}
		defer from.Close()

		to, err := CreateAll(target, 0644, 0755)
		if err != nil {
			return err
		}
		defer to.Close()

		_, err = io.Copy(to, from)
		return err
	})
}
