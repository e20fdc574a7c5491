package export

import "os"

// fileStatter abstracts existence checks on the filesystem.
type fileStatter interface {
	Stat(name string) (os.FileInfo, error)
}

// fileWriter abstracts writes outside the sink (SDB metadata files).
type fileWriter interface {
	WriteFile(name string, data []byte, perm os.FileMode) error
}

// Compile-time interface verification.
var (
	_ fileStatter = osFS{}
	_ fileWriter  = osFS{}
)

// osFS implements the interfaces above using the os package.
type osFS struct{}

func (osFS) Stat(name string) (os.FileInfo, error) {
	return os.Stat(name)
}

func (osFS) WriteFile(name string, data []byte, perm os.FileMode) error {
	return os.WriteFile(name, data, perm)
}
