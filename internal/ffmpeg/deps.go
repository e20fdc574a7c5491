package ffmpeg

import (
	"os"
	"os/exec"
)

// envProvider abstracts environment and path lookup operations.
type envProvider interface {
	Getenv(key string) string
	LookPath(file string) (string, error)
}

// fileStatter abstracts file existence checks.
type fileStatter interface {
	Stat(name string) (os.FileInfo, error)
}

// Compile-time interface verification.
var (
	_ envProvider = osEnvProvider{}
	_ fileStatter = osFileStatter{}
)

// osEnvProvider implements envProvider using os and exec packages.
type osEnvProvider struct{}

func (osEnvProvider) Getenv(key string) string {
	return os.Getenv(key)
}

func (osEnvProvider) LookPath(file string) (string, error) {
	return exec.LookPath(file)
}

// osFileStatter implements fileStatter using os.Stat.
type osFileStatter struct{}

func (osFileStatter) Stat(name string) (os.FileInfo, error) {
	return os.Stat(name)
}
