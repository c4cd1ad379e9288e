package infra

import (
	"os"
	"path/filepath"

	"github.com/mitchellh/go-homedir"
	log "github.com/sirupsen/logrus"
)

// GetWorkDir resolves and creates the mutable state directory under the
// user's home. The sqlite database lives here.
func GetWorkDir(path ...string) string {
	parts := append([]string{"~", ".saqshy"}, path...)
	workDir, err := homedir.Expand(filepath.Join(parts...))
	if err != nil {
		log.WithError(err).Fatal("failed to resolve work dir")
	}
	if err = os.MkdirAll(workDir, os.ModePerm); err != nil {
		log.WithError(err).Fatal("failed to create work dir")
	}
	return workDir
}
