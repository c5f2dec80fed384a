package testutil

import (
	"os"
	"path/filepath"
	"runtime"
	"sync"

	"github.com/joho/godotenv"
)

var loadEnvOnce sync.Once

// ProjectRoot is the directory holding go.mod.
func ProjectRoot() string {
	_, filename, _, _ := runtime.Caller(0)
	for dir := filepath.Dir(filename); ; {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			panic("testutil: go.mod not found above " + filename)
		}
		dir = parent
	}
}

// GetEnv reads key from the environment. The project .env is loaded on first use without
// overriding variables that are already set.
func GetEnv(key string) string {
	loadEnvOnce.Do(func() {
		envFile := filepath.Join(ProjectRoot(), ".env")
		if _, err := os.Stat(envFile); err == nil {
			if err := godotenv.Load(envFile); err != nil {
				panic("testutil: loading " + envFile + ": " + err.Error())
			}
		}
	})
	return os.Getenv(key)
}
