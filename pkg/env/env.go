package env

import (
	"os"

	"github.com/joho/godotenv"

	"github.com/jaywantadh/ChunkStream/pkg/logging"
)

// LoadEnv loads variables from the given .env files (".env" when none are
// named) without overriding ones already set. Missing files are not fatal.
func LoadEnv(files ...string) {
	if err := godotenv.Load(files...); err != nil {
		logging.Component("env").WithError(err).Debug("no .env file loaded, using system envs")
	}
}

// GetEnv returns the value of key, or fallback when it is unset.
func GetEnv(key string, fallback string) string {
	if value, exist := os.LookupEnv(key); exist {
		return value
	}
	return fallback
}
