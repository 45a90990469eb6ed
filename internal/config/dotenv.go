package config

import (
	"errors"
	"io/fs"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

// DefaultEnvFile is read when no explicit env file is given.
const DefaultEnvFile = ".env"

// LoadDotEnv populates the process environment from an env file.
// Variables that are already set are left untouched, so the real
// environment always wins. A missing default file is not an error.
func LoadDotEnv(path string) error {
	explicit := path != ""
	if !explicit {
		path = DefaultEnvFile
	}

	if err := godotenv.Load(path); err != nil {
		if !explicit && errors.Is(err, fs.ErrNotExist) {
			log.Debug().Str("path", path).Msg("No env file found, using process environment")
			return nil
		}
		return err
	}

	log.Debug().Str("path", path).Msg("Loaded env file")
	return nil
}
