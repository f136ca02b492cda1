package config

// LoadFromEnv loads .env first in dev builds, then reads the environment.
func LoadFromEnv() (Config, error) {
	if err := loadDotEnv(); err != nil {
		return Config{}, err
	}
	return Load(FromEnviron())
}
